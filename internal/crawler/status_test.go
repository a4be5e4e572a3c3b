package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobStatus_CanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusPending, JobStatusCanceled, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusSkipped, true},
		{JobStatusProcessing, JobStatusProcessing, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusFailed, JobStatusProcessing, false},
		{JobStatusSkipped, JobStatusCompleted, false},
		{JobStatusCanceled, JobStatusProcessing, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestJobStatus_TerminalStatesHaveNoExits(t *testing.T) {
	t.Parallel()

	all := []JobStatus{
		JobStatusPending, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailed, JobStatusSkipped, JobStatusCanceled,
	}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			require.False(t, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestAllowedFrom(t *testing.T) {
	t.Parallel()

	require.Equal(t, []JobStatus{JobStatusPending}, AllowedFrom(JobStatusProcessing))
	require.Equal(t, []JobStatus{JobStatusProcessing}, AllowedFrom(JobStatusCompleted))
	require.Equal(t, []JobStatus{JobStatusPending, JobStatusProcessing}, AllowedFrom(JobStatusCanceled))
	require.Empty(t, AllowedFrom(JobStatusPending))
}

func TestMetadataAccessors(t *testing.T) {
	t.Parallel()

	meta := Metadata{
		MetaSlug:           " adventure ",
		MetaLoadMoreClicks: float64(2),
		"neg":              -3,
		"str":              "7",
		"bad":              "x",
	}
	require.Equal(t, "adventure", meta.Text(MetaSlug))
	require.Equal(t, 2, meta.Int(MetaLoadMoreClicks))
	require.Equal(t, 0, meta.Int("neg"))
	require.Equal(t, 7, meta.Int("str"))
	require.Equal(t, 0, meta.Int("bad"))
	require.Equal(t, 0, meta.Int("missing"))
	require.Equal(t, "", meta.Text("missing"))

	clone := meta.Clone()
	clone[MetaSlug] = "changed"
	require.Equal(t, " adventure ", meta[MetaSlug])
}

func TestParseTargetType(t *testing.T) {
	t.Parallel()

	got, err := ParseTargetType(" category ")
	require.NoError(t, err)
	require.Equal(t, TargetCategory, got)

	_, err = ParseTargetType("sitemap")
	require.Error(t, err)
}
