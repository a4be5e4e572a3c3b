package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	job := crawler.ScrapeJob{
		ID:         "job-1",
		TargetType: crawler.TargetCategory,
		Status:     crawler.JobStatusPending,
		Metadata:   crawler.Metadata{crawler.MetaSlug: "adventure"},
		CreatedAt:  created,
		UpdatedAt:  created,
	}

	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job))

	started := created.Add(time.Second)
	running, err := store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusProcessing, "", started)
	require.NoError(t, err)
	require.Equal(t, started, *running.StartedAt)
	require.Nil(t, running.FinishedAt)

	finished := started.Add(time.Minute)
	failed, err := store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusFailed, "page navigation failed: timeout", finished)
	require.NoError(t, err)
	require.Equal(t, finished, *failed.FinishedAt)
	require.Equal(t, "page navigation failed: timeout", failed.ErrorLog)

	_, err = store.UpdateJobStatus(ctx, job.ID, crawler.JobStatusCompleted, "", finished)
	require.ErrorIs(t, err, crawler.ErrInvalidTransition)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, got.Status)
	got.Metadata[crawler.MetaSlug] = "mutated"

	again, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, "adventure", again.Metadata.Text(crawler.MetaSlug))

	_, err = store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
	_, err = store.UpdateJobStatus(ctx, "missing", crawler.JobStatusProcessing, "", finished)
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestJobStoreConcurrentTerminalWritesSingleWinner(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, store.CreateJob(ctx, crawler.ScrapeJob{ID: "j", Status: crawler.JobStatusPending}))
	_, err := store.UpdateJobStatus(ctx, "j", crawler.JobStatusProcessing, "", now)
	require.NoError(t, err)

	targets := []crawler.JobStatus{
		crawler.JobStatusCompleted, crawler.JobStatusFailed,
		crawler.JobStatusCanceled, crawler.JobStatusSkipped,
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, status := range targets {
		wg.Add(1)
		go func(status crawler.JobStatus) {
			defer wg.Done()
			if _, err := store.UpdateJobStatus(ctx, "j", status, "", now); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(status)
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}
