package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewLauncherValidation(t *testing.T) {
	t.Parallel()

	_, err := NewLauncher(Config{}, nil, nil, nil, nil)
	require.Error(t, err)

	l, err := NewLauncher(Config{MaxSessions: 2}, nil, nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, cap(l.slots))
	require.Equal(t, defaultNavTimeout, l.cfg.NavTimeout)
	require.Equal(t, 1366, l.cfg.ViewportWidth)
	require.Equal(t, 768, l.cfg.ViewportHeight)
}

func TestLauncherSlotsBlockUntilReleased(t *testing.T) {
	t.Parallel()

	l, err := NewLauncher(Config{MaxSessions: 1}, nil, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, l.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.acquire(ctx), context.DeadlineExceeded)

	l.release()
	require.NoError(t, l.acquire(context.Background()))
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	canceled, released := 0, 0
	s := &Session{
		ctx:     context.Background(),
		cancel:  func() { canceled++ },
		release: func() { released++ },
	}
	s.Close()
	s.Close()
	require.Equal(t, 1, canceled)
	require.Equal(t, 1, released)
}

func TestSessionWaitHonorsContext(t *testing.T) {
	t.Parallel()

	s := &Session{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Wait(ctx, time.Hour), context.Canceled)
	require.NoError(t, s.Wait(context.Background(), time.Millisecond))
}

func TestSessionRunRefusesEndedContext(t *testing.T) {
	t.Parallel()

	s := &Session{ctx: context.Background()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Count(ctx, ".product")
	require.ErrorIs(t, err, context.Canceled)
}

func TestJSQuoting(t *testing.T) {
	t.Parallel()

	require.Equal(t, `"a[title=\"x\"]"`, jsString(`a[title="x"]`))
	require.Equal(t, `["load more","show more"]`, jsValue(lower([]string{"Load More", "show MORE"})))
	require.Equal(t, "button, a, div[role=button]", joinSelectors([]string{"button", "a", "div[role=button]"}))
	require.Equal(t, "button, a", joinSelectors(nil))
}

func TestAllocatorOptionsIncludeOverrides(t *testing.T) {
	t.Parallel()

	l, err := NewLauncher(Config{MaxSessions: 1, UserAgent: "ua", ChromePath: "/usr/bin/chromium"}, nil, nil, nil, nil)
	require.NoError(t, err)
	base, err := NewLauncher(Config{MaxSessions: 1}, nil, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, l.allocatorOptions(), len(base.allocatorOptions())+2)
}
