package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_WaitPacesSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RatePerSecond: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://www.worldofbooks.com/en-gb/collections/adventure-books"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://WWW.worldofbooks.com/en-gb/search?q=dune"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiter_DifferentHostsIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RatePerSecond: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_DisabledAndCanceled(t *testing.T) {
	t.Parallel()

	unlimited := New(Config{})
	for i := 0; i < 20; i++ {
		require.NoError(t, unlimited.Wait(context.Background(), "https://a.example"))
	}

	slow := New(Config{RatePerSecond: 0.01, Burst: 1})
	require.NoError(t, slow.Wait(context.Background(), "https://a.example"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, slow.Wait(ctx, "https://a.example"))
}
