package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/jobs"
	qmemory "github.com/JakeFAU/catalog-crawler/internal/queue/memory"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

type countingHandler struct {
	active, peak, total atomic.Int32
}

func (h *countingHandler) Handle(ctx context.Context, _ crawler.ScrapeJob) error {
	n := h.active.Add(1)
	defer h.active.Add(-1)
	for {
		p := h.peak.Load()
		if n <= p || h.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	h.total.Add(1)
	return nil
}

func TestNewPoolRejectsZeroWorkers(t *testing.T) {
	t.Parallel()

	_, err := NewPool(0, qmemory.NewQueue(1), nil, nil)
	require.Error(t, err)
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	t.Parallel()

	queue := qmemory.NewQueue(16)
	store := memory.NewJobStore()
	mgr, err := jobs.New(jobs.Config{Store: store, Queue: queue, IDs: uuid.New(), Clock: system.New()})
	require.NoError(t, err)

	h := &countingHandler{}
	d, err := NewPool(2, queue, func(id int) *worker.Worker {
		return worker.New(id, queue, mgr, h, system.New(), nil, worker.Config{}, nil)
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, d.Size())

	ids := make([]string, 0, 6)
	for range 6 {
		id, err := mgr.Enqueue(context.Background(), "https://www.worldofbooks.com", crawler.TargetCategory, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.total.Load() == 6 }, 3*time.Second, 10*time.Millisecond)
	require.LessOrEqual(t, h.peak.Load(), int32(2))
	require.Eventually(t, func() bool {
		for _, id := range ids {
			job, err := mgr.GetStatus(context.Background(), id)
			if err != nil || job.Status != crawler.JobStatusCompleted {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	require.ErrorIs(t, queue.Enqueue(context.Background(), crawler.QueueItem{}), crawler.ErrQueueClosed)
}

func TestDispatcherShutdownCancelsInFlightJobs(t *testing.T) {
	t.Parallel()

	queue := qmemory.NewQueue(4)
	mgr, err := jobs.New(jobs.Config{Store: memory.NewJobStore(), Queue: queue, IDs: uuid.New(), Clock: system.New()})
	require.NoError(t, err)

	started := make(chan struct{})
	blocking := handlerFunc(func(ctx context.Context, _ crawler.ScrapeJob) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	d := New(queue, []*worker.Worker{worker.New(1, queue, mgr, blocking, system.New(), nil, worker.Config{}, nil)}, nil)

	id, err := mgr.Enqueue(context.Background(), "", crawler.TargetSearch, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	<-started
	cancel()
	<-done

	job, err := mgr.GetStatus(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCanceled, job.Status)
}

type handlerFunc func(ctx context.Context, job crawler.ScrapeJob) error

func (f handlerFunc) Handle(ctx context.Context, job crawler.ScrapeJob) error { return f(ctx, job) }
