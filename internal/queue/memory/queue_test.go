package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan crawler.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	job := crawler.QueueItem{JobID: "job-1", TargetType: crawler.TargetCategory}
	require.NoError(t, q.Enqueue(context.Background(), job))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "job-1", got.JobID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{JobID: "primed"}))
	require.Equal(t, 1, q.Len())
	timeout, cancelTimeout := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelTimeout()
	err = q.Enqueue(timeout, crawler.QueueItem{JobID: "overflow"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueCloseNeverPanics(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := q.Enqueue(context.Background(), crawler.QueueItem{JobID: "x"})
				if errors.Is(err, crawler.ErrQueueClosed) {
					return
				}
				_, _ = q.Dequeue(context.Background())
			}
		}()
	}
	q.Close()
	q.Close()
	wg.Wait()

	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, crawler.ErrQueueClosed)
	require.ErrorIs(t, q.Enqueue(context.Background(), crawler.QueueItem{}), crawler.ErrQueueClosed)
}

func TestQueueCloseUnblocksDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, crawler.ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not observe Close")
	}
}
