// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

// Dispatcher fans out queue work to a fixed pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logging.OrNop(logger).Named("dispatcher"),
	}
}

// NewPool builds n workers with build and wraps them in a Dispatcher.
func NewPool(n int, queue crawler.Queue, build func(id int) *worker.Worker, logger *zap.Logger) (*Dispatcher, error) {
	if n <= 0 {
		return nil, errors.New("dispatcher: concurrency must be positive")
	}
	workers := make([]*worker.Worker, 0, n)
	for i := range n {
		workers = append(workers, build(i+1))
	}
	return New(queue, workers, logger), nil
}

// Size returns the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until ctx finishes and every in-flight
// job has recorded its final status. The queue is closed on exit.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", zap.Int("workers", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	d.queue.Close()
	wg.Wait()
	d.logger.Info("dispatcher stopped")
}
