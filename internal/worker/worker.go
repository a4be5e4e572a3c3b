// Package worker implements the job execution loop: dequeue, start, crawl,
// record the final status.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

const tracerName = "github.com/JakeFAU/catalog-crawler/internal/worker"

// Handler runs a started job.
type Handler interface {
	Handle(ctx context.Context, job crawler.ScrapeJob) error
}

// Lifecycle moves jobs in and out of PROCESSING. jobs.Manager satisfies it.
type Lifecycle interface {
	Start(ctx context.Context, jobID string) (context.Context, crawler.ScrapeJob, error)
	Finish(ctx context.Context, jobID string, status crawler.JobStatus, errorLog string) (crawler.ScrapeJob, error)
}

// Config controls Worker behavior.
type Config struct {
	// DeniedStatus is recorded when the policy gate refuses a crawl.
	DeniedStatus crawler.JobStatus
	// RetryDelay is the pause after a failed dequeue.
	RetryDelay time.Duration
}

// Worker consumes queue items one at a time.
type Worker struct {
	id        int
	queue     crawler.Queue
	lifecycle Lifecycle
	handler   Handler
	clock     crawler.Clock
	emitter   progress.Emitter
	tracer    trace.Tracer
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	id int,
	queue crawler.Queue,
	lifecycle Lifecycle,
	handler Handler,
	clock crawler.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.DeniedStatus == "" {
		cfg.DeniedStatus = crawler.JobStatusSkipped
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 250 * time.Millisecond
	}
	return &Worker{
		id:        id,
		queue:     queue,
		lifecycle: lifecycle,
		handler:   handler,
		clock:     clock,
		emitter:   progress.OrNop(emitter),
		tracer:    otel.Tracer(tracerName),
		cfg:       cfg,
		logger:    logging.OrNop(logger).Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks, consuming queue items until ctx ends or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.RetryDelay):
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.Process(ctx, item)
	}
}

// Process runs a single queue item through the job lifecycle.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) {
	jobCtx, job, err := w.lifecycle.Start(ctx, item.JobID)
	if err != nil {
		if errors.Is(err, crawler.ErrInvalidTransition) {
			w.logger.Info("job no longer pending; dropped",
				zap.String("job_id", item.JobID), zap.String("status", string(job.Status)))
			return
		}
		w.logger.Error("start job failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	started := w.clock.Now()
	w.emitter.Emit(progress.Event{
		JobID: job.ID, TS: started, Stage: progress.StageJobStart,
		TargetType: string(job.TargetType), URL: job.TargetURL,
	})

	spanCtx, span := w.tracer.Start(jobCtx, "scrape."+strings.ToLower(string(job.TargetType)),
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.target_type", string(job.TargetType)),
			attribute.String("job.target_url", job.TargetURL),
		))
	runErr := w.handle(spanCtx, job)
	status, errLog := w.finalStatus(jobCtx, runErr)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	span.SetAttributes(attribute.String("job.status", string(status)))
	span.End()

	final, err := w.lifecycle.Finish(context.WithoutCancel(ctx), job.ID, status, errLog)
	if err != nil {
		w.logger.Error("final job status update failed",
			zap.String("job_id", job.ID), zap.String("status", string(status)), zap.Error(err))
		final = job
		final.Status = status
	}

	evt := progress.Event{
		JobID: job.ID, TS: w.clock.Now(), Stage: progress.StageJobDone,
		TargetType: string(job.TargetType), Outcome: string(status), Dur: w.clock.Now().Sub(started),
	}
	if status == crawler.JobStatusFailed {
		evt.Stage = progress.StageJobError
		evt.Note = errLog
	}
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	w.emitter.Emit(evt)
	w.logger.Info("job finished", append(logging.JobFields(final), zap.Duration("took", evt.Dur))...)
}

func (w *Worker) handle(ctx context.Context, job crawler.ScrapeJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked",
				zap.String("job_id", job.ID), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.handler.Handle(ctx, job)
}

func (w *Worker) finalStatus(jobCtx context.Context, err error) (crawler.JobStatus, string) {
	switch {
	case err == nil:
		return crawler.JobStatusCompleted, ""
	case errors.Is(err, crawler.ErrPolicyDenied):
		return w.cfg.DeniedStatus, err.Error()
	case jobCtx.Err() != nil:
		return crawler.JobStatusCanceled, err.Error()
	default:
		return crawler.JobStatusFailed, err.Error()
	}
}
