// Package jobs owns the ScrapeJob lifecycle: creation, enqueueing, status
// transitions and cancellation of running work.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

const (
	defaultPushTimeout    = 5 * time.Second
	defaultPublishTimeout = 5 * time.Second
	// DefaultTopic receives lifecycle events when no topic is configured.
	DefaultTopic = "scrape-jobs"
)

// Event is the lifecycle message published on every transition.
type Event struct {
	JobID     string    `json:"job_id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Config wires a Manager.
type Config struct {
	Store       crawler.JobStore
	Queue       crawler.Queue
	Publisher   crawler.Publisher
	Topic       string
	IDs         crawler.IDGenerator
	Clock       crawler.Clock
	Logger      *zap.Logger
	PushTimeout time.Duration
}

// Manager coordinates job state between the store, the queue and running workers.
type Manager struct {
	store       crawler.JobStore
	queue       crawler.Queue
	publisher   crawler.Publisher
	topic       string
	ids         crawler.IDGenerator
	clock       crawler.Clock
	logger      *zap.Logger
	pushTimeout time.Duration

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New validates cfg and returns a Manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("jobs: store is required")
	}
	if cfg.IDs == nil || cfg.Clock == nil {
		return nil, errors.New("jobs: id generator and clock are required")
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = defaultPushTimeout
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	return &Manager{
		store:       cfg.Store,
		queue:       cfg.Queue,
		publisher:   cfg.Publisher,
		topic:       cfg.Topic,
		ids:         cfg.IDs,
		clock:       cfg.Clock,
		logger:      logging.OrNop(cfg.Logger).Named("jobs"),
		pushTimeout: cfg.PushTimeout,
		running:     make(map[string]context.CancelFunc),
	}, nil
}

// CreateJob persists a PENDING job.
func (m *Manager) CreateJob(
	ctx context.Context,
	targetURL string,
	targetType crawler.TargetType,
	metadata crawler.Metadata,
) (crawler.ScrapeJob, error) {
	id, err := m.ids.NewID()
	if err != nil {
		return crawler.ScrapeJob{}, fmt.Errorf("job id: %w", err)
	}
	now := m.clock.Now()
	job := crawler.ScrapeJob{
		ID:         id,
		TargetURL:  strings.TrimSpace(targetURL),
		TargetType: targetType,
		Status:     crawler.JobStatusPending,
		Metadata:   metadata.Clone(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return crawler.ScrapeJob{}, fmt.Errorf("create job: %w", err)
	}
	m.observe(ctx, job)
	return job, nil
}

// Enqueue creates a job and pushes it to the queue without waiting for it to
// run. A failed push leaves the job FAILED with the queue error.
func (m *Manager) Enqueue(
	ctx context.Context,
	targetURL string,
	targetType crawler.TargetType,
	metadata crawler.Metadata,
) (string, error) {
	if m.queue == nil {
		return "", errors.New("jobs: no queue configured")
	}
	job, err := m.CreateJob(ctx, targetURL, targetType, metadata)
	if err != nil {
		return "", err
	}
	pushCtx, cancel := context.WithTimeout(ctx, m.pushTimeout)
	defer cancel()
	err = m.queue.Enqueue(pushCtx, crawler.QueueItem{
		JobID:      job.ID,
		TargetType: job.TargetType,
		TargetURL:  job.TargetURL,
		Metadata:   job.Metadata.Clone(),
		Attempt:    1,
		Submitted:  job.CreatedAt.UnixMilli(),
	})
	if err != nil {
		if _, uerr := m.UpdateStatus(context.WithoutCancel(ctx), job.ID, crawler.JobStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("mark unqueued job failed", zap.String("job_id", job.ID), zap.Error(uerr))
		}
		return job.ID, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return job.ID, nil
}

// UpdateStatus applies a state-machine transition. Invalid transitions return
// crawler.ErrInvalidTransition.
func (m *Manager) UpdateStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errorLog string,
) (crawler.ScrapeJob, error) {
	if !status.Valid() {
		return crawler.ScrapeJob{}, fmt.Errorf("%w: unknown status %q", crawler.ErrInvalidTransition, status)
	}
	job, err := m.store.UpdateJobStatus(ctx, jobID, status, errorLog, m.clock.Now())
	if err != nil {
		return job, err
	}
	m.observe(ctx, job)
	return job, nil
}

// GetStatus returns the job as currently persisted.
func (m *Manager) GetStatus(ctx context.Context, jobID string) (crawler.ScrapeJob, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return crawler.ScrapeJob{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// Start moves the job to PROCESSING and returns a context canceled by Cancel.
// Callers must call Finish exactly once when Start succeeds.
func (m *Manager) Start(ctx context.Context, jobID string) (context.Context, crawler.ScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, err := m.UpdateStatus(ctx, jobID, crawler.JobStatusProcessing, "")
	if err != nil {
		return nil, job, err
	}
	jobCtx, cancel := context.WithCancel(ctx)
	m.running[jobID] = cancel
	return jobCtx, job, nil
}

// Finish records the final status and releases the job context. The write
// happens under the same lock as Cancel, so a late Cancel cannot overwrite it.
func (m *Manager) Finish(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errorLog string,
) (crawler.ScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.running[jobID]; ok {
		cancel()
		delete(m.running, jobID)
	}
	return m.UpdateStatus(ctx, jobID, status, errorLog)
}

// Cancel stops a job. A running job has its context canceled and is recorded
// CANCELED by its worker; a pending job is marked CANCELED immediately.
func (m *Manager) Cancel(ctx context.Context, jobID string) (crawler.ScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.running[jobID]; ok {
		cancel()
		m.logger.Info("cancel requested for running job", zap.String("job_id", jobID))
		return m.store.GetJob(ctx, jobID)
	}
	return m.UpdateStatus(ctx, jobID, crawler.JobStatusCanceled, "canceled by request")
}

// Running reports the number of jobs with a live context.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *Manager) observe(ctx context.Context, job crawler.ScrapeJob) {
	fields := logging.JobFields(job)
	if job.ErrorLog != "" && job.Status.IsTerminal() {
		fields = append(fields, zap.String("error_log", job.ErrorLog))
	}
	switch job.Status {
	case crawler.JobStatusFailed:
		m.logger.Warn("job status changed", fields...)
	default:
		m.logger.Info("job status changed", fields...)
	}
	metrics.ObserveJob(string(job.TargetType), string(job.Status))

	if m.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPublishTimeout)
	defer cancel()
	event := Event{
		JobID:     job.ID,
		Type:      string(job.TargetType),
		Status:    string(job.Status),
		Timestamp: job.UpdatedAt,
	}
	if job.Status.IsTerminal() {
		event.Error = job.ErrorLog
	}
	if _, err := m.publisher.Publish(pubCtx, m.topic, event); err != nil {
		m.logger.Warn("publish job event failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}
