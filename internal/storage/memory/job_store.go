package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]crawler.ScrapeJob
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]crawler.ScrapeJob),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.ScrapeJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	job.Metadata = job.Metadata.Clone()
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus applies a state-machine transition under the store lock.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errorLog string,
	at time.Time,
) (crawler.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ScrapeJob{}, crawler.ErrJobNotFound
	}
	if !job.Status.CanTransition(status) {
		return job, fmt.Errorf("%w: %s -> %s", crawler.ErrInvalidTransition, job.Status, status)
	}
	job.Status = status
	job.UpdatedAt = at
	if status == crawler.JobStatusProcessing && job.StartedAt == nil {
		job.StartedAt = pointerTime(at)
	}
	if status.IsTerminal() {
		job.FinishedAt = pointerTime(at)
		if errorLog != "" {
			job.ErrorLog = errorLog
		}
	}
	s.jobs[jobID] = job
	return copyJob(job), nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.ScrapeJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.ScrapeJob{}, crawler.ErrJobNotFound
	}
	return copyJob(job), nil
}

func copyJob(job crawler.ScrapeJob) crawler.ScrapeJob {
	job.Metadata = job.Metadata.Clone()
	return job
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
