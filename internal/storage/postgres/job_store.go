package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const jobColumns = `id, target_url, target_type, status, metadata, started_at, finished_at,
	COALESCE(error_log, ''), created_at, updated_at`

// JobStore persists scrape jobs in the scrape_jobs table.
type JobStore struct {
	pool Pool
}

// NewJobStore wraps an existing pool.
func NewJobStore(pool Pool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.ScrapeJob) error {
	meta, err := json.Marshal(job.Metadata.Clone())
	if err != nil {
		return fmt.Errorf("marshal job metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO scrape_jobs (id, target_url, target_type, status, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.TargetURL, string(job.TargetType), string(job.Status), meta, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus applies the transition only when the current status allows it.
// The guard lives in the WHERE clause so concurrent writers cannot both win.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errorLog string,
	at time.Time,
) (crawler.ScrapeJob, error) {
	allowed := crawler.AllowedFrom(status)
	from := make([]string, 0, len(allowed))
	for _, st := range allowed {
		from = append(from, string(st))
	}
	row := s.pool.QueryRow(ctx, `
UPDATE scrape_jobs SET
	status = $2::text,
	updated_at = $3,
	started_at = CASE WHEN $2::text = 'PROCESSING' THEN COALESCE(started_at, $3) ELSE started_at END,
	finished_at = CASE WHEN $4::bool THEN $3 ELSE finished_at END,
	error_log = CASE WHEN $4::bool AND $5::text <> '' THEN $5::text ELSE error_log END
WHERE id = $1 AND status = ANY($6)
RETURNING `+jobColumns,
		jobID, string(status), at, status.IsTerminal(), errorLog, from,
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.GetJob(ctx, jobID)
		if getErr != nil {
			return crawler.ScrapeJob{}, getErr
		}
		return current, fmt.Errorf("%w: %s -> %s", crawler.ErrInvalidTransition, current.Status, status)
	}
	if err != nil {
		return crawler.ScrapeJob{}, fmt.Errorf("update job status: %w", err)
	}
	return job, nil
}

// GetJob loads a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.ScrapeJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.ScrapeJob{}, crawler.ErrJobNotFound
	}
	if err != nil {
		return crawler.ScrapeJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (crawler.ScrapeJob, error) {
	var (
		job        crawler.ScrapeJob
		targetType string
		status     string
		meta       []byte
	)
	err := row.Scan(
		&job.ID, &job.TargetURL, &targetType, &status, &meta,
		&job.StartedAt, &job.FinishedAt, &job.ErrorLog, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return crawler.ScrapeJob{}, err
	}
	job.TargetType = crawler.TargetType(targetType)
	job.Status = crawler.JobStatus(status)
	job.Metadata = crawler.Metadata{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &job.Metadata); err != nil {
			return crawler.ScrapeJob{}, fmt.Errorf("decode job metadata: %w", err)
		}
	}
	return job, nil
}
