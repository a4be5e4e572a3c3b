package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the pipeline milestone an Event reports.
type Stage string

// Supported stages.
const (
	StageJobStart       Stage = "JOB_START"
	StageJobDone        Stage = "JOB_DONE"
	StageJobError       Stage = "JOB_ERROR"
	StagePageLoaded     Stage = "PAGE_LOADED"
	StagePaginationStep Stage = "PAGINATION_STEP"
	StageExtracted      Stage = "EXTRACTED"
	StageIngested       Stage = "INGESTED"
)

// Event captures a single component of crawl progress.
type Event struct {
	JobID      string
	TS         time.Time
	Stage      Stage
	TargetType string
	URL        string
	// Count is the stage-specific quantity: elements after a pagination
	// step, candidates extracted, or products inserted.
	Count int
	// Skipped counts discarded elements or duplicate products.
	Skipped int
	// Failed counts per-record persistence failures.
	Failed   int
	Strategy string
	Outcome  string
	Dur      time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError, StageExtracted, StageIngested:
	case StagePageLoaded:
		if e.URL == "" {
			return errors.New("page loaded requires url")
		}
	case StagePaginationStep:
		if e.Outcome == "" {
			return errors.New("pagination step requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Count < 0 || e.Skipped < 0 || e.Failed < 0 {
		return errors.New("counts must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
