package crawler

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusSkipped    JobStatus = "SKIPPED"
	JobStatusCanceled   JobStatus = "CANCELED"
)

var transitions = map[JobStatus][]JobStatus{
	JobStatusPending: {
		JobStatusProcessing,
		JobStatusCanceled,
		JobStatusFailed,
	},
	JobStatusProcessing: {
		JobStatusCompleted,
		JobStatusFailed,
		JobStatusSkipped,
		JobStatusCanceled,
	},
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusSkipped, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing:
		return true
	default:
		return s.IsTerminal()
	}
}

// CanTransition reports whether a job in status s may move to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllowedFrom lists the statuses from which next is reachable.
func AllowedFrom(next JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{JobStatusPending, JobStatusProcessing} {
		if from.CanTransition(next) {
			out = append(out, from)
		}
	}
	return out
}
