package crawler

import "errors"

// Job-fatal errors.
var (
	// ErrPolicyDenied is returned when robots rules forbid the crawl.
	ErrPolicyDenied = errors.New("crawl denied by robots policy")
	// ErrNavigation wraps page load failures and timeouts.
	ErrNavigation = errors.New("page navigation failed")
	// ErrBrowserLaunch wraps headless engine start failures.
	ErrBrowserLaunch = errors.New("browser launch failed")
)

// Locally recovered errors. They are logged and counted, never fatal to a job.
var (
	ErrExtraction     = errors.New("element extraction failed")
	ErrPersistence    = errors.New("record persistence failed")
	ErrPaginationStep = errors.New("pagination step failed")
)

// Store errors.
var (
	// ErrDuplicateProduct signals a uniqueness conflict on insert; callers treat it as a skip.
	ErrDuplicateProduct = errors.New("duplicate product")
	// ErrInvalidTransition is returned for status changes the state machine forbids.
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrJobNotFound       = errors.New("job not found")
	ErrNotFound          = errors.New("not found")
)

// Queue errors.
var (
	// ErrQueueClosed is returned by Enqueue and Dequeue after Close.
	ErrQueueClosed = errors.New("queue closed")
	ErrQueueFull   = errors.New("queue full")
)
