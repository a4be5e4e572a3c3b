// Package progress carries crawl pipeline events (job lifecycle, page loads,
// pagination steps, extraction and ingestion counts) from workers to sinks.
// The Hub batches events on a background goroutine and never blocks callers.
package progress
