package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// PrometheusSink exports pipeline progress as Prometheus collectors
// registered against an injected registry.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsFinished  *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	pagesLoaded   prometheus.Counter
	pageLoadTime  prometheus.Histogram
	paginationOps *prometheus.CounterVec
	candidates    *prometheus.CounterVec
	products      *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against reg (default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_progress_jobs_started_total",
			Help: "Jobs that entered PROCESSING.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_progress_jobs_finished_total",
			Help: "Jobs that finished, partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_progress_jobs_running",
			Help: "Jobs currently processing.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_progress_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		pagesLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_progress_pages_loaded_total",
			Help: "Pages successfully navigated by browser sessions.",
		}),
		pageLoadTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalog_progress_page_load_seconds",
			Help:    "Navigation latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		}),
		paginationOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_progress_pagination_steps_total",
			Help: "Load-more iterations by outcome.",
		}, []string{"outcome"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_progress_candidates_total",
			Help: "Page elements by extraction result.",
		}, []string{"result"}),
		products: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_progress_products_total",
			Help: "Candidate records by ingestion result.",
		}, []string{"result"}),
		tracker: newJobTracker(),
	}
	for _, c := range []prometheus.Collector{
		s.jobsStarted, s.jobsFinished, s.jobsRunning, s.jobRuntime,
		s.pagesLoaded, s.pageLoadTime, s.paginationOps, s.candidates, s.products,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consume(evt)
	}
	return nil
}

func (s *PrometheusSink) consume(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.finish(evt, "success")
	case progress.StageJobError:
		s.finish(evt, "error")
	case progress.StagePageLoaded:
		s.pagesLoaded.Inc()
		if evt.Dur > 0 {
			s.pageLoadTime.Observe(evt.Dur.Seconds())
		}
	case progress.StagePaginationStep:
		s.paginationOps.WithLabelValues(evt.Outcome).Inc()
	case progress.StageExtracted:
		s.candidates.WithLabelValues("extracted").Add(float64(evt.Count))
		s.candidates.WithLabelValues("skipped").Add(float64(evt.Skipped))
	case progress.StageIngested:
		s.products.WithLabelValues("inserted").Add(float64(evt.Count))
		s.products.WithLabelValues("duplicate").Add(float64(evt.Skipped))
		s.products.WithLabelValues("failed").Add(float64(evt.Failed))
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.jobsFinished.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

// Close is a no-op.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
