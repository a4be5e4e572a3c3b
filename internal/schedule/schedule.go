// Package schedule enqueues recurring crawl jobs on cron specs.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
)

// Enqueuer accepts new jobs. jobs.Manager satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, targetURL string, targetType crawler.TargetType, metadata crawler.Metadata) (string, error)
}

// Target is a resolved job template.
type Target struct {
	URL      string
	Type     crawler.TargetType
	Metadata crawler.Metadata
}

// Scheduler owns a cron runner.
type Scheduler struct {
	cron    *cron.Cron
	entries int
	logger  *zap.Logger
}

// New parses every entry and registers it. An invalid spec or target fails
// the whole schedule.
func New(entries []config.ScheduleEntry, rules *catalog.Rules, enq Enqueuer, logger *zap.Logger) (*Scheduler, error) {
	logger = logging.OrNop(logger).Named("schedule")
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{logger})))
	for i, entry := range entries {
		target, err := Resolve(entry, rules)
		if err != nil {
			return nil, fmt.Errorf("schedule entry %d: %w", i, err)
		}
		spec := entry.Spec
		if _, err := c.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			id, err := enq.Enqueue(ctx, target.URL, target.Type, target.Metadata.Clone())
			if err != nil {
				logger.Error("scheduled enqueue failed", zap.String("spec", spec), zap.Error(err))
				return
			}
			logger.Info("scheduled job enqueued",
				zap.String("spec", spec), zap.String("job_id", id), zap.String("target_type", string(target.Type)))
		}); err != nil {
			return nil, fmt.Errorf("schedule entry %d: invalid spec %q: %w", i, spec, err)
		}
	}
	return &Scheduler{cron: c, entries: len(entries), logger: logger}, nil
}

// Len returns the number of registered entries.
func (s *Scheduler) Len() int { return s.entries }

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	if s.entries == 0 {
		return
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("entries", s.entries))
}

// Stop halts the scheduler and waits for running enqueues or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Resolve turns a configured entry into a concrete job template.
func Resolve(entry config.ScheduleEntry, rules *catalog.Rules) (Target, error) {
	targetType, err := crawler.ParseTargetType(entry.TargetType)
	if err != nil {
		return Target{}, err
	}
	t := Target{Type: targetType, Metadata: crawler.Metadata{}}
	switch targetType {
	case crawler.TargetNavigation:
		t.URL = rules.BaseURL
	case crawler.TargetCategory:
		slug := entry.Slug
		if slug == "" {
			slug = rules.DefaultCategorySlug
		}
		t.URL = rules.CategoryURL(slug)
		t.Metadata[crawler.MetaSlug] = slug
		t.Metadata[crawler.MetaLoadMoreClicks] = entry.LoadMoreClicks
	case crawler.TargetSearch:
		if entry.Query == "" {
			return Target{}, fmt.Errorf("search entry requires a query")
		}
		t.URL = rules.SearchURL(entry.Query)
		t.Metadata[crawler.MetaQuery] = entry.Query
	case crawler.TargetProduct:
		if entry.URL == "" {
			return Target{}, fmt.Errorf("product entry requires a url")
		}
		t.URL = entry.URL
	}
	return t, nil
}

type cronLogger struct{ logger *zap.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
