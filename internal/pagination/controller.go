package pagination

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudflare/ahocorasick"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// StopReason explains why the loop ended.
type StopReason string

// Stop reasons.
const (
	StopInitialOnly StopReason = "initial_only"
	StopCompleted   StopReason = "completed"
	StopEndMarker   StopReason = "end_marker"
	StopStagnated   StopReason = "stagnated"
	StopNoControl   StopReason = "no_control"
)

// Result summarizes a pagination run.
type Result struct {
	Requested    int
	Performed    int
	InitialCount int
	FinalCount   int
	StopReason   StopReason
	// StepErrors counts iterations that failed and were skipped.
	StepErrors int
}

// Config wires a Controller.
type Config struct {
	// CountSelector matches listing elements; usually the extractor's container union.
	CountSelector string
	Overlays      []string
	Strategies    []LoadMoreStrategy
	EndMarkers    []string
	Settle        time.Duration
	Clock         crawler.Clock
	Emitter       progress.Emitter
	Logger        *zap.Logger
}

// Controller runs the load-more loop.
type Controller struct {
	cfg     Config
	markers *ahocorasick.Matcher
	logger  *zap.Logger
	emitter progress.Emitter
}

// New builds a Controller.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{cfg: cfg, logger: logger.Named("pagination"), emitter: progress.OrNop(cfg.Emitter)}
	if len(cfg.EndMarkers) > 0 {
		lowered := make([]string, 0, len(cfg.EndMarkers))
		for _, m := range cfg.EndMarkers {
			if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
				lowered = append(lowered, m)
			}
		}
		if len(lowered) > 0 {
			c.markers = ahocorasick.NewStringMatcher(lowered)
		}
	}
	return c
}

// FromRules builds a Controller using the catalog pagination rules.
func FromRules(rules *catalog.Rules, countSelector string, clock crawler.Clock, emitter progress.Emitter, logger *zap.Logger) *Controller {
	p := rules.Pagination
	return New(Config{
		CountSelector: countSelector,
		Overlays:      p.Overlays,
		Strategies: []LoadMoreStrategy{
			SelectorStrategy{Selectors: p.LoadMoreSelectors, DisabledPhrases: p.DisabledPhrases},
			TextStrategy{Tags: p.ClickableTags, Phrases: p.LoadMorePhrases},
			ScrollStrategy{Passes: p.ScrollPasses, Wait: time.Duration(p.ScrollWaitMs) * time.Millisecond},
		},
		EndMarkers: p.EndMarkers,
		Settle:     time.Duration(p.SettleMs) * time.Millisecond,
		Clock:      clock,
		Emitter:    emitter,
		Logger:     logger,
	})
}

// Run performs up to clicks load-more iterations. Only context cancellation
// returns an error; per-iteration failures are logged and skipped.
func (c *Controller) Run(ctx context.Context, jobID string, page Page, clicks int) (Result, error) {
	res := Result{Requested: clicks, StopReason: StopInitialOnly}
	count, err := page.Count(ctx, c.cfg.CountSelector)
	if err != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("pagination canceled: %w", ctx.Err())
		}
		c.logger.Warn("initial element count failed", zap.String("job_id", jobID), zap.Error(err))
	}
	res.InitialCount, res.FinalCount = count, count
	if clicks <= 0 {
		return res, nil
	}
	res.StopReason = StopCompleted

	for i := 0; i < clicks; i++ {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("pagination canceled: %w", err)
		}
		if c.endReached(ctx, jobID, page) {
			res.StopReason = StopEndMarker
			c.record(jobID, i, "", string(StopEndMarker), res.FinalCount)
			break
		}
		next, stop, err := c.step(ctx, jobID, i, page, res.FinalCount)
		if err != nil {
			if ctx.Err() != nil {
				return res, fmt.Errorf("pagination canceled: %w", ctx.Err())
			}
			res.StepErrors++
			c.logger.Warn("pagination step failed",
				zap.String("job_id", jobID), zap.Int("iteration", i+1), zap.Error(err))
			continue
		}
		if stop != "" {
			res.StopReason = stop
			break
		}
		res.Performed++
		res.FinalCount = next
	}
	c.logger.Info("pagination finished",
		zap.String("job_id", jobID),
		zap.Int("requested", res.Requested),
		zap.Int("performed", res.Performed),
		zap.Int("initial_count", res.InitialCount),
		zap.Int("final_count", res.FinalCount),
		zap.String("stop_reason", string(res.StopReason)),
	)
	return res, nil
}

// step runs one iteration. It returns the new element count, or a stop reason
// when no strategy acted or none increased the count.
func (c *Controller) step(ctx context.Context, jobID string, i int, page Page, before int) (int, StopReason, error) {
	if len(c.cfg.Overlays) > 0 {
		if err := page.RemoveOverlays(ctx, c.cfg.Overlays); err != nil {
			c.logger.Debug("overlay removal failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	acted := false
	var lastErr error
	for _, s := range c.cfg.Strategies {
		ok, err := s.Attempt(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return before, "", ctx.Err()
			}
			lastErr = err
			c.record(jobID, i, s.Name(), "error", before)
			if !ok {
				continue
			}
		}
		if !ok {
			continue
		}
		acted = true
		if err := page.Wait(ctx, c.cfg.Settle); err != nil {
			return before, "", err
		}
		after, err := page.Count(ctx, c.cfg.CountSelector)
		if err != nil {
			lastErr = err
			c.record(jobID, i, s.Name(), "error", before)
			continue
		}
		if after > before {
			c.record(jobID, i, s.Name(), "clicked", after)
			return after, "", nil
		}
		c.record(jobID, i, s.Name(), "no_growth", after)
	}
	switch {
	case acted:
		c.logger.Warn("pagination stagnated",
			zap.String("job_id", jobID), zap.Int("iteration", i+1), zap.Int("count", before))
		c.record(jobID, i, "", string(StopStagnated), before)
		return before, StopStagnated, nil
	case lastErr != nil:
		return before, "", fmt.Errorf("%w: %w", crawler.ErrPaginationStep, lastErr)
	default:
		c.logger.Info("no load-more control found", zap.String("job_id", jobID), zap.Int("iteration", i+1))
		c.record(jobID, i, "", string(StopNoControl), before)
		return before, StopNoControl, nil
	}
}

func (c *Controller) endReached(ctx context.Context, jobID string, page Page) bool {
	if c.markers == nil {
		return false
	}
	text, err := page.BodyText(ctx)
	if err != nil {
		c.logger.Debug("read body text failed", zap.String("job_id", jobID), zap.Error(err))
		return false
	}
	return c.markers.Contains([]byte(strings.ToLower(text)))
}

func (c *Controller) record(jobID string, i int, strategy, outcome string, count int) {
	if strategy != "" {
		metrics.ObservePaginationStep(strategy, outcome)
	}
	now := time.Now()
	if c.cfg.Clock != nil {
		now = c.cfg.Clock.Now()
	}
	c.emitter.Emit(progress.Event{
		JobID:    jobID,
		TS:       now,
		Stage:    progress.StagePaginationStep,
		Strategy: strategy,
		Outcome:  outcome,
		Count:    count,
		Note:     fmt.Sprintf("iteration %d", i+1),
	})
}
