// Package scrape routes a running job to the crawl strategy for its target
// type and drives the browser, pagination, extraction and ingest steps.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/browser"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	"github.com/JakeFAU/catalog-crawler/internal/ingest"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/pagination"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/storage"
)

// Gate decides whether a path may be crawled.
type Gate interface {
	Allowed(ctx context.Context, baseURL, path, userAgent string) bool
}

// Page is a live rendered page.
type Page interface {
	pagination.Page
	HTML(ctx context.Context) (string, error)
	Close()
}

// Opener launches a Page for a job.
type Opener interface {
	Open(ctx context.Context, jobID, rawURL string) (Page, error)
}

// BrowserOpener adapts a browser.Opener to Opener.
type BrowserOpener struct {
	Browser browser.Opener
}

// Open implements Opener.
func (b BrowserOpener) Open(ctx context.Context, jobID, rawURL string) (Page, error) {
	s, err := b.Browser.Open(ctx, jobID, rawURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Config wires a Router.
type Config struct {
	Rules     *catalog.Rules
	Gate      Gate
	Opener    Opener
	Paginator *pagination.Controller
	Extractor *extract.Extractor
	Ingester  *ingest.Ingester
	Archiver  *storage.Archiver
	UserAgent string
	Clock     crawler.Clock
	Emitter   progress.Emitter
	Logger    *zap.Logger
}

// Router dispatches jobs by target type.
type Router struct {
	cfg     Config
	emitter progress.Emitter
	logger  *zap.Logger
}

// NewRouter validates cfg and returns a Router.
func NewRouter(cfg Config) (*Router, error) {
	switch {
	case cfg.Rules == nil:
		return nil, errors.New("scrape: catalog rules are required")
	case cfg.Gate == nil:
		return nil, errors.New("scrape: policy gate is required")
	case cfg.Opener == nil:
		return nil, errors.New("scrape: page opener is required")
	case cfg.Paginator == nil || cfg.Extractor == nil || cfg.Ingester == nil:
		return nil, errors.New("scrape: paginator, extractor and ingester are required")
	case cfg.Clock == nil:
		return nil, errors.New("scrape: clock is required")
	}
	return &Router{
		cfg:     cfg,
		emitter: progress.OrNop(cfg.Emitter),
		logger:  logging.OrNop(cfg.Logger).Named("scrape"),
	}, nil
}

// Handle runs job to completion. Fatal conditions are returned wrapped in the
// crawler error taxonomy; per-record problems are absorbed and logged.
func (r *Router) Handle(ctx context.Context, job crawler.ScrapeJob) error {
	switch job.TargetType {
	case crawler.TargetNavigation:
		return r.navigation(ctx, job)
	case crawler.TargetCategory:
		return r.category(ctx, job)
	case crawler.TargetProduct:
		return r.product(ctx, job)
	case crawler.TargetSearch:
		return r.search(ctx, job)
	default:
		return fmt.Errorf("unknown target type %q", job.TargetType)
	}
}

func (r *Router) navigation(ctx context.Context, job crawler.ScrapeJob) error {
	n, err := r.cfg.Ingester.SeedNavigation(ctx, r.cfg.Rules.Navigation)
	if err != nil {
		return fmt.Errorf("%w: seed navigation: %w", crawler.ErrPersistence, err)
	}
	r.logger.Info("navigation seeded", zap.String("job_id", job.ID), zap.Int("entries", n))
	return nil
}

func (r *Router) category(ctx context.Context, job crawler.ScrapeJob) error {
	if err := r.gate(ctx, r.cfg.Rules.BaseURL, r.cfg.Rules.PolicyPath); err != nil {
		return err
	}
	slug := job.Metadata.Text(crawler.MetaSlug)
	if slug == "" {
		slug = r.cfg.Rules.DefaultCategorySlug
	}
	clicks := job.Metadata.Int(crawler.MetaLoadMoreClicks)
	target := r.cfg.Rules.CategoryURL(slug)
	logger := r.logger.With(zap.String("job_id", job.ID), zap.String("slug", slug), zap.String("url", target))

	cands, err := r.listing(ctx, job, target, 0, func(page Page) error {
		pres, err := r.cfg.Paginator.Run(ctx, job.ID, page, clicks)
		if err != nil {
			return err
		}
		logger.Info("pagination finished",
			zap.Int("requested", pres.Requested),
			zap.Int("performed", pres.Performed),
			zap.Int("initial_count", pres.InitialCount),
			zap.Int("final_count", pres.FinalCount),
			zap.String("stop_reason", string(pres.StopReason)),
		)
		return nil
	})
	if err != nil {
		return err
	}
	_, err = r.cfg.Ingester.Ingest(ctx, ingest.Batch{
		JobID:      job.ID,
		Kind:       ingest.KindCategory,
		Slug:       slug,
		Clicks:     clicks,
		Candidates: cands,
	})
	return err
}

func (r *Router) search(ctx context.Context, job crawler.ScrapeJob) error {
	query := job.Metadata.Text(crawler.MetaQuery)
	if query == "" {
		query = queryFromURL(job.TargetURL)
	}
	if query == "" {
		return errors.New("search job has no query")
	}
	target := job.TargetURL
	if target == "" {
		target = r.cfg.Rules.SearchURL(query)
	}
	origin, path, err := splitTarget(target)
	if err != nil {
		return err
	}
	if err := r.gate(ctx, origin, path); err != nil {
		return err
	}

	cands, err := r.listing(ctx, job, target, r.cfg.Rules.SearchResultLimit, nil)
	if err != nil {
		return err
	}
	_, err = r.cfg.Ingester.Ingest(ctx, ingest.Batch{
		JobID:      job.ID,
		Kind:       ingest.KindSearch,
		Query:      query,
		Candidates: cands,
	})
	return err
}

// listing renders target, runs expand on the live page when set and extracts
// candidates. The page is closed before returning: ingest may open pages of
// its own and must not wait on the slot this one holds.
func (r *Router) listing(
	ctx context.Context,
	job crawler.ScrapeJob,
	target string,
	limit int,
	expand func(Page) error,
) ([]crawler.Candidate, error) {
	page, err := r.cfg.Opener.Open(ctx, job.ID, target)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if expand != nil {
		if err := expand(page); err != nil {
			return nil, err
		}
	}
	return r.extract(ctx, job, page, limit)
}

// product renders a single product page. It is not policy-gated.
func (r *Router) product(ctx context.Context, job crawler.ScrapeJob) error {
	if job.TargetURL == "" {
		return errors.New("product job has no target url")
	}
	page, err := r.cfg.Opener.Open(ctx, job.ID, job.TargetURL)
	if err != nil {
		return err
	}
	defer page.Close()

	html, err := r.snapshot(ctx, job, page)
	if err != nil {
		return err
	}
	detail, err := r.cfg.Extractor.ExtractDetail(html, job.TargetURL)
	if err != nil {
		return fmt.Errorf("%w: %w", crawler.ErrExtraction, err)
	}
	r.logger.Info("product page extracted",
		zap.String("job_id", job.ID),
		zap.String("source_id", job.Metadata.Text(crawler.MetaSourceID)),
		zap.String("title", detail.Title),
		zap.String("isbn", detail.ISBN),
		zap.String("publisher", detail.Publisher),
	)
	return nil
}

func (r *Router) extract(ctx context.Context, job crawler.ScrapeJob, page Page, limit int) ([]crawler.Candidate, error) {
	started := r.cfg.Clock.Now()
	html, err := r.snapshot(ctx, job, page)
	if err != nil {
		return nil, err
	}
	res, err := r.cfg.Extractor.Extract(html, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrExtraction, err)
	}
	r.emitter.Emit(progress.Event{
		JobID:      job.ID,
		TS:         r.cfg.Clock.Now(),
		Stage:      progress.StageExtracted,
		TargetType: string(job.TargetType),
		Count:      len(res.Candidates),
		Skipped:    res.Skipped,
		Dur:        r.cfg.Clock.Now().Sub(started),
	})
	if len(res.Candidates) == 0 {
		r.logger.Warn("no products extracted", zap.String("job_id", job.ID), zap.Int("elements", res.Elements))
	}
	return res.Candidates, nil
}

// snapshot reads the rendered document and archives it when enabled.
func (r *Router) snapshot(ctx context.Context, job crawler.ScrapeJob, page Page) (string, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: read document: %w", crawler.ErrNavigation, err)
	}
	if r.cfg.Archiver.Enabled() {
		uri, err := r.cfg.Archiver.Archive(ctx, job.ID, []byte(html))
		if err != nil {
			r.logger.Warn("archive snapshot failed", zap.String("job_id", job.ID), zap.Error(err))
		} else {
			r.logger.Debug("snapshot archived", zap.String("job_id", job.ID), zap.String("uri", uri))
		}
	}
	return html, nil
}

func (r *Router) gate(ctx context.Context, origin, path string) error {
	start := time.Now()
	allowed := r.cfg.Gate.Allowed(ctx, origin, path, r.cfg.UserAgent)
	r.logger.Debug("policy checked",
		zap.String("origin", origin), zap.String("path", path),
		zap.Bool("allowed", allowed), zap.Duration("took", time.Since(start)))
	if !allowed {
		return fmt.Errorf("%w: %s%s", crawler.ErrPolicyDenied, origin, path)
	}
	return nil
}

// splitTarget returns the scheme://host origin whose robots.txt governs raw,
// and the path to check against it.
func splitTarget(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", "", fmt.Errorf("invalid target url %q", raw)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return u.Scheme + "://" + u.Host, path, nil
}

func queryFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("q")
}
