// Package ingest turns extracted candidates into catalog rows. Uniqueness is
// enforced by the store: an insert that conflicts is counted as a duplicate.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/enrich"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// Kind selects the identifier namespace of a batch.
type Kind int

// Batch kinds.
const (
	KindCategory Kind = iota
	KindSearch
)

// Batch is one extraction pass ready to persist.
type Batch struct {
	JobID      string
	Kind       Kind
	Slug       string
	Clicks     int
	Query      string
	Candidates []crawler.Candidate
}

// Report summarizes an ingestion pass.
type Report struct {
	Candidates  int
	Inserted    int
	Duplicates  int
	Failed      int
	CountBefore int
	CountAfter  int
	CategoryID  string
}

// Config wires an Ingester.
type Config struct {
	Store    crawler.CatalogStore
	Enricher enrich.Enricher
	IDs      crawler.IDGenerator
	Clock    crawler.Clock
	Rules    *catalog.Rules
	Emitter  progress.Emitter
	Logger   *zap.Logger
}

// Ingester persists navigation seeds and candidate batches.
type Ingester struct {
	store    crawler.CatalogStore
	enricher enrich.Enricher
	ids      crawler.IDGenerator
	clock    crawler.Clock
	rules    *catalog.Rules
	emitter  progress.Emitter
	logger   *zap.Logger
}

// New builds an Ingester. A nil Enricher stores products without detail.
func New(cfg Config) *Ingester {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	enricher := cfg.Enricher
	if enricher == nil {
		enricher = enrich.Noop{}
	}
	return &Ingester{
		store:    cfg.Store,
		enricher: enricher,
		ids:      cfg.IDs,
		clock:    cfg.Clock,
		rules:    cfg.Rules,
		emitter:  progress.OrNop(cfg.Emitter),
		logger:   logger.Named("ingest"),
	}
}

// SeedNavigation upserts every entry by slug, refreshing lastScrapedAt.
func (in *Ingester) SeedNavigation(ctx context.Context, entries []catalog.NavEntry) (int, error) {
	now := in.clock.Now()
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("seed navigation canceled: %w", err)
		}
		id, err := in.ids.NewID()
		if err != nil {
			return 0, fmt.Errorf("navigation id: %w", err)
		}
		if _, err := in.store.UpsertNavigation(ctx, crawler.NavigationEntry{
			ID: id, Title: entry.Title, Slug: entry.Slug, LastScrapedAt: now,
		}); err != nil {
			return 0, fmt.Errorf("upsert navigation %q: %w", entry.Slug, err)
		}
	}
	total, err := in.store.CountNavigation(ctx)
	if err != nil {
		return len(entries), fmt.Errorf("count navigation: %w", err)
	}
	in.logger.Info("navigation seeded", zap.Int("entries", len(entries)), zap.Int("total", total))
	return len(entries), nil
}

// Ingest persists a batch. Per-record failures are logged and counted; only
// cancellation aborts the pass.
func (in *Ingester) Ingest(ctx context.Context, batch Batch) (Report, error) {
	rep := Report{Candidates: len(batch.Candidates)}
	prefix := SourceIDPrefix(batch)
	logger := in.logger.With(zap.String("job_id", batch.JobID), zap.String("namespace", prefix))

	before, err := in.store.CountProducts(ctx, prefix)
	if err != nil {
		logger.Warn("count products before ingest failed", zap.Error(err))
	}
	rep.CountBefore = before

	var category crawler.Category
	if batch.Kind == KindCategory {
		category, err = in.ensureCategory(ctx, batch.Slug)
		if err != nil {
			logger.Warn("ensure category failed", zap.String("slug", batch.Slug), zap.Error(err))
		}
		rep.CategoryID = category.ID
	}

	now := in.clock.Now()
	stamp := now.UnixMilli()
	for idx, cand := range batch.Candidates {
		if err := ctx.Err(); err != nil {
			return rep, fmt.Errorf("ingest canceled: %w", err)
		}
		switch err := in.insertOne(ctx, batch, cand, idx, stamp, now); {
		case err == nil:
			rep.Inserted++
		case errors.Is(err, crawler.ErrDuplicateProduct):
			rep.Duplicates++
			logger.Debug("duplicate product skipped", zap.String("title", cand.Title), zap.String("author", cand.Author))
		case ctx.Err() != nil:
			return rep, fmt.Errorf("ingest canceled: %w", ctx.Err())
		default:
			rep.Failed++
			logger.Warn("product not saved",
				zap.String("title", cand.Title), zap.Error(fmt.Errorf("%w: %w", crawler.ErrPersistence, err)))
		}
	}

	after, err := in.store.CountProducts(ctx, prefix)
	if err != nil {
		logger.Warn("count products after ingest failed", zap.Error(err))
		after = before + rep.Inserted
	}
	rep.CountAfter = after

	if category.ID != "" {
		if err := in.store.TouchCategory(ctx, category.ID, after, now); err != nil {
			logger.Warn("refresh category failed", zap.String("category_id", category.ID), zap.Error(err))
		}
	}

	metrics.ObserveIngest("inserted", rep.Inserted)
	metrics.ObserveIngest("duplicate", rep.Duplicates)
	metrics.ObserveIngest("failed", rep.Failed)
	in.emitter.Emit(progress.Event{
		JobID:   batch.JobID,
		TS:      now,
		Stage:   progress.StageIngested,
		Count:   rep.Inserted,
		Skipped: rep.Duplicates,
		Failed:  rep.Failed,
		Note:    prefix,
	})
	logger.Info("ingest finished",
		zap.Int("candidates", rep.Candidates),
		zap.Int("inserted", rep.Inserted),
		zap.Int("duplicates", rep.Duplicates),
		zap.Int("failed", rep.Failed),
		zap.Int("count_before", rep.CountBefore),
		zap.Int("count_after", rep.CountAfter),
	)
	if rep.Inserted == 0 && rep.Candidates > 0 {
		logger.Warn("no new products found; all candidates already exist", zap.Int("clicks", batch.Clicks))
	}
	return rep, nil
}

func (in *Ingester) insertOne(ctx context.Context, batch Batch, cand crawler.Candidate, idx int, stamp int64, now time.Time) error {
	id, err := in.ids.NewID()
	if err != nil {
		return fmt.Errorf("product id: %w", err)
	}
	sourceURL, err := SourceURL(batch, cand.ProductURL, stamp, idx)
	if err != nil {
		return err
	}
	currency := "GBP"
	if in.rules != nil && in.rules.Currency != "" {
		currency = in.rules.Currency
	}
	product := crawler.Product{
		ID:            id,
		SourceID:      fmt.Sprintf("%s%d-%d", SourceIDPrefix(batch), stamp, idx),
		Title:         cand.Title,
		Author:        cand.Author,
		Price:         cand.Price,
		Currency:      currency,
		ImageURL:      cand.ImageURL,
		SourceURL:     sourceURL,
		DedupKey:      extract.DedupKey(cand.Title, cand.Author),
		LastScrapedAt: now,
	}

	product, err = in.store.InsertProduct(ctx, product)
	if err != nil {
		return err
	}

	// Only new rows are enriched; duplicates never reach the enricher.
	detail, reviews, err := in.enricher.Enrich(ctx, batch.JobID, cand)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		in.logger.Warn("enrichment failed; storing product without detail",
			zap.String("job_id", batch.JobID), zap.String("title", cand.Title), zap.Error(err))
		return nil
	}
	for i := range reviews {
		rid, err := in.ids.NewID()
		if err != nil {
			return fmt.Errorf("review id: %w", err)
		}
		reviews[i].ID = rid
		reviews[i].ProductID = product.ID
		reviews[i].CreatedAt = now
	}
	if detail != nil {
		detail.ProductID = product.ID
	}
	if err := in.store.AttachDetail(ctx, product.ID, detail, reviews); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		in.logger.Warn("product detail not saved",
			zap.String("job_id", batch.JobID), zap.String("product_id", product.ID), zap.Error(err))
	}
	return nil
}

func (in *Ingester) ensureCategory(ctx context.Context, slug string) (crawler.Category, error) {
	if slug == "" {
		return crawler.Category{}, errors.New("category slug is empty")
	}
	title := SlugTitle(slug)
	if in.rules != nil {
		if t, ok := in.rules.NavigationTitle(slug); ok {
			title = t
		}
	}
	nav, err := in.store.GetNavigationBySlug(ctx, slug)
	if errors.Is(err, crawler.ErrNotFound) {
		id, idErr := in.ids.NewID()
		if idErr != nil {
			return crawler.Category{}, fmt.Errorf("navigation id: %w", idErr)
		}
		nav, err = in.store.UpsertNavigation(ctx, crawler.NavigationEntry{
			ID: id, Title: title, Slug: slug, LastScrapedAt: in.clock.Now(),
		})
	}
	if err != nil {
		return crawler.Category{}, fmt.Errorf("resolve navigation %q: %w", slug, err)
	}
	id, err := in.ids.NewID()
	if err != nil {
		return crawler.Category{}, fmt.Errorf("category id: %w", err)
	}
	cat, err := in.store.EnsureCategory(ctx, crawler.Category{
		ID: id, NavigationID: nav.ID, Slug: slug, Title: title,
	})
	if err != nil {
		return crawler.Category{}, fmt.Errorf("ensure category %q: %w", slug, err)
	}
	return cat, nil
}

// SourceIDPrefix is the namespace shared by every sourceId of the batch.
func SourceIDPrefix(b Batch) string {
	if b.Kind == KindSearch {
		return "wob-search-" + Slugify(b.Query) + "-"
	}
	return fmt.Sprintf("wob-real-%s-batch%d-", b.Slug, b.Clicks)
}

// SourceURL tags productURL with the batch coordinates and the batch
// timestamp so repeated crawls of one logical product stay distinguishable.
func SourceURL(b Batch, productURL string, stamp int64, idx int) (string, error) {
	u, err := url.Parse(productURL)
	if err != nil {
		return "", fmt.Errorf("parse product url %q: %w", productURL, err)
	}
	q := u.Query()
	if b.Kind == KindSearch {
		q.Set("search", b.Query)
	} else {
		q.Set("category", b.Slug)
		q.Set("batch", strconv.Itoa(b.Clicks))
	}
	q.Set("idx", strconv.Itoa(idx))
	q.Set("t", strconv.FormatInt(stamp, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Slugify lowercases s and joins alphanumeric runs with hyphens.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// SlugTitle renders a slug as a display title.
func SlugTitle(slug string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(slug, "-", " "))
}
