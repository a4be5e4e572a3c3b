package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/enrich"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

type stubEnricher struct {
	err     error
	reviews int
}

func (s stubEnricher) Enrich(_ context.Context, _ string, cand crawler.Candidate) (*crawler.ProductDetail, []crawler.Review, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	reviews := make([]crawler.Review, s.reviews)
	for i := range reviews {
		reviews[i] = crawler.Review{Author: "reader", Rating: 5, Text: "liked " + cand.Title}
	}
	return &crawler.ProductDetail{Description: cand.Title, ISBN: "9781234567897"}, reviews, nil
}

type countingEnricher struct {
	stubEnricher
	mu     sync.Mutex
	titles []string
}

func (c *countingEnricher) Enrich(ctx context.Context, jobID string, cand crawler.Candidate) (*crawler.ProductDetail, []crawler.Review, error) {
	c.mu.Lock()
	c.titles = append(c.titles, cand.Title)
	c.mu.Unlock()
	return c.stubEnricher.Enrich(ctx, jobID, cand)
}

func (c *countingEnricher) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.titles)
}

type recordingEmitter struct{ events []progress.Event }

func (r *recordingEmitter) Emit(e progress.Event) { r.events = append(r.events, e) }

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newIngester(t *testing.T, enricher enrich.Enricher, logger *zap.Logger) (*Ingester, *memory.CatalogStore, *recordingEmitter) {
	t.Helper()
	rules, err := catalog.Default()
	require.NoError(t, err)
	store := memory.NewCatalogStore()
	em := &recordingEmitter{}
	in := New(Config{
		Store:    store,
		Enricher: enricher,
		IDs:      uuid.New(),
		Clock:    system.NewManual(epoch),
		Rules:    rules,
		Emitter:  em,
		Logger:   logger,
	})
	return in, store, em
}

func candidates(titles ...string) []crawler.Candidate {
	out := make([]crawler.Candidate, 0, len(titles))
	for _, title := range titles {
		out = append(out, crawler.Candidate{
			Title:      title,
			Author:     "Frank Herbert",
			Price:      4.99,
			ImageURL:   "https://example.com/img.jpg",
			ProductURL: "https://www.wob.com/en-gb/books/" + Slugify(title),
		})
	}
	return out
}

func TestIngestCategoryBatch(t *testing.T) {
	t.Parallel()

	in, store, em := newIngester(t, stubEnricher{reviews: 2}, nil)
	rep, err := in.Ingest(context.Background(), Batch{
		JobID: "job-1", Kind: KindCategory, Slug: "fiction", Clicks: 2,
		Candidates: candidates("Dune", "Emma"),
	})
	require.NoError(t, err)
	require.Equal(t, 2, rep.Inserted)
	require.Zero(t, rep.Duplicates)
	require.Equal(t, 0, rep.CountBefore)
	require.Equal(t, 2, rep.CountAfter)
	require.NotEmpty(t, rep.CategoryID)

	cat, ok := store.Category(rep.CategoryID)
	require.True(t, ok)
	require.Equal(t, 2, cat.ProductCount)
	require.Equal(t, epoch, cat.LastScrapedAt)

	st := store.Stats()
	require.Equal(t, 1, st.Navigation)
	require.Equal(t, 2, st.Products)
	require.Equal(t, 2, st.Details)
	require.Equal(t, 4, st.Reviews)

	n, err := store.CountProducts(context.Background(), "wob-real-fiction-batch2-")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.Len(t, em.events, 1)
	require.Equal(t, progress.StageIngested, em.events[0].Stage)
	require.Equal(t, 2, em.events[0].Count)
}

func TestIngestRepeatedBatchCountsDuplicates(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	in, store, _ := newIngester(t, stubEnricher{}, zap.New(core))
	batch := Batch{JobID: "job-1", Kind: KindCategory, Slug: "fiction", Candidates: candidates("Dune")}

	_, err := in.Ingest(context.Background(), batch)
	require.NoError(t, err)
	rep, err := in.Ingest(context.Background(), batch)
	require.NoError(t, err)
	require.Zero(t, rep.Inserted)
	require.Equal(t, 1, rep.Duplicates)
	require.Equal(t, 1, store.Stats().Products)
	require.Equal(t, 1, store.Stats().Categories)
	require.Equal(t, 1, logs.FilterMessage("no new products found; all candidates already exist").Len())
}

func TestIngestEnrichesOnlyNewProducts(t *testing.T) {
	t.Parallel()

	enricher := &countingEnricher{stubEnricher: stubEnricher{reviews: 1}}
	in, store, _ := newIngester(t, enricher, nil)
	batch := Batch{JobID: "job-1", Kind: KindCategory, Slug: "fiction", Candidates: candidates("Dune", "Emma")}

	rep, err := in.Ingest(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Inserted)
	require.Equal(t, 2, enricher.Calls())

	rep, err = in.Ingest(context.Background(), batch)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Duplicates)
	require.Equal(t, 2, enricher.Calls())

	st := store.Stats()
	require.Equal(t, 2, st.Details)
	require.Equal(t, 2, st.Reviews)
}

func TestIngestSearchBatch(t *testing.T) {
	t.Parallel()

	in, store, _ := newIngester(t, stubEnricher{}, nil)
	rep, err := in.Ingest(context.Background(), Batch{
		JobID: "job-2", Kind: KindSearch, Query: "Harry Potter",
		Candidates: candidates("Chamber of Secrets"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, rep.Inserted)
	require.Empty(t, rep.CategoryID)
	require.Zero(t, store.Stats().Categories)

	n, err := store.CountProducts(context.Background(), "wob-search-harry-potter-")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestIngestEnrichmentFailureStoresBareProduct(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	in, store, _ := newIngester(t, stubEnricher{err: errors.New("detail page timed out")}, zap.New(core))
	rep, err := in.Ingest(context.Background(), Batch{
		JobID: "job-3", Kind: KindCategory, Slug: "fiction", Candidates: candidates("Dune"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, rep.Inserted)
	require.Zero(t, store.Stats().Details)
	require.Equal(t, 1, logs.FilterMessage("enrichment failed; storing product without detail").Len())
}

func TestIngestCanceledContext(t *testing.T) {
	t.Parallel()

	in, store, _ := newIngester(t, stubEnricher{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := in.Ingest(ctx, Batch{JobID: "job-4", Kind: KindCategory, Slug: "fiction", Candidates: candidates("Dune")})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, store.Stats().Products)
}

func TestSeedNavigationIdempotent(t *testing.T) {
	t.Parallel()

	in, store, _ := newIngester(t, stubEnricher{}, nil)
	entries := []catalog.NavEntry{{Title: "Fiction", Slug: "fiction"}, {Title: "Crime", Slug: "crime"}}
	n, err := in.SeedNavigation(context.Background(), entries)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	first, err := store.GetNavigationBySlug(context.Background(), "fiction")
	require.NoError(t, err)

	_, err = in.SeedNavigation(context.Background(), entries)
	require.NoError(t, err)
	again, err := store.GetNavigationBySlug(context.Background(), "fiction")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, 2, store.Stats().Navigation)
}

func TestSourceURLKeepsExistingQuery(t *testing.T) {
	t.Parallel()

	got, err := SourceURL(Batch{Kind: KindCategory, Slug: "fiction", Clicks: 1}, "https://www.wob.com/search?q=dune", 1700000000000, 3)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got, "https://www.wob.com/search?"))
	require.Contains(t, got, "q=dune")
	require.Contains(t, got, "category=fiction")
	require.Contains(t, got, "batch=1")
	require.Contains(t, got, "idx=3")
	require.Contains(t, got, "t=1700000000000")

	got, err = SourceURL(Batch{Kind: KindSearch, Query: "sci fi"}, "https://www.wob.com/b/1", 42, 0)
	require.NoError(t, err)
	require.Equal(t, "https://www.wob.com/b/1?idx=0&search=sci+fi&t=42", got)
}

func TestSlugHelpers(t *testing.T) {
	t.Parallel()

	require.Equal(t, "harry-potter", Slugify("  Harry   Potter! "))
	require.Equal(t, "", Slugify("!!!"))
	require.Equal(t, "Science Fiction", SlugTitle("science-fiction"))
	require.Equal(t, "wob-real-crime-batch0-", SourceIDPrefix(Batch{Kind: KindCategory, Slug: "crime"}))
}
