// Package enrich supplies ProductDetail and Review rows for newly inserted
// products. The strategy is selected by configuration and is independent of
// listing extraction.
package enrich

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/browser"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/extract"
)

// Modes accepted by New.
const (
	ModeSynthetic  = "synthetic"
	ModeNone       = "none"
	ModeDetailPage = "detail_page"
)

// Enricher produces the detail and reviews stored alongside a new product.
// A nil detail means none is stored.
type Enricher interface {
	Enrich(ctx context.Context, jobID string, cand crawler.Candidate) (*crawler.ProductDetail, []crawler.Review, error)
}

// Page is a rendered product page.
type Page interface {
	HTML(ctx context.Context) (string, error)
	Close()
}

// Opener opens product pages for the detail_page mode.
type Opener interface {
	Open(ctx context.Context, jobID, rawURL string) (Page, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, jobID, rawURL string) (Page, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, jobID, rawURL string) (Page, error) {
	return f(ctx, jobID, rawURL)
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

// Deps carries collaborators some modes need.
type Deps struct {
	Rules     *catalog.Rules
	Opener    Opener
	Extractor *extract.Extractor
	Logger    *zap.Logger
}

// New returns the Enricher for mode.
func New(mode string, seed uint64, deps Deps) (Enricher, error) {
	switch mode {
	case ModeSynthetic, "":
		if deps.Rules == nil {
			return nil, fmt.Errorf("synthetic enrichment requires catalog rules")
		}
		return NewSynthetic(deps.Rules.Enrichment, seed), nil
	case ModeNone:
		return Noop{}, nil
	case ModeDetailPage:
		if deps.Opener == nil || deps.Extractor == nil {
			return nil, fmt.Errorf("detail_page enrichment requires a browser and extractor")
		}
		return &DetailPage{opener: deps.Opener, extractor: deps.Extractor, logger: deps.Logger}, nil
	default:
		return nil, fmt.Errorf("unknown enrichment mode %q", mode)
	}
}

// Noop stores neither detail nor reviews.
type Noop struct{}

// Enrich implements Enricher.
func (Noop) Enrich(context.Context, string, crawler.Candidate) (*crawler.ProductDetail, []crawler.Review, error) {
	return nil, nil, nil
}

// Synthetic fills placeholder detail and 2-3 reviews from templates.
type Synthetic struct {
	tmpl catalog.Enrichment
	mu   sync.Mutex
	rnd  *rand.Rand
}

// NewSynthetic builds a Synthetic enricher. A zero seed draws one from the clock.
func NewSynthetic(tmpl catalog.Enrichment, seed uint64) *Synthetic {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Synthetic{tmpl: tmpl, rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Enrich implements Enricher.
func (s *Synthetic) Enrich(_ context.Context, _ string, cand crawler.Candidate) (*crawler.ProductDetail, []crawler.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fill := strings.NewReplacer("{title}", cand.Title, "{author}", cand.Author)
	detail := &crawler.ProductDetail{
		RatingsAvg:   math.Round((3.5+s.rnd.Float64()*1.5)*10) / 10,
		ReviewsCount: 50 + s.rnd.IntN(500),
		ISBN:         fmt.Sprintf("978%d", 1_000_000_000+s.rnd.Int64N(9_000_000_000)),
	}
	if n := len(s.tmpl.Descriptions); n > 0 {
		detail.Description = fill.Replace(s.tmpl.Descriptions[s.rnd.IntN(n)])
	}
	if n := len(s.tmpl.Publishers); n > 0 {
		detail.Publisher = s.tmpl.Publishers[s.rnd.IntN(n)]
	}
	published := time.Date(2020+s.rnd.IntN(4), time.Month(1+s.rnd.IntN(12)), 1+s.rnd.IntN(28), 0, 0, 0, 0, time.UTC)
	detail.PublicationDate = &published

	var reviews []crawler.Review
	if n := len(s.tmpl.Reviews); n > 0 {
		want := min(2+s.rnd.IntN(2), n)
		for _, idx := range s.rnd.Perm(n)[:want] {
			t := s.tmpl.Reviews[idx]
			reviews = append(reviews, crawler.Review{Author: t.Author, Rating: t.Rating, Text: fill.Replace(t.Text)})
		}
	}
	return detail, reviews, nil
}

// DetailPage scrapes the product page for description, isbn and publisher.
// It opens its own page, so callers must not hold a browser slot while enriching.
type DetailPage struct {
	opener    Opener
	extractor *extract.Extractor
	logger    *zap.Logger
}

// Enrich implements Enricher.
func (d *DetailPage) Enrich(ctx context.Context, jobID string, cand crawler.Candidate) (*crawler.ProductDetail, []crawler.Review, error) {
	if cand.ProductURL == "" {
		return nil, nil, nil
	}
	page, err := d.opener.Open(ctx, jobID, cand.ProductURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open product page: %w", err)
	}
	defer page.Close()

	html, err := page.HTML(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read product page: %w", err)
	}
	product, err := d.extractor.ExtractDetail(html, cand.ProductURL)
	if err != nil {
		return nil, nil, err
	}
	return &crawler.ProductDetail{
		Description: product.Description,
		Publisher:   product.Publisher,
		ISBN:        product.ISBN,
	}, nil, nil
}
