// Package extract turns rendered catalog pages into candidate records using
// goquery and the selector cascades supplied by the catalog rules.
package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Result is the outcome of one extraction pass.
type Result struct {
	Candidates []crawler.Candidate
	// Elements is the number of container elements visited.
	Elements int
	// Skipped counts elements discarded for missing fields, bad prices,
	// duplicate titles or extraction errors.
	Skipped int
}

// Extractor applies the extraction cascades across a page.
type Extractor struct {
	rules      *catalog.Rules
	origin     *url.URL
	containers string
	title      Cascade
	author     Cascade
	price      Cascade
	detail     detailCascades
	logger     *zap.Logger
}

type detailCascades struct {
	title, description, isbn, publisher Cascade
}

// New builds an Extractor from catalog rules.
func New(rules *catalog.Rules, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	ex := rules.Extraction
	return &Extractor{
		rules:      rules,
		origin:     rules.Origin(),
		containers: strings.Join(ex.Containers, ", "),
		title: Cascade{
			SelectorText{Selectors: ex.Title},
			AttrValue{Selector: "a[title]", Attr: "title"},
		},
		author: Cascade{SelectorText{Selectors: ex.Author}},
		price:  Cascade{SelectorText{Selectors: ex.Price}},
		detail: detailCascades{
			title:       Cascade{SelectorText{Selectors: ex.Detail.Title}, SelectorText{Selectors: []string{"title"}}},
			description: Cascade{SelectorText{Selectors: ex.Detail.Description}, AttrValue{Selector: `meta[name="description"]`, Attr: "content"}},
			isbn:        Cascade{AttrValue{Selector: "[data-isbn]", Attr: "data-isbn"}, SelectorText{Selectors: ex.Detail.ISBN}},
			publisher:   Cascade{AttrValue{Selector: "[data-publisher]", Attr: "data-publisher"}, SelectorText{Selectors: ex.Detail.Publisher}},
		},
		logger: logger.Named("extract"),
	}
}

// CountSelector returns the union selector used to enumerate containers.
func (e *Extractor) CountSelector() string {
	return e.containers
}

// Extract harvests up to limit candidates (0 = no limit) from html.
// Records are deduplicated by folded title within the pass.
func (e *Extractor) Extract(html string, limit int) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, fmt.Errorf("parse page: %w", err)
	}
	var res Result
	seen := make(map[string]struct{})
	doc.Find(e.containers).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		res.Elements++
		cand, err := e.extractOne(sel)
		if err != nil {
			res.Skipped++
			if !errors.Is(err, errIncomplete) {
				e.logger.Debug("element skipped", zap.Int("index", i), zap.Error(err))
			}
			return true
		}
		key := FoldKey(cand.Title)
		if _, dup := seen[key]; dup {
			res.Skipped++
			return true
		}
		seen[key] = struct{}{}
		res.Candidates = append(res.Candidates, cand)
		return limit <= 0 || len(res.Candidates) < limit
	})
	metrics.ObserveExtraction(len(res.Candidates), res.Skipped)
	return res, nil
}

var errIncomplete = errors.New("missing title or price")

func (e *Extractor) extractOne(sel *goquery.Selection) (cand crawler.Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", crawler.ErrExtraction, r)
		}
	}()
	ex := e.rules.Extraction

	title, ok := e.title.Extract(sel)
	if !ok {
		return crawler.Candidate{}, errIncomplete
	}
	priceText, ok := e.price.Extract(sel)
	if !ok {
		return crawler.Candidate{}, errIncomplete
	}
	price, ok := ParsePrice(priceText)
	if !ok {
		return crawler.Candidate{}, errIncomplete
	}

	cand.Title = Truncate(CollapseSpace(title), ex.TitleMax)
	if cand.Title == "" {
		return crawler.Candidate{}, errIncomplete
	}
	cand.Price = price

	author, _ := e.author.Extract(sel)
	cand.Author = Truncate(CollapseSpace(StripByPrefix(author)), ex.AuthorMax)
	if cand.Author == "" {
		cand.Author = ex.UnknownAuthor
	}

	cand.ImageURL = e.resolve(e.imageSrc(sel))
	if cand.ImageURL == "" {
		cand.ImageURL = e.rules.PlaceholderImageURL
	}
	cand.ProductURL = e.resolve(productHref(sel))
	if cand.ProductURL == "" {
		cand.ProductURL = e.rules.FallbackProductURL(cand.Title)
	}
	return cand, nil
}

func (e *Extractor) imageSrc(sel *goquery.Selection) string {
	img := sel.Find("img").First()
	for _, attr := range e.rules.Extraction.ImageAttrs {
		if v, ok := img.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func productHref(sel *goquery.Selection) string {
	if href, ok := sel.Find("a[href]").First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		return strings.TrimSpace(href)
	}
	href, _ := sel.Closest("a[href]").Attr("href")
	return strings.TrimSpace(href)
}

// resolve makes ref absolute against the site origin. Unusable refs yield "".
func (e *Extractor) resolve(ref string) string {
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	abs := e.origin.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}

// ExtractDetail reads the flat record of a single product page.
func (e *Extractor) ExtractDetail(html, pageURL string) (crawler.ProductPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return crawler.ProductPage{}, fmt.Errorf("parse product page: %w", err)
	}
	root := doc.Selection
	page := crawler.ProductPage{URL: pageURL}
	title, _ := e.detail.title.Extract(root)
	page.Title = Truncate(CollapseSpace(title), e.rules.Extraction.TitleMax)
	desc, _ := e.detail.description.Extract(root)
	page.Description = CollapseSpace(desc)
	isbn, _ := e.detail.isbn.Extract(root)
	page.ISBN = normalizeISBN(isbn)
	pub, _ := e.detail.publisher.Extract(root)
	page.Publisher = CollapseSpace(pub)
	if page.Title == "" {
		return page, fmt.Errorf("%w: product page has no title", crawler.ErrExtraction)
	}
	return page, nil
}

func normalizeISBN(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == 'X' || r == 'x' {
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}
