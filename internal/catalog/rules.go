// Package catalog loads the storefront crawl rules: navigation seed, category
// URL table, URL templates, selector cascades, pagination phrases and
// enrichment templates. The rules ship embedded and may be replaced by a file.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultRules []byte

// NavEntry is one navigation seed row.
type NavEntry struct {
	Title string `yaml:"title"`
	Slug  string `yaml:"slug"`
}

// DetailSelectors drive product detail page extraction.
type DetailSelectors struct {
	Title       []string `yaml:"title"`
	Description []string `yaml:"description"`
	ISBN        []string `yaml:"isbn"`
	Publisher   []string `yaml:"publisher"`
}

// Extraction holds the per-field selector cascades.
type Extraction struct {
	Containers    []string        `yaml:"containers"`
	Title         []string        `yaml:"title"`
	Author        []string        `yaml:"author"`
	Price         []string        `yaml:"price"`
	ImageAttrs    []string        `yaml:"image_attrs"`
	UnknownAuthor string          `yaml:"unknown_author"`
	TitleMax      int             `yaml:"title_max"`
	AuthorMax     int             `yaml:"author_max"`
	Detail        DetailSelectors `yaml:"detail"`
}

// Pagination holds load-more discovery rules.
type Pagination struct {
	Overlays          []string `yaml:"overlays"`
	LoadMoreSelectors []string `yaml:"load_more_selectors"`
	LoadMorePhrases   []string `yaml:"load_more_phrases"`
	ClickableTags     []string `yaml:"clickable_tags"`
	DisabledPhrases   []string `yaml:"disabled_phrases"`
	EndMarkers        []string `yaml:"end_markers"`
	ScrollPasses      int      `yaml:"scroll_passes"`
	SettleMs          int      `yaml:"settle_ms"`
	ScrollWaitMs      int      `yaml:"scroll_wait_ms"`
}

// ReviewTemplate is one synthetic review.
type ReviewTemplate struct {
	Author string `yaml:"author"`
	Rating int    `yaml:"rating"`
	Text   string `yaml:"text"`
}

// Enrichment holds synthetic detail templates. {title} and {author} are substituted.
type Enrichment struct {
	Descriptions []string         `yaml:"descriptions"`
	Publishers   []string         `yaml:"publishers"`
	Reviews      []ReviewTemplate `yaml:"reviews"`
}

// Rules is the full storefront rule set.
type Rules struct {
	BaseURL             string            `yaml:"base_url"`
	PolicyPath          string            `yaml:"policy_path"`
	DefaultCategorySlug string            `yaml:"default_category_slug"`
	CategoryURLFallback string            `yaml:"category_url_fallback"`
	SearchURLTemplate   string            `yaml:"search_url_template"`
	SearchFallbackURL   string            `yaml:"search_fallback_url"`
	SearchResultLimit   int               `yaml:"search_result_limit"`
	Currency            string            `yaml:"currency"`
	PlaceholderImageURL string            `yaml:"placeholder_image_url"`
	Navigation          []NavEntry        `yaml:"navigation"`
	CategoryURLs        map[string]string `yaml:"category_urls"`
	Extraction          Extraction        `yaml:"extraction"`
	Pagination          Pagination        `yaml:"pagination"`
	Enrichment          Enrichment        `yaml:"enrichment"`
}

// Default returns the embedded rule set.
func Default() (*Rules, error) {
	return Parse(defaultRules)
}

// Load reads rules from path, or the embedded default when path is empty.
func Load(path string) (*Rules, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog rules: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML rule document.
func Parse(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode catalog rules: %w", err)
	}
	r.applyDefaults()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Rules) applyDefaults() {
	r.BaseURL = strings.TrimRight(r.BaseURL, "/")
	if r.PolicyPath == "" {
		r.PolicyPath = "/"
	}
	if r.DefaultCategorySlug == "" {
		r.DefaultCategorySlug = "fiction"
	}
	if r.CategoryURLFallback == "" {
		r.CategoryURLFallback = "{base}/collections/{slug}-books"
	}
	if r.SearchResultLimit <= 0 {
		r.SearchResultLimit = 50
	}
	if r.Currency == "" {
		r.Currency = "GBP"
	}
	if r.Extraction.UnknownAuthor == "" {
		r.Extraction.UnknownAuthor = "Unknown Author"
	}
	if r.Extraction.TitleMax <= 0 {
		r.Extraction.TitleMax = 200
	}
	if r.Extraction.AuthorMax <= 0 {
		r.Extraction.AuthorMax = 100
	}
	if len(r.Extraction.ImageAttrs) == 0 {
		r.Extraction.ImageAttrs = []string{"src"}
	}
	if r.Pagination.ScrollPasses < 0 {
		r.Pagination.ScrollPasses = 0
	}
	if r.CategoryURLs == nil {
		r.CategoryURLs = map[string]string{}
	}
}

// Validate rejects rule sets the engine cannot run with.
func (r *Rules) Validate() error {
	u, err := url.Parse(r.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("catalog base_url %q must be an absolute URL", r.BaseURL)
	}
	if len(r.Extraction.Containers) == 0 {
		return errors.New("catalog extraction.containers must not be empty")
	}
	if len(r.Extraction.Title) == 0 {
		return errors.New("catalog extraction.title must not be empty")
	}
	if len(r.Extraction.Price) == 0 {
		return errors.New("catalog extraction.price must not be empty")
	}
	seen := make(map[string]struct{}, len(r.Navigation))
	for _, entry := range r.Navigation {
		if entry.Slug == "" || entry.Title == "" {
			return fmt.Errorf("catalog navigation entry %+v needs title and slug", entry)
		}
		if _, dup := seen[entry.Slug]; dup {
			return fmt.Errorf("catalog navigation slug %q is duplicated", entry.Slug)
		}
		seen[entry.Slug] = struct{}{}
	}
	for _, review := range r.Enrichment.Reviews {
		if review.Rating < 1 || review.Rating > 5 {
			return fmt.Errorf("catalog review template rating %d out of range", review.Rating)
		}
	}
	return nil
}

// Origin returns the parsed base URL.
func (r *Rules) Origin() *url.URL {
	u, err := url.Parse(r.BaseURL)
	if err != nil {
		return &url.URL{}
	}
	return u
}

// CategoryURL resolves a slug to its canonical collection URL.
func (r *Rules) CategoryURL(slug string) string {
	if mapped, ok := r.CategoryURLs[slug]; ok && mapped != "" {
		return mapped
	}
	return expand(r.CategoryURLFallback, map[string]string{
		"{base}": r.BaseURL,
		"{slug}": slug,
	})
}

// SearchURL builds the query URL for a search job.
func (r *Rules) SearchURL(query string) string {
	return expand(r.SearchURLTemplate, map[string]string{
		"{base}":  r.BaseURL,
		"{query}": url.QueryEscape(query),
	})
}

// FallbackProductURL is used when an extracted element carries no link.
func (r *Rules) FallbackProductURL(title string) string {
	if r.SearchFallbackURL == "" {
		return r.BaseURL
	}
	return expand(r.SearchFallbackURL, map[string]string{
		"{base}":  r.BaseURL,
		"{title}": url.QueryEscape(title),
	})
}

// NavigationTitle returns the seeded title for slug, if any.
func (r *Rules) NavigationTitle(slug string) (string, bool) {
	for _, entry := range r.Navigation {
		if entry.Slug == slug {
			return entry.Title, true
		}
	}
	return "", false
}

func expand(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
