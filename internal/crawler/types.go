package crawler

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TargetType selects the crawl strategy applied to a job.
type TargetType string

// Supported crawl targets.
const (
	TargetNavigation TargetType = "NAVIGATION"
	TargetCategory   TargetType = "CATEGORY"
	TargetProduct    TargetType = "PRODUCT"
	TargetSearch     TargetType = "SEARCH"
)

// ParseTargetType normalizes user input into a TargetType.
func ParseTargetType(raw string) (TargetType, error) {
	t := TargetType(strings.ToUpper(strings.TrimSpace(raw)))
	switch t {
	case TargetNavigation, TargetCategory, TargetProduct, TargetSearch:
		return t, nil
	default:
		return "", fmt.Errorf("unknown target type %q", raw)
	}
}

// Metadata keys understood by the crawl strategies.
const (
	MetaSlug           = "slug"
	MetaLoadMoreClicks = "loadMoreClicks"
	MetaQuery          = "query"
	MetaSourceID       = "sourceId"
)

// Metadata is the opaque per-job key/value bag.
type Metadata map[string]any

// Text returns the value for key rendered as a string, or "".
func (m Metadata) Text(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// Int returns the value for key as a non-negative integer, or 0 when absent or unparsable.
func (m Metadata) Int(key string) int {
	v, ok := m[key]
	if !ok || v == nil {
		return 0
	}
	var n int
	switch val := v.(type) {
	case int:
		n = val
	case int64:
		n = int(val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0
		}
		n = int(val)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0
		}
		n = parsed
	default:
		return 0
	}
	if n < 0 {
		return 0
	}
	return n
}

// Clone returns a shallow copy safe to hand to another goroutine.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ScrapeJob is a persisted unit of crawl work.
type ScrapeJob struct {
	ID         string     `json:"id"`
	TargetURL  string     `json:"target_url"`
	TargetType TargetType `json:"target_type"`
	Status     JobStatus  `json:"status"`
	Metadata   Metadata   `json:"metadata"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ErrorLog   string     `json:"error_log,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NavigationEntry is a top-level catalog section.
type NavigationEntry struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Slug          string    `json:"slug"`
	LastScrapedAt time.Time `json:"last_scraped_at"`
}

// Category belongs to a navigation entry and is unique per (NavigationID, Slug).
type Category struct {
	ID            string    `json:"id"`
	NavigationID  string    `json:"navigation_id"`
	Slug          string    `json:"slug"`
	Title         string    `json:"title"`
	ProductCount  int       `json:"product_count"`
	LastScrapedAt time.Time `json:"last_scraped_at"`
}

// Product is a catalog row created from an extracted candidate.
type Product struct {
	ID            string    `json:"id"`
	SourceID      string    `json:"source_id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Price         float64   `json:"price"`
	Currency      string    `json:"currency"`
	ImageURL      string    `json:"image_url"`
	SourceURL     string    `json:"source_url"`
	DedupKey      string    `json:"-"`
	LastScrapedAt time.Time `json:"last_scraped_at"`
}

// ProductDetail is the 1:1 companion of a Product.
type ProductDetail struct {
	ProductID       string            `json:"product_id"`
	Description     string            `json:"description"`
	Specs           map[string]string `json:"specs,omitempty"`
	RatingsAvg      float64           `json:"ratings_avg"`
	ReviewsCount    int               `json:"reviews_count"`
	Publisher       string            `json:"publisher"`
	PublicationDate *time.Time        `json:"publication_date,omitempty"`
	ISBN            string            `json:"isbn"`
}

// Review belongs to a Product. Rating is within [1,5].
type Review struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Author    string    `json:"author"`
	Rating    int       `json:"rating"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Candidate is a provisional record extracted from one page element.
type Candidate struct {
	Title      string  `json:"title"`
	Author     string  `json:"author"`
	Price      float64 `json:"price"`
	ImageURL   string  `json:"image_url"`
	ProductURL string  `json:"product_url"`
}

// ProductPage is the flat record extracted from a single product detail page.
type ProductPage struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ISBN        string `json:"isbn"`
	Publisher   string `json:"publisher"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID      string     `json:"job_id"`
	TargetType TargetType `json:"target_type"`
	TargetURL  string     `json:"target_url"`
	Metadata   Metadata   `json:"metadata"`
	Attempt    int        `json:"attempt"`
	Submitted  int64      `json:"submitted"`
}
