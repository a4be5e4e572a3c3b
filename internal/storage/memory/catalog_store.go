package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// CatalogStore keeps the catalog in maps with the same uniqueness rules as Postgres.
type CatalogStore struct {
	mu sync.RWMutex

	navigation map[string]crawler.NavigationEntry // by slug
	categories map[string]crawler.Category        // by id
	products   map[string]crawler.Product         // by id
	details    map[string]crawler.ProductDetail   // by product id
	reviews    map[string][]crawler.Review        // by product id

	bySourceID  map[string]string
	bySourceURL map[string]string
	byDedupKey  map[string]string
}

// NewCatalogStore constructs an empty CatalogStore.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		navigation:  make(map[string]crawler.NavigationEntry),
		categories:  make(map[string]crawler.Category),
		products:    make(map[string]crawler.Product),
		details:     make(map[string]crawler.ProductDetail),
		reviews:     make(map[string][]crawler.Review),
		bySourceID:  make(map[string]string),
		bySourceURL: make(map[string]string),
		byDedupKey:  make(map[string]string),
	}
}

// UpsertNavigation inserts or refreshes the entry keyed by slug. The first ID wins.
func (s *CatalogStore) UpsertNavigation(_ context.Context, entry crawler.NavigationEntry) (crawler.NavigationEntry, error) {
	if entry.Slug == "" {
		return crawler.NavigationEntry{}, errors.New("navigation slug is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.navigation[entry.Slug]; ok {
		entry.ID = existing.ID
	}
	s.navigation[entry.Slug] = entry
	return entry, nil
}

// GetNavigationBySlug returns crawler.ErrNotFound when the slug is unknown.
func (s *CatalogStore) GetNavigationBySlug(_ context.Context, slug string) (crawler.NavigationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.navigation[slug]
	if !ok {
		return crawler.NavigationEntry{}, crawler.ErrNotFound
	}
	return entry, nil
}

// CountNavigation returns the number of navigation entries.
func (s *CatalogStore) CountNavigation(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.navigation), nil
}

// EnsureCategory returns the category for (NavigationID, Slug), creating it if needed.
func (s *CatalogStore) EnsureCategory(_ context.Context, category crawler.Category) (crawler.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.categories {
		if existing.NavigationID == category.NavigationID && existing.Slug == category.Slug {
			return existing, nil
		}
	}
	if category.ID == "" {
		return crawler.Category{}, errors.New("category id is required")
	}
	s.categories[category.ID] = category
	return category, nil
}

// TouchCategory refreshes the product count and scrape timestamp.
func (s *CatalogStore) TouchCategory(_ context.Context, categoryID string, productCount int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	category, ok := s.categories[categoryID]
	if !ok {
		return crawler.ErrNotFound
	}
	category.ProductCount = productCount
	category.LastScrapedAt = at
	s.categories[categoryID] = category
	return nil
}

// InsertProduct stores the product, or returns crawler.ErrDuplicateProduct
// when any unique key is taken.
func (s *CatalogStore) InsertProduct(_ context.Context, product crawler.Product) (crawler.Product, error) {
	if product.ID == "" {
		return crawler.Product{}, errors.New("product id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts(product) {
		return crawler.Product{}, crawler.ErrDuplicateProduct
	}
	s.products[product.ID] = product
	s.bySourceID[product.SourceID] = product.ID
	s.bySourceURL[product.SourceURL] = product.ID
	if product.DedupKey != "" {
		s.byDedupKey[product.DedupKey] = product.ID
	}
	return product, nil
}

// AttachDetail stores detail and reviews for an existing product.
func (s *CatalogStore) AttachDetail(
	_ context.Context,
	productID string,
	detail *crawler.ProductDetail,
	reviews []crawler.Review,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[productID]; !ok {
		return crawler.ErrNotFound
	}
	if detail != nil {
		d := *detail
		d.ProductID = productID
		s.details[productID] = d
	}
	for _, review := range reviews {
		review.ProductID = productID
		s.reviews[productID] = append(s.reviews[productID], review)
	}
	return nil
}

func (s *CatalogStore) conflicts(p crawler.Product) bool {
	if _, ok := s.bySourceID[p.SourceID]; ok {
		return true
	}
	if _, ok := s.bySourceURL[p.SourceURL]; ok {
		return true
	}
	if p.DedupKey != "" {
		if _, ok := s.byDedupKey[p.DedupKey]; ok {
			return true
		}
	}
	return false
}

// CountProducts counts products whose source ID starts with prefix.
func (s *CatalogStore) CountProducts(_ context.Context, sourceIDPrefix string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.products {
		if strings.HasPrefix(p.SourceID, sourceIDPrefix) {
			n++
		}
	}
	return n, nil
}

// Stats reports row counts per table.
type Stats struct {
	Navigation int
	Categories int
	Products   int
	Details    int
	Reviews    int
}

// Stats returns the current row counts.
func (s *CatalogStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Navigation: len(s.navigation),
		Categories: len(s.categories),
		Products:   len(s.products),
		Details:    len(s.details),
	}
	for _, rs := range s.reviews {
		st.Reviews += len(rs)
	}
	return st
}

// Category returns a category by ID.
func (s *CatalogStore) Category(id string) (crawler.Category, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	return c, ok
}

// Reviews returns the reviews stored for a product.
func (s *CatalogStore) Reviews(productID string) []crawler.Review {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]crawler.Review(nil), s.reviews[productID]...)
}
