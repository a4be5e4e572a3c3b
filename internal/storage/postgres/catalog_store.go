package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
)

// CatalogStore persists navigation, categories, products, details and reviews.
type CatalogStore struct {
	pool   Pool
	logger *zap.Logger
}

// NewCatalogStore wraps an existing pool.
func NewCatalogStore(pool Pool, logger *zap.Logger) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: pool, logger: logging.OrNop(logger).Named("catalog_store")}, nil
}

// UpsertNavigation inserts the entry or refreshes the row with the same slug.
func (s *CatalogStore) UpsertNavigation(ctx context.Context, entry crawler.NavigationEntry) (crawler.NavigationEntry, error) {
	var out crawler.NavigationEntry
	err := s.pool.QueryRow(ctx, `
INSERT INTO navigation (id, title, slug, last_scraped_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (slug) DO UPDATE SET title = EXCLUDED.title, last_scraped_at = EXCLUDED.last_scraped_at
RETURNING id, title, slug, last_scraped_at`,
		entry.ID, entry.Title, entry.Slug, entry.LastScrapedAt,
	).Scan(&out.ID, &out.Title, &out.Slug, &out.LastScrapedAt)
	if err != nil {
		return crawler.NavigationEntry{}, fmt.Errorf("upsert navigation %q: %w", entry.Slug, err)
	}
	return out, nil
}

// GetNavigationBySlug returns crawler.ErrNotFound for unknown slugs.
func (s *CatalogStore) GetNavigationBySlug(ctx context.Context, slug string) (crawler.NavigationEntry, error) {
	var out crawler.NavigationEntry
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, slug, last_scraped_at FROM navigation WHERE slug = $1`, slug,
	).Scan(&out.ID, &out.Title, &out.Slug, &out.LastScrapedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.NavigationEntry{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.NavigationEntry{}, fmt.Errorf("get navigation %q: %w", slug, err)
	}
	return out, nil
}

// CountNavigation returns the number of navigation rows.
func (s *CatalogStore) CountNavigation(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM navigation`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count navigation: %w", err)
	}
	return n, nil
}

// EnsureCategory returns the (navigation_id, slug) row, inserting it first if needed.
func (s *CatalogStore) EnsureCategory(ctx context.Context, category crawler.Category) (crawler.Category, error) {
	var out crawler.Category
	err := s.pool.QueryRow(ctx, `
INSERT INTO categories (id, navigation_id, slug, title, product_count, last_scraped_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (navigation_id, slug) DO UPDATE SET slug = EXCLUDED.slug
RETURNING id, navigation_id, slug, title, product_count, last_scraped_at`,
		category.ID, category.NavigationID, category.Slug, category.Title, category.ProductCount, category.LastScrapedAt,
	).Scan(&out.ID, &out.NavigationID, &out.Slug, &out.Title, &out.ProductCount, &out.LastScrapedAt)
	if err != nil {
		return crawler.Category{}, fmt.Errorf("ensure category %q: %w", category.Slug, err)
	}
	return out, nil
}

// TouchCategory refreshes the product count and scrape timestamp.
func (s *CatalogStore) TouchCategory(ctx context.Context, categoryID string, productCount int, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE categories SET product_count = $2, last_scraped_at = $3 WHERE id = $1`,
		categoryID, productCount, at,
	)
	if err != nil {
		return fmt.Errorf("touch category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// InsertProduct inserts the product row. A conflict on any unique key yields
// crawler.ErrDuplicateProduct.
func (s *CatalogStore) InsertProduct(ctx context.Context, product crawler.Product) (crawler.Product, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
INSERT INTO products (id, source_id, title, author, price, currency, image_url, source_url, dedup_key, last_scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT DO NOTHING
RETURNING id`,
		product.ID, product.SourceID, product.Title, product.Author, product.Price, product.Currency,
		product.ImageURL, product.SourceURL, product.DedupKey, product.LastScrapedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Product{}, crawler.ErrDuplicateProduct
	}
	if err != nil {
		return crawler.Product{}, fmt.Errorf("insert product: %w", err)
	}
	product.ID = id
	return product, nil
}

// AttachDetail writes the detail row and reviews of productID in one transaction.
func (s *CatalogStore) AttachDetail(
	ctx context.Context,
	productID string,
	detail *crawler.ProductDetail,
	reviews []crawler.Review,
) error {
	if detail == nil && len(reviews) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin attach detail: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback attach detail", zap.Error(rbErr))
		}
	}()

	if detail != nil {
		specs, err := json.Marshal(specsOrEmpty(detail.Specs))
		if err != nil {
			return fmt.Errorf("marshal product specs: %w", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO product_details (product_id, description, specs, ratings_avg, reviews_count, publisher, publication_date, isbn)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			productID, detail.Description, specs, detail.RatingsAvg, detail.ReviewsCount,
			detail.Publisher, detail.PublicationDate, detail.ISBN,
		)
		if err != nil {
			return fmt.Errorf("insert product detail: %w", err)
		}
	}

	for _, review := range reviews {
		_, err := tx.Exec(ctx, `
INSERT INTO reviews (id, product_id, author, rating, text, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
			review.ID, productID, review.Author, review.Rating, review.Text, review.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert review: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit attach detail: %w", err)
	}
	return nil
}

// CountProducts counts products whose source_id starts with prefix.
func (s *CatalogStore) CountProducts(ctx context.Context, sourceIDPrefix string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM products WHERE starts_with(source_id, $1)`, sourceIDPrefix,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count products: %w", err)
	}
	return n, nil
}

func specsOrEmpty(specs map[string]string) map[string]string {
	if specs == nil {
		return map[string]string{}
	}
	return specs
}
