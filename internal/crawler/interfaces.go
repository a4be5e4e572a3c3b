package crawler

import (
	"context"
	"io"
	"time"
)

// JobStore persists ScrapeJob rows. UpdateJobStatus must apply the transition
// atomically and return ErrInvalidTransition when the current status does not
// permit it.
type JobStore interface {
	CreateJob(ctx context.Context, job ScrapeJob) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorLog string, at time.Time) (ScrapeJob, error)
	GetJob(ctx context.Context, jobID string) (ScrapeJob, error)
}

// CatalogStore persists the crawled catalog.
type CatalogStore interface {
	UpsertNavigation(ctx context.Context, entry NavigationEntry) (NavigationEntry, error)
	GetNavigationBySlug(ctx context.Context, slug string) (NavigationEntry, error)
	CountNavigation(ctx context.Context) (int, error)
	EnsureCategory(ctx context.Context, category Category) (Category, error)
	TouchCategory(ctx context.Context, categoryID string, productCount int, at time.Time) error
	// InsertProduct creates the product row. A uniqueness conflict returns ErrDuplicateProduct.
	InsertProduct(ctx context.Context, product Product) (Product, error)
	// AttachDetail stores the detail and reviews of an inserted product atomically.
	AttachDetail(ctx context.Context, productID string, detail *ProductDetail, reviews []Review) error
	CountProducts(ctx context.Context, sourceIDPrefix string) (int, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes job lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for scrape jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Close()
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row and job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
