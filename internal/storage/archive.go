// Package storage archives rendered pages to a blob store under content-addressed paths.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

const defaultContentType = "text/html; charset=utf-8"

// Archiver writes page snapshots to {prefix}/{jobID}/{sha256}.html.
type Archiver struct {
	blobs       crawler.BlobStore
	hasher      crawler.Hasher
	prefix      string
	contentType string
}

// NewArchiver builds an Archiver. A nil blob store disables archiving.
func NewArchiver(blobs crawler.BlobStore, hasher crawler.Hasher, prefix, contentType string) *Archiver {
	if contentType == "" {
		contentType = defaultContentType
	}
	return &Archiver{
		blobs:       blobs,
		hasher:      hasher,
		prefix:      strings.Trim(prefix, "/"),
		contentType: contentType,
	}
}

// Enabled reports whether snapshots will be written.
func (a *Archiver) Enabled() bool {
	return a != nil && a.blobs != nil && a.hasher != nil
}

// Archive stores html for jobID and returns the blob URI.
func (a *Archiver) Archive(ctx context.Context, jobID string, html []byte) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	sum, err := a.hasher.Hash(html)
	if err != nil {
		return "", fmt.Errorf("hash snapshot: %w", err)
	}
	uri, err := a.blobs.PutObject(ctx, a.Path(jobID, sum), a.contentType, bytes.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("put snapshot: %w", err)
	}
	return uri, nil
}

// Path returns the object path for a snapshot digest.
func (a *Archiver) Path(jobID, digest string) string {
	return path.Join(a.prefix, jobID, digest+".html")
}
