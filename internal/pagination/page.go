// Package pagination drives "load more" interactions against a live page to
// accumulate listing elements before extraction.
package pagination

import (
	"context"
	"time"
)

// Page is the slice of browser automation the controller needs.
type Page interface {
	// Count returns the number of elements matching selector.
	Count(ctx context.Context, selector string) (int, error)
	// RemoveOverlays deletes elements matching any selector.
	RemoveOverlays(ctx context.Context, selectors []string) error
	// ClickSelector scrolls to and clicks the first visible, enabled element
	// matching a selector in order whose text contains no disabled phrase.
	ClickSelector(ctx context.Context, selectors, disabledPhrases []string) (bool, error)
	// ClickText clicks the first visible element of the given tags whose text
	// contains one of phrases, case-insensitively.
	ClickText(ctx context.Context, tags, phrases []string) (bool, error)
	// ScrollToBottom scrolls the document to its end.
	ScrollToBottom(ctx context.Context) error
	// BodyText returns the rendered text of the document body.
	BodyText(ctx context.Context) (string, error)
	// Wait pauses for d or until ctx ends.
	Wait(ctx context.Context, d time.Duration) error
}
