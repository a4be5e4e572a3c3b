package pagination

import (
	"context"
	"fmt"
	"time"
)

// LoadMoreStrategy tries to trigger more content. acted reports whether an
// interaction took place.
type LoadMoreStrategy interface {
	Name() string
	Attempt(ctx context.Context, page Page) (acted bool, err error)
}

// SelectorStrategy clicks an explicit load-more control.
type SelectorStrategy struct {
	Selectors       []string
	DisabledPhrases []string
}

// Name implements LoadMoreStrategy.
func (SelectorStrategy) Name() string { return "selector" }

// Attempt implements LoadMoreStrategy.
func (s SelectorStrategy) Attempt(ctx context.Context, page Page) (bool, error) {
	if len(s.Selectors) == 0 {
		return false, nil
	}
	ok, err := page.ClickSelector(ctx, s.Selectors, s.DisabledPhrases)
	if err != nil {
		return false, fmt.Errorf("click load-more selector: %w", err)
	}
	return ok, nil
}

// TextStrategy clicks a control whose text matches a load-more phrase.
type TextStrategy struct {
	Tags    []string
	Phrases []string
}

// Name implements LoadMoreStrategy.
func (TextStrategy) Name() string { return "text" }

// Attempt implements LoadMoreStrategy.
func (s TextStrategy) Attempt(ctx context.Context, page Page) (bool, error) {
	if len(s.Phrases) == 0 {
		return false, nil
	}
	ok, err := page.ClickText(ctx, s.Tags, s.Phrases)
	if err != nil {
		return false, fmt.Errorf("click load-more text: %w", err)
	}
	return ok, nil
}

// ScrollStrategy emulates infinite scroll.
type ScrollStrategy struct {
	Passes int
	Wait   time.Duration
}

// Name implements LoadMoreStrategy.
func (ScrollStrategy) Name() string { return "scroll" }

// Attempt implements LoadMoreStrategy.
func (s ScrollStrategy) Attempt(ctx context.Context, page Page) (bool, error) {
	if s.Passes <= 0 {
		return false, nil
	}
	for i := 0; i < s.Passes; i++ {
		if err := page.ScrollToBottom(ctx); err != nil {
			return i > 0, fmt.Errorf("scroll pass %d: %w", i+1, err)
		}
		if err := page.Wait(ctx, s.Wait); err != nil {
			return true, err
		}
	}
	return true, nil
}
