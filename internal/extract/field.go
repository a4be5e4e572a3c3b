package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FieldExtractor pulls one value out of a page element. ok is false when the
// strategy found nothing usable.
type FieldExtractor interface {
	Extract(sel *goquery.Selection) (value string, ok bool)
}

// SelectorText returns the trimmed text of the first descendant matching any
// selector, trying selectors in order.
type SelectorText struct {
	Selectors []string
}

// Extract implements FieldExtractor.
func (s SelectorText) Extract(sel *goquery.Selection) (string, bool) {
	for _, selector := range s.Selectors {
		text := strings.TrimSpace(sel.Find(selector).First().Text())
		if text != "" {
			return text, true
		}
	}
	return "", false
}

// AttrValue returns an attribute of the first descendant matching Selector.
type AttrValue struct {
	Selector string
	Attr     string
}

// Extract implements FieldExtractor.
func (a AttrValue) Extract(sel *goquery.Selection) (string, bool) {
	val, ok := sel.Find(a.Selector).First().Attr(a.Attr)
	val = strings.TrimSpace(val)
	return val, ok && val != ""
}

// Cascade tries each extractor in order; the first non-empty result wins.
type Cascade []FieldExtractor

// Extract implements FieldExtractor.
func (c Cascade) Extract(sel *goquery.Selection) (string, bool) {
	for _, fx := range c {
		if fx == nil {
			continue
		}
		if v, ok := fx.Extract(sel); ok {
			return v, true
		}
	}
	return "", false
}
