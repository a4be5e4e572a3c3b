package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestCascadeFirstNonEmptyWins(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div><h2> </h2><span class="b">second</span><span class="c">third</span><a href="/x" title="attr"></a></div>`))
	require.NoError(t, err)
	root := doc.Selection

	c := Cascade{
		SelectorText{Selectors: []string{"h2", ".missing"}},
		nil,
		SelectorText{Selectors: []string{".b"}},
		SelectorText{Selectors: []string{".c"}},
	}
	v, ok := c.Extract(root)
	require.True(t, ok)
	require.Equal(t, "second", v)

	v, ok = AttrValue{Selector: "a", Attr: "title"}.Extract(root)
	require.True(t, ok)
	require.Equal(t, "attr", v)

	_, ok = AttrValue{Selector: "a", Attr: "data-none"}.Extract(root)
	require.False(t, ok)
	_, ok = Cascade{}.Extract(root)
	require.False(t, ok)
}
