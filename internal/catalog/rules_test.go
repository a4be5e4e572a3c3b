package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRules(t *testing.T) {
	t.Parallel()

	rules, err := Default()
	require.NoError(t, err)
	require.Equal(t, "https://www.worldofbooks.com", rules.BaseURL)
	require.Equal(t, "/en-gb/", rules.PolicyPath)
	require.Len(t, rules.Navigation, 112)
	require.Len(t, rules.CategoryURLs, 112)
	require.Equal(t, 50, rules.SearchResultLimit)
	require.Equal(t, "Unknown Author", rules.Extraction.UnknownAuthor)
	require.Equal(t, 200, rules.Extraction.TitleMax)
	require.Len(t, rules.Enrichment.Descriptions, 5)
	require.Len(t, rules.Enrichment.Publishers, 10)
	require.Len(t, rules.Enrichment.Reviews, 5)
	require.NotEmpty(t, rules.Pagination.EndMarkers)
}

func TestCategoryURL(t *testing.T) {
	t.Parallel()

	rules, err := Default()
	require.NoError(t, err)
	require.Equal(t,
		"https://www.worldofbooks.com/en-gb/collections/adventure-books",
		rules.CategoryURL("adventure"))
	require.Equal(t,
		"https://www.worldofbooks.com/en-gb/collections/crime-and-mystery-books",
		rules.CategoryURL("crime-mystery"))
	require.Equal(t,
		"https://www.worldofbooks.com/en-gb/collections/poetry-books",
		rules.CategoryURL("poetry"))
}

func TestSearchAndFallbackURLs(t *testing.T) {
	t.Parallel()

	rules, err := Default()
	require.NoError(t, err)
	require.Equal(t, "https://www.worldofbooks.com/en-gb/search?q=dune+messiah", rules.SearchURL("dune messiah"))
	require.Equal(t, "https://www.worldofbooks.com/en-gb/search?q=Dune", rules.FallbackProductURL("Dune"))

	title, ok := rules.NavigationTitle("sagas")
	require.True(t, ok)
	require.Equal(t, "Sagas", title)
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := `
base_url: https://books.example/
extraction:
  containers: [".card"]
  title: ["h2"]
  price: [".price"]
navigation:
  - title: Poetry
    slug: poetry
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	rules, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://books.example", rules.BaseURL)
	require.Equal(t, "https://books.example/collections/poetry-books", rules.CategoryURL("poetry"))
	require.Equal(t, "fiction", rules.DefaultCategorySlug)
	require.Equal(t, []string{"src"}, rules.Extraction.ImageAttrs)
}

func TestParseRejectsInvalidRules(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`base_url: not-a-url`))
	require.Error(t, err)

	_, err = Parse([]byte(`
base_url: https://books.example
extraction: {containers: [".c"], title: ["h2"], price: [".p"]}
navigation:
  - {title: A, slug: a}
  - {title: B, slug: a}
`))
	require.ErrorContains(t, err, "duplicated")
}
