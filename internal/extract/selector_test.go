package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/JakeFAU/personsearch/internal/crawler"
)

func TestParseSelector(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Selector
	}{
		{".title", Selector{Kind: ByClass, Name: "title"}},
		{" #main ", Selector{Kind: ByID, Name: "main"}},
		{"H2", Selector{Kind: ByTag, Name: "h2"}},
		{"a[href]", Selector{Kind: ByAttributePresence, Tag: "a", Name: "href"}},
		{"[data-user]", Selector{Kind: ByAttributePresence, Name: "data-user"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSelector(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseSelectorRejectsUnsupportedForms(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", ".", "#", "div .title", "ul > li", "a[href=x]", "div.title", "a]", "[]", ".a,.b", ":hover"} {
		_, err := ParseSelector(in)
		require.ErrorIs(t, err, crawler.ErrInvalidSelector, "selector %q", in)
	}
}

func TestSelectorStringRoundTrips(t *testing.T) {
	t.Parallel()

	for _, in := range []string{".title", "#main", "h2", "a[href]", "[src]"} {
		require.Equal(t, in, MustParseSelector(in).String())
	}
}

func TestSelectorMatchAllDocumentOrder(t *testing.T) {
	t.Parallel()

	doc, err := html.Parse(strings.NewReader(`
		<div class="result first"><span class="result">inner</span></div>
		<p id="x" class="results">no</p>
		<div class="result">last</div>`))
	require.NoError(t, err)

	nodes := MustParseSelector(".result").MatchAll(doc)
	require.Len(t, nodes, 3)
	require.Equal(t, "div", nodes[0].Data)
	require.Equal(t, "span", nodes[1].Data)
	require.Equal(t, "div", nodes[2].Data)

	require.Len(t, MustParseSelector("#x").MatchAll(doc), 1)
	require.Len(t, MustParseSelector("p[id]").MatchAll(doc), 1)
	require.Empty(t, MustParseSelector("span[id]").MatchAll(doc))
	require.Len(t, MustParseSelector("span").Filter(nodes), 1)
}
