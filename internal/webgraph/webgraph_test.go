package webgraph

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterCommitAndReadBack(t *testing.T) {
	dir := t.TempDir()
	w, err := New(filepath.Join(dir, "page"))
	require.NoError(t, err)

	a := NewPageNode("https://example.com/a")
	b := NewPageNode("https://example.com/b")
	w.Insert(a, b, "click here", "")
	require.NoError(t, w.Commit())

	edges, err := w.Edges()
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, a.ID, edges[0].Source)
	require.Equal(t, b.ID, edges[0].Destination)
	require.Equal(t, "click here", edges[0].Label)
}

func TestAnchorTextTruncatedTo128Runes(t *testing.T) {
	long := make([]rune, 300)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateAnchor(string(long))
	require.Len(t, []rune(got), maxAnchorRunes)
}

func TestCanonicalOrSelfFallsBackOnlyOnMiss(t *testing.T) {
	idx := MapCanonicalIndex{"https://example.com/dup": "https://example.com/canonical"}

	require.Equal(t, "https://example.com/canonical", canonicalOrSelf(idx, "https://example.com/dup"))
	require.Equal(t, "https://example.com/unknown", canonicalOrSelf(idx, "https://example.com/unknown"))
	require.Equal(t, "https://example.com/x", canonicalOrSelf(nil, "https://example.com/x"))
}

func TestMergeCombinesEdgesAndNodes(t *testing.T) {
	dir := t.TempDir()
	w1, err := New(filepath.Join(dir, "w1"))
	require.NoError(t, err)
	w2, err := New(filepath.Join(dir, "w2"))
	require.NoError(t, err)

	a := NewPageNode("https://example.com/a")
	b := NewPageNode("https://example.com/b")
	c := NewPageNode("https://example.com/c")

	w1.Insert(a, b, "one", "")
	require.NoError(t, w1.Commit())

	w2.Insert(b, c, "two", "")
	require.NoError(t, w2.Commit())

	require.NoError(t, w1.Merge(w2))

	edges, err := w1.Edges()
	require.NoError(t, err)
	require.Len(t, edges, 2)
}

func TestExtractAnchorLinksSkipsNonHTTP(t *testing.T) {
	body := `<html><body>
		<a href="https://other.com/page">hello <b>world</b></a>
		<a href="mailto:foo@bar.com">mail me</a>
	</body></html>`
	links := ExtractAnchorLinks(body, "https://example.com/")
	require.Len(t, links, 1)
	require.Equal(t, "https://other.com/page", links[0].Destination)
	require.Equal(t, "hello world", links[0].Text)
}
