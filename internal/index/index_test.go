package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NEOS-AI/neos/internal/testutil"
	"github.com/NEOS-AI/neos/internal/warc"
	"github.com/NEOS-AI/neos/pkg/config"
)

func TestWorkerSeeDedup(t *testing.T) {
	w, err := NewWorker(config.DefaultIndexerConfig(), 1000, nil, nil, nil)
	require.NoError(t, err)

	require.False(t, w.See("http://example.com/a"))
	require.True(t, w.See("http://example.com/a"))
	require.False(t, w.See("http://example.com/b"))
}

func TestPrepareWebpagesEnforcesMinimumCleanWords(t *testing.T) {
	cfg := config.DefaultIndexerConfig()
	cfg.MinimumCleanWords = 3

	w, err := NewWorker(cfg, 100, nil, nil, nil)
	require.NoError(t, err)

	pages := []Webpage{
		{URL: "http://example.com/short", Body: "too few"},
		{URL: "http://example.com/long", Body: "this page has plenty of clean words in its body"},
	}
	out := w.PrepareWebpages(pages)
	require.Len(t, out, 1)
	require.Equal(t, "http://example.com/long", out[0].URL)
}

func TestJobProcessDeduplicatesRepeatedURL(t *testing.T) {
	sb, err := testutil.NewSandbox()
	require.NoError(t, err)
	defer sb.Cleanup()

	w, err := warc.NewWriter()
	require.NoError(t, err)
	require.NoError(t, w.Write(&warc.Record{
		Request:  warc.Request{URL: "https://dup.example.com/page"},
		Response: warc.Response{Body: "first body version", PayloadType: warc.PayloadHTML, HasPayload: true},
		Metadata: warc.Metadata{FetchTimeMs: 1},
	}))
	require.NoError(t, w.Write(&warc.Record{
		Request:  warc.Request{URL: "https://dup.example.com/page"},
		Response: warc.Response{Body: "second body version", PayloadType: warc.PayloadHTML, HasPayload: true},
		Metadata: warc.Metadata{FetchTimeMs: 2},
	}))
	data, err := w.Finish()
	require.NoError(t, err)
	require.NoError(t, sb.WriteFile("shard.warc.gz", data, 0o644))

	cfg := config.IndexerConfig{
		WarcSource: config.WarcSource{Kind: config.WarcSourceLocal, Local: &config.LocalSourceConfig{Folder: sb.Root}},
		BatchSize:  1,
	}
	worker, err := NewWorker(cfg, 100, nil, nil, nil)
	require.NoError(t, err)

	job := Job{SourceConfig: cfg.WarcSource, WarcPath: "shard.warc.gz", BasePath: sb.Path("segments"), Settings: cfg}
	seg, err := job.Process(worker)
	require.NoError(t, err)

	// The second record carries the same URL, so only the first survives.
	require.Equal(t, 1, seg.NumDocs())
	require.Len(t, seg.Lookup("first"), 1)
	require.Empty(t, seg.Lookup("second"))
	require.True(t, worker.See("https://dup.example.com/page"))
}

func TestSegmentInsertCommitLookupMerge(t *testing.T) {
	sb, err := testutil.NewSandbox()
	require.NoError(t, err)
	defer sb.Cleanup()
	dir := sb.Root

	seg1, err := Open(filepath.Join(dir, "seg1"))
	require.NoError(t, err)
	require.NoError(t, seg1.Insert(Webpage{URL: "http://example.com/a", Body: "hello world"}))
	require.NoError(t, seg1.Commit())

	seg2, err := Open(filepath.Join(dir, "seg2"))
	require.NoError(t, err)
	require.NoError(t, seg2.Insert(Webpage{URL: "http://example.com/b", Body: "hello there"}))
	require.NoError(t, seg2.Commit())

	require.NoError(t, seg1.Merge(seg2))
	require.Equal(t, 2, seg1.NumDocs())
	require.Len(t, seg1.Lookup("hello"), 2)
	require.Len(t, seg1.Lookup("world"), 1)
}
