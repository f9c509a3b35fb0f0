// Package index implements the indexing pipeline: shard discovery over a
// warc_source, per-WARC processing into on-disk index segments with
// dedup and an autocommit threshold, and hierarchical
// merge of segments into the final published index.
package index

import "github.com/NEOS-AI/neos/internal/warc"

// Webpage is one crawled page ready to be inserted into an index segment.
type Webpage struct {
	URL         string
	Body        string
	FetchTimeMs uint64

	HostCentrality float64
	PageCentrality float64
	Backlinks      []string
}

// FromWarcRecord builds a Webpage from one parsed WARC triple.
func FromWarcRecord(r *warc.Record) Webpage {
	return Webpage{URL: r.Request.URL, Body: r.Response.Body, FetchTimeMs: r.Metadata.FetchTimeMs}
}
