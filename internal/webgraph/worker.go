package webgraph

import (
	"errors"
	"io"

	"github.com/NEOS-AI/neos/internal/neoserr"
	"github.com/NEOS-AI/neos/internal/warc"
)

// Worker processes WARC records into page-graph and host-graph edges.
type Worker struct {
	HostGraph      *Writer
	PageGraph      *Writer
	CanonicalIndex CanonicalIndex
}

// ProcessFile walks every record in file, inserting one page-graph edge
// per anchor link, and one host-graph edge per link whose source and
// destination root domains differ, into whichever graphs are configured.
func (w *Worker) ProcessFile(file *warc.File) error {
	it, err := file.Records()
	if err != nil {
		return err
	}

	for {
		record, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *neoserr.WarcParse
			if errors.As(err, &parseErr) {
				continue
			}
			break
		}

		for _, link := range ExtractAnchorLinks(record.Response.Body, record.Request.URL) {
			source := canonicalOrSelf(w.CanonicalIndex, link.Source)
			destination := canonicalOrSelf(w.CanonicalIndex, link.Destination)
			text := truncateAnchor(link.Text)

			sourceNode := NewPageNode(source)
			destNode := NewPageNode(destination)

			if w.PageGraph != nil {
				w.PageGraph.Insert(sourceNode, destNode, text, link.Rel)
			}

			sourceDomain := RootDomain(source)
			destDomain := RootDomain(destination)
			if w.HostGraph != nil && sourceDomain != "" && destDomain != "" && sourceDomain != destDomain {
				w.HostGraph.Insert(sourceNode.IntoHost(), destNode.IntoHost(), text, link.Rel)
			}
		}
	}

	if w.HostGraph != nil {
		if err := w.HostGraph.Commit(); err != nil {
			return err
		}
	}
	if w.PageGraph != nil {
		if err := w.PageGraph.Commit(); err != nil {
			return err
		}
	}
	return nil
}
