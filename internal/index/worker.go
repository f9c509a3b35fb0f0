package index

import (
	"strings"
	"sync"

	"github.com/holiman/bloomfilter/v2"
	"github.com/spaolacci/murmur3"

	"github.com/NEOS-AI/neos/internal/metrics"
	"github.com/NEOS-AI/neos/pkg/config"
)

// CentralityStore looks up a precomputed centrality score for a URL or
// host. A narrow interface any in-memory or on-disk store can satisfy
// (see DESIGN.md).
type CentralityStore interface {
	Score(key string) (float64, bool)
}

// WebgraphBacklinks looks up the known backlinks for a URL.
type WebgraphBacklinks interface {
	Backlinks(url string) []string
}

// Worker holds the per-process state shared across every Job it runs:
// the seen-URL dedup filter and the optional centrality/webgraph stores
//.
type Worker struct {
	cfg config.IndexerConfig

	mu    sync.Mutex
	seen  *bloomfilter.Filter

	hostCentrality CentralityStore
	pageCentrality CentralityStore
	pageWebgraph   WebgraphBacklinks

	metrics *metrics.Registry
}

// SetMetrics attaches a metrics.Registry that the worker reports inserted/
// skipped document counts to. Optional: a worker with no registry attached
// simply skips the bookkeeping.
func (w *Worker) SetMetrics(m *metrics.Registry) { w.metrics = m }

// NewWorker sizes a bloom filter for roughly maxExpectedURLs with a 0.1%
// false-positive rate, matching the conservative sizing a crawl-scale
// dedup filter needs.
func NewWorker(cfg config.IndexerConfig, maxExpectedURLs uint64, hostCentrality, pageCentrality CentralityStore, pageWebgraph WebgraphBacklinks) (*Worker, error) {
	if maxExpectedURLs == 0 {
		maxExpectedURLs = 1_000_000
	}
	filter, err := bloomfilter.NewOptimal(maxExpectedURLs, 0.001)
	if err != nil {
		return nil, err
	}
	return &Worker{
		cfg:            cfg,
		seen:           filter,
		hostCentrality: hostCentrality,
		pageCentrality: pageCentrality,
		pageWebgraph:   pageWebgraph,
	}, nil
}

// See reports whether url has already been observed by this worker,
// marking it seen as a side effect. Backed by a bloom filter, so this is
// a best-effort dedup: false positives are possible, false negatives are
// not.
func (w *Worker) See(url string) bool {
	h := murmur3.Sum64([]byte(url))
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen.ContainsHash(h) {
		return true
	}
	w.seen.AddHash(h)
	return false
}

// HostCentralityStore returns the wired host centrality store, or nil.
func (w *Worker) HostCentralityStore() CentralityStore { return w.hostCentrality }

// PageCentralityStore returns the wired page centrality store, or nil.
func (w *Worker) PageCentralityStore() CentralityStore { return w.pageCentrality }

// PageWebgraph returns the wired page-graph backlinks source, or nil.
func (w *Worker) PageWebgraph() WebgraphBacklinks { return w.pageWebgraph }

// PrepareWebpages enriches a batch of raw webpages with whatever
// centrality/backlink data is wired, and drops pages that fail the
// minimum-clean-words gate.
func (w *Worker) PrepareWebpages(batch []Webpage) []Webpage {
	out := make([]Webpage, 0, len(batch))
	for _, page := range batch {
		if w.cfg.MinimumCleanWords > 0 && len(strings.Fields(page.Body)) < w.cfg.MinimumCleanWords {
			if w.metrics != nil {
				w.metrics.IndexDocsSkipped.Inc()
			}
			continue
		}

		if w.hostCentrality != nil {
			if score, ok := w.hostCentrality.Score(hostKey(page.URL)); ok {
				page.HostCentrality = score
			}
		}
		if w.pageCentrality != nil {
			if score, ok := w.pageCentrality.Score(page.URL); ok {
				page.PageCentrality = score
			}
		}
		if w.pageWebgraph != nil {
			page.Backlinks = w.pageWebgraph.Backlinks(page.URL)
		}

		if w.cfg.HostCentralityThreshold > 0 && page.HostCentrality < w.cfg.HostCentralityThreshold {
			if w.metrics != nil {
				w.metrics.IndexDocsSkipped.Inc()
			}
			continue
		}

		if w.metrics != nil {
			w.metrics.IndexDocsInserted.Inc()
		}
		out = append(out, page)
	}
	return out
}

func hostKey(rawURL string) string {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return rawURL
	}
	rest := rawURL[idx+3:]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}
