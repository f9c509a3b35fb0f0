package index

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/NEOS-AI/neos/internal/metrics"
	"github.com/NEOS-AI/neos/pkg/config"
)

// pipelineMetrics is an optional registry Merge reports file-merge counts
// to; set it via SetMetrics before calling Run. A nil registry (the
// default) simply skips the bookkeeping, matching the worker/node/pool
// optional-metrics pattern.
var pipelineMetrics *metrics.Registry

// SetMetrics attaches a metrics.Registry that Run/Merge report to.
func SetMetrics(m *metrics.Registry) { pipelineMetrics = m }

// Run drives the whole indexing pipeline: discover shards, process each
// one into its own segment (in parallel, bounded by GOMAXPROCS), merge
// the segments hierarchically, and atomically publish the result to
// OutputPath via rename.
func Run(cfg config.IndexerConfig, worker *Worker) error {
	paths, err := DiscoverShards(cfg.WarcSource)
	if err != nil {
		return fmt.Errorf("index: discover shards: %w", err)
	}

	if cfg.SkipWarcFiles > 0 && cfg.SkipWarcFiles < len(paths) {
		paths = paths[cfg.SkipWarcFiles:]
	} else if cfg.SkipWarcFiles >= len(paths) {
		paths = nil
	}
	if cfg.LimitWarcFiles > 0 && cfg.LimitWarcFiles < len(paths) {
		paths = paths[:cfg.LimitWarcFiles]
	}
	if len(paths) == 0 {
		return fmt.Errorf("index: no warc shards to process")
	}

	stagingDir, err := os.MkdirTemp(filepath.Dir(cfg.OutputPath), ".neos-index-staging-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(stagingDir)

	segments := make([]*Segment, len(paths))
	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, warcPath := range paths {
		i, warcPath := i, warcPath
		g.Go(func() error {
			job := Job{SourceConfig: cfg.WarcSource, WarcPath: warcPath, BasePath: stagingDir, Settings: cfg}
			seg, err := job.Process(worker)
			if err != nil {
				return fmt.Errorf("index: process %s: %w", warcPath, err)
			}
			segments[i] = seg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	merged, err := Merge(segments)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(cfg.OutputPath); err != nil {
		return err
	}
	return os.Rename(merged.Path(), cfg.OutputPath)
}

// Merge folds every segment into one with a thread-per-chunk fan-in:
// split segments into roughly-equal chunks, merge each chunk in
// parallel, then merge the per-chunk results together.
func Merge(segments []*Segment) (*Segment, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("index: nothing to merge")
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > len(segments) {
		numWorkers = len(segments)
	}
	chunkSize := (len(segments) + numWorkers - 1) / numWorkers

	chunks := make([][]*Segment, 0, numWorkers)
	for start := 0; start < len(segments); start += chunkSize {
		end := start + chunkSize
		if end > len(segments) {
			end = len(segments)
		}
		chunks = append(chunks, segments[start:end])
	}

	merged := make([]*Segment, len(chunks))
	g := new(errgroup.Group)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			m, err := mergeSequential(chunk)
			if err != nil {
				return err
			}
			merged[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeSequential(merged)
}

func mergeSequential(segments []*Segment) (*Segment, error) {
	head := segments[0]
	for _, other := range segments[1:] {
		if err := head.Merge(other); err != nil {
			return nil, err
		}
		if err := os.RemoveAll(other.Path()); err != nil {
			return nil, err
		}
		if pipelineMetrics != nil {
			pipelineMetrics.IndexFilesMerged.Inc()
		}
	}
	if err := head.MergeIntoMaxSegments(1); err != nil {
		return nil, err
	}
	return head, nil
}
