package index

import (
	"errors"
	"io"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/NEOS-AI/neos/internal/neoserr"
	"github.com/NEOS-AI/neos/internal/warc"
	"github.com/NEOS-AI/neos/pkg/config"
)

// Job is one unit of indexing work: download and process a single WARC
// file into its own on-disk segment.
type Job struct {
	SourceConfig config.WarcSource
	WarcPath     string
	BasePath     string
	Settings     config.IndexerConfig
}

// Process downloads the job's WARC file and indexes every HTML record
// that passes the worker's dedup filter and the minimum-clean-words gate,
// committing every AutocommitAfterNumInserts documents.
func (j Job) Process(worker *Worker) (*Segment, error) {
	name := filepath.Base(j.WarcPath)

	segment, err := Open(filepath.Join(j.BasePath, name))
	if err != nil {
		return nil, err
	}

	file, err := warc.Download(j.SourceConfig, j.WarcPath)
	if err != nil {
		return nil, err
	}

	records, err := file.Records()
	if err != nil {
		return nil, err
	}

	batchSize := j.Settings.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	autocommit := j.Settings.AutocommitAfterNumInserts
	numSinceCommit := 0

	batch := make([]Webpage, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		for _, page := range worker.PrepareWebpages(batch) {
			if err := segment.Insert(page); err != nil {
				return err
			}
			numSinceCommit++
		}
		batch = batch[:0]
		if autocommit > 0 && numSinceCommit >= autocommit {
			if err := segment.Commit(); err != nil {
				return err
			}
			numSinceCommit = 0
		}
		return nil
	}

	for {
		record, err := records.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A malformed record aborts its own triple, never the file.
			var parseErr *neoserr.WarcParse
			if errors.As(err, &parseErr) {
				logrus.Tracef("index: skipping malformed record in %s: %v", j.WarcPath, err)
				continue
			}
			break
		}
		if record.Response.HasPayload && record.Response.PayloadType != warc.PayloadHTML {
			continue
		}
		if worker.See(record.Request.URL) {
			continue
		}

		batch = append(batch, FromWarcRecord(record))
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if err := segment.Commit(); err != nil {
		return nil, err
	}
	if err := segment.MergeIntoMaxSegments(1); err != nil {
		return nil, err
	}

	return segment, nil
}
