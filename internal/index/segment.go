package index

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// docEntry is one indexed page stored in a segment.
type docEntry struct {
	ID             uint64
	URL            string
	Body           string
	HostCentrality float64
	PageCentrality float64
}

// segmentFile is the on-disk shape of a Segment, gob-encoded. The
// inverted index is a small term->postings map persisted with
// encoding/gob rather than a full search-index library; ranking and
// tokenization live elsewhere, so a segment only needs to support merge
// and term lookup (see DESIGN.md).
type segmentFile struct {
	Docs     []docEntry
	Postings map[string][]uint64 // term -> sorted doc IDs
}

// Segment is one on-disk unit of the index: a batch of documents plus
// their term postings, committed from memory periodically and mergeable
// with other segments.
type Segment struct {
	mu   sync.Mutex
	path string
	data segmentFile

	nextID       uint64
	pending      []docEntry
}

// Open opens or creates a segment rooted at path.
func Open(path string) (*Segment, error) {
	s := &Segment{path: path, data: segmentFile{Postings: make(map[string][]uint64)}}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	for _, d := range s.data.Docs {
		if d.ID >= s.nextID {
			s.nextID = d.ID + 1
		}
	}
	return s, nil
}

func (s *Segment) dataFilePath() string { return filepath.Join(s.path, "segment.gob") }

func (s *Segment) load() error {
	f, err := os.Open(s.dataFilePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewDecoder(f).Decode(&s.data)
}

// Path returns the directory this segment is rooted at.
func (s *Segment) Path() string { return s.path }

func tokenize(body string) []string {
	fields := strings.Fields(strings.ToLower(body))
	return fields
}

// Insert stages page for indexing; it is not durable until Commit.
func (s *Segment) Insert(page Webpage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.pending = append(s.pending, docEntry{
		ID:             id,
		URL:            page.URL,
		Body:           page.Body,
		HostCentrality: page.HostCentrality,
		PageCentrality: page.PageCentrality,
	})
	return nil
}

// Commit flushes every pending document's postings into the segment and
// persists it to disk.
func (s *Segment) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked()
}

func (s *Segment) commitLocked() error {
	for _, d := range s.pending {
		s.data.Docs = append(s.data.Docs, d)
		seen := make(map[string]bool)
		for _, term := range tokenize(d.Body) {
			if seen[term] {
				continue
			}
			seen[term] = true
			s.data.Postings[term] = append(s.data.Postings[term], d.ID)
		}
	}
	s.pending = s.pending[:0]

	f, err := os.Create(s.dataFilePath())
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(&s.data)
}

// Lookup returns the doc IDs whose body contains term.
func (s *Segment) Lookup(term string) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.data.Postings[strings.ToLower(term)]...)
}

// NumDocs reports how many documents are durably committed.
func (s *Segment) NumDocs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.Docs)
}

// Merge folds other's documents and postings into s, renumbering other's
// doc IDs so they don't collide with s's own, and commits the result.
func (s *Segment) Merge(other *Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	offset := s.nextID
	remap := make(map[uint64]uint64, len(other.data.Docs))
	for _, d := range other.data.Docs {
		newID := d.ID + offset
		remap[d.ID] = newID
		d.ID = newID
		s.data.Docs = append(s.data.Docs, d)
	}
	for term, ids := range other.data.Postings {
		for _, id := range ids {
			s.data.Postings[term] = append(s.data.Postings[term], remap[id])
		}
	}
	s.nextID = offset + other.nextID

	return s.commitLocked()
}

// MergeIntoMaxSegments compacts the segment down to at most n on-disk
// units. This format keeps one file per segment, so there is nothing to
// compact; the call exists so pipeline code has a named optimize step.
func (s *Segment) MergeIntoMaxSegments(_ int) error { return nil }

// sortedTerms returns every indexed term in sorted order, useful for
// tests and debugging dumps.
func (s *Segment) sortedTerms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	terms := make([]string, 0, len(s.data.Postings))
	for t := range s.data.Postings {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return terms
}
