package webgraph

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/NEOS-AI/neos/internal/transport"
)

// Edge is one directed link between two nodes, with the anchor text and
// rel attribute the link carried.
type Edge struct {
	Source      NodeID
	Destination NodeID
	Label       string
	Rel         string
}

// maxAnchorRunes is the anchor-text truncation length.
const maxAnchorRunes = 128

func truncateAnchor(s string) string {
	runes := []rune(s)
	if len(runes) <= maxAnchorRunes {
		return s
	}
	return string(runes[:maxAnchorRunes])
}

// Writer accumulates graph edges and node names, committing them to an
// append-only on-disk log. Persistence is a small binary log in the
// same wire-codec style as the rest of the repo
// (internal/transport.Encoder/Decoder) rather than an embedded graph
// database; see DESIGN.md for the tradeoff.
type Writer struct {
	mu    sync.Mutex
	path  string
	file  *os.File

	pendingEdges []Edge
	nodeNames    map[NodeID]string
	pendingNames map[NodeID]string
}

const edgesFileName = "edges.bin"
const nodesFileName = "nodes.bin"

// New opens (creating if necessary) a graph segment rooted at path.
func New(path string) (*Writer, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(path, edgesFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		path:         path,
		file:         f,
		nodeNames:    make(map[NodeID]string),
		pendingNames: make(map[NodeID]string),
	}
	if err := w.loadNodeNames(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) loadNodeNames() error {
	data, err := os.ReadFile(filepath.Join(w.path, nodesFileName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	pos := 0
	for pos < len(data) {
		d := transport.NewDecoder(data[pos:])
		n, err := d.ReadUint32()
		if err != nil {
			return err
		}
		pos += 4
		body := data[pos : pos+int(n)]
		pos += int(n)

		bd := transport.NewDecoder(body)
		id, _ := bd.ReadUint64()
		name, _ := bd.ReadString()
		w.nodeNames[NodeID(id)] = name
	}
	return nil
}

// Path returns the directory this writer persists into.
func (w *Writer) Path() string { return w.path }

// Insert records a directed edge from source to destination, truncating
// label to the anchor-text length limit.
func (w *Writer) Insert(source, destination Node, label, rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	label = truncateAnchor(label)
	w.pendingEdges = append(w.pendingEdges, Edge{Source: source.ID, Destination: destination.ID, Label: label, Rel: rel})
	w.rememberNode(source)
	w.rememberNode(destination)
}

func (w *Writer) rememberNode(n Node) {
	if _, ok := w.nodeNames[n.ID]; ok {
		return
	}
	w.nodeNames[n.ID] = n.Name
	w.pendingNames[n.ID] = n.Name
}

// Commit flushes every pending edge and newly seen node name to disk.
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.commitLocked()
}

func (w *Writer) commitLocked() error {
	for _, e := range w.pendingEdges {
		enc := transport.NewEncoder()
		enc.WriteUint64(uint64(e.Source))
		enc.WriteUint64(uint64(e.Destination))
		enc.WriteString(e.Label)
		enc.WriteString(e.Rel)
		body := enc.Bytes()
		if _, err := w.file.Write(lengthPrefixed(body)); err != nil {
			return err
		}
	}
	w.pendingEdges = w.pendingEdges[:0]

	if len(w.pendingNames) > 0 {
		nf, err := os.OpenFile(filepath.Join(w.path, nodesFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer nf.Close()
		for id, name := range w.pendingNames {
			enc := transport.NewEncoder()
			enc.WriteUint64(uint64(id))
			enc.WriteString(name)
			if _, err := nf.Write(lengthPrefixed(enc.Bytes())); err != nil {
				return err
			}
		}
		w.pendingNames = make(map[NodeID]string)
	}
	return w.file.Sync()
}

func lengthPrefixed(body []byte) []byte {
	enc := transport.NewEncoder()
	enc.WriteUint32(uint32(len(body)))
	full := enc.Bytes()
	return append(full, body...)
}

// Edges reads every edge committed to this segment so far, for tests and
// for merge-all-segments.
func (w *Writer) Edges() ([]Edge, error) {
	data, err := os.ReadFile(filepath.Join(w.path, edgesFileName))
	if err != nil {
		return nil, err
	}
	var out []Edge
	pos := 0
	for pos < len(data) {
		d := transport.NewDecoder(data[pos:])
		n, err := d.ReadUint32()
		if err != nil {
			return nil, err
		}
		pos += 4
		body := data[pos : pos+int(n)]
		pos += int(n)

		bd := transport.NewDecoder(body)
		src, _ := bd.ReadUint64()
		dst, _ := bd.ReadUint64()
		label, _ := bd.ReadString()
		rel, _ := bd.ReadString()
		out = append(out, Edge{Source: NodeID(src), Destination: NodeID(dst), Label: label, Rel: rel})
	}
	return out, nil
}

// Merge appends another writer's committed edges and node names into w.
func (w *Writer) Merge(other *Writer) error {
	edges, err := other.Edges()
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, name := range other.nodeNames {
		if _, ok := w.nodeNames[id]; !ok {
			w.nodeNames[id] = name
			w.pendingNames[id] = name
		}
	}
	for _, e := range edges {
		if _, err := w.file.Write(edgeBytes(e)); err != nil {
			return err
		}
	}
	return w.commitLocked()
}

func edgeBytes(e Edge) []byte {
	enc := transport.NewEncoder()
	enc.WriteUint64(uint64(e.Source))
	enc.WriteUint64(uint64(e.Destination))
	enc.WriteString(e.Label)
	enc.WriteString(e.Rel)
	return lengthPrefixed(enc.Bytes())
}

// OptimizeForRead rewrites the node-name log deduplicated and sorted by
// NodeID, shrinking a log that accumulated duplicate entries across
// commits.
func (w *Writer) OptimizeForRead() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]NodeID, 0, len(w.nodeNames))
	for id := range w.nodeNames {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	tmp := filepath.Join(w.path, nodesFileName+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	for _, id := range ids {
		enc := transport.NewEncoder()
		enc.WriteUint64(uint64(id))
		enc.WriteString(w.nodeNames[id])
		if _, err := f.Write(lengthPrefixed(enc.Bytes())); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(w.path, nodesFileName))
}

// Finalize commits any pending writes and closes the underlying file.
func (w *Writer) Finalize() error {
	if err := w.Commit(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
