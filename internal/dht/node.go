package dht

import (
	"fmt"
	"sort"
	"sync"

	"github.com/NEOS-AI/neos/internal/metrics"
	"github.com/NEOS-AI/neos/internal/neoserr"
)

// Role is a node's position in the replicated log: exactly one Leader
// accepts proposals per shard, every other member is a Follower that only
// applies entries the leader has already committed. Leader election is
// not implemented; the bootstrap node is permanently the leader (see
// DESIGN.md).
type Role byte

const (
	RoleLeader Role = iota
	RoleFollower
)

// Member is one entry in a shard's cluster membership list.
type Member struct {
	NodeID uint64
	Addr   string
}

// LogEntry is one committed operation against a named table.
type LogEntry struct {
	Index uint64
	Table string
	Op    logOp
}

type logOpKind byte

const (
	opSet logOpKind = iota
	opUpsert
)

type logOp struct {
	kind   logOpKind
	key    Key
	value  Value
	upsert UpsertKind
}

// Replicator pushes a committed entry out to a follower. Node calls it once
// per known follower when the leader commits; RPCReplicator is the
// transport-backed implementation networked nodes wire in.
type Replicator interface {
	Replicate(addr string, entry LogEntry) error
}

// Node owns one shard replica: its tables, its membership list, and the
// append-only log that keeps replicas consistent.
type Node struct {
	mu      sync.RWMutex
	id      uint64
	addr    string
	shard   uint64
	role    Role
	members []Member
	log     []LogEntry
	tables  *TableSet
	repl    Replicator
	metrics *metrics.Registry
}

// SetMetrics attaches a metrics.Registry that the node reports op counts
// and log length to. Optional: a node with no registry attached simply
// skips the bookkeeping.
func (n *Node) SetMetrics(m *metrics.Registry) { n.metrics = m }

// Bootstrap creates the sole-voter founding node of a new shard cluster.
func Bootstrap(id uint64, addr string, shard uint64, repl Replicator) *Node {
	n := &Node{
		id:     id,
		addr:   addr,
		shard:  shard,
		role:   RoleLeader,
		tables: NewTableSet(),
		repl:   repl,
	}
	n.members = []Member{{NodeID: id, Addr: addr}}
	return n
}

// Join constructs a follower node from a membership list fetched from the
// seed node, rejecting a collision on node id or address.
func Join(id uint64, addr string, shard uint64, seedMembers []Member, repl Replicator) (*Node, error) {
	for _, m := range seedMembers {
		if m.NodeID == id {
			return nil, fmt.Errorf("%w: node id %d already a member", neoserr.ErrAlreadyMember, id)
		}
		if m.Addr == addr {
			return nil, fmt.Errorf("%w: address %s already a member", neoserr.ErrAlreadyMember, addr)
		}
	}
	n := &Node{
		id:     id,
		addr:   addr,
		shard:  shard,
		role:   RoleFollower,
		tables: NewTableSet(),
		repl:   repl,
	}
	n.members = append(append([]Member{}, seedMembers...), Member{NodeID: id, Addr: addr})
	return n, nil
}

func (n *Node) ID() uint64     { return n.id }
func (n *Node) Addr() string   { return n.addr }
func (n *Node) Shard() uint64  { return n.shard }
func (n *Node) Role() Role     { return n.role }

// Members returns the current membership list, sorted by node id.
func (n *Node) Members() []Member {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := append([]Member{}, n.members...)
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// AddMember admits a new follower; only the leader may call this.
func (n *Node) AddMember(m Member) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.role != RoleLeader {
		return fmt.Errorf("%w: only the leader admits members", neoserr.ErrConsensusFatal)
	}
	for _, existing := range n.members {
		if existing.NodeID == m.NodeID || existing.Addr == m.Addr {
			return fmt.Errorf("%w: node id %d or address %s already a member", neoserr.ErrAlreadyMember, m.NodeID, m.Addr)
		}
	}
	n.members = append(n.members, m)
	return nil
}

// Tables exposes the node's local table set for direct (non-replicated)
// reads; gets never go through the log, only mutations do.
func (n *Node) Tables() *TableSet { return n.tables }

// ProposeSet replicates a Set to every follower before applying it
// locally. A follower that cannot be reached does not block commit: the
// log is leader-authoritative rather than quorum-gated (see DESIGN.md).
func (n *Node) ProposeSet(table string, k Key, v Value) error {
	return n.propose(table, logOp{kind: opSet, key: k, value: v})
}

// ProposeUpsert replicates an Upsert the same way ProposeSet replicates a Set.
func (n *Node) ProposeUpsert(table string, fn UpsertKind, k Key, v Value) (UpsertAction, error) {
	if err := n.propose(table, logOp{kind: opUpsert, key: k, value: v, upsert: fn}); err != nil {
		return NoChange, err
	}
	t := n.tables.Get(table)
	action := t.Upsert(fn, k, v)
	n.recordMetrics(table, opUpsert)
	return action, nil
}

func (n *Node) propose(table string, op logOp) error {
	n.mu.Lock()
	if n.role != RoleLeader {
		n.mu.Unlock()
		return fmt.Errorf("%w: node %d is not the shard leader", neoserr.ErrConsensusFatal, n.id)
	}
	entry := LogEntry{Index: uint64(len(n.log)) + 1, Table: table, Op: op}
	n.log = append(n.log, entry)
	followers := make([]Member, 0, len(n.members))
	for _, m := range n.members {
		if m.NodeID != n.id {
			followers = append(followers, m)
		}
	}
	repl := n.repl
	n.mu.Unlock()

	if repl != nil {
		for _, f := range followers {
			_ = repl.Replicate(f.Addr, entry)
		}
	}

	if op.kind == opSet {
		n.tables.Get(table).Set(op.key, op.value)
		n.recordMetrics(table, op.kind)
	}
	return nil
}

func (n *Node) recordMetrics(table string, kind logOpKind) {
	if n.metrics == nil {
		return
	}
	switch kind {
	case opSet:
		n.metrics.DhtOpsTotal.WithLabelValues("set").Inc()
	case opUpsert:
		n.metrics.DhtOpsTotal.WithLabelValues("upsert").Inc()
	}
	n.metrics.DhtLogLength.Set(float64(n.LogLen()))
	n.metrics.DhtTableKeys.WithLabelValues(table).Set(float64(n.tables.Get(table).NumKeys()))
}

// Apply is how a follower catches up: it applies an entry received from the
// leader without re-proposing it.
func (n *Node) Apply(entry LogEntry) {
	n.mu.Lock()
	n.log = append(n.log, entry)
	n.mu.Unlock()

	t := n.tables.Get(entry.Table)
	switch entry.Op.kind {
	case opSet:
		t.Set(entry.Op.key, entry.Op.value)
	case opUpsert:
		t.Upsert(entry.Op.upsert, entry.Op.key, entry.Op.value)
	}
	n.recordMetrics(entry.Table, entry.Op.kind)
}

// LogLen reports how many entries have been applied, used by tests to
// assert replicas converge.
func (n *Node) LogLen() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return uint64(len(n.log))
}
