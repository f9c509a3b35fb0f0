// Package dhtclient implements the DHT client: routing a key to its
// owning shard by a stable hash, fanning batch operations out per shard,
// and joining the results back together.
package dhtclient

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"

	"github.com/NEOS-AI/neos/internal/dht"
	"github.com/NEOS-AI/neos/internal/neoserr"
	"github.com/NEOS-AI/neos/internal/streaming"
	"github.com/NEOS-AI/neos/internal/transport"
)

// Node is a remote proxy for one DHT replica, backed by a pooled transport
// connection. It carries no state of its own beyond the peer address and
// the shared pool: connections are dialed from that address on demand.
type Node struct {
	addr string
	pool *transport.Pool[dht.Req, dht.Resp]
}

// NewNode builds a Node that dials addr on demand through pool.
func NewNode(addr string, pool *transport.Pool[dht.Req, dht.Resp]) *Node {
	return &Node{addr: addr, pool: pool}
}

// Addr returns the peer address this Node proxies requests to.
func (n *Node) Addr() string { return n.addr }

func (n *Node) roundTrip(req dht.Req) (dht.Resp, error) {
	conn, err := n.pool.Get(n.addr)
	if err != nil {
		return dht.Resp{}, err
	}
	resp, err := conn.Send(req)
	n.pool.Put(n.addr, conn)
	if err != nil {
		return dht.Resp{}, err
	}
	if resp.Err != "" {
		return dht.Resp{}, fmt.Errorf("dht: %s", resp.Err)
	}
	return resp, nil
}

func (n *Node) Get(table string, key dht.Key) (dht.Value, bool, error) {
	resp, err := n.roundTrip(dht.Req{Op: dht.OpGet, Table: table, Key: key})
	if err != nil {
		return dht.Value{}, false, err
	}
	return resp.Value, resp.Found, nil
}

func (n *Node) BatchGet(table string, keys []dht.Key) ([]dht.KVPair, error) {
	resp, err := n.roundTrip(dht.Req{Op: dht.OpBatchGet, Table: table, Keys: keys})
	if err != nil {
		return nil, err
	}
	return resp.Pairs, nil
}

func (n *Node) Set(table string, key dht.Key, value dht.Value) error {
	_, err := n.roundTrip(dht.Req{Op: dht.OpSet, Table: table, Key: key, Value: value})
	return err
}

func (n *Node) BatchSet(table string, pairs []dht.KVPair) error {
	_, err := n.roundTrip(dht.Req{Op: dht.OpBatchSet, Table: table, Pairs: pairs})
	return err
}

func (n *Node) Upsert(table string, fn dht.UpsertKind, key dht.Key, value dht.Value) (dht.UpsertAction, error) {
	resp, err := n.roundTrip(dht.Req{Op: dht.OpUpsert, Table: table, Key: key, Value: value, UpsertFn: fn})
	if err != nil {
		return dht.NoChange, err
	}
	return resp.Action, nil
}

func (n *Node) BatchUpsert(table string, fn dht.UpsertKind, pairs []dht.KVPair) ([]dht.UpsertResult, error) {
	resp, err := n.roundTrip(dht.Req{Op: dht.OpBatchUpsert, Table: table, Pairs: pairs, UpsertFn: fn})
	if err != nil {
		return nil, err
	}
	return resp.Actions, nil
}

func (n *Node) NumKeys(table string) (uint64, error) {
	resp, err := n.roundTrip(dht.Req{Op: dht.OpNumKeys, Table: table})
	if err != nil {
		return 0, err
	}
	return resp.Num, nil
}

func (n *Node) RangeGet(table string, rng dht.Range, limit int) ([]dht.KVPair, error) {
	resp, err := n.roundTrip(dht.Req{Op: dht.OpRangeGet, Table: table, Range: rng, Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp.Pairs, nil
}

func (n *Node) DropTable(table string) error {
	_, err := n.roundTrip(dht.Req{Op: dht.OpDropTable, Table: table})
	return err
}

func (n *Node) CreateTable(table string) error {
	_, err := n.roundTrip(dht.Req{Op: dht.OpCreateTable, Table: table})
	return err
}

func (n *Node) AllTables() ([]string, error) {
	resp, err := n.roundTrip(dht.Req{Op: dht.OpAllTables})
	if err != nil {
		return nil, err
	}
	return resp.Tables, nil
}

func (n *Node) CloneTable(src, dst string) error {
	_, err := n.roundTrip(dht.Req{Op: dht.OpCloneTable, Table: src, DstTable: dst})
	return err
}

// streamBatchSize is the page size the client requests while draining a
// server-side range cursor.
const streamBatchSize = 1024

// rangeSource is the streaming.Source backing a per-replica table cursor:
// each NextBatch re-queries with Excluded(last_key)..Unbounded until the
// server hands back an empty page.
type rangeSource struct {
	node  *Node
	table string
	lo    dht.Bound
}

func (s *rangeSource) NextBatch(ctx context.Context) ([]dht.KVPair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch, err := s.node.RangeGet(s.table, dht.Range{Lo: s.lo, Hi: dht.Unb()}, streamBatchSize)
	if err != nil {
		return nil, err
	}
	if len(batch) > 0 {
		s.lo = dht.Excl(batch[len(batch)-1].Key)
	}
	return batch, nil
}

// Stream lazily pages through every pair in table on this replica,
// starting at the lexicographically smallest key.
func (n *Node) Stream(ctx context.Context, table string) *streaming.Stream[dht.KVPair] {
	src := &rangeSource{node: n, table: table, lo: dht.Unb()}
	return streaming.New[dht.KVPair](ctx, src, streamBatchSize)
}

// Shard is an ordered set of replica addresses for one ShardId; any replica
// may serve a request (reads are replica-agnostic, writes are forwarded to
// whichever replica the caller picked and applied through its log).
type Shard struct {
	mu    sync.RWMutex
	nodes []*Node
	next  int
}

// NewShard builds an empty shard.
func NewShard() *Shard { return &Shard{} }

// AddNode appends a replica to the shard.
func (s *Shard) AddNode(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = append(s.nodes, n)
}

// Node picks a replica via round-robin; the specific replica chosen within
// a shard has no bearing on routing.
func (s *Shard) Node() (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.nodes) == 0 {
		return nil, fmt.Errorf("%w: shard has no replicas", neoserr.ErrUnavailable)
	}
	n := s.nodes[s.next%len(s.nodes)]
	s.next++
	return n, nil
}

// Client routes keys to shards and fans batch operations out across them.
// The ordered ShardId list is always the sorted keys of the shard map,
// rebuilt atomically whenever a node is added.
type Client struct {
	mu     sync.RWMutex
	ids    []uint64
	shards map[uint64]*Shard
	pool   *transport.Pool[dht.Req, dht.Resp]
}

// New builds a Client with no shards; use AddNode to populate it.
func New(dialTimeout time.Duration) *Client {
	dial := func(addr string) (*transport.Connection[dht.Req, dht.Resp], error) {
		if dialTimeout > 0 {
			return transport.ConnectWithTimeout(addr, dht.ReqCodec, dht.RespCodec, dialTimeout)
		}
		return transport.Connect(addr, dht.ReqCodec, dht.RespCodec, nil)
	}
	return &Client{shards: make(map[uint64]*Shard), pool: transport.NewPool(dial)}
}

// AddNode registers addr as a replica of shardID, updating the sorted
// ShardId ordering atomically.
func (c *Client) AddNode(shardID uint64, addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.shards[shardID]
	if !ok {
		s = NewShard()
		c.shards[shardID] = s
	}
	s.AddNode(NewNode(addr, c.pool))
	c.rebuildIDsLocked()
}

func (c *Client) rebuildIDsLocked() {
	ids := make([]uint64, 0, len(c.shards))
	for id := range c.shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	c.ids = ids
}

// ShardIDs returns the sorted list of known shard ids.
func (c *Client) ShardIDs() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uint64, len(c.ids))
	copy(out, c.ids)
	return out
}

// shardForKey routes key to its owning shard: stable_hash64(canonical
// bytes) mod |shards|, indexing the sorted ShardId slice.
func (c *Client) shardForKey(key dht.Key) (*Shard, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.ids) == 0 {
		return nil, neoserr.ErrNoShards
	}
	hash := murmur3.Sum64(key.CanonicalBytes())
	id := c.ids[hash%uint64(len(c.ids))]
	return c.shards[id], nil
}

func (c *Client) shardsSnapshot() []*Shard {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Shard, 0, len(c.shards))
	for _, s := range c.shards {
		out = append(out, s)
	}
	return out
}

// Get routes key to its shard and fetches the value from one replica.
func (c *Client) Get(table string, key dht.Key) (dht.Value, bool, error) {
	shard, err := c.shardForKey(key)
	if err != nil {
		return dht.Value{}, false, err
	}
	node, err := shard.Node()
	if err != nil {
		return dht.Value{}, false, err
	}
	return node.Get(table, key)
}

// Set routes key to its shard and applies the write there.
func (c *Client) Set(table string, key dht.Key, value dht.Value) error {
	shard, err := c.shardForKey(key)
	if err != nil {
		return err
	}
	node, err := shard.Node()
	if err != nil {
		return err
	}
	return node.Set(table, key, value)
}

// Upsert routes key to its shard and applies fn there.
func (c *Client) Upsert(table string, fn dht.UpsertKind, key dht.Key, value dht.Value) (dht.UpsertAction, error) {
	shard, err := c.shardForKey(key)
	if err != nil {
		return dht.NoChange, err
	}
	node, err := shard.Node()
	if err != nil {
		return dht.NoChange, err
	}
	return node.Upsert(table, fn, key, value)
}

func (c *Client) groupByShard(keys []dht.Key) (map[uint64][]dht.Key, error) {
	groups := make(map[uint64][]dht.Key)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.ids) == 0 {
		return nil, neoserr.ErrNoShards
	}
	for _, k := range keys {
		hash := murmur3.Sum64(k.CanonicalBytes())
		id := c.ids[hash%uint64(len(c.ids))]
		groups[id] = append(groups[id], k)
	}
	return groups, nil
}

// BatchGet groups keys by target shard, dispatches each group in parallel,
// and flattens the results. bestEffort controls whether a per-shard error
// aborts the whole call; when true, a failing shard's keys are simply
// omitted from the result instead.
func (c *Client) BatchGet(table string, keys []dht.Key, bestEffort bool) ([]dht.KVPair, error) {
	groups, err := c.groupByShard(keys)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var out []dht.KVPair
	g, _ := errgroup.WithContext(context.Background())
	for id, ks := range groups {
		id, ks := id, ks
		g.Go(func() error {
			shard := c.shards[id]
			node, err := shard.Node()
			if err != nil {
				if bestEffort {
					return nil
				}
				return err
			}
			pairs, err := node.BatchGet(table, ks)
			if err != nil {
				if bestEffort {
					return nil
				}
				return err
			}
			mu.Lock()
			out = append(out, pairs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) groupPairsByShard(pairs []dht.KVPair) (map[uint64][]dht.KVPair, error) {
	groups := make(map[uint64][]dht.KVPair)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.ids) == 0 {
		return nil, neoserr.ErrNoShards
	}
	for _, p := range pairs {
		hash := murmur3.Sum64(p.Key.CanonicalBytes())
		id := c.ids[hash%uint64(len(c.ids))]
		groups[id] = append(groups[id], p)
	}
	return groups, nil
}

// BatchSet groups pairs by target shard and dispatches each group in
// parallel; any shard-level error aborts the whole fan-out.
func (c *Client) BatchSet(table string, pairs []dht.KVPair) error {
	groups, err := c.groupPairsByShard(pairs)
	if err != nil {
		return err
	}
	g, _ := errgroup.WithContext(context.Background())
	for id, ps := range groups {
		id, ps := id, ps
		g.Go(func() error {
			node, err := c.shards[id].Node()
			if err != nil {
				return err
			}
			return node.BatchSet(table, ps)
		})
	}
	return g.Wait()
}

// BatchUpsert groups pairs by target shard, applies fn on each shard in
// parallel, and flattens the (key, action) results, asserting the same
// multiplicity and key-set as the request.
func (c *Client) BatchUpsert(table string, fn dht.UpsertKind, pairs []dht.KVPair) ([]dht.UpsertResult, error) {
	groups, err := c.groupPairsByShard(pairs)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var out []dht.UpsertResult
	g, _ := errgroup.WithContext(context.Background())
	for id, ps := range groups {
		id, ps := id, ps
		g.Go(func() error {
			node, err := c.shards[id].Node()
			if err != nil {
				return err
			}
			actions, err := node.BatchUpsert(table, fn, ps)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, actions...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(out) != len(pairs) {
		return nil, fmt.Errorf("dht: batch_upsert returned %d results for %d inputs", len(out), len(pairs))
	}
	counts := make(map[string]int, len(pairs))
	for _, p := range pairs {
		counts[string(p.Key.CanonicalBytes())]++
	}
	for _, r := range out {
		k := string(r.Key.CanonicalBytes())
		if counts[k] == 0 {
			return nil, fmt.Errorf("dht: batch_upsert returned a key not in the request: %x", r.Key.CanonicalBytes())
		}
		counts[k]--
	}
	return out, nil
}

// NumKeys sums num_keys across every shard.
func (c *Client) NumKeys(table string) (uint64, error) {
	var total uint64
	for _, shard := range c.shardsSnapshot() {
		node, err := shard.Node()
		if err != nil {
			return 0, err
		}
		n, err := node.NumKeys(table)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// eachReplica runs fn against every replica of every shard, collecting the
// addresses of any that fail rather than aborting on the first one, so
// drop_table/create_table/clone_table can report a partial failure.
func (c *Client) eachReplica(fn func(*Node) error) []string {
	var mu sync.Mutex
	var failed []string
	var wg sync.WaitGroup
	for _, shard := range c.shardsSnapshot() {
		shard.mu.RLock()
		nodes := append([]*Node{}, shard.nodes...)
		shard.mu.RUnlock()
		for _, n := range nodes {
			n := n
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := fn(n); err != nil {
					mu.Lock()
					failed = append(failed, n.Addr())
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()
	return failed
}

// PartialFailureError reports that an all-replicas operation did not
// succeed everywhere, naming the addresses that failed.
type PartialFailureError struct {
	Op      string
	Failed  []string
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("dht: %s failed on %d replica(s): %v", e.Op, len(e.Failed), e.Failed)
}

// DropTable must succeed on every replica of every shard or reports a
// PartialFailureError naming the replicas that failed.
func (c *Client) DropTable(table string) error {
	if failed := c.eachReplica(func(n *Node) error { return n.DropTable(table) }); len(failed) > 0 {
		return &PartialFailureError{Op: "drop_table", Failed: failed}
	}
	return nil
}

// CreateTable must succeed on every replica of every shard.
func (c *Client) CreateTable(table string) error {
	if failed := c.eachReplica(func(n *Node) error { return n.CreateTable(table) }); len(failed) > 0 {
		return &PartialFailureError{Op: "create_table", Failed: failed}
	}
	return nil
}

// CloneTable must succeed on every replica of every shard.
func (c *Client) CloneTable(src, dst string) error {
	if failed := c.eachReplica(func(n *Node) error { return n.CloneTable(src, dst) }); len(failed) > 0 {
		return &PartialFailureError{Op: "clone_table", Failed: failed}
	}
	return nil
}

// AllTables unions table names across every replica of every shard,
// sorted and deduplicated.
func (c *Client) AllTables() ([]string, error) {
	var mu sync.Mutex
	seen := make(map[string]struct{})
	g, _ := errgroup.WithContext(context.Background())
	for _, shard := range c.shardsSnapshot() {
		shard.mu.RLock()
		nodes := append([]*Node{}, shard.nodes...)
		shard.mu.RUnlock()
		for _, n := range nodes {
			n := n
			g.Go(func() error {
				tables, err := n.AllTables()
				if err != nil {
					return err
				}
				mu.Lock()
				for _, t := range tables {
					seen[t] = struct{}{}
				}
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// Stream merges per-shard cursors into a single channel; order across
// shards is arbitrary.
func (c *Client) Stream(ctx context.Context, table string) (<-chan dht.KVPair, <-chan error) {
	out := make(chan dht.KVPair)
	errc := make(chan error, 1)

	shards := c.shardsSnapshot()
	var wg sync.WaitGroup
	for _, shard := range shards {
		shard.mu.RLock()
		nodes := append([]*Node{}, shard.nodes...)
		shard.mu.RUnlock()
		if len(nodes) == 0 {
			continue
		}
		node := nodes[0]
		wg.Add(1)
		go func(n *Node) {
			defer wg.Done()
			st := n.Stream(ctx, table)
			for {
				kv, ok := st.Next()
				if !ok {
					if err := st.Err(); err != nil {
						select {
						case errc <- err:
						default:
						}
					}
					return
				}
				select {
				case out <- kv:
				case <-ctx.Done():
					return
				}
			}
		}(node)
	}

	go func() {
		wg.Wait()
		close(out)
		close(errc)
	}()

	return out, errc
}
