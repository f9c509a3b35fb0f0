package dht

import (
	"fmt"

	"github.com/NEOS-AI/neos/internal/neoserr"
	"github.com/NEOS-AI/neos/internal/transport"
)

// RPCReplicator pushes committed log entries to followers over the shared
// transport, the Replicator implementation a networked Node wires in. It
// reuses the same Req/Resp service protocol the client speaks, so a
// follower needs no second listener for replication traffic.
type RPCReplicator struct {
	pool *transport.Pool[Req, Resp]
}

// NewRPCReplicator builds a replicator that dials followers through pool.
func NewRPCReplicator(pool *transport.Pool[Req, Resp]) *RPCReplicator {
	return &RPCReplicator{pool: pool}
}

// NewReplicatorPool builds a transport pool speaking the DHT protocol,
// for callers that don't already have one.
func NewReplicatorPool() *transport.Pool[Req, Resp] {
	return transport.NewPool(func(addr string) (*transport.Connection[Req, Resp], error) {
		return transport.Connect(addr, ReqCodec, RespCodec, nil)
	})
}

// Replicate sends one committed entry to the follower at addr.
func (r *RPCReplicator) Replicate(addr string, entry LogEntry) error {
	conn, err := r.pool.Get(addr)
	if err != nil {
		return err
	}
	resp, err := conn.Send(Req{
		Op:         OpApply,
		Table:      entry.Table,
		EntryIndex: entry.Index,
		EntryIsSet: entry.Op.kind == opSet,
		Key:        entry.Op.key,
		Value:      entry.Op.value,
		UpsertFn:   entry.Op.upsert,
	})
	r.pool.Put(addr, conn)
	if err != nil {
		return err
	}
	if resp.Err != "" {
		return fmt.Errorf("dht: replicate to %s: %s", addr, resp.Err)
	}
	return nil
}

var _ Replicator = (*RPCReplicator)(nil)

// JoinViaSeed runs the full join lifecycle against a seed node: fetch the
// seed's current membership, refuse to rejoin on a node-id or address
// collision, build the local follower, then announce the join back to the
// seed so the leader replicates to this node from now on.
func JoinViaSeed(pool *transport.Pool[Req, Resp], seedAddr string, id uint64, addr string, shard uint64) (*Node, error) {
	conn, err := pool.Get(seedAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: seed %s: %v", neoserr.ErrUnavailable, seedAddr, err)
	}
	resp, err := conn.Send(Req{Op: OpMembers})
	pool.Put(seedAddr, conn)
	if err != nil {
		return nil, fmt.Errorf("dht: fetch membership from seed %s: %w", seedAddr, err)
	}
	if resp.Err != "" {
		return nil, fmt.Errorf("dht: fetch membership from seed %s: %s", seedAddr, resp.Err)
	}

	node, err := Join(id, addr, shard, resp.Members, NewRPCReplicator(pool))
	if err != nil {
		return nil, err
	}

	conn, err = pool.Get(seedAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: seed %s: %v", neoserr.ErrUnavailable, seedAddr, err)
	}
	joinResp, err := conn.Send(Req{Op: OpJoin, NodeID: id, Addr: addr})
	pool.Put(seedAddr, conn)
	if err != nil {
		return nil, fmt.Errorf("dht: join via seed %s: %w", seedAddr, err)
	}
	if joinResp.Err != "" {
		return nil, fmt.Errorf("dht: join via seed %s: %s", seedAddr, joinResp.Err)
	}
	return node, nil
}
