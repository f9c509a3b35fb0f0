package transport

import (
	"sync"

	"github.com/NEOS-AI/neos/internal/metrics"
)

// Pool is a connection pool keyed by peer address. A checked-out connection
// is owned exclusively by the caller until Put returns it; Put recycles it
// only if it is neither awaiting a response nor closed (pool integrity
// invariant), discarding it otherwise so the next Get dials fresh. A
// connection never back-references its pool; cyclic ownership is avoided by
// handing out scoped acquire/release handles instead (see Get/Put).
type Pool[Req, Resp any] struct {
	mu      sync.Mutex
	idle    map[string][]*Connection[Req, Resp]
	dial    func(addr string) (*Connection[Req, Resp], error)
	metrics *metrics.Registry
}

// NewPool builds a pool that dials new connections via dial when none of
// the idle ones for an address can be recycled.
func NewPool[Req, Resp any](dial func(addr string) (*Connection[Req, Resp], error)) *Pool[Req, Resp] {
	return &Pool[Req, Resp]{idle: make(map[string][]*Connection[Req, Resp]), dial: dial}
}

// SetMetrics attaches a metrics.Registry that Get/Put report dial/recycle/
// discard counts to. Optional: a pool with no registry attached simply
// skips the bookkeeping.
func (p *Pool[Req, Resp]) SetMetrics(m *metrics.Registry) { p.metrics = m }

// Get checks out a connection for addr, recycling an idle one if it is
// still usable, or dialing a fresh one otherwise.
func (p *Pool[Req, Resp]) Get(addr string) (*Connection[Req, Resp], error) {
	p.mu.Lock()
	bucket := p.idle[addr]
	for len(bucket) > 0 {
		conn := bucket[len(bucket)-1]
		bucket = bucket[:len(bucket)-1]
		p.idle[addr] = bucket
		p.mu.Unlock()

		if !conn.AwaitingResponse() && !conn.IsClosed() {
			if p.metrics != nil {
				p.metrics.PoolRecycled.Inc()
			}
			return conn, nil
		}
		// Not recyclable: drop it and try the next idle one, or dial fresh.
		_ = conn.Close()
		if p.metrics != nil {
			p.metrics.PoolDiscarded.Inc()
		}
		p.mu.Lock()
		bucket = p.idle[addr]
	}
	p.mu.Unlock()

	conn, err := p.dial(addr)
	if err == nil && p.metrics != nil {
		p.metrics.PoolDials.Inc()
	}
	return conn, err
}

// Put returns a connection to the pool for addr. The caller must call this
// even on request error so the pool can decide whether to keep or discard
// the connection.
func (p *Pool[Req, Resp]) Put(addr string, conn *Connection[Req, Resp]) {
	if conn.AwaitingResponse() || conn.IsClosed() {
		_ = conn.Close()
		if p.metrics != nil {
			p.metrics.PoolDiscarded.Inc()
		}
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle[addr] = append(p.idle[addr], conn)
}

// CloseAll closes every idle connection held by the pool.
func (p *Pool[Req, Resp]) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, bucket := range p.idle {
		for _, c := range bucket {
			_ = c.Close()
		}
		delete(p.idle, addr)
	}
}
