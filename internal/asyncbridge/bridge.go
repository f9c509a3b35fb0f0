// Package asyncbridge lets compute-bound code call blocking network
// operations (DHT, transport) without every caller threading a context
// through goroutines by hand. Go's goroutines make a dedicated runtime
// unnecessary, but callers still want one place that turns "do this and
// wait" into a blocking call with a bounded worker pool so CPU-heavy
// indexing stages don't each spin up unbounded goroutines when they
// cross into the network-facing DHT/transport world.
package asyncbridge

import (
	"context"
	"sync"
)

// Bridge is a gate for entry into the network-facing world from
// synchronous call sites: CPU-bound workers call Run to cross the boundary
// and block until it completes, optionally bounded in concurrency.
type Bridge struct {
	sem chan struct{}
}

var (
	once     sync.Once
	instance *Bridge
)

// Default returns the process-wide bridge, initializing it on first use.
// The default bridge places no bound on how many blocking network
// operations may be in flight at once; New builds a bounded one.
func Default() *Bridge {
	once.Do(func() {
		instance = New(0)
	})
	return instance
}

// New builds a bridge with the given concurrency bound (0 = unbounded).
func New(concurrency int) *Bridge {
	b := &Bridge{}
	if concurrency > 0 {
		b.sem = make(chan struct{}, concurrency)
	}
	return b
}

// Run blocks the calling goroutine until f completes, acquiring a slot in
// the bridge's concurrency bound first if one was configured. f receives a
// background context; cancellation is the caller's responsibility via the
// function itself if it needs one.
func (b *Bridge) Run(f func(ctx context.Context) error) error {
	if b.sem != nil {
		b.sem <- struct{}{}
		defer func() { <-b.sem }()
	}
	return f(context.Background())
}

// BlockOn runs f to completion on the default bridge and returns its
// result.
func BlockOn[T any](f func(ctx context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	runErr := Default().Run(func(ctx context.Context) error {
		result, err = f(ctx)
		return err
	})
	if runErr != nil && err == nil {
		err = runErr
	}
	return result, err
}
