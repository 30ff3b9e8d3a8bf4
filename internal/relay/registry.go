package relay

import (
	"context"
	"sync"
)

type claim struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
	once   sync.Once
}

// Registry tracks the in-flight session for each key. A new claim on a busy
// key cancels the previous holder with ErrSuperseded and waits until it has
// released before taking over.
type Registry[K comparable] struct {
	mu     sync.Mutex
	active map[K]*claim
}

func NewRegistry[K comparable]() *Registry[K] {
	return &Registry[K]{active: make(map[K]*claim)}
}

// Claim returns a context bound to key and a release func that must be
// called once the work is finished.
func (r *Registry[K]) Claim(ctx context.Context, key K) (context.Context, func(), error) {
	for {
		r.mu.Lock()
		prev, busy := r.active[key]
		if !busy {
			cctx, cancel := context.WithCancelCause(ctx)
			c := &claim{cancel: cancel, done: make(chan struct{})}
			r.active[key] = c
			r.mu.Unlock()
			return cctx, func() { r.release(key, c) }, nil
		}
		r.mu.Unlock()

		prev.cancel(ErrSuperseded)
		select {
		case <-prev.done:
		case <-ctx.Done():
			return nil, nil, context.Cause(ctx)
		}
	}
}

// Active reports how many keys currently hold a claim.
func (r *Registry[K]) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Registry[K]) release(key K, c *claim) {
	c.once.Do(func() {
		r.mu.Lock()
		if r.active[key] == c {
			delete(r.active, key)
		}
		r.mu.Unlock()
		c.cancel(context.Canceled)
		close(c.done)
	})
}
