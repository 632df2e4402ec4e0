package listing

import (
	"context"
	"sync"
	"time"
)

// Registry keeps one Fetcher per (session, view, tab) so a transient failure on a
// later request can still show the previously loaded items. Views idle for
// longer than the TTL are treated as unmounted: closed and evicted.
type Registry[T any] struct {
	idleTTL time.Duration
	factory func(view string) *Fetcher[T]
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*Fetcher[T]
}

// NewRegistry builds a registry. factory creates the fetcher for a view name.
func NewRegistry[T any](idleTTL time.Duration, factory func(view string) *Fetcher[T]) *Registry[T] {
	if idleTTL <= 0 {
		idleTTL = 15 * time.Minute
	}
	return &Registry[T]{
		idleTTL: idleTTL,
		factory: factory,
		now:     time.Now,
		entries: make(map[string]*Fetcher[T]),
	}
}

// Get returns the fetcher for a session's view in one browser tab, mounting
// it when needed.
func (r *Registry[T]) Get(sessionID, view, tab string) *Fetcher[T] {
	key := sessionID + "|" + view + "|" + tab
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.entries[key]; ok {
		return f
	}
	f := r.factory(view)
	r.entries[key] = f
	return f
}

// Len returns the number of mounted views.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep closes and evicts idle views, returning how many were removed.
func (r *Registry[T]) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, f := range r.entries {
		if f.IdleSince().Before(cutoff) {
			f.Close()
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled, then closes every view.
func (r *Registry[T]) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry[T]) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, f := range r.entries {
		f.Close()
		delete(r.entries, key)
	}
}
