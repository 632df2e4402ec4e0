package listing

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"time"
)

var (
	// ErrSuperseded is returned to a fetch whose result was discarded because
	// a newer fetch was triggered for the same view.
	ErrSuperseded = errors.New("listing: fetch superseded by a newer request")
	// ErrClosed is returned after the view was unmounted.
	ErrClosed = errors.New("listing: view closed")
)

// Page is one page of items with its pagination metadata.
type Page[T any] struct {
	Items      []T
	Pagination Pagination
}

// Loader retrieves one page for the given query.
type Loader[T any] func(ctx context.Context, query url.Values) (Page[T], error)

// Snapshot is the observable state of a list view.
type Snapshot[T any] struct {
	Items      []T
	Pagination Pagination
	State      FilterState
	Loading    bool
	Loaded     bool
	Err        error
}

// Fetcher loads pages for one mounted list view. Every Fetch gets a new
// generation and cancels the previous in-flight load; a result is applied
// only when its generation is still the latest, so out-of-order responses
// never overwrite newer ones.
type Fetcher[T any] struct {
	keys    Keys
	limit   int
	load    Loader[T]
	discard func()

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	snap     Snapshot[T]
	closed   bool
	lastUsed time.Time
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*fetcherOptions)

type fetcherOptions struct {
	discard func()
}

// OnDiscard registers a hook called whenever a stale result is dropped.
func OnDiscard(fn func()) FetcherOption {
	return func(o *fetcherOptions) { o.discard = fn }
}

// NewFetcher builds a fetcher requesting limit items per page.
func NewFetcher[T any](keys Keys, limit int, load Loader[T], opts ...FetcherOption) *Fetcher[T] {
	var o fetcherOptions
	for _, opt := range opts {
		opt(&o)
	}
	if limit <= 0 {
		limit = 10
	}
	return &Fetcher[T]{keys: keys, limit: limit, load: load, discard: o.discard, lastUsed: time.Now()}
}

// BuildQuery encodes every non-empty filter plus page and limit.
func BuildQuery(state FilterState, keys Keys, limit int) url.Values {
	values := state.Values(keys)
	if limit > 0 {
		values.Set(ParamLimit, strconv.Itoa(limit))
	}
	return values
}

// Fetch loads the page described by state and blocks until it resolves.
// On success items and pagination are replaced wholesale. On failure the
// previous items stay in place and the error is returned for the caller to
// surface. A superseded call returns the latest snapshot with ErrSuperseded.
func (f *Fetcher[T]) Fetch(ctx context.Context, state FilterState) (Snapshot[T], error) {
	f.mu.Lock()
	if f.closed {
		snap := f.snapshotLocked()
		f.mu.Unlock()
		return snap, ErrClosed
	}
	f.gen++
	gen := f.gen
	if f.cancel != nil {
		f.cancel()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.snap.Loading = true
	f.snap.State = state
	f.lastUsed = time.Now()
	f.mu.Unlock()
	defer cancel()

	page, err := f.load(loadCtx, BuildQuery(state, f.keys, f.limit))

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || gen != f.gen {
		if f.discard != nil {
			f.discard()
		}
		return f.snapshotLocked(), ErrSuperseded
	}
	f.cancel = nil
	f.snap.Loading = false
	if err != nil {
		f.snap.Err = err
		return f.snapshotLocked(), err
	}
	f.snap.Items = page.Items
	f.snap.Pagination = page.Pagination.Normalize()
	f.snap.Err = nil
	f.snap.Loaded = true
	return f.snapshotLocked(), nil
}

// Snapshot returns the current view state.
func (f *Fetcher[T]) Snapshot() Snapshot[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// Close unmounts the view: the in-flight load is cancelled and any result
// arriving later is dropped.
func (f *Fetcher[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
}

// IdleSince reports when the view was last used.
func (f *Fetcher[T]) IdleSince() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastUsed
}

func (f *Fetcher[T]) snapshotLocked() Snapshot[T] {
	snap := f.snap
	snap.Items = append([]T(nil), f.snap.Items...)
	return snap
}
