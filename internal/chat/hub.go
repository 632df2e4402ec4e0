package chat

import "sync"

// Hub tracks the live stores of each session so a form post can make every
// open dashboard of that session refresh at once.
type Hub struct {
	mu     sync.RWMutex
	stores map[string]map[*Store]struct{}
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{stores: make(map[string]map[*Store]struct{})}
}

// Register adds a live store for sessionID.
func (h *Hub) Register(sessionID string, s *Store) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.stores[sessionID]
	if !ok {
		set = make(map[*Store]struct{})
		h.stores[sessionID] = set
	}
	set[s] = struct{}{}
}

// Unregister removes a live store.
func (h *Hub) Unregister(sessionID string, s *Store) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.stores[sessionID]
	delete(set, s)
	if len(set) == 0 {
		delete(h.stores, sessionID)
	}
}

// Nudge pokes every live store of sessionID.
func (h *Hub) Nudge(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.stores[sessionID] {
		s.Poke()
	}
	return len(h.stores[sessionID])
}

// Len returns the number of live stores.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.stores {
		n += len(set)
	}
	return n
}
