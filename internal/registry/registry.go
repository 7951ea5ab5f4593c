// Package registry holds the shared table of registered clients under a
// many-readers/few-writers access pattern. Lookups (timelines, follower
// fan-out) vastly outnumber inserts and removes, so the table sits behind
// a reader-writer lock. Go's sync.RWMutex is writer-preferring: once a
// writer blocks in Lock, new readers queue behind it, which keeps LOGIN
// and UNREGISTER from starving under read-heavy load.
package registry

import "sync"

// Result values are ordinary errors; the registry never panics.
type registryError string

func (e registryError) Error() string { return string(e) }

const (
	// ErrFull is returned by Insert when the registry is at capacity.
	ErrFull = registryError("registry full")
	// ErrDuplicate is returned by Insert when the key is already registered.
	ErrDuplicate = registryError("key already registered")
)

// Registry maps client keys to bundles, capped at a maximum occupancy.
type Registry struct {
	mu      sync.RWMutex
	clients map[uint64]*Bundle
	max     int
}

// New creates a registry accepting at most max clients.
func New(max int) *Registry {
	return &Registry{
		clients: make(map[uint64]*Bundle, max),
		max:     max,
	}
}

// Insert adds a bundle. It fails with ErrFull at capacity and with
// ErrDuplicate when the key is taken; in both cases the table is
// unchanged.
func (r *Registry) Insert(b *Bundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[b.Key]; ok {
		return ErrDuplicate
	}
	if len(r.clients) >= r.max {
		return ErrFull
	}
	r.clients[b.Key] = b
	return nil
}

// Lookup returns the bundle for key. Concurrent lookups proceed in
// parallel and never block each other.
func (r *Registry) Lookup(key uint64) (*Bundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.clients[key]
	return b, ok
}

// Remove deletes and returns the bundle for key. For a given key it
// succeeds exactly once.
func (r *Registry) Remove(key uint64) (*Bundle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.clients[key]
	if !ok {
		return nil, false
	}
	delete(r.clients, key)
	return b, true
}

// Len reports current occupancy.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
