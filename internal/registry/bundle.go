package registry

import (
	"net"
	"sync"
)

// Publication is one message published by a client, timestamped at
// publication time.
type Publication struct {
	Author    string
	Message   string
	Timestamp int64
}

// Bundle is the per-registered-client record. Key and Name are immutable
// after insertion. The mutable sets and the timeline are guarded by the
// bundle mutex: same-client commands are already serialized by shard
// ownership, but FOLLOW and TIMELINE touch other clients' bundles from
// foreign shards.
type Bundle struct {
	Key  uint64
	Name string
	Conn net.Conn

	mu        sync.Mutex
	followers map[uint64]struct{}
	followed  map[uint64]struct{}
	timeline  []Publication // newest first
}

// NewBundle builds a bundle for a freshly logged-in client. A client
// follows itself from the start so its own publications show up in its
// timeline; it does not count among its own followers.
func NewBundle(key uint64, name string, conn net.Conn) *Bundle {
	return &Bundle{
		Key:       key,
		Name:      name,
		Conn:      conn,
		followers: make(map[uint64]struct{}),
		followed:  map[uint64]struct{}{key: {}},
	}
}

// AddFollower records key as a follower. Idempotent.
func (b *Bundle) AddFollower(key uint64) {
	b.mu.Lock()
	b.followers[key] = struct{}{}
	b.mu.Unlock()
}

// AddFollowed records that this client now follows key. Idempotent.
func (b *Bundle) AddFollowed(key uint64) {
	b.mu.Lock()
	b.followed[key] = struct{}{}
	b.mu.Unlock()
}

// FollowerCount reports how many distinct clients follow this one. The
// implicit self-follow is not counted.
func (b *Bundle) FollowerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.followers)
	if _, ok := b.followers[b.Key]; ok {
		n--
	}
	return n
}

// Followed returns a snapshot of the keys this client follows.
func (b *Bundle) Followed() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]uint64, 0, len(b.followed))
	for k := range b.followed {
		keys = append(keys, k)
	}
	return keys
}

// AddPublication prepends a publication, dropping the oldest once the
// timeline exceeds max entries.
func (b *Bundle) AddPublication(p Publication, max int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeline = append([]Publication{p}, b.timeline...)
	if max > 0 && len(b.timeline) > max {
		b.timeline = b.timeline[:max]
	}
}

// Publications returns a copy of the timeline, newest first.
func (b *Bundle) Publications() []Publication {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Publication, len(b.timeline))
	copy(out, b.timeline)
	return out
}
