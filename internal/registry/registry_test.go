package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertLookupRemove(t *testing.T) {
	r := New(8)
	b := NewBundle(42, "alice", nil)

	require.NoError(t, r.Insert(b))
	assert.Equal(t, 1, r.Len())

	got, ok := r.Lookup(42)
	require.True(t, ok)
	assert.Same(t, b, got)
	assert.Equal(t, "alice", got.Name)

	removed, ok := r.Remove(42)
	require.True(t, ok)
	assert.Same(t, b, removed)
	assert.Equal(t, 0, r.Len())

	_, ok = r.Lookup(42)
	assert.False(t, ok)
}

func TestRemoveSucceedsExactlyOnce(t *testing.T) {
	r := New(8)
	require.NoError(t, r.Insert(NewBundle(1, "a", nil)))

	_, ok := r.Remove(1)
	require.True(t, ok)
	_, ok = r.Remove(1)
	assert.False(t, ok)
}

func TestInsertDuplicate(t *testing.T) {
	r := New(8)
	require.NoError(t, r.Insert(NewBundle(7, "first", nil)))
	err := r.Insert(NewBundle(7, "second", nil))
	require.ErrorIs(t, err, ErrDuplicate)

	// The original registration is untouched.
	got, ok := r.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, "first", got.Name)
}

func TestInsertFullAtCapacity(t *testing.T) {
	r := New(2)
	require.NoError(t, r.Insert(NewBundle(1, "a", nil)))
	require.NoError(t, r.Insert(NewBundle(2, "b", nil)))

	err := r.Insert(NewBundle(3, "c", nil))
	require.ErrorIs(t, err, ErrFull)
	assert.Equal(t, 2, r.Len())

	// Login then unregister returns the registry to its prior occupancy,
	// and frees a slot for the next insert.
	_, ok := r.Remove(1)
	require.True(t, ok)
	require.NoError(t, r.Insert(NewBundle(3, "c", nil)))
}

func TestConcurrentLookupsUnaffectedByWriters(t *testing.T) {
	r := New(1024)
	require.NoError(t, r.Insert(NewBundle(99, "stable", nil)))

	var writers, readers sync.WaitGroup
	stop := make(chan struct{})

	// Writers churn unrelated keys.
	for w := 0; w < 4; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := 0; i < 200; i++ {
				key := uint64(1000 + w*1000 + i)
				_ = r.Insert(NewBundle(key, fmt.Sprintf("c%d", key), nil))
				r.Remove(key)
			}
		}(w)
	}

	// Readers must always observe the stable bundle.
	for rd := 0; rd < 8; rd++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				b, ok := r.Lookup(99)
				if !ok || b.Name != "stable" {
					t.Error("lookup of an untouched key was affected by concurrent writers")
					return
				}
			}
		}()
	}

	writers.Wait()
	close(stop)
	readers.Wait()

	assert.Equal(t, 1, r.Len())
}

func TestBundleFollowersIdempotent(t *testing.T) {
	b := NewBundle(1, "alice", nil)
	assert.Equal(t, 0, b.FollowerCount())

	b.AddFollower(2)
	b.AddFollower(2)
	assert.Equal(t, 1, b.FollowerCount())

	// A self-follow never counts.
	b.AddFollower(1)
	assert.Equal(t, 1, b.FollowerCount())
}

func TestBundleSelfFollowedByDefault(t *testing.T) {
	b := NewBundle(5, "alice", nil)
	assert.Equal(t, []uint64{5}, b.Followed())
}

func TestBundleTimelineBounded(t *testing.T) {
	b := NewBundle(1, "alice", nil)
	for i := 0; i < 5; i++ {
		b.AddPublication(Publication{Author: "alice", Message: fmt.Sprintf("m%d", i), Timestamp: int64(i)}, 3)
	}

	pubs := b.Publications()
	require.Len(t, pubs, 3)
	// Newest first, oldest dropped.
	assert.Equal(t, "m4", pubs[0].Message)
	assert.Equal(t, "m2", pubs[2].Message)
}
