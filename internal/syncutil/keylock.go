// Package syncutil provides keyed locking with bounded memory.
package syncutil

import (
	"context"
	"hash/fnv"
)

// DefaultShards is the shard count used by NewKeyLock when shards <= 0.
const DefaultShards = 256

// KeyLock serializes work per string key. Keys hash onto a fixed pool of
// channel-based mutexes, so two keys may occasionally share a shard.
// Waiting for a lock honors context cancellation.
type KeyLock struct {
	shards []chan struct{}
}

// NewKeyLock creates a KeyLock with the given number of shards.
func NewKeyLock(shards int) *KeyLock {
	if shards <= 0 {
		shards = DefaultShards
	}
	l := &KeyLock{shards: make([]chan struct{}, shards)}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
		l.shards[i] <- struct{}{}
	}
	return l
}

// Lock blocks until key is free or ctx is done. On success the caller must
// call the returned unlock exactly once.
func (l *KeyLock) Lock(ctx context.Context, key string) (func(), error) {
	ch := l.shard(key)
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires key only if it is free right now.
func (l *KeyLock) TryLock(key string) (func(), bool) {
	ch := l.shard(key)
	select {
	case <-ch:
		return func() { ch <- struct{}{} }, true
	default:
		return nil, false
	}
}

func (l *KeyLock) shard(key string) chan struct{} {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%uint32(len(l.shards))] //nolint:gosec // len > 0
}
