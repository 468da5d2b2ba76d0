// Package syncutil provides keyed serialization primitives. The ingestion
// path uses them to run ban-evasion correlation for one device hash at a
// time while still honoring the per-request lookup deadline.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// shardCount bounds lock memory. Device hashes are hex SHA-256 digests, so
// FNV sharding spreads them evenly; 128 shards keeps contention negligible
// at ingestion concurrency while two devices sharing a shard only costs a
// short serialized correlation lookup.
const shardCount = 128

// ContextShardedMutex is a fixed pool of channel-based mutexes keyed by
// string. Unlike sync.Mutex, a waiter can abandon the acquisition when its
// context is cancelled, so a slow correlation never pins request goroutines
// past their deadline.
type ContextShardedMutex struct {
	shards [shardCount]chanMutex
	once   sync.Once
}

// chanMutex is a mutex implemented as a one-slot channel so acquisition can
// be raced against context cancellation in a select.
type chanMutex struct {
	ch chan struct{}
}

// NewContextShardedMutex creates a sharded mutex with all shards unlocked.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i].ch = make(chan struct{}, 1)
			m.shards[i].ch <- struct{}{} // Start unlocked.
		}
	})
}

// LockContext acquires the shard for key, respecting context cancellation.
// On success it returns an unlock function the caller MUST invoke when done.
// On cancellation it returns nil and the context error; the lock is not held.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := &m.shards[m.shardIdx(key)]

	select {
	case <-shard.ch:
		return func() { shard.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *ContextShardedMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
