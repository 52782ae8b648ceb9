// Package shardtable implements the sharded hash table: a fixed shard count
// array where each shard is a bucket.Bucket guarded by its own
// sync.RWMutex, the same RWMutex-guarded-shard shape used elsewhere in this
// codebase for a map-backed shard, generalized here to guard a
// bucket.Bucket chain instead of a Go map because each shard needs an
// explicit "moved" flag that a bare map cannot carry.
//
// Every exported mutator reports whether the targeted shard had already been
// drained (Stale) during a dynindex rehash; dynindex is the only caller that
// interprets that signal, Table itself does not retry.
//
// © 2025 learndb authors. MIT License.
package shardtable

import (
	"hash/maphash"
	"sync"
	"sync/atomic"

	"github.com/learndb/learndb/internal/bucket"
)

type shard struct {
	mu sync.RWMutex
	b  bucket.Bucket
}

// Table is a fixed-shard hash table. The key k is routed to shard
// hash(k) mod ShardCount(); size is maintained via deltas returned from
// bucket operations (insert +1, update 0, delete -1).
type Table struct {
	shards []shard
	size   atomic.Uint64
	seed   maphash.Seed
}

// New constructs a table with shardCount independently locked empty shards.
// shardCount must be > 0; the dynindex package is responsible for choosing a
// sane value and growth factor.
func New(shardCount uint64) *Table {
	if shardCount == 0 {
		shardCount = 1
	}
	return &Table{
		shards: make([]shard, shardCount),
		seed:   maphash.MakeSeed(),
	}
}

// Hash returns the shard-routing hash of key under this table's own seed.
// Every table gets its own seed in New, so a key routes consistently within
// one table but generally to a different shard index in another table.
func (t *Table) Hash(key string) uint64 {
	var h maphash.Hash
	h.SetSeed(t.seed)
	h.WriteString(key)
	return h.Sum64()
}

func (t *Table) shardFor(key string) *shard {
	idx := t.Hash(key) % uint64(len(t.shards))
	return &t.shards[idx]
}

// TryPush inserts or updates key -> loc in its shard. stale reports whether
// the shard had already been drained by a rehash; when stale is true the
// outcome is meaningless and the caller must retry elsewhere.
func (t *Table) TryPush(key string, loc bucket.Location) (outcome bucket.Outcome, stale bool) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.b.IsMoved() {
		return 0, true
	}
	outcome = s.b.Push(key, loc)
	if outcome == bucket.Inserted {
		t.size.Add(1)
	}
	return outcome, false
}

// TryFind looks up key under a shared lock.
func (t *Table) TryFind(key string) (loc bucket.Location, found, stale bool) {
	s := t.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.b.IsMoved() {
		return bucket.Location{}, false, true
	}
	loc, found = s.b.Find(key)
	return loc, found, false
}

// TryDelete removes key under an exclusive lock.
func (t *Table) TryDelete(key string) (outcome bucket.Outcome, stale bool) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.b.IsMoved() {
		return 0, true
	}
	outcome = s.b.Delete(key)
	if outcome == bucket.Removed {
		t.size.Add(^uint64(0)) // size - 1
	}
	return outcome, false
}

// ShardHandle exposes one shard of the table to the rehash worker so it can
// drain it under its own exclusive lock, one shard at a time, without
// blocking any other shard's foreground traffic.
type ShardHandle struct {
	mu *sync.RWMutex
	b  *bucket.Bucket
}

// Shard returns a handle to the i-th shard.
func (t *Table) Shard(i int) ShardHandle {
	return ShardHandle{mu: &t.shards[i].mu, b: &t.shards[i].b}
}

// Drain locks the shard exclusively and, if it is not already moved, pops
// every node and passes it to push, then marks the shard moved. push is
// typically the successor table's TryPush, hashed under its own shard
// count. Drain returns immediately if the shard was already moved.
func (h ShardHandle) Drain(push func(key string, loc bucket.Location)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.b.IsMoved() {
		return
	}
	for {
		key, loc, ok := h.b.Pop()
		if !ok {
			break
		}
		push(key, loc)
	}
	h.b.MarkMoved()
}

// Size returns the live node count across all shards.
func (t *Table) Size() uint64 { return t.size.Load() }

// ShardCount returns the number of shards in the table.
func (t *Table) ShardCount() uint64 { return uint64(len(t.shards)) }
