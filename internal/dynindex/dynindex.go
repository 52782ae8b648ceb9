// Package dynindex implements the dynamic index: a shardtable.Table that
// transparently grows into a larger successor table while a background
// rehash migrates entries, without ever blocking a foreground Push/Find/
// Delete. The active/successor-under-one-lock shape, the
// retry-until-success foreground loop, and the worker-count-owns-shards-
// by-modulo migration mirror a dynamic parallel index wrapper built around
// an async RwLock and a periodic rehash task; here that becomes
// sync.RWMutex plus golang.org/x/sync/errgroup for the migration workers,
// and a time.Ticker-driven goroutine for the periodic check, the same way
// other periodic rotation bookkeeping in this codebase is driven.
//
// © 2025 learndb authors. MIT License.
package dynindex

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/learndb/learndb/internal/bucket"
	"github.com/learndb/learndb/internal/metricset"
	"github.com/learndb/learndb/internal/shardtable"
	"go.uber.org/zap"
)

// Config tunes the rehash trigger and schedule. Zero-value fields are
// replaced by sane defaults in New.
type Config struct {
	// InitialShardCount is the shard count of the first active table.
	InitialShardCount uint64
	// FillThreshold is the size/shard_count ratio that triggers a rehash.
	FillThreshold uint64
	// GrowthFactor sets the successor's shard count on each rehash: the
	// active table's live key count times GrowthFactor, capped at 2^32-1.
	// Defaults to x4 as a middle ground between a conservative x2 and an
	// aggressive x8; see DESIGN.md for the reasoning, overridable via Config.
	GrowthFactor uint64
	// CheckInterval controls how often the rehash condition is polled.
	CheckInterval time.Duration
	// WorkerCount bounds the number of concurrent migration workers spawned
	// per rehash round.
	WorkerCount int
	// Logger receives slow-path events (rehash start/finish). Defaults to a
	// no-op logger: the hot path never logs.
	Logger *zap.Logger
	// Metrics receives index size/shard-count/rehash observations. Defaults
	// to a no-op sink.
	Metrics metricset.Sink
}

const maxShardCount = uint64(1<<32 - 1)

func (c *Config) setDefaults() {
	if c.InitialShardCount == 0 {
		c.InitialShardCount = 8
	}
	if c.FillThreshold == 0 {
		c.FillThreshold = 8
	}
	if c.GrowthFactor == 0 {
		c.GrowthFactor = 4
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = 2 * time.Second
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = 8
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metricset.Noop()
	}
}

// Index is the dynamic, rehash-capable index. Exactly one of (active only)
// or (active + successor) holds at any instant; successor is non-nil only
// while a rehash round is migrating shards.
type Index struct {
	mu        sync.RWMutex
	active    *shardtable.Table
	successor *shardtable.Table

	cfg Config

	stop   chan struct{}
	done   chan struct{}
	closed sync.Once
}

// New constructs an Index and starts its background rehash checker.
// Call Close to stop the checker.
func New(cfg Config) *Index {
	cfg.setDefaults()
	idx := &Index{
		active: shardtable.New(cfg.InitialShardCount),
		cfg:    cfg,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go idx.rehashLoop()
	return idx
}

// Close stops the background rehash checker and waits for it to exit. The
// rehash loop checks idx.stop between rounds, not mid-round, so Close
// returns only after any in-flight rehash round has finished.
func (idx *Index) Close() {
	idx.closed.Do(func() {
		close(idx.stop)
	})
	<-idx.done
}

/* -------------------------------------------------------------------------
   Foreground operations — retry across the active/successor membrane
   ------------------------------------------------------------------------- */

// Push inserts or updates key -> loc, retrying until it lands in whichever
// table currently owns that key's shard.
func (idx *Index) Push(key string, loc bucket.Location) {
	for {
		idx.mu.RLock()
		active, successor := idx.active, idx.successor
		_, stale := active.TryPush(key, loc)
		if !stale {
			idx.mu.RUnlock()
			return
		}
		if successor == nil {
			idx.mu.RUnlock()
			continue // rehash just finished; re-read state and retry
		}
		_, stale = successor.TryPush(key, loc)
		idx.mu.RUnlock()
		if !stale {
			return
		}
		// extremely rare: successor drained too mid-promotion; loop.
	}
}

// Find looks up key, falling through to the successor table when the
// active shard has already been drained.
func (idx *Index) Find(key string) (bucket.Location, bool) {
	for {
		idx.mu.RLock()
		active, successor := idx.active, idx.successor
		loc, found, stale := active.TryFind(key)
		if !stale {
			idx.mu.RUnlock()
			return loc, found
		}
		if successor == nil {
			idx.mu.RUnlock()
			continue
		}
		loc, found, stale = successor.TryFind(key)
		idx.mu.RUnlock()
		if !stale {
			return loc, found
		}
	}
}

// Delete removes key, with the same active/successor retry shape as Push.
func (idx *Index) Delete(key string) bucket.Outcome {
	for {
		idx.mu.RLock()
		active, successor := idx.active, idx.successor
		outcome, stale := active.TryDelete(key)
		if !stale {
			idx.mu.RUnlock()
			return outcome
		}
		if successor == nil {
			idx.mu.RUnlock()
			continue
		}
		outcome, stale = successor.TryDelete(key)
		idx.mu.RUnlock()
		if !stale {
			return outcome
		}
	}
}

// Size returns the live key count of the currently active table. During a
// rehash it still counts entries already migrated to the successor (a drain
// does not decrement it) but not inserts or deletes that land in the
// successor, which is acceptable for diagnostics.
func (idx *Index) Size() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.active.Size()
}

// ShardCount returns the shard count of the currently active table.
func (idx *Index) ShardCount() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.active.ShardCount()
}

/* -------------------------------------------------------------------------
   Background rehash
   ------------------------------------------------------------------------- */

func (idx *Index) rehashLoop() {
	defer close(idx.done)
	ticker := time.NewTicker(idx.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-idx.stop:
			return
		case <-ticker.C:
			idx.maybeRehash()
		}
	}
}

// maybeRehash checks the fill ratio and, if it crosses FillThreshold, runs
// one full rehash round synchronously within the ticker goroutine (rehash
// rounds do not overlap).
func (idx *Index) maybeRehash() {
	idx.mu.RLock()
	size := idx.active.Size()
	shardCount := idx.active.ShardCount()
	idx.mu.RUnlock()

	if shardCount == 0 || size/shardCount <= idx.cfg.FillThreshold || size >= maxShardCount {
		return
	}

	newCount := size * idx.cfg.GrowthFactor
	if newCount > maxShardCount {
		newCount = maxShardCount
	}
	idx.cfg.Logger.Info("dynindex: installing successor table",
		zap.Uint64("active_size", size),
		zap.Uint64("active_shards", shardCount),
		zap.Uint64("successor_shards", newCount),
	)

	successor := shardtable.New(newCount)
	idx.mu.Lock()
	idx.successor = successor
	idx.mu.Unlock()
	idx.cfg.Metrics.SetRehashInProgress(true)

	idx.migrate(successor, shardCount)

	idx.mu.Lock()
	idx.active = successor
	idx.successor = nil
	idx.mu.Unlock()

	idx.cfg.Metrics.SetRehashInProgress(false)
	idx.cfg.Metrics.IncRehash()
	idx.cfg.Logger.Info("dynindex: rehash complete",
		zap.Uint64("new_shards", newCount))
}

// migrate spawns WorkerCount workers; worker i drains shards {j : j mod
// WorkerCount == i} of the current active table into successor. Workers are
// joined with an errgroup; they never return an error, so the group only
// waits for all of them to finish.
func (idx *Index) migrate(successor *shardtable.Table, activeShards uint64) {
	workers := idx.cfg.WorkerCount
	if uint64(workers) > activeShards {
		workers = int(activeShards)
	}
	if workers == 0 {
		workers = 1
	}

	idx.mu.RLock()
	active := idx.active
	idx.mu.RUnlock()

	g, _ := errgroup.WithContext(context.Background())
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for j := uint64(w); j < activeShards; j += uint64(workers) {
				active.Shard(int(j)).Drain(func(key string, loc bucket.Location) {
					successor.TryPush(key, loc)
				})
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return an error; Wait only joins them
}
