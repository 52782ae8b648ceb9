package dynindex

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/learndb/learndb/internal/bucket"
)

func TestPushFindDelete(t *testing.T) {
	idx := New(Config{InitialShardCount: 8, CheckInterval: time.Hour})
	defer idx.Close()

	idx.Push("k", bucket.Location{FileID: 1, Offset: 1, Length: 1})
	loc, ok := idx.Find("k")
	if !ok {
		t.Fatalf("find after push: missing")
	}
	if diff := cmp.Diff(bucket.Location{FileID: 1, Offset: 1, Length: 1}, loc); diff != "" {
		t.Fatalf("find after push: mismatch (-want +got):\n%s", diff)
	}

	idx.Push("k", bucket.Location{FileID: 1, Offset: 2, Length: 1})
	loc, ok = idx.Find("k")
	if !ok {
		t.Fatalf("find after update: missing")
	}
	if diff := cmp.Diff(bucket.Location{FileID: 1, Offset: 2, Length: 1}, loc); diff != "" {
		t.Fatalf("find after update: mismatch (-want +got):\n%s", diff)
	}
	if got := idx.Size(); got != 1 {
		t.Fatalf("size: got %d, want 1", got)
	}

	outcome := idx.Delete("k")
	if outcome != bucket.Removed {
		t.Fatalf("delete: got %v", outcome)
	}
	if _, ok := idx.Find("k"); ok {
		t.Fatalf("found key after delete")
	}
}

func TestRehashGrowsAndPreservesKeys(t *testing.T) {
	idx := New(Config{
		InitialShardCount: 8,
		FillThreshold:     8,
		GrowthFactor:      8,
		CheckInterval:     20 * time.Millisecond,
		WorkerCount:       4,
	})
	defer idx.Close()

	const n = 1024
	for i := 0; i < n; i++ {
		idx.Push(strconv.Itoa(i), bucket.Location{FileID: uint32(i), Offset: uint32(i), Length: uint32(i)})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if idx.ShardCount() >= 64 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := idx.ShardCount(); got < 64 {
		t.Fatalf("shard count after rehash window: got %d, want >= 64", got)
	}

	for i := 0; i < n; i++ {
		loc, ok := idx.Find(strconv.Itoa(i))
		if !ok || loc.FileID != uint32(i) {
			t.Fatalf("key %d missing or wrong after rehash: (%v, %v)", i, loc, ok)
		}
	}
	if got := idx.Size(); got != n {
		t.Fatalf("size after rehash: got %d, want %d", got, n)
	}
}

func TestFindDuringConcurrentPushes(t *testing.T) {
	idx := New(Config{
		InitialShardCount: 8,
		FillThreshold:     8,
		GrowthFactor:      8,
		CheckInterval:     5 * time.Millisecond,
		WorkerCount:       4,
	})
	defer idx.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			idx.Push(strconv.Itoa(i), bucket.Location{FileID: 1, Offset: uint32(i), Length: 1})
		}
		close(done)
	}()

	// Concurrent finds must never panic or deadlock while a rehash may be
	// running; we don't assert hit/miss, only that this terminates.
	for i := 0; i < 2000; i++ {
		idx.Find(strconv.Itoa(i % 100))
	}
	<-done
}
