package shardtable

import (
	"strconv"
	"testing"

	"github.com/learndb/learndb/internal/bucket"
)

func TestPushFindDeleteSize(t *testing.T) {
	tbl := New(8)

	for i := 0; i < 100; i++ {
		k := strconv.Itoa(i)
		outcome, stale := tbl.TryPush(k, bucket.Location{FileID: 1, Offset: uint32(i), Length: 1})
		if stale {
			t.Fatalf("unexpected stale on fresh table")
		}
		if outcome != bucket.Inserted {
			t.Fatalf("push %d: got %v, want Inserted", i, outcome)
		}
	}
	if got := tbl.Size(); got != 100 {
		t.Fatalf("size after 100 inserts: got %d, want 100", got)
	}

	outcome, stale := tbl.TryPush("50", bucket.Location{FileID: 2, Offset: 9, Length: 1})
	if stale || outcome != bucket.Updated {
		t.Fatalf("update: got (%v, %v), want (Updated, false)", outcome, stale)
	}
	if got := tbl.Size(); got != 100 {
		t.Fatalf("size after update: got %d, want 100", got)
	}

	loc, found, stale := tbl.TryFind("50")
	if stale || !found || loc.FileID != 2 {
		t.Fatalf("find 50: got (%v, %v, %v)", loc, found, stale)
	}

	del, stale := tbl.TryDelete("50")
	if stale || del != bucket.Removed {
		t.Fatalf("delete 50: got (%v, %v)", del, stale)
	}
	if got := tbl.Size(); got != 99 {
		t.Fatalf("size after delete: got %d, want 99", got)
	}
	if _, found, _ := tbl.TryFind("50"); found {
		t.Fatalf("50 still found after delete")
	}
}

func TestDrainMarksMovedAndMigrates(t *testing.T) {
	src := New(4)
	dst := New(16)

	for i := 0; i < 40; i++ {
		src.TryPush(strconv.Itoa(i), bucket.Location{FileID: 1, Offset: uint32(i), Length: 1})
	}

	for i := 0; i < 4; i++ {
		src.Shard(i).Drain(func(key string, loc bucket.Location) {
			dst.TryPush(key, loc)
		})
	}

	if got := dst.Size(); got != 40 {
		t.Fatalf("dst size after drain: got %d, want 40", got)
	}
	for i := 0; i < 40; i++ {
		k := strconv.Itoa(i)
		if _, stale := src.TryPush(k, bucket.Location{}); !stale {
			t.Fatalf("shard for key %s not marked stale after drain", k)
		}
	}
}
