package writeconsumer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/learndb/learndb/internal/bucket"
	"github.com/learndb/learndb/internal/dynindex"
)

func newTestConsumer(t *testing.T, maxFileSize uint32) (*Consumer, *dynindex.Index, string) {
	t.Helper()
	ws := t.TempDir()
	idx := dynindex.New(dynindex.Config{InitialShardCount: 4, CheckInterval: time.Hour})
	t.Cleanup(idx.Close)

	c, err := New(Config{
		Workspace:     ws,
		MaxFileSize:   maxFileSize,
		InitialFileID: 1,
		Index:         idx,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, idx, ws
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestInsertAndUpdateVisibleAfterBatch(t *testing.T) {
	c, idx, _ := newTestConsumer(t, 1<<20)

	if err := c.Submit(context.Background(), NewSimple("k", "v")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool {
		_, ok := idx.Find("k")
		return ok
	})
	if got := idx.Size(); got != 1 {
		t.Fatalf("size: got %d, want 1", got)
	}
	first, _ := idx.Find("k")

	if err := c.Submit(context.Background(), NewSimple("k", "v2")); err != nil {
		t.Fatalf("submit update: %v", err)
	}
	waitFor(t, func() bool {
		loc, ok := idx.Find("k")
		if !ok {
			return false
		}
		return loc != first
	})
	if got := idx.Size(); got != 1 {
		t.Fatalf("size after update: got %d, want 1", got)
	}
}

func TestAcknowledgedWaitsForFsync(t *testing.T) {
	c, idx, _ := newTestConsumer(t, 1<<20)

	ev, ack := NewAcknowledged("k", "v", nil)
	if err := c.Submit(context.Background(), ev); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-ack:
	case <-time.After(2 * time.Second):
		t.Fatalf("ack never fired")
	}
	if _, ok := idx.Find("k"); !ok {
		t.Fatalf("key missing after ack fired")
	}
}

func TestCompareAndSetSkipsOnMismatch(t *testing.T) {
	c, idx, ws := newTestConsumer(t, 1<<20)

	if err := c.Submit(context.Background(), NewSimple("k", "v1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { _, ok := idx.Find("k"); return ok })
	before, _ := idx.Find("k")

	stale := bucket.Location{FileID: 999, Offset: 999, Length: 1}
	done, ack := NewAcknowledged("k", "should-not-apply", &stale)
	if err := c.Submit(context.Background(), done); err != nil {
		t.Fatalf("submit cas: %v", err)
	}

	// The ack still fires: it marks the event as processed, not as applied.
	// Compaction's reclamation barrier depends on exactly this — it gates
	// its own ack on a location that is expected to have gone stale.
	select {
	case <-ack:
	case <-time.After(2 * time.Second):
		t.Fatalf("ack never fired for a skipped compare-and-set write")
	}

	loc, ok := idx.Find("k")
	if !ok {
		t.Fatalf("key disappeared")
	}
	if loc != before {
		t.Fatalf("stale compare-and-set write was applied: loc changed from %+v to %+v", before, loc)
	}
	data, err := os.ReadFile(logName(t, ws, loc.FileID))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("log file unexpectedly empty")
	}
}

func logName(t *testing.T, ws string, id uint32) string {
	t.Helper()
	entries, err := os.ReadDir(ws)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			return ws + "/" + e.Name()
		}
	}
	t.Fatalf("no files in workspace")
	return ""
}
