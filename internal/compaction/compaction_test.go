package compaction

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/learndb/learndb/internal/dynindex"
	"github.com/learndb/learndb/internal/logfile"
	"github.com/learndb/learndb/internal/writeconsumer"
)

func newIndex(t *testing.T) *dynindex.Index {
	t.Helper()
	idx := dynindex.New(dynindex.Config{InitialShardCount: 4, CheckInterval: time.Hour})
	t.Cleanup(idx.Close)
	return idx
}

func newConsumer(t *testing.T, ws string, idx *dynindex.Index, fileID uint32) *writeconsumer.Consumer {
	t.Helper()
	c, err := writeconsumer.New(writeconsumer.Config{
		Workspace:     ws,
		MaxFileSize:   1 << 20,
		InitialFileID: fileID,
		Index:         idx,
	})
	if err != nil {
		t.Fatalf("writeconsumer.New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never became true")
}

func TestRecoverRebuildsIndexFromSideCars(t *testing.T) {
	ws := t.TempDir()
	idx := newIndex(t)
	c := newConsumer(t, ws, idx, 1)

	ev1, ack1 := writeconsumer.NewAcknowledged("k", "v1", nil)
	if err := c.Submit(context.Background(), ev1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-ack1
	ev2, ack2 := writeconsumer.NewAcknowledged("k", "v2", nil)
	if err := c.Submit(context.Background(), ev2); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-ack2
	c.Close()

	fresh := newIndex(t)
	require.NoError(t, Recover(ws, fresh))
	loc, ok := fresh.Find("k")
	require.True(t, ok, "key missing after recovery")
	require.EqualValues(t, 1, loc.FileID)

	_, err := os.Stat(logfile.IndexName(ws, 1))
	require.NoError(t, err, "side-car not generated")
}

func TestRecoverRegeneratesMissingSideCar(t *testing.T) {
	ws := t.TempDir()
	idx := newIndex(t)
	c := newConsumer(t, ws, idx, 1)

	ev, ack := writeconsumer.NewAcknowledged("k", "v1", nil)
	if err := c.Submit(context.Background(), ev); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-ack
	c.Close()

	if err := Recover(ws, newIndex(t)); err != nil {
		t.Fatalf("initial Recover: %v", err)
	}
	if err := os.Remove(logfile.IndexName(ws, 1)); err != nil {
		t.Fatalf("remove side-car: %v", err)
	}

	fresh := newIndex(t)
	if err := Recover(ws, fresh); err != nil {
		t.Fatalf("Recover after side-car deletion: %v", err)
	}
	if _, ok := fresh.Find("k"); !ok {
		t.Fatalf("key missing after side-car regeneration")
	}
}

func TestReclaimDropsStaleValuesAndKeepsLive(t *testing.T) {
	ws := t.TempDir()
	idx := newIndex(t)
	c := newConsumer(t, ws, idx, 1)

	ev1, ack1 := writeconsumer.NewAcknowledged("k", "v1", nil)
	if err := c.Submit(context.Background(), ev1); err != nil {
		t.Fatalf("submit v1: %v", err)
	}
	<-ack1

	// Rotate to file 2 by closing and reopening with a fresh consumer.
	c.Close()
	c2 := newConsumer(t, ws, idx, 2)

	ev2, ack2 := writeconsumer.NewAcknowledged("k", "v2", nil)
	if err := c2.Submit(context.Background(), ev2); err != nil {
		t.Fatalf("submit v2: %v", err)
	}
	<-ack2

	cfg := Config{
		CurrentFileID: c2.CurrentFileID,
		MaxFileNum:    1,
	}
	submit := func(ctx context.Context, ev writeconsumer.Event) error {
		return c2.Submit(ctx, ev)
	}

	if err := tick(context.Background(), ws, submit, withDefaults(&cfg)); err != nil {
		t.Fatalf("tick: %v", err)
	}

	waitUntil(t, func() bool {
		_, err := os.Stat(logfile.LogName(ws, 1))
		return os.IsNotExist(err)
	})

	loc, ok := idx.Find("k")
	if !ok || loc.FileID != 2 {
		t.Fatalf("expected live value to have moved to file 2, got loc=%+v ok=%v", loc, ok)
	}
}

func withDefaults(cfg *Config) *Config {
	cfg.setDefaults()
	return cfg
}
