// Package compaction implements cold-start recovery and the steady-state
// compaction loop: generating missing side-car indexes and reclaiming the
// oldest log files by re-publishing their live entries. Recovery runs once
// at startup: it ensures every side-car exists, then loads them into the
// index. Steady-state compaction has a two-phase shape — "ensure
// side-cars, then reclaim while over budget" — run from a
// time.Ticker-driven goroutine, the same periodic-task shape used
// elsewhere in this codebase for background rotation bookkeeping.
//
// Side-car generation uses github.com/natefinch/atomic for its
// tmp-file-then-rename step rather than a bare os.Rename, for the same
// crash-safety reason a WAL segment writer would avoid a non-atomic
// rename.
//
// © 2025 learndb authors. MIT License.
package compaction

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	atomicfile "github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/dgraph-io/badger/v4"

	"github.com/learndb/learndb/internal/bucket"
	"github.com/learndb/learndb/internal/dynindex"
	"github.com/learndb/learndb/internal/logfile"
	"github.com/learndb/learndb/internal/metricset"
	"github.com/learndb/learndb/internal/storeerr"
	"github.com/learndb/learndb/internal/writeconsumer"
)

// Submitter is satisfied by writeconsumer.Consumer.Submit.
type Submitter func(ctx context.Context, ev writeconsumer.Event) error

// Config tunes the steady-state compaction loop.
type Config struct {
	// Interval controls how often the compactor checks for missing
	// side-cars and file-count overflow.
	Interval time.Duration
	// MaxFileNum is the sealed-plus-active file count above which the
	// oldest sealed file is reclaimed.
	MaxFileNum int
	// CurrentFileID reports the write consumer's active file id, which is
	// always excluded from side-car generation and reclamation.
	CurrentFileID func() uint32
	// OnReclaimed, if set, is called after a file and its side-car have
	// been deleted, so callers (the read path's handle cache) can drop any
	// stale open handle for that file id.
	OnReclaimed func(fileID uint32)
	// AckTimeout bounds how long reclamation waits for the write
	// consumer to acknowledge the barrier event of one file's reclamation.
	AckTimeout time.Duration

	Logger  *zap.Logger
	Metrics metricset.Sink

	snapshot *badger.DB
}

// Option configures optional compaction extensions.
type Option func(*Config)

// WithSnapshotStore mirrors (key, Location) pairs into db after every
// reclamation pass, as a pure side-channel warm-start accelerator: db is
// never consulted by Find, only written to, and Recover never reads from it.
// A crash before db catches up simply means a slower cold start, recovered
// fully from side-cars as usual.
func WithSnapshotStore(db *badger.DB) Option {
	return func(c *Config) { c.snapshot = db }
}

func (c *Config) setDefaults() {
	if c.Interval == 0 {
		c.Interval = 10 * time.Second
	}
	if c.MaxFileNum == 0 {
		c.MaxFileNum = 10
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metricset.Noop()
	}
}

/* -------------------------------------------------------------------------
   Recovery
   ------------------------------------------------------------------------- */

// Recover rebuilds idx from the side-car indexes under ws, generating any
// that are missing or corrupt. Log files are processed in ascending file_id
// order, so the newest value for a duplicated key wins.
func Recover(ws string, idx *dynindex.Index) error {
	ids, err := listLogFileIDs(ws)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := ensureSideCar(ws, id); err != nil {
			return fmt.Errorf("recover: side-car for file %d: %w", id, err)
		}
		if err := loadSideCar(ws, id, idx); err != nil {
			return fmt.Errorf("recover: load side-car for file %d: %w", id, err)
		}
	}
	return nil
}

func listLogFileIDs(ws string) ([]uint32, error) {
	entries, err := os.ReadDir(ws)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.KindIO, "read workspace directory", err)
	}
	var ids []uint32
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := logfile.ParseFileID(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ensureSideCar generates the side-car index for fileID if it is missing or
// fails to parse cleanly, by scanning the log file in full.
func ensureSideCar(ws string, fileID uint32) error {
	indexPath := logfile.IndexName(ws, fileID)
	if ok, err := sideCarIsValid(indexPath); err == nil && ok {
		return nil
	}
	return generateSideCar(ws, fileID)
}

func sideCarIsValid(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()
	for {
		if _, _, err := logfile.ReadIndexEntry(f); err != nil {
			if err == io.EOF {
				return true, nil
			}
			return false, err
		}
	}
}

func generateSideCar(ws string, fileID uint32) error {
	logPath := logfile.LogName(ws, fileID)
	src, err := os.Open(logPath)
	if err != nil {
		return storeerr.Wrap(storeerr.KindIO, "open log file to generate side-car", err)
	}
	defer src.Close()

	tmpPath := logfile.TmpIndexName(ws, fileID)
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return storeerr.Wrap(storeerr.KindIO, "create temp side-car", err)
	}

	var offset uint32
	for {
		frameLen, rec, err := logfile.ReadRecord(src)
		if err == io.EOF {
			break
		}
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return storeerr.Wrap(storeerr.KindDecode, "scan log file for side-car", err)
		}
		if err := logfile.WriteIndexEntry(tmp, rec.Key, offset); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		offset += frameLen
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return storeerr.Wrap(storeerr.KindIO, "fsync temp side-car", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return storeerr.Wrap(storeerr.KindIO, "close temp side-car", err)
	}
	if err := atomicfile.ReplaceFile(tmpPath, logfile.IndexName(ws, fileID)); err != nil {
		os.Remove(tmpPath)
		return storeerr.Wrap(storeerr.KindIO, "rename temp side-car into place", err)
	}
	return nil
}

func loadSideCar(ws string, fileID uint32, idx *dynindex.Index) error {
	path := logfile.IndexName(ws, fileID)
	sc, err := os.Open(path)
	if err != nil {
		return storeerr.Wrap(storeerr.KindIO, "open side-car", err)
	}
	defer sc.Close()

	logPath := logfile.LogName(ws, fileID)
	lf, err := os.Open(logPath)
	if err != nil {
		return storeerr.Wrap(storeerr.KindIO, "open log file to resolve frame lengths", err)
	}
	defer lf.Close()

	for {
		key, offset, err := logfile.ReadIndexEntry(sc)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		length, err := logfile.FrameLength(lf, offset)
		if err != nil {
			return err
		}
		idx.Push(key, bucket.Location{FileID: fileID, Offset: offset, Length: length})
	}
}

/* -------------------------------------------------------------------------
   Steady-state compaction
   ------------------------------------------------------------------------- */

// Run drives the periodic compaction loop until ctx is cancelled.
func Run(ctx context.Context, ws string, submit Submitter, opts ...Option) error {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.setDefaults()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := tick(ctx, ws, submit, &cfg); err != nil {
				cfg.Logger.Warn("compaction: tick failed, retrying next interval", zap.Error(err))
			}
		}
	}
}

func tick(ctx context.Context, ws string, submit Submitter, cfg *Config) error {
	ids, err := listLogFileIDs(ws)
	if err != nil {
		return err
	}

	var current uint32
	if cfg.CurrentFileID != nil {
		current = cfg.CurrentFileID()
	}
	sealed := ids[:0:0]
	for _, id := range ids {
		if id != current {
			sealed = append(sealed, id)
		}
	}

	for _, id := range sealed {
		if err := ensureSideCar(ws, id); err != nil {
			cfg.Logger.Warn("compaction: side-car generation failed", zap.Uint32("file_id", id), zap.Error(err))
		}
	}

	for len(sealed) > 0 && len(ids) > cfg.MaxFileNum {
		oldest := sealed[0]
		if err := reclaim(ctx, ws, oldest, submit, cfg); err != nil {
			return fmt.Errorf("reclaim file %d: %w", oldest, err)
		}
		sealed = sealed[1:]
		ids = ids[1:]
	}
	return nil
}

// pendingRecord is one record read back out of a file being reclaimed.
type pendingRecord struct {
	key, value string
	loc        bucket.Location
}

// reclaim re-ingests every record of file fileID as a compare-and-set event
// gated on its own original location, so only records still live in the
// index survive the move; the last record is submitted Acknowledged, still
// gated on that same original location, so the caller can wait for the
// write consumer to finish processing everything emitted before deleting
// the source file. The ack fires whether or not that final guard still
// matches — writeconsumer.Consumer decouples "processed" from "applied" for
// exactly this reason, since the last record is as likely as any other to
// have gone stale by the time reclamation reaches it.
func reclaim(ctx context.Context, ws string, fileID uint32, submit Submitter, cfg *Config) error {
	path := logfile.LogName(ws, fileID)
	f, err := os.Open(path)
	if err != nil {
		return storeerr.Wrap(storeerr.KindIO, "open oldest log file for reclamation", err)
	}
	defer f.Close()

	var records []pendingRecord
	var offset uint32
	for {
		frameLen, rec, err := logfile.ReadRecord(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			return storeerr.Wrap(storeerr.KindDecode, "scan oldest log file", err)
		}
		records = append(records, pendingRecord{
			key: rec.Key, value: rec.Value,
			loc: bucket.Location{FileID: fileID, Offset: offset, Length: frameLen},
		})
		offset += frameLen
	}

	if len(records) == 0 {
		return removeFile(ws, fileID, cfg)
	}

	var ack <-chan struct{}
	for i, rec := range records {
		loc := rec.loc
		if i < len(records)-1 {
			if err := submit(ctx, writeconsumer.NewCompareAndSet(rec.key, rec.value, loc)); err != nil {
				return err
			}
			continue
		}
		var ev writeconsumer.Event
		ev, ack = writeconsumer.NewAcknowledged(rec.key, rec.value, &loc)
		if err := submit(ctx, ev); err != nil {
			return err
		}
	}

	timeout := time.NewTimer(cfg.AckTimeout)
	defer timeout.Stop()
	select {
	case <-ack:
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return storeerr.New(storeerr.KindIO, "timed out waiting for reclamation barrier ack")
	}

	if cfg.snapshot != nil {
		mirrorSnapshot(cfg, records)
	}

	return removeFile(ws, fileID, cfg)
}

func removeFile(ws string, fileID uint32, cfg *Config) error {
	if err := os.Remove(logfile.LogName(ws, fileID)); err != nil && !os.IsNotExist(err) {
		return storeerr.Wrap(storeerr.KindIO, "remove reclaimed log file", err)
	}
	if err := os.Remove(logfile.IndexName(ws, fileID)); err != nil && !os.IsNotExist(err) {
		return storeerr.Wrap(storeerr.KindIO, "remove reclaimed side-car", err)
	}
	cfg.Metrics.IncCompaction()
	cfg.Logger.Info("compaction: reclaimed log file", zap.Uint32("file_id", fileID))
	if cfg.OnReclaimed != nil {
		cfg.OnReclaimed(fileID)
	}
	return nil
}

// mirrorSnapshot writes every (key, location) pair read from the reclaimed
// file, at its original location in that file and whether or not the
// write consumer re-appended it, into the optional warm-start store. It is a
// best-effort mirror: any error is logged and otherwise ignored, since the
// in-memory index remains the single source of truth.
func mirrorSnapshot(cfg *Config, records []pendingRecord) {
	err := cfg.snapshot.Update(func(txn *badger.Txn) error {
		for _, rec := range records {
			val := fmt.Sprintf("%d:%d:%d", rec.loc.FileID, rec.loc.Offset, rec.loc.Length)
			if err := txn.Set([]byte(rec.key), []byte(val)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		cfg.Logger.Warn("compaction: snapshot mirror failed", zap.Error(err))
	}
}
