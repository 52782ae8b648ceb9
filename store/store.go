// Package store ties the dynamic index, write consumer, read path, and
// compactor together behind the manager façade's two core operations:
// submit and find. Open follows a standard constructor shape — validate,
// build defaultOptions, apply each Option, construct, start background tasks —
// adapted from an in-memory cache constructor to a disk-backed
// log-structured store.
//
// © 2025 learndb authors. MIT License.
package store

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/learndb/learndb/internal/bucket"
	"github.com/learndb/learndb/internal/compaction"
	"github.com/learndb/learndb/internal/dynindex"
	"github.com/learndb/learndb/internal/logfile"
	"github.com/learndb/learndb/internal/metricset"
	"github.com/learndb/learndb/internal/readpath"
	"github.com/learndb/learndb/internal/writeconsumer"
)

// Store is the top-level handle to one workspace's key-value data.
type Store struct {
	cfg     Config
	idx     *dynindex.Index
	writer  *writeconsumer.Consumer
	reader  *readpath.Reader
	logger  *zap.Logger
	metrics metricset.Sink

	compactCancel context.CancelFunc
	compactDone   chan struct{}
}

// Open validates cfg, recovers the in-memory index from whatever side-cars
// and log files already exist under cfg.Workspace, and starts the write
// consumer, rehash checker, and compactor. Callers must call Close when
// done.
func Open(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	info, err := os.Stat(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("store: stat workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("store: workspace %q is not a directory", cfg.Workspace)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	metrics := metricset.New(o.registry)

	idx := dynindex.New(dynindex.Config{
		FillThreshold: o.rehashFillFactor,
		GrowthFactor:  o.rehashGrowthFactor,
		CheckInterval: o.rehashInterval,
		Logger:        o.logger,
		Metrics:       metrics,
	})

	if err := compaction.Recover(cfg.Workspace, idx); err != nil {
		idx.Close()
		return nil, fmt.Errorf("store: recovery: %w", err)
	}

	writer, err := writeconsumer.New(writeconsumer.Config{
		Workspace:     cfg.Workspace,
		MaxFileSize:   cfg.MaxFileSize,
		QueueCapacity: o.queueCapacity,
		BatchSize:     o.batchSize,
		IdleSleep:     o.idleSleep,
		InitialFileID: nextWriteFileID(cfg.Workspace),
		Index:         idx,
		Logger:        o.logger,
		Metrics:       metrics,
	})
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("store: start write consumer: %w", err)
	}

	reader := readpath.New(cfg.Workspace)

	s := &Store{
		cfg:         cfg,
		idx:         idx,
		writer:      writer,
		reader:      reader,
		logger:      o.logger,
		metrics:     metrics,
		compactDone: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.compactCancel = cancel

	compactionOpts := []compaction.Option{}
	if o.snapshotStore != nil {
		compactionOpts = append(compactionOpts, compaction.WithSnapshotStore(o.snapshotStore))
	}
	go func() {
		defer close(s.compactDone)
		compaction.Run(ctx, cfg.Workspace, s.submitForCompaction,
			append([]compaction.Option{
				compactionConfigOption(cfg, o, writer, reader, metrics),
			}, compactionOpts...)...)
	}()

	return s, nil
}

// compactionConfigOption bundles the scalar compaction tuning knobs plus the
// callbacks that wire it to the write consumer's current file id and the
// read path's handle cache, in one Option so Open's call site stays compact.
func compactionConfigOption(cfg Config, o *options, writer *writeconsumer.Consumer, reader *readpath.Reader, metrics metricset.Sink) compaction.Option {
	return func(c *compaction.Config) {
		c.Interval = o.compactionInterval
		c.MaxFileNum = cfg.MaxFileNum
		c.AckTimeout = o.ackTimeout
		c.CurrentFileID = writer.CurrentFileID
		c.OnReclaimed = func(fileID uint32) { reader.Evict(fileID) }
		c.Logger = o.logger
		c.Metrics = metrics
	}
}

func (s *Store) submitForCompaction(ctx context.Context, ev writeconsumer.Event) error {
	return s.writer.Submit(ctx, ev)
}

// nextWriteFileID scans ws for existing log files and returns the highest
// file id found, or 1 if the workspace is empty. The write consumer reopens
// that file and continues appending to it (openFile stats its current size
// rather than truncating), so a restart resumes the in-progress file instead
// of sealing it early and rolling a new one.
func nextWriteFileID(ws string) uint32 {
	entries, err := os.ReadDir(ws)
	if err != nil {
		return 1
	}
	var max uint32
	found := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := logfile.ParseFileID(e.Name()); ok {
			if !found || id > max {
				max = id
				found = true
			}
		}
	}
	if !found {
		return 1
	}
	return max
}

// Submit enqueues ev, blocking while the write queue is full. It returns
// storeerr.ErrQueueClosed once Close has been called.
func (s *Store) Submit(ctx context.Context, ev writeconsumer.Event) error {
	return s.writer.Submit(ctx, ev)
}

// Put is a convenience wrapper submitting an unconditional write.
func (s *Store) Put(ctx context.Context, key, value string) error {
	return s.writer.Submit(ctx, writeconsumer.NewSimple(key, value))
}

// PutAcknowledged submits a write and blocks until it has been durably
// appended (or ctx is cancelled).
func (s *Store) PutAcknowledged(ctx context.Context, key, value string) error {
	ev, ack := writeconsumer.NewAcknowledged(key, value, nil)
	if err := s.writer.Submit(ctx, ev); err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Find consults the dynamic index and, on a hit, reads the value back from
// disk. Any I/O error at this boundary — a handle evicted mid-read by a
// concurrent reclamation, a truncated file — is treated as "not found"
// rather than surfaced to the caller.
func (s *Store) Find(key string) (string, bool) {
	loc, ok := s.idx.Find(key)
	if !ok {
		s.metrics.IncFindMiss()
		return "", false
	}
	val, err := s.reader.Read(loc)
	if err != nil {
		s.metrics.IncFindMiss()
		return "", false
	}
	s.metrics.IncFindHit()
	return val, true
}

// Delete removes key from the index. It does not emit a log record: the
// data model carries no tombstone, so the only durable consequence is the
// index update itself — a value already written to disk stays there until
// its file is eventually reclaimed.
func (s *Store) Delete(key string) bucket.Outcome {
	return s.idx.Delete(key)
}

// Close stops the compactor and rehash checker, drains and stops the write
// consumer, and releases cached read handles.
func (s *Store) Close() error {
	s.compactCancel()
	<-s.compactDone
	s.idx.Close()
	if err := s.writer.Close(); err != nil {
		return err
	}
	return s.reader.Close()
}
