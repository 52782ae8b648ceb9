// Package writeconsumer implements the single-writer, batching consumer:
// it owns the current log file, drains a bounded queue of write events,
// batches them, rotates at a size threshold, applies compare-and-set
// semantics, and fires acknowledgements once a batch is durable.
//
// A bounded Go channel plus a close-guarded done channel stand in for an
// async mpsc receiver with oneshot acks. Exactly one goroutine owns the log
// file and its write offset at any time — the same single-owner convention
// used for every other piece of mutable state in this codebase.
//
// A compare-and-set mismatch SKIPS only the failing event and continues the
// batch; an early return here would silently drop every later event in the
// same batch even though none of them had a stale Expected location.
//
// An Ack, once attached to an event, closes once the batch containing that
// event has been processed — whether or not that event's own CAS guard
// matched. Compaction relies on this: its drain barrier is an Acknowledged
// event gated on the very location it is about to reclaim, and that guard
// routinely mismatches (the value moved on since the record was read back
// off disk). Gating the ack itself on the CAS outcome would mean a stale
// barrier never fires and reclaim hangs out its full timeout.
//
// © 2025 learndb authors. MIT License.
package writeconsumer

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/learndb/learndb/internal/bucket"
	"github.com/learndb/learndb/internal/dynindex"
	"github.com/learndb/learndb/internal/logfile"
	"github.com/learndb/learndb/internal/metricset"
	"github.com/learndb/learndb/internal/storeerr"
)

// Mode selects the write semantics of one Event.
type Mode uint8

const (
	// ModeSimple appends unconditionally.
	ModeSimple Mode = iota
	// ModeCompareAndSet appends only if the index's current location for
	// Key equals Expected.
	ModeCompareAndSet
	// ModeAcknowledged appends (optionally gated by Expected, like
	// ModeCompareAndSet when Expected is non-nil) and closes Ack once the
	// batch containing it has been fsynced, or, when nothing in that batch
	// was appended, once the batch has been processed.
	ModeAcknowledged
)

// Event is one write request submitted to the consumer.
type Event struct {
	Key      string
	Value    string
	Mode     Mode
	Expected *bucket.Location // nil: no compare guard
	Ack      chan struct{}    // non-nil only for ModeAcknowledged
}

// NewSimple builds an unconditional write event.
func NewSimple(key, value string) Event {
	return Event{Key: key, Value: value, Mode: ModeSimple}
}

// NewCompareAndSet builds a write event that only applies if the index's
// current location for key equals expected.
func NewCompareAndSet(key, value string, expected bucket.Location) Event {
	return Event{Key: key, Value: value, Mode: ModeCompareAndSet, Expected: &expected}
}

// NewAcknowledged builds a write event whose returned channel is closed
// once the event's batch has been durably appended. expected may be nil for
// an unconditional acknowledged write (used as a pipeline drain barrier).
func NewAcknowledged(key, value string, expected *bucket.Location) (Event, <-chan struct{}) {
	ack := make(chan struct{})
	return Event{Key: key, Value: value, Mode: ModeAcknowledged, Expected: expected, Ack: ack}, ack
}

// Config configures a Consumer.
type Config struct {
	Workspace     string
	MaxFileSize   uint32
	QueueCapacity int
	BatchSize     int
	IdleSleep     time.Duration
	InitialFileID uint32
	Index         *dynindex.Index
	Logger        *zap.Logger
	Metrics       metricset.Sink
}

func (c *Config) setDefaults() {
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 10000
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.IdleSleep == 0 {
		c.IdleSleep = 100 * time.Millisecond
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 1 << 20
	}
	if c.InitialFileID == 0 {
		c.InitialFileID = 1
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = metricset.Noop()
	}
}

// Consumer is the single-goroutine write pipeline owner.
type Consumer struct {
	cfg   Config
	queue chan Event

	closeCh  chan struct{}
	doneCh   chan struct{}
	closeOne sync.Once

	file   *os.File
	fileID uint32
	offset uint32
}

// New opens (or creates) the log file for cfg.InitialFileID, seeking to its
// current end of file so restarts continue appending rather than
// overwriting, and starts the consumer goroutine.
func New(cfg Config) (*Consumer, error) {
	cfg.setDefaults()
	c := &Consumer{
		cfg:     cfg,
		queue:   make(chan Event, cfg.QueueCapacity),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	if err := c.openFile(cfg.InitialFileID); err != nil {
		return nil, err
	}
	go c.run()
	return c, nil
}

func (c *Consumer) openFile(id uint32) error {
	name := logfile.LogName(c.cfg.Workspace, id)
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return storeerr.Wrap(storeerr.KindIO, "open log file for append", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return storeerr.Wrap(storeerr.KindIO, "stat log file", err)
	}
	if c.file != nil {
		c.file.Close()
	}
	c.file = f
	c.fileID = id
	c.offset = uint32(info.Size())
	return nil
}

// Submit enqueues ev, blocking while the queue is full. It returns
// storeerr.ErrQueueClosed once Close has been called, and ctx.Err() if ctx
// is cancelled first.
func (c *Consumer) Submit(ctx context.Context, ev Event) error {
	select {
	case c.queue <- ev:
		return nil
	case <-c.closeCh:
		return storeerr.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals the consumer to drain whatever remains queued and exit. It
// blocks until the goroutine has returned. Close does not close the
// underlying event channel (multiple producers may still be mid-Submit);
// instead it flips closeCh, which both unblocks new Submit calls with
// ErrQueueClosed and tells the run loop to stop once the queue empties.
func (c *Consumer) Close() error {
	c.closeOne.Do(func() {
		close(c.closeCh)
		<-c.doneCh
		c.file.Close()
	})
	return nil
}

// CurrentFileID reports the log file the consumer is presently appending
// to, for diagnostics and for compaction's "exclude the newest" rule.
func (c *Consumer) CurrentFileID() uint32 { return c.fileID }

func (c *Consumer) run() {
	defer close(c.doneCh)
	for {
		if c.offset > c.cfg.MaxFileSize {
			if err := c.openFile(c.fileID + 1); err != nil {
				c.cfg.Logger.Error("writeconsumer: rotation failed, retrying next tick", zap.Error(err))
			} else {
				c.cfg.Metrics.IncRotation()
				c.cfg.Logger.Debug("writeconsumer: rotated log file", zap.Uint32("file_id", c.fileID))
			}
		}

		batch := c.drainBatch()
		if len(batch) == 0 {
			select {
			case <-c.closeCh:
				// A producer may have enqueued exactly as Close fired; take
				// one more non-blocking pass before exiting cleanly.
				if extra := c.drainBatch(); len(extra) > 0 {
					c.applyBatch(extra)
					continue
				}
				return
			default:
			}
			time.Sleep(c.cfg.IdleSleep)
			continue
		}

		c.applyBatch(batch)
	}
}

// drainBatch non-blockingly collects up to BatchSize queued events.
func (c *Consumer) drainBatch() []Event {
	var batch []Event
	for i := 0; i < c.cfg.BatchSize; i++ {
		select {
		case ev := <-c.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (c *Consumer) applyBatch(events []Event) {
	var acks []chan struct{}
	applied := 0

	for _, ev := range events {
		skip := false
		if ev.Expected != nil {
			loc, found := c.cfg.Index.Find(ev.Key)
			if !found || loc != *ev.Expected {
				c.cfg.Metrics.IncWriteSkipped()
				skip = true
			}
		}

		if !skip {
			offsetBefore := c.offset
			frameLen, err := logfile.WriteRecord(c.file, logfile.Record{Key: ev.Key, Value: ev.Value})
			if err != nil {
				c.cfg.Logger.Error("writeconsumer: append failed, aborting batch", zap.Error(err))
				return // abort the fsync-and-ack step for this batch; next tick retries fresh events
			}

			c.cfg.Index.Push(ev.Key, bucket.Location{FileID: c.fileID, Offset: offsetBefore, Length: frameLen})
			c.offset += frameLen
			c.cfg.Metrics.IncWriteApplied()
			applied++
		}

		// The ack marks "this event has been processed", not "this event's
		// own write applied": a skipped CAS is still a processed event, and
		// compaction's drain barrier depends on that ack firing even when
		// its guard has gone stale.
		if ev.Ack != nil {
			acks = append(acks, ev.Ack)
		}
	}

	if applied == 0 {
		if len(acks) == 0 {
			return
		}
		// Nothing new was appended this batch, so there is nothing fresh to
		// fsync; any data backing these acks was already made durable by an
		// earlier batch's sync.
		for _, ack := range acks {
			close(ack)
		}
		return
	}
	if err := c.file.Sync(); err != nil {
		c.cfg.Logger.Error("writeconsumer: fsync failed, dropping this batch's acks", zap.Error(err))
		return
	}
	for _, ack := range acks {
		close(ack)
	}
}
