// config.go defines Store's configuration object and the functional options
// that customize it: a private options struct with a defaultOptions
// constructor, Option closures that mutate it, and validation folded into
// Open rather than scattered across the options themselves.
//
// © 2025 learndb authors. MIT License.
package store

import (
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config holds the required, validated parameters of a Store.
type Config struct {
	// Workspace is the directory log files, side-cars, and temp side-cars
	// live under. It must already exist and be a directory.
	Workspace string
	// MaxFileSize is the byte threshold for log rotation.
	MaxFileSize uint32
	// MaxFileNum is the sealed-plus-active file count above which
	// compaction reclaims the oldest sealed file.
	MaxFileNum int
}

type options struct {
	queueCapacity      int
	batchSize          int
	idleSleep          time.Duration
	rehashFillFactor   uint64
	rehashGrowthFactor uint64
	rehashInterval     time.Duration
	compactionInterval time.Duration
	ackTimeout         time.Duration
	registry           *prometheus.Registry
	logger             *zap.Logger
	snapshotStore      *badger.DB
}

// Option customizes optional Store behavior beyond Config's required fields.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		queueCapacity:      10000,
		batchSize:          100,
		idleSleep:          100 * time.Millisecond,
		rehashFillFactor:   8,
		rehashGrowthFactor: 4,
		rehashInterval:     2 * time.Second,
		compactionInterval: 10 * time.Second,
		ackTimeout:         30 * time.Second,
		logger:             zap.NewNop(),
	}
}

// WithMetrics enables Prometheus metrics collection for the store. Passing
// nil disables metrics (the default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithLogger plugs an external zap.Logger. The write and read paths never
// log; only slow-path events (rotation, rehash, compaction) are emitted.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithQueueCapacity overrides the bounded write-queue capacity.
func WithQueueCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueCapacity = n
		}
	}
}

// WithRehashTuning overrides the dynamic index's fill threshold and growth
// factor. A fillFactor or growthFactor of 0 leaves the corresponding default
// in place.
func WithRehashTuning(fillFactor, growthFactor uint64) Option {
	return func(o *options) {
		if fillFactor > 0 {
			o.rehashFillFactor = fillFactor
		}
		if growthFactor > 0 {
			o.rehashGrowthFactor = growthFactor
		}
	}
}

// WithSnapshotStore mirrors (key, Location) pairs into db after every
// compaction reclamation, as a pure warm-start accelerator. The in-memory
// index remains authoritative; db is never read back by Find.
func WithSnapshotStore(db *badger.DB) Option {
	return func(o *options) { o.snapshotStore = db }
}

var (
	errEmptyWorkspace  = errors.New("store: workspace must not be empty")
	errInvalidFileSize = errors.New("store: max file size must be > 0")
	errInvalidFileNum  = errors.New("store: max file num must be > 0")
)

func (c Config) validate() error {
	if c.Workspace == "" {
		return errEmptyWorkspace
	}
	if c.MaxFileSize == 0 {
		return errInvalidFileSize
	}
	if c.MaxFileNum == 0 {
		return errInvalidFileNum
	}
	return nil
}
