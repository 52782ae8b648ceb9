// Package metricset contains a thin abstraction over Prometheus so that
// learndb can be used with or without metrics. When the caller passes a
// *prometheus.Registry to store.WithMetrics, unlabeled collectors are created
// and exposed via the registry; otherwise a no-op sink is used and the hot
// path does not pay for metric updates.
//
// Metric names follow Prometheus best practices, suffixed with "_total" for
// counters, generalized from per-shard cache counters to the write
// pipeline / index / compaction counters learndb needs.
//
// ┌────────────────────────────────┬───────┬──────────┐
// │ Metric                         │ Type  │ Labels   │
// ├─────────────────────────────────┼───────┼──────────┤
// │ learndb_find_hits_total         │ Ctr   │ –        │
// │ learndb_find_misses_total       │ Ctr   │ –        │
// │ learndb_writes_applied_total    │ Ctr   │ –        │
// │ learndb_writes_skipped_total    │ Ctr   │ –        │
// │ learndb_rotations_total         │ Ctr   │ –        │
// │ learndb_rehashes_total          │ Ctr   │ –        │
// │ learndb_compactions_total       │ Ctr   │ –        │
// │ learndb_index_size              │ Gge   │ –        │
// │ learndb_index_shard_count       │ Gge   │ –        │
// │ learndb_rehash_in_progress      │ Gge   │ –        │
// └────────────────────────────────┴───────┴──────────┘
//
// © 2025 learndb authors. MIT License.
package metricset

import "github.com/prometheus/client_golang/prometheus"

// Sink is the internal interface abstracting away the concrete backend
// (Prometheus vs noop). Every learndb component that can observe metrics
// only depends on this interface, never on *prometheus.Registry directly.
type Sink interface {
	IncFindHit()
	IncFindMiss()
	IncWriteApplied()
	IncWriteSkipped()
	IncRotation()
	IncRehash()
	IncCompaction()
	SetIndexSize(v uint64)
	SetShardCount(v uint64)
	SetRehashInProgress(inProgress bool)
}

/* ---------------- No-op implementation ---------------- */

type noop struct{}

func (noop) IncFindHit()                   {}
func (noop) IncFindMiss()                  {}
func (noop) IncWriteApplied()              {}
func (noop) IncWriteSkipped()              {}
func (noop) IncRotation()                  {}
func (noop) IncRehash()                    {}
func (noop) IncCompaction()                {}
func (noop) SetIndexSize(uint64)           {}
func (noop) SetShardCount(uint64)          {}
func (noop) SetRehashInProgress(bool)      {}

// Noop returns a Sink that discards every observation.
func Noop() Sink { return noop{} }

/* ---------------- Prometheus implementation ---------------- */

type promSink struct {
	findHits       prometheus.Counter
	findMisses     prometheus.Counter
	writesApplied  prometheus.Counter
	writesSkipped  prometheus.Counter
	rotations      prometheus.Counter
	rehashes       prometheus.Counter
	compactions    prometheus.Counter
	indexSize      prometheus.Gauge
	shardCount     prometheus.Gauge
	rehashRunning  prometheus.Gauge
}

// NewPrometheus constructs and registers the learndb collector set against
// reg. Caller guarantees reg is non-nil.
func NewPrometheus(reg *prometheus.Registry) Sink {
	ns := "learndb"
	p := &promSink{
		findHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "find_hits_total", Help: "Number of Find calls resolved to a value.",
		}),
		findMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "find_misses_total", Help: "Number of Find calls that found no value.",
		}),
		writesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "writes_applied_total", Help: "Number of write events appended and indexed.",
		}),
		writesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "writes_skipped_total", Help: "Number of compare-and-set writes skipped due to a stale expectation.",
		}),
		rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "rotations_total", Help: "Number of log file rotations.",
		}),
		rehashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "rehashes_total", Help: "Number of completed index rehash rounds.",
		}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "compactions_total", Help: "Number of reclaimed (deleted) log files.",
		}),
		indexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "index_size", Help: "Live key count in the in-memory index.",
		}),
		shardCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "index_shard_count", Help: "Shard count of the active index table.",
		}),
		rehashRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "rehash_in_progress", Help: "1 while a background rehash is migrating shards, 0 otherwise.",
		}),
	}
	reg.MustRegister(p.findHits, p.findMisses, p.writesApplied, p.writesSkipped,
		p.rotations, p.rehashes, p.compactions, p.indexSize, p.shardCount, p.rehashRunning)
	return p
}

func (p *promSink) IncFindHit()          { p.findHits.Inc() }
func (p *promSink) IncFindMiss()         { p.findMisses.Inc() }
func (p *promSink) IncWriteApplied()     { p.writesApplied.Inc() }
func (p *promSink) IncWriteSkipped()     { p.writesSkipped.Inc() }
func (p *promSink) IncRotation()         { p.rotations.Inc() }
func (p *promSink) IncRehash()           { p.rehashes.Inc() }
func (p *promSink) IncCompaction()       { p.compactions.Inc() }
func (p *promSink) SetIndexSize(v uint64)  { p.indexSize.Set(float64(v)) }
func (p *promSink) SetShardCount(v uint64) { p.shardCount.Set(float64(v)) }
func (p *promSink) SetRehashInProgress(inProgress bool) {
	if inProgress {
		p.rehashRunning.Set(1)
		return
	}
	p.rehashRunning.Set(0)
}

// New decides which implementation to use. Passing a nil registry disables
// metrics (the default).
func New(reg *prometheus.Registry) Sink {
	if reg == nil {
		return Noop()
	}
	return NewPrometheus(reg)
}
