// Package metrics exposes Prometheus counters for stream activity.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector records stream lifecycle events. A nil *Collector is valid and
// records nothing.
type Collector struct {
	streamsCreated   *prometheus.CounterVec
	bytesEnqueued    prometheus.Counter
	chunksRead       prometheus.Counter
	lockConflicts    prometheus.Counter
	streamsFinalized prometheus.Counter
	teeCloneFailures prometheus.Counter
	bodiesConsumed   *prometheus.CounterVec
	fetchBytes       *prometheus.CounterVec
}

// NewCollector registers the stream metrics on reg under namespace. Metrics
// already registered on reg by an earlier collector are shared, so several
// engines may use one registry. A nil reg registers nothing.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := factory{reg: reg}
	return &Collector{
		streamsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_created_total",
			Help:      "Streams created, by underlying source kind",
		}, []string{"source"}),
		bytesEnqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_enqueued_total",
			Help:      "Bytes pushed into native source controllers",
		}),
		chunksRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_read_total",
			Help:      "Chunk reads issued through stream handles",
		}),
		lockConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_conflicts_total",
			Help:      "StartReading calls refused because the stream was locked or disturbed",
		}),
		streamsFinalized: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_finalized_total",
			Help:      "Source controllers torn down after collection",
		}),
		teeCloneFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tee_clone_failures_total",
			Help:      "Tee chunks that could not be cloned for the second branch",
		}),
		bodiesConsumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bodies_consumed_total",
			Help:      "Body consumptions, by package type and outcome",
		}, []string{"type", "outcome"}),
		fetchBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_body_bytes_total",
			Help:      "Decoded fetch response bytes, by content encoding",
		}, []string{"encoding"}),
	}
}

type factory struct {
	reg prometheus.Registerer
}

func (f factory) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	return register(f.reg, prometheus.NewCounter(opts))
}

func (f factory) NewCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(f.reg, prometheus.NewCounterVec(opts, labels))
}

// register adds c to reg, or returns the identical collector reg already
// holds. Conflicting descriptors still panic.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (c *Collector) StreamCreated(source string) {
	if c == nil {
		return
	}
	c.streamsCreated.WithLabelValues(source).Inc()
}

func (c *Collector) BytesEnqueued(n int) {
	if c == nil {
		return
	}
	c.bytesEnqueued.Add(float64(n))
}

func (c *Collector) ChunkRead() {
	if c == nil {
		return
	}
	c.chunksRead.Inc()
}

func (c *Collector) LockConflict() {
	if c == nil {
		return
	}
	c.lockConflicts.Inc()
}

func (c *Collector) StreamFinalized() {
	if c == nil {
		return
	}
	c.streamsFinalized.Inc()
}

func (c *Collector) TeeCloneFailure() {
	if c == nil {
		return
	}
	c.teeCloneFailures.Inc()
}

// BodyConsumed records one consume-body outcome ("ok" or "error").
func (c *Collector) BodyConsumed(bodyType, outcome string) {
	if c == nil {
		return
	}
	c.bodiesConsumed.WithLabelValues(bodyType, outcome).Inc()
}

func (c *Collector) FetchBytes(encoding string, n int) {
	if c == nil {
		return
	}
	if encoding == "" {
		encoding = "identity"
	}
	c.fetchBytes.WithLabelValues(encoding).Add(float64(n))
}
