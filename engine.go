// Package nativestream bridges engine-native byte producers into readable
// streams that script and native code consume through one event loop per
// realm.
package nativestream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cryguy/nativestream/internal/blobstore"
	"github.com/cryguy/nativestream/internal/eventloop"
	"github.com/cryguy/nativestream/internal/metrics"
	"github.com/cryguy/nativestream/internal/stream"
	"github.com/cryguy/nativestream/internal/webapi"
)

// ErrEngineClosed is returned by NewRealm after Shutdown.
var ErrEngineClosed = errors.New("engine is shut down")

type engineOptions struct {
	logger       *zap.Logger
	registerer   prometheus.Registerer
	blobs        blobstore.Store
	blockPrivate bool
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithLogger sets the engine logger. The default is built from the
// configuration's log section.
func WithLogger(l *zap.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithRegisterer registers stream metrics with reg instead of the default
// Prometheus registry. Engines sharing a registerer share their counters.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *engineOptions) { o.registerer = reg }
}

// WithBlobStore uses store instead of opening the configured driver.
// The engine takes ownership and closes it on Shutdown.
func WithBlobStore(store blobstore.Store) Option {
	return func(o *engineOptions) { o.blobs = store }
}

// WithBlockPrivate controls whether fetches to private addresses are
// refused. It defaults to true.
func WithBlockPrivate(block bool) Option {
	return func(o *engineOptions) { o.blockPrivate = block }
}

// Engine owns what realms share: configuration, logger, metrics, the blob
// store and the HTTP client.
type Engine struct {
	config  EngineConfig
	logger  *zap.Logger
	metrics *metrics.Collector
	blobs   blobstore.Store
	client  *webapi.Client

	realms sync.Map // string -> *Realm
	closed atomic.Bool
}

// NewEngine validates cfg and opens the blob store.
func NewEngine(cfg EngineConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	o := engineOptions{registerer: prometheus.DefaultRegisterer, blockPrivate: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		l, err := NewLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		o.logger = l
	}
	m := metrics.NewCollector(cfg.MetricsNamespace, o.registerer)
	if o.blobs == nil {
		store, err := blobstore.Open(cfg.Blobs)
		if err != nil {
			return nil, err
		}
		o.blobs = store
	}
	e := &Engine{
		config:  cfg,
		logger:  o.logger.With(zap.String("component", "engine")),
		metrics: m,
		blobs:   o.blobs,
		client:  webapi.NewClient(cfg, o.blockPrivate),
	}
	e.logger.Info("engine started",
		zap.String("blob_driver", cfg.Blobs.Driver),
		zap.Bool("block_private", o.blockPrivate))
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() EngineConfig { return e.config }

// Blobs returns the shared blob store.
func (e *Engine) Blobs() BlobStore { return e.blobs }

// NewRealm creates a realm with its own event loop, stream scope and JS
// runtime. The caller's goroutine becomes the realm's owning goroutine.
func (e *Engine) NewRealm() (*Realm, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	id := uuid.NewString()
	logger := e.logger.With(zap.String("realm", id))

	loop := eventloop.New(logger)
	scope := stream.NewScope(loop, logger, e.metrics)
	scope.MaxChunk = e.config.MaxChunk
	scope.ChunkSize = e.config.ChunkSize
	scope.FinalizeOnCollect = e.config.FinalizeOnCollect

	rt, err := newRuntime(e.config.MemoryLimitMB)
	if err != nil {
		loop.Close()
		return nil, fmt.Errorf("creating realm runtime: %w", err)
	}
	r := &Realm{id: id, engine: e, loop: loop, scope: scope, rt: rt, logger: logger}
	if err := webapi.SetupConsole(rt, logger); err != nil {
		r.Close()
		return nil, fmt.Errorf("setting up console: %w", err)
	}
	ns, err := webapi.SetupNativeStreams(rt, scope)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.streams = ns
	e.realms.Store(id, r)
	logger.Debug("realm created")
	return r, nil
}

// Realm returns a live realm by id.
func (e *Engine) Realm(id string) (*Realm, bool) {
	v, ok := e.realms.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Realm), true
}

// Shutdown closes every realm and the blob store. Realms must not be in
// use on other goroutines.
func (e *Engine) Shutdown() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.realms.Range(func(_, v any) bool {
		v.(*Realm).Close()
		return true
	})
	err := e.blobs.Close()
	_ = e.logger.Sync()
	if err != nil {
		return fmt.Errorf("closing blob store: %w", err)
	}
	return nil
}
