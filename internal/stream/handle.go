package stream

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/readable"
)

// Handle is the native-side view of a readable stream. It may own a
// SourceController; streams created from script or other default sources
// have none.
type Handle struct {
	scope     *Scope
	id        ID
	prim      core.Primitive
	ctrl      *SourceController
	reader    core.Reader
	disturbed bool
}

// NewWithExternalSource creates a stream fed by a native producer.
func NewWithExternalSource(scope *Scope, src ExternalSource) *Handle {
	c := NewSourceController(src, scope.Metrics)
	id := scope.Arena.Insert(c)
	prim := readable.NewExternal(scope.Loop, traps{arena: scope.Arena, id: id},
		readable.WithMaxChunk(scope.MaxChunk),
		readable.WithFinalizer(scope.FinalizeOnCollect),
	)
	c.SetUpFinalize(&Finalizer{
		stream:    id,
		tasks:     scope.dom,
		canceller: scope.canceller,
		teardown:  scope.teardown,
		logger:    scope.Logger,
	})
	if n := c.Len(); n > 0 {
		prim.UpdateDataAvailable(n)
	}
	scope.Metrics.StreamCreated(src.Kind().String())
	scope.Logger.Debug("stream created",
		zap.Uint64("stream", uint64(id)),
		zap.Stringer("source", src.Kind()),
		zap.Int("size", src.Size()))
	return &Handle{scope: scope, id: id, prim: prim, ctrl: c}
}

// FromPrimitive wraps a stream that has no native controller, such as one
// created by script.
func FromPrimitive(scope *Scope, p core.Primitive) *Handle {
	scope.Metrics.StreamCreated("primitive")
	return &Handle{scope: scope, prim: p}
}

// NewDefault creates a queue-backed stream fed by source.
func NewDefault(scope *Scope, source core.DefaultSource, opts ...readable.Option) *Handle {
	scope.Metrics.StreamCreated("default")
	return &Handle{scope: scope, prim: readable.NewDefault(scope.Loop, source, opts...)}
}

// StartReading locks the stream for native reading. A stream can be read
// natively start to finish only once.
func (h *Handle) StartReading() error {
	if h.IsLocked() {
		h.scope.Metrics.LockConflict()
		h.scope.Logger.Debug("start reading refused", zap.Uint64("stream", uint64(h.id)), zap.Error(core.ErrLocked))
		return core.ErrLocked
	}
	if h.IsDisturbed() {
		h.scope.Metrics.LockConflict()
		h.scope.Logger.Debug("start reading refused", zap.Uint64("stream", uint64(h.id)), zap.Error(core.ErrDisturbed))
		return core.ErrDisturbed
	}
	return h.acquireReader()
}

func (h *Handle) acquireReader() error {
	r, err := h.prim.GetReader()
	if err != nil {
		return fmt.Errorf("acquiring reader: %w", err)
	}
	h.reader = r
	return nil
}

// ReadAChunk issues one read. The promise fulfills with a core.ReadResult.
// Calling it without a reader panics.
func (h *Handle) ReadAChunk() *core.Promise {
	if h.reader == nil {
		panic("stream: ReadAChunk called without a reader")
	}
	h.disturbed = true
	h.scope.Metrics.ChunkRead()
	return h.reader.Read()
}

// StopReading releases the native reader. The stream stays disturbed.
func (h *Handle) StopReading() {
	if h.reader == nil {
		panic("stream: StopReading called without a reader")
	}
	h.reader.ReleaseLock()
	h.reader = nil
}

// HasReader reports whether native code holds the reader.
func (h *Handle) HasReader() bool { return h.reader != nil }

func (h *Handle) IsLocked() bool {
	return h.reader != nil || h.prim.IsLocked()
}

func (h *Handle) IsDisturbed() bool {
	return h.disturbed || h.prim.IsDisturbed()
}

func (h *Handle) IsReadable() bool { return h.prim.IsReadable() }

// EnqueueNative pushes bytes from the producer. Producers should stop once
// Controller().Closed() reports true; bytes pushed after a cancel are
// dropped, after CloseNative they panic.
func (h *Handle) EnqueueNative(b []byte) {
	h.mustController("EnqueueNative").Enqueue(h.prim, b)
}

// CloseNative signals the producer is done.
func (h *Handle) CloseNative() {
	h.mustController("CloseNative").Close(h.prim)
}

// ErrorNative errors the stream with err.
func (h *Handle) ErrorNative(err error) {
	h.scope.Logger.Debug("stream errored", zap.Uint64("stream", uint64(h.id)), zap.Error(err))
	h.prim.Error(err)
}

// Cancel cancels the stream, through the native reader when one is held.
func (h *Handle) Cancel(reason error) *core.Promise {
	if h.reader != nil {
		return h.reader.Cancel(reason)
	}
	return h.prim.Cancel(reason)
}

func (h *Handle) mustController(op string) *SourceController {
	if h.ctrl == nil {
		panic("stream: " + op + " on a stream without a native source")
	}
	return h.ctrl
}

// Primitive returns the consumer-visible stream.
func (h *Handle) Primitive() core.Primitive { return h.prim }

// Controller returns the native controller, or nil.
func (h *Handle) Controller() *SourceController { return h.ctrl }

// ID returns the arena slot of the controller; zero without one.
func (h *Handle) ID() ID { return h.id }

// Scope returns the owning scope.
func (h *Handle) Scope() *Scope { return h.scope }
