package stream

import (
	"fmt"
	"sync"

	"github.com/cryguy/nativestream/internal/bytebuf"
	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/metrics"
)

// SourceController buffers bytes pushed by a native producer and serves
// them to the consumer primitive through the source traps. Everything except
// Finalize runs on the owning goroutine.
type SourceController struct {
	buffer    *bytebuf.Buffer
	closed    bool
	cancelled bool
	kind      SourceKind
	metrics   *metrics.Collector

	mu        sync.Mutex
	finalizer *Finalizer
}

// NewSourceController builds a controller from src.
func NewSourceController(src ExternalSource, m *metrics.Collector) *SourceController {
	var buf *bytebuf.Buffer
	switch src.kind {
	case KindMemory:
		buf = bytebuf.FromBytes(src.data)
	case KindBlob:
		buf = bytebuf.New(src.size)
	default:
		buf = bytebuf.New(0)
	}
	return &SourceController{buffer: buf, kind: src.kind, metrics: m}
}

// Kind reports the source the controller was built from.
func (c *SourceController) Kind() SourceKind { return c.kind }

// Len returns the number of buffered bytes.
func (c *SourceController) Len() int { return c.buffer.Len() }

// Closed reports whether the producer closed (or the consumer cancelled).
func (c *SourceController) Closed() bool { return c.closed }

// Enqueue appends chunk and, while p is readable, signals the total number of
// buffered bytes. Bytes arriving after the consumer cancelled are dropped;
// enqueueing after the producer closed is a bug and panics.
func (c *SourceController) Enqueue(p core.Primitive, chunk []byte) {
	if c.cancelled {
		return
	}
	if c.closed {
		panic("stream: enqueue on a closed source controller")
	}
	c.buffer.Append(chunk)
	c.metrics.BytesEnqueued(len(chunk))
	if p.IsReadable() {
		p.UpdateDataAvailable(c.buffer.Len())
	}
}

// Pull is the request-data trap. Buffered bytes are re-signalled; a closed
// controller closes p once nothing is left to signal.
func (c *SourceController) Pull(p core.Primitive, _ int) {
	if n := c.buffer.Len(); n > 0 && p.IsReadable() {
		p.UpdateDataAvailable(n)
	}
	if c.closed && p.IsReadable() {
		p.Close()
	}
}

// Close marks the producer finished and closes p if it is readable. Later
// calls do nothing.
func (c *SourceController) Close(p core.Primitive) {
	if c.closed {
		return
	}
	c.closed = true
	if p.IsReadable() {
		p.Close()
	}
}

// WriteIntoBuffer drains exactly len(target) bytes into target. Asking for
// more than is buffered means availability was mis-signalled and panics.
func (c *SourceController) WriteIntoBuffer(_ core.Primitive, target []byte) int {
	if len(target) > c.buffer.Len() {
		panic(fmt.Sprintf("stream: write of %d bytes requested with %d buffered", len(target), c.buffer.Len()))
	}
	return c.buffer.Drain(target)
}

// Cancel drops buffered bytes. The producer must stop; Closed reports true.
func (c *SourceController) Cancel(_ core.Primitive, _ error) error {
	c.buffer.Reset()
	c.closed = true
	c.cancelled = true
	return nil
}

// SetUpFinalize arms the one-shot finalizer. It is called once, right after
// the stream using this controller is built.
func (c *SourceController) SetUpFinalize(f *Finalizer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalizer = f
}

// Finalize takes the armed finalizer and hands teardown to the owning
// goroutine. It may be called from any goroutine; a second call panics.
func (c *SourceController) Finalize() {
	c.mu.Lock()
	f := c.finalizer
	c.finalizer = nil
	c.mu.Unlock()
	if f == nil {
		panic("stream: no finalizer armed")
	}
	f.schedule()
}

func (c *SourceController) release() {
	c.buffer.Release()
}

func (t traps) RequestData(p core.Primitive, desiredSize int) {
	if c := t.arena.Get(t.id); c != nil {
		c.Pull(p, desiredSize)
	}
}

func (t traps) WriteIntoBuffer(p core.Primitive, target []byte) int {
	c := t.arena.Get(t.id)
	if c == nil {
		panic(fmt.Sprintf("stream: write into buffer for released controller %d", t.id))
	}
	return c.WriteIntoBuffer(p, target)
}

func (t traps) Cancel(p core.Primitive, reason error) error {
	if c := t.arena.Get(t.id); c != nil {
		return c.Cancel(p, reason)
	}
	return nil
}

// Finalize runs the controller's finalizer. Finalizing a slot that was
// already torn down panics; a slot released by Shutdown is ignored.
func (t traps) Finalize() {
	c, retired := t.arena.lookup(t.id)
	if retired {
		panic(fmt.Sprintf("stream: controller %d finalized twice", t.id))
	}
	if c != nil {
		c.Finalize()
	}
}
