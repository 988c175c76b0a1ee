package body

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/stream"
)

// ChunkRequestKind distinguishes the two messages of the body transmission
// protocol.
type ChunkRequestKind int

const (
	// ChunkConnect registers the sink chunks are delivered to.
	ChunkConnect ChunkRequestKind = iota
	// ChunkNext asks for the next chunk.
	ChunkNext
)

// ChunkRequest is sent by the transmitting side, from any goroutine.
type ChunkRequest struct {
	Kind ChunkRequestKind
	Sink BodySink
}

// BodySink receives transmitted chunks. Its methods are called on the
// owning loop's goroutine and must not block.
type BodySink interface {
	SendChunk(b []byte)
	Done()
	Fail(err error)
}

// RequestBody is the transmit side of an extracted body. Chunks are read
// from the stream one request at a time.
type RequestBody struct {
	Source      Source
	TotalBytes  int
	ContentType string

	scope *stream.Scope
	tx    *transmitter

	mu       sync.Mutex
	requests chan ChunkRequest
	routing  bool
	closed   bool
}

// IntoRequestBody turns an extracted body into a RequestBody plus the stream
// that feeds it. Transmitting and consuming are exclusive: both lock the
// stream.
func IntoRequestBody(scope *stream.Scope, ex *Extracted) (*RequestBody, *stream.Handle) {
	rb := &RequestBody{
		Source:      ex.Source,
		TotalBytes:  ex.TotalBytes,
		ContentType: ex.ContentType,
		scope:       scope,
		tx:          &transmitter{scope: scope, h: ex.Stream},
		requests:    make(chan ChunkRequest, 16),
	}
	return rb, ex.Stream
}

// route serves requests until the body is closed or its scope shuts down.
func (rb *RequestBody) route() {
	var sink BodySink
	for {
		select {
		case <-rb.scope.Canceller().Done():
			return
		case req, ok := <-rb.requests:
			if !ok {
				return
			}
			switch req.Kind {
			case ChunkConnect:
				sink = req.Sink
			case ChunkNext:
				if sink == nil {
					rb.scope.Logger.Warn("body chunk requested before connect")
					continue
				}
				s := sink
				if err := rb.scope.Post(func() { rb.tx.transmitChunk(s) }); err != nil {
					rb.scope.Logger.Debug("body chunk request dropped", zap.Error(err))
				}
			}
		}
	}
}

// Send delivers a protocol message, starting the request router on first
// use. It reports false once the body is closed or its scope shut down.
func (rb *RequestBody) Send(req ChunkRequest) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.closed || rb.scope.Canceller().Cancelled() {
		return false
	}
	if !rb.routing {
		rb.routing = true
		go rb.route()
	}
	select {
	case rb.requests <- req:
		return true
	case <-rb.scope.Canceller().Done():
		return false
	}
}

// Connect registers sink.
func (rb *RequestBody) Connect(sink BodySink) bool {
	return rb.Send(ChunkRequest{Kind: ChunkConnect, Sink: sink})
}

// RequestChunk asks for the next chunk to be sent to the connected sink.
func (rb *RequestBody) RequestChunk() bool {
	return rb.Send(ChunkRequest{Kind: ChunkNext})
}

// Close stops the request router. Pending requests are still served unless
// the scope shuts down first.
func (rb *RequestBody) Close() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if !rb.closed {
		rb.closed = true
		close(rb.requests)
	}
}

// transmitter lives on the owning loop goroutine.
type transmitter struct {
	scope    *stream.Scope
	h        *stream.Handle
	started  bool
	finished bool
}

func (t *transmitter) transmitChunk(sink BodySink) {
	if t.finished {
		sink.Done()
		return
	}
	if !t.started {
		if err := t.h.StartReading(); err != nil {
			t.finished = true
			sink.Fail(err)
			return
		}
		t.started = true
	}
	t.h.ReadAChunk().Then(func(v any) {
		res, _ := v.(core.ReadResult)
		if res.Done {
			t.stop()
			sink.Done()
			return
		}
		chunk, ok := res.Value.([]byte)
		if !ok {
			t.stop()
			sink.Fail(core.NewTypeError("body chunk is %T, not a byte sequence", res.Value))
			return
		}
		sink.SendChunk(chunk)
	}, func(err error) {
		t.stop()
		sink.Fail(err)
	})
}

func (t *transmitter) stop() {
	t.finished = true
	if t.h.HasReader() {
		t.h.StopReading()
	}
}

type bodyEvent struct {
	chunk []byte
	done  bool
	err   error
}

// chanSink forwards sink calls to a reader goroutine.
type chanSink chan bodyEvent

func (c chanSink) SendChunk(b []byte) { c <- bodyEvent{chunk: b} }
func (c chanSink) Done()              { c <- bodyEvent{done: true} }
func (c chanSink) Fail(err error)     { c <- bodyEvent{err: err} }

// Reader adapts the body to an io.ReadCloser for use as an outgoing HTTP
// request body. Reads block until the owning loop serves the chunk, so the
// loop must keep running while the body is read.
func (rb *RequestBody) Reader(ctx context.Context) io.ReadCloser {
	events := make(chanSink, 1)
	r := &bodyReader{ctx: ctx, rb: rb, events: events}
	r.connected = rb.Connect(events)
	return r
}

type bodyReader struct {
	ctx       context.Context
	rb        *RequestBody
	events    chanSink
	connected bool
	pending   []byte
	err       error
}

func (r *bodyReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if !r.connected || !r.rb.RequestChunk() {
			r.err = io.ErrClosedPipe
			return 0, r.err
		}
		select {
		case ev := <-r.events:
			switch {
			case ev.err != nil:
				r.err = ev.err
			case ev.done:
				r.err = io.EOF
			default:
				r.pending = ev.chunk
			}
		case <-r.ctx.Done():
			r.err = r.ctx.Err()
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *bodyReader) Close() error {
	r.rb.Close()
	return nil
}
