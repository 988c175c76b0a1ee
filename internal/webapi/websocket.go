package webapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/cryguy/nativestream/internal/body"
	"github.com/cryguy/nativestream/internal/stream"
)

// Control frames of the body transmission channel. Chunks travel as binary
// frames.
const (
	frameChunk = "chunk"
	frameDone  = "done"
	frameError = "error:"
)

// MaxBodyFrameBytes bounds one binary chunk frame.
const MaxBodyFrameBytes = 1 << 20

// wsEvent is a sink callback handed from the loop to the writer goroutine.
type wsEvent struct {
	chunk []byte
	done  bool
	err   error
}

// wsSink never blocks: the peer may have at most one chunk request in
// flight, so the buffer always has room.
type wsSink chan wsEvent

func (s wsSink) SendChunk(b []byte) { s <- wsEvent{chunk: b} }
func (s wsSink) Done()              { s <- wsEvent{done: true} }
func (s wsSink) Fail(err error)     { s <- wsEvent{err: err} }

// ServeBodyTransmission answers chunk requests arriving on conn from rb
// until the body ends, fails, or ctx is done. The scope loop that owns rb's
// stream must keep running meanwhile.
func ServeBodyTransmission(ctx context.Context, conn *websocket.Conn, rb *body.RequestBody) error {
	defer rb.Close()
	events := make(wsSink, 1)
	if !rb.Connect(events) {
		return fmt.Errorf("body transmission: request body already closed")
	}
	inflight := make(chan struct{}, 1)
	var finished atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			typ, data, err := conn.Read(gctx)
			if err != nil {
				if finished.Load() || websocket.CloseStatus(err) == websocket.StatusNormalClosure || gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("body transmission: reading request: %w", err)
			}
			if typ != websocket.MessageText || string(data) != frameChunk {
				return fmt.Errorf("body transmission: unexpected frame %q", data)
			}
			select {
			case inflight <- struct{}{}:
			default:
				return fmt.Errorf("body transmission: chunk requested while one is in flight")
			}
			if !rb.RequestChunk() {
				return fmt.Errorf("body transmission: request body closed")
			}
		}
	})
	g.Go(func() error {
		for {
			var ev wsEvent
			select {
			case ev = <-events:
			case <-gctx.Done():
				return nil
			}
			var err error
			switch {
			case ev.err != nil:
				err = conn.Write(gctx, websocket.MessageText, []byte(frameError+ev.err.Error()))
			case ev.done:
				err = conn.Write(gctx, websocket.MessageText, []byte(frameDone))
			default:
				err = conn.Write(gctx, websocket.MessageBinary, ev.chunk)
			}
			if err != nil {
				return fmt.Errorf("body transmission: writing frame: %w", err)
			}
			<-inflight
			if ev.done || ev.err != nil {
				finished.Store(true)
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
		}
	})
	return g.Wait()
}

// ReceiveBody returns a stream fed by a peer running ServeBodyTransmission.
// Chunks are requested one at a time; a peer error frame errors the stream.
func ReceiveBody(ctx context.Context, scope *stream.Scope, conn *websocket.Conn) *stream.Handle {
	conn.SetReadLimit(MaxBodyFrameBytes)
	h := stream.NewWithExternalSource(scope, stream.FetchRequestSource())
	stream.Feed(ctx, h, &wsBodyReader{ctx: ctx, conn: conn}, scope.ChunkSize)
	return h
}

// ErrPeerFailed wraps an error reported by the transmitting peer.
var ErrPeerFailed = errors.New("body transmission failed at peer")

type wsBodyReader struct {
	ctx     context.Context
	conn    *websocket.Conn
	pending []byte
	err     error
}

func (r *wsBodyReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.err = r.next()
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *wsBodyReader) next() error {
	if err := r.conn.Write(r.ctx, websocket.MessageText, []byte(frameChunk)); err != nil {
		return fmt.Errorf("requesting body chunk: %w", err)
	}
	typ, data, err := r.conn.Read(r.ctx)
	if err != nil {
		return fmt.Errorf("reading body chunk: %w", err)
	}
	if typ == websocket.MessageBinary {
		r.pending = data
		return nil
	}
	msg := string(data)
	switch {
	case msg == frameDone:
		return io.EOF
	case strings.HasPrefix(msg, frameError):
		return fmt.Errorf("%w: %s", ErrPeerFailed, strings.TrimPrefix(msg, frameError))
	}
	return fmt.Errorf("reading body chunk: unexpected frame %q", msg)
}

func (r *wsBodyReader) Close() error {
	return r.conn.Close(websocket.StatusNormalClosure, "")
}
