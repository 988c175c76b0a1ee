package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Feed copies r into h from a new goroutine. Each chunk, the final close and
// any read error are posted to the owning loop as networking tasks, so h is
// only touched on its own goroutine. Feeding stops early when ctx is done,
// when the stream is cancelled, or when the scope shuts down. r is closed
// when it implements io.Closer. h must own a native source.
func Feed(ctx context.Context, h *Handle, r io.Reader, chunkSize int) {
	s := h.scope
	ctrl := h.mustController("Feed")
	if chunkSize <= 0 {
		chunkSize = s.ChunkSize
	}
	ctx, cancel := context.WithCancel(ctx)
	s.Loop.AddPending()
	go func() {
		defer s.Loop.DonePending()
		defer cancel()
		var once sync.Once
		closeReader := func() {
			if c, ok := r.(io.Closer); ok {
				once.Do(func() { _ = c.Close() })
			}
		}
		defer closeReader()
		// Closing the reader unblocks a pending Read once feeding is abandoned.
		stop := context.AfterFunc(ctx, closeReader)
		defer stop()
		post := func(fn func()) bool {
			if s.canceller.Cancelled() {
				return false
			}
			return s.Post(func() {
				if ctrl.Closed() {
					cancel()
					return
				}
				fn()
			}) == nil
		}
		for {
			if err := ctx.Err(); err != nil {
				post(func() { h.ErrorNative(err) })
				return
			}
			buf := make([]byte, chunkSize)
			n, err := r.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				if !post(func() { h.EnqueueNative(chunk) }) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				post(h.CloseNative)
				return
			}
			if err != nil {
				if cerr := ctx.Err(); cerr != nil {
					err = cerr
				} else {
					s.Logger.Debug("producer read failed", zap.Uint64("stream", uint64(h.id)), zap.Error(err))
				}
				post(func() { h.ErrorNative(err) })
				return
			}
		}
	}()
}
