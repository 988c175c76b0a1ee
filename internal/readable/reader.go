package readable

import "github.com/cryguy/nativestream/internal/core"

// Reader is the default reader of a Stream.
type Reader struct {
	s      *Stream
	q      core.MicrotaskQueue
	closed *core.Promise
}

// Read issues one read request.
func (r *Reader) Read() *core.Promise {
	if r.s == nil {
		return core.RejectedPromise(r.q, core.NewTypeError("reader has been released"))
	}
	return r.s.read()
}

// ReleaseLock detaches the reader. Parked reads and the closed promise reject.
func (r *Reader) ReleaseLock() {
	s := r.s
	if s == nil {
		return
	}
	err := core.NewTypeError("reader lock released")
	reads := s.reads
	s.reads = nil
	for _, p := range reads {
		p.Reject(err)
	}
	if r.closed.Settled() {
		r.closed = core.RejectedPromise(r.q, err)
	} else {
		r.closed.Reject(err)
	}
	s.reader = nil
	r.s = nil
}

// Closed settles when the stream closes, errors or the lock is released.
func (r *Reader) Closed() *core.Promise { return r.closed }

// Cancel cancels the stream through the reader.
func (r *Reader) Cancel(reason error) *core.Promise {
	if r.s == nil {
		return core.RejectedPromise(r.q, core.NewTypeError("reader has been released"))
	}
	return r.s.cancel(reason)
}
