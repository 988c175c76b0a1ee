package readable

import (
	"runtime"

	"github.com/cryguy/nativestream/internal/core"
)

// DefaultMaxChunk bounds the bytes handed to a single read request when the
// stream is backed by native source traps.
const DefaultMaxChunk = 64 * 1024

type state int

const (
	stateReadable state = iota
	stateClosed
	stateErrored
)

// Option configures a Stream.
type Option func(*Stream)

// WithMaxChunk sets the largest chunk served to a single read.
func WithMaxChunk(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.maxChunk = n
		}
	}
}

// WithHighWaterMark sets the queue size a default-mode stream pulls toward.
func WithHighWaterMark(n int) Option {
	return func(s *Stream) {
		if n >= 0 {
			s.hwm = n
		}
	}
}

// WithFinalizer makes the stream call its traps' Finalize once the stream
// becomes unreachable. Finalize then runs on the runtime's cleanup
// goroutine, not the owning one.
func WithFinalizer(enabled bool) Option {
	return func(s *Stream) { s.finalize = enabled }
}

// Stream is the consumer-visible readable stream. It is driven entirely from
// the owning goroutine; its promises settle through q.
type Stream struct {
	q         core.MicrotaskQueue
	state     state
	storedErr error
	disturbed bool
	reader    *Reader
	reads     []*core.Promise

	closeRequested bool

	// native source mode
	traps     core.SourceTraps
	available int
	maxChunk  int
	finalize  bool

	// queue mode
	source    core.DefaultSource
	ctrl      *controller
	queue     []any
	hwm       int
	started   bool
	pulling   bool
	pullAgain bool
}

// NewExternal returns a stream whose bytes come from traps.
func NewExternal(q core.MicrotaskQueue, traps core.SourceTraps, opts ...Option) *Stream {
	s := &Stream{q: q, traps: traps, maxChunk: DefaultMaxChunk}
	for _, o := range opts {
		o(s)
	}
	if s.finalize {
		runtime.AddCleanup(s, func(t core.SourceTraps) { t.Finalize() }, traps)
	}
	return s
}

// NewDefault returns a queue-backed stream fed by source. The source's first
// pull happens after the next microtask checkpoint.
func NewDefault(q core.MicrotaskQueue, source core.DefaultSource, opts ...Option) *Stream {
	s := &Stream{q: q, source: source, hwm: 1, maxChunk: DefaultMaxChunk}
	for _, o := range opts {
		o(s)
	}
	s.ctrl = &controller{s: s}
	q.QueueMicrotask(func() {
		s.started = true
		s.callPullIfNeeded()
	})
	return s
}

// Controller returns the enqueue side of a queue-backed stream, or nil.
func (s *Stream) Controller() core.DefaultController {
	if s.ctrl == nil {
		return nil
	}
	return s.ctrl
}

// GetReader locks the stream to a new reader.
func (s *Stream) GetReader() (core.Reader, error) {
	if s.reader != nil {
		return nil, core.ErrLocked
	}
	r := &Reader{s: s, q: s.q}
	switch s.state {
	case stateClosed:
		r.closed = core.ResolvedPromise(s.q, nil)
	case stateErrored:
		r.closed = core.RejectedPromise(s.q, s.storedErr)
	default:
		r.closed = core.NewPromise(s.q)
	}
	s.reader = r
	return r, nil
}

func (s *Stream) IsLocked() bool    { return s.reader != nil }
func (s *Stream) IsDisturbed() bool { return s.disturbed }
func (s *Stream) IsReadable() bool  { return s.state == stateReadable }

// Close closes the stream. Bytes or chunks already made available are still
// delivered before reads report done.
func (s *Stream) Close() {
	if s.state != stateReadable {
		return
	}
	s.closeRequested = true
	if s.available == 0 && len(s.queue) == 0 {
		s.finishClose()
	}
}

// Error errors the stream; parked and future reads reject with reason.
func (s *Stream) Error(reason error) {
	if s.state != stateReadable {
		return
	}
	s.state = stateErrored
	s.storedErr = reason
	s.available = 0
	s.queue = nil
	reads := s.reads
	s.reads = nil
	for _, p := range reads {
		p.Reject(reason)
	}
	if s.reader != nil {
		s.reader.closed.Reject(reason)
	}
}

// UpdateDataAvailable records that the native source holds n bytes and serves
// parked reads from them.
func (s *Stream) UpdateDataAvailable(n int) {
	if s.state != stateReadable || s.traps == nil {
		return
	}
	s.available = n
	for s.available > 0 && len(s.reads) > 0 {
		p := s.reads[0]
		s.reads = s.reads[1:]
		p.Resolve(s.serve())
	}
	if s.closeRequested && s.available == 0 {
		s.finishClose()
	}
}

// Cancel cancels an unlocked stream.
func (s *Stream) Cancel(reason error) *core.Promise {
	if s.reader != nil {
		return core.RejectedPromise(s.q, core.NewTypeError("cannot cancel a locked stream"))
	}
	return s.cancel(reason)
}

func (s *Stream) cancel(reason error) *core.Promise {
	s.disturbed = true
	switch s.state {
	case stateClosed:
		return core.ResolvedPromise(s.q, nil)
	case stateErrored:
		return core.RejectedPromise(s.q, s.storedErr)
	}
	s.queue = nil
	s.available = 0
	s.finishClose()

	if s.traps != nil {
		if err := s.traps.Cancel(s, reason); err != nil {
			return core.RejectedPromise(s.q, err)
		}
		return core.ResolvedPromise(s.q, nil)
	}
	out := core.NewPromise(s.q)
	if p := s.source.Cancel(reason); p != nil {
		p.Then(func(any) { out.Resolve(nil) }, out.Reject)
	} else {
		out.Resolve(nil)
	}
	return out
}

func (s *Stream) finishClose() {
	s.state = stateClosed
	s.closeRequested = false
	reads := s.reads
	s.reads = nil
	for _, p := range reads {
		p.Resolve(core.ReadResult{Done: true})
	}
	if s.reader != nil {
		s.reader.closed.Resolve(nil)
	}
}

func (s *Stream) read() *core.Promise {
	s.disturbed = true
	switch s.state {
	case stateClosed:
		return core.ResolvedPromise(s.q, core.ReadResult{Done: true})
	case stateErrored:
		return core.RejectedPromise(s.q, s.storedErr)
	}
	if s.traps != nil {
		if s.available > 0 {
			res := s.serve()
			if s.closeRequested && s.available == 0 {
				s.finishClose()
			}
			return core.ResolvedPromise(s.q, res)
		}
		p := core.NewPromise(s.q)
		s.reads = append(s.reads, p)
		s.traps.RequestData(s, s.maxChunk)
		return p
	}

	if len(s.queue) > 0 {
		chunk := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		if s.closeRequested && len(s.queue) == 0 {
			s.finishClose()
		} else {
			s.callPullIfNeeded()
		}
		return core.ResolvedPromise(s.q, core.ReadResult{Value: chunk})
	}
	p := core.NewPromise(s.q)
	s.reads = append(s.reads, p)
	s.callPullIfNeeded()
	return p
}

// serve writes up to maxChunk available bytes out of the native source.
func (s *Stream) serve() core.ReadResult {
	n := s.available
	if n > s.maxChunk {
		n = s.maxChunk
	}
	buf := make([]byte, n)
	written := s.traps.WriteIntoBuffer(s, buf)
	s.available -= n
	return core.ReadResult{Value: buf[:written]}
}

func (s *Stream) desiredSize() int {
	if s.state != stateReadable {
		return 0
	}
	return s.hwm - len(s.queue)
}

func (s *Stream) canCloseOrEnqueue() bool {
	return s.state == stateReadable && !s.closeRequested
}

func (s *Stream) shouldCallPull() bool {
	if !s.canCloseOrEnqueue() || !s.started {
		return false
	}
	if s.reader != nil && len(s.reads) > 0 {
		return true
	}
	return s.desiredSize() > 0
}

func (s *Stream) callPullIfNeeded() {
	if !s.shouldCallPull() {
		return
	}
	if s.pulling {
		s.pullAgain = true
		return
	}
	s.pulling = true
	done := func(any) {
		s.pulling = false
		if s.pullAgain {
			s.pullAgain = false
			s.callPullIfNeeded()
		}
	}
	p := s.source.Pull(s.ctrl)
	if p == nil {
		p = core.ResolvedPromise(s.q, nil)
	}
	p.Then(done, func(err error) {
		s.pulling = false
		s.ctrl.Error(err)
	})
}

type controller struct {
	s *Stream
}

func (c *controller) Enqueue(chunk any) {
	s := c.s
	if !s.canCloseOrEnqueue() {
		return
	}
	if len(s.reads) > 0 {
		p := s.reads[0]
		s.reads = s.reads[1:]
		p.Resolve(core.ReadResult{Value: chunk})
	} else {
		s.queue = append(s.queue, chunk)
	}
	s.callPullIfNeeded()
}

func (c *controller) Close() {
	if !c.s.canCloseOrEnqueue() {
		return
	}
	c.s.Close()
}

func (c *controller) Error(err error) { c.s.Error(err) }

func (c *controller) DesiredSize() int { return c.s.desiredSize() }
