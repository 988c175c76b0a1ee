package core

// MicrotaskQueue is implemented by the owning execution context. Promise
// reactions are always delivered through it, never synchronously.
type MicrotaskQueue interface {
	QueueMicrotask(fn func())
}

type promiseState int

const (
	promisePending promiseState = iota
	promiseFulfilled
	promiseRejected
)

type reaction struct {
	onFulfilled func(any)
	onRejected  func(error)
}

// Promise is a single-assignment result settled on the owning goroutine.
// It is not safe for concurrent use; cross-goroutine producers must queue a
// task on the event loop and settle from there.
type Promise struct {
	q         MicrotaskQueue
	state     promiseState
	value     any
	err       error
	reactions []reaction
}

// NewPromise returns a pending promise whose reactions run on q.
func NewPromise(q MicrotaskQueue) *Promise {
	return &Promise{q: q}
}

// ResolvedPromise returns a promise already fulfilled with v.
func ResolvedPromise(q MicrotaskQueue, v any) *Promise {
	p := NewPromise(q)
	p.Resolve(v)
	return p
}

// RejectedPromise returns a promise already rejected with err.
func RejectedPromise(q MicrotaskQueue, err error) *Promise {
	p := NewPromise(q)
	p.Reject(err)
	return p
}

// Resolve fulfills the promise with v. Resolving with another *Promise adopts
// its eventual state. Settling an already settled promise is a no-op.
func (p *Promise) Resolve(v any) {
	if p.state != promisePending {
		return
	}
	if other, ok := v.(*Promise); ok {
		if other == p {
			p.Reject(NewTypeError("promise resolved with itself"))
			return
		}
		other.Then(p.Resolve, p.Reject)
		return
	}
	p.state = promiseFulfilled
	p.value = v
	p.flush()
}

// Reject rejects the promise with err.
func (p *Promise) Reject(err error) {
	if p.state != promisePending {
		return
	}
	p.state = promiseRejected
	p.err = err
	p.flush()
}

// Then registers reactions. Either callback may be nil.
func (p *Promise) Then(onFulfilled func(any), onRejected func(error)) {
	p.reactions = append(p.reactions, reaction{onFulfilled: onFulfilled, onRejected: onRejected})
	if p.state != promisePending {
		p.flush()
	}
}

// Settled reports whether the promise is fulfilled or rejected.
func (p *Promise) Settled() bool { return p.state != promisePending }

// Fulfilled reports whether the promise resolved successfully.
func (p *Promise) Fulfilled() bool { return p.state == promiseFulfilled }

// Rejected reports whether the promise was rejected.
func (p *Promise) Rejected() bool { return p.state == promiseRejected }

// Value returns the fulfillment value, or nil while pending or rejected.
func (p *Promise) Value() any { return p.value }

// Err returns the rejection reason, or nil.
func (p *Promise) Err() error { return p.err }

func (p *Promise) flush() {
	reactions := p.reactions
	p.reactions = nil
	for _, r := range reactions {
		r := r
		if p.state == promiseFulfilled {
			if r.onFulfilled != nil {
				v := p.value
				p.q.QueueMicrotask(func() { r.onFulfilled(v) })
			}
			continue
		}
		if r.onRejected != nil {
			err := p.err
			p.q.QueueMicrotask(func() { r.onRejected(err) })
		}
	}
}
