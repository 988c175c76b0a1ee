package core

// ReadResult is the value a read promise fulfills with.
type ReadResult struct {
	Value any
	Done  bool
}

// Primitive is the consumer-visible pull-based stream object. Native code
// drives it through the query and mutation methods below; the primitive in
// turn calls back into a SourceTraps implementation when it is backed by a
// native producer.
type Primitive interface {
	// GetReader locks the stream to a new default reader.
	GetReader() (Reader, error)

	IsLocked() bool
	IsDisturbed() bool
	IsReadable() bool

	// Close closes the stream once any data already signaled has drained.
	Close()

	// Error moves the stream to the errored state with reason.
	Error(reason error)

	// UpdateDataAvailable records that the native source holds n bytes ready
	// to be written into read requests.
	UpdateDataAvailable(n int)

	// Cancel cancels the stream, discarding queued data.
	Cancel(reason error) *Promise
}

// Reader is a default reader acquired from a Primitive.
type Reader interface {
	// Read issues one read request. Callers must not pipeline reads.
	Read() *Promise

	// ReleaseLock unlocks the stream; pending reads are rejected.
	ReleaseLock()

	// Closed settles when the stream closes or errors.
	Closed() *Promise

	Cancel(reason error) *Promise
}

// SourceTraps are the callbacks a Primitive invokes on a native underlying
// source.
type SourceTraps interface {
	// RequestData is the pull hook; desiredSize is advisory.
	RequestData(p Primitive, desiredSize int)

	// WriteIntoBuffer copies exactly len(target) bytes into target. It is
	// only called for byte counts previously signaled as available.
	WriteIntoBuffer(p Primitive, target []byte) int

	Cancel(p Primitive, reason error) error

	// Finalize may be called from any goroutine.
	Finalize()
}

// DefaultController is the enqueue side of a queue-backed stream.
type DefaultController interface {
	Enqueue(chunk any)
	Close()
	Error(err error)
	DesiredSize() int
}

// DefaultSource is an underlying source for a queue-backed stream.
type DefaultSource interface {
	// Pull asks for more chunks. A nil promise means the pull completed
	// synchronously.
	Pull(c DefaultController) *Promise

	Cancel(reason error) *Promise
}
