package stream

import (
	"go.uber.org/zap"

	"github.com/cryguy/nativestream/internal/eventloop"
	"github.com/cryguy/nativestream/internal/metrics"
	"github.com/cryguy/nativestream/internal/readable"
)

// DefaultChunkSize is the read size used by producers when the scope does
// not set one.
const DefaultChunkSize = 32 * 1024

// Scope is the owning execution context of a stream graph: the event loop
// every stream operation runs on plus the controller arena and shared
// collaborators. It is passed explicitly to every constructor.
type Scope struct {
	Loop    *eventloop.EventLoop
	Arena   *Arena
	Logger  *zap.Logger
	Metrics *metrics.Collector

	// MaxChunk bounds the bytes served to one read request.
	MaxChunk int
	// ChunkSize is the read size of producer goroutines.
	ChunkSize int
	// FinalizeOnCollect tears controllers down when their primitive is
	// garbage collected.
	FinalizeOnCollect bool
	// Cloner copies tee chunks for the second branch. Nil means CloneChunk.
	Cloner Cloner

	canceller  *eventloop.Canceller
	networking *eventloop.TaskSource
	dom        *eventloop.TaskSource
}

// NewScope returns a scope bound to loop. Logger and metrics may be nil.
func NewScope(loop *eventloop.EventLoop, logger *zap.Logger, m *metrics.Collector) *Scope {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scope{
		Loop:              loop,
		Arena:             NewArena(),
		Logger:            logger.With(zap.String("component", "stream")),
		Metrics:           m,
		MaxChunk:          readable.DefaultMaxChunk,
		ChunkSize:         DefaultChunkSize,
		FinalizeOnCollect: true,
		canceller:         eventloop.NewCanceller(),
		networking:        loop.TaskSource(eventloop.Networking),
		dom:               loop.TaskSource(eventloop.DOMManipulation),
	}
}

// Networking is the task source producers post to.
func (s *Scope) Networking() *eventloop.TaskSource { return s.networking }

// Canceller invalidates this scope's pending tasks on Shutdown.
func (s *Scope) Canceller() *eventloop.Canceller { return s.canceller }

// Post queues fn on the networking source under the scope's canceller.
func (s *Scope) Post(fn func()) error {
	return s.networking.QueueWithCanceller(fn, s.canceller)
}

// Shutdown cancels queued stream tasks and releases every controller still
// in the arena. Streams of this scope must not be used afterwards.
func (s *Scope) Shutdown() {
	s.canceller.Cancel()
	for _, c := range s.Arena.clear() {
		c.release()
	}
}

func (s *Scope) cloner() Cloner {
	if s.Cloner != nil {
		return s.Cloner
	}
	return CloneChunk
}

func (s *Scope) teardown(id ID) {
	c := s.Arena.Retire(id)
	if c == nil {
		return
	}
	c.release()
	s.Metrics.StreamFinalized()
	s.Logger.Debug("stream finalized", zap.Uint64("stream", uint64(id)), zap.Stringer("source", c.Kind()))
}
