package stream

import (
	"go.uber.org/zap"

	"github.com/cryguy/nativestream/internal/eventloop"
)

// Finalizer carries stream teardown back to the owning event loop. It holds
// the stream's arena ID rather than the stream itself.
type Finalizer struct {
	stream    ID
	tasks     *eventloop.TaskSource
	canceller *eventloop.Canceller
	teardown  func(ID)
	logger    *zap.Logger
}

func (f *Finalizer) schedule() {
	id, teardown := f.stream, f.teardown
	if err := f.tasks.QueueWithCanceller(func() { teardown(id) }, f.canceller); err != nil {
		f.logger.Debug("finalize dropped", zap.Uint64("stream", uint64(id)), zap.Error(err))
	}
}
