package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/eventloop"
)

// newTestScope returns a scope whose streams do not register GC cleanups,
// so finalization is driven explicitly by the test.
func newTestScope(t *testing.T) (*Scope, *observer.ObservedLogs) {
	t.Helper()
	zc, logs := observer.New(zap.DebugLevel)
	loop := eventloop.New(nil)
	s := NewScope(loop, zap.New(zc), nil)
	s.FinalizeOnCollect = false
	t.Cleanup(s.Shutdown)
	return s, logs
}

func settleRead(t *testing.T, s *Scope, p *core.Promise) core.ReadResult {
	t.Helper()
	s.Loop.RunUntilIdle()
	require.True(t, p.Settled(), "read did not settle")
	require.NoError(t, p.Err())
	res, ok := p.Value().(core.ReadResult)
	require.True(t, ok, "unexpected read value %T", p.Value())
	return res
}

// readAll reads h natively until done and returns the chunks.
func readAll(t *testing.T, s *Scope, h *Handle) []any {
	t.Helper()
	if !h.HasReader() {
		require.NoError(t, h.StartReading())
	}
	var out []any
	for i := 0; i < 10000; i++ {
		res := settleRead(t, s, h.ReadAChunk())
		if res.Done {
			h.StopReading()
			return out
		}
		out = append(out, res.Value)
	}
	t.Fatal("stream never finished")
	return nil
}

func concat(chunks []any) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c.([]byte)...)
	}
	return out
}

// fakePrimitive records what a controller does to its consumer.
type fakePrimitive struct {
	readable bool
	signals  []int
	closes   int
	err      error
}

func newFakePrimitive() *fakePrimitive { return &fakePrimitive{readable: true} }

func (f *fakePrimitive) GetReader() (core.Reader, error) { return nil, core.ErrLocked }
func (f *fakePrimitive) IsLocked() bool                  { return false }
func (f *fakePrimitive) IsDisturbed() bool               { return false }
func (f *fakePrimitive) IsReadable() bool                { return f.readable }
func (f *fakePrimitive) Close()                          { f.closes++; f.readable = false }
func (f *fakePrimitive) Error(reason error)              { f.err = reason; f.readable = false }
func (f *fakePrimitive) UpdateDataAvailable(n int)       { f.signals = append(f.signals, n) }
func (f *fakePrimitive) Cancel(error) *core.Promise      { return nil }

// listSource enqueues one chunk per pull, then closes.
type listSource struct {
	chunks []any
	pulls  int
}

func (l *listSource) Pull(c core.DefaultController) *core.Promise {
	l.pulls++
	if len(l.chunks) == 0 {
		c.Close()
		return nil
	}
	c.Enqueue(l.chunks[0])
	l.chunks = l.chunks[1:]
	return nil
}

func (l *listSource) Cancel(error) *core.Promise { return nil }

// manualSource never produces on its own; tests drive its controller.
type manualSource struct {
	cancelled bool
	reason    error
}

func (m *manualSource) Pull(core.DefaultController) *core.Promise { return nil }

func (m *manualSource) Cancel(reason error) *core.Promise {
	m.cancelled, m.reason = true, reason
	return nil
}
