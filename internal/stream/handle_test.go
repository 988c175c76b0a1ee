package stream

import (
	"context"
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/eventloop"
	"github.com/cryguy/nativestream/internal/readable"
)

func TestHandle_StartReadingTwice(t *testing.T) {
	s, _ := newTestScope(t)
	h := NewWithExternalSource(s, FetchResponseSource())
	require.NoError(t, h.StartReading())
	assert.True(t, h.IsLocked())
	assert.ErrorIs(t, h.StartReading(), core.ErrLocked)
}

func TestHandle_DisturbedSurvivesStopReading(t *testing.T) {
	s, _ := newTestScope(t)
	h := NewWithExternalSource(s, MemorySource([]byte("abc")))
	require.NoError(t, h.StartReading())
	assert.False(t, h.IsDisturbed())
	_ = h.ReadAChunk()
	assert.True(t, h.IsDisturbed())
	h.StopReading()
	assert.False(t, h.IsLocked())
	assert.True(t, h.IsDisturbed())
	assert.ErrorIs(t, h.StartReading(), core.ErrDisturbed)
}

func TestHandle_ScriptLockCounts(t *testing.T) {
	s, _ := newTestScope(t)
	prim := readable.NewDefault(s.Loop, &manualSource{})
	h := FromPrimitive(s, prim)
	_, err := prim.GetReader()
	require.NoError(t, err)
	assert.True(t, h.IsLocked(), "script-side lock is visible natively")
	assert.ErrorIs(t, h.StartReading(), core.ErrLocked)
}

func TestHandle_ReadWithoutReaderPanics(t *testing.T) {
	s, _ := newTestScope(t)
	h := NewWithExternalSource(s, FetchResponseSource())
	assert.Panics(t, func() { h.ReadAChunk() })
	assert.Panics(t, h.StopReading)
}

func TestHandle_ProducerOpsNeedController(t *testing.T) {
	s, _ := newTestScope(t)
	h := NewDefault(s, &manualSource{})
	assert.Nil(t, h.Controller())
	assert.Panics(t, func() { h.EnqueueNative([]byte("x")) })
	assert.Panics(t, h.CloseNative)
	assert.NotPanics(t, func() { h.ErrorNative(errors.New("boom")) })
	assert.False(t, h.IsReadable())
}

func TestHandle_MemoryStreamReadsToEnd(t *testing.T) {
	s, _ := newTestScope(t)
	h := NewWithExternalSource(s, MemorySource([]byte("hello world")))
	h.CloseNative()
	assert.Equal(t, "hello world", string(concat(readAll(t, s, h))))
	assert.False(t, h.IsReadable())
}

func TestHandle_MaxChunkSplitsReads(t *testing.T) {
	s, _ := newTestScope(t)
	s.MaxChunk = 4
	h := NewWithExternalSource(s, MemorySource([]byte("0123456789")))
	h.CloseNative()
	chunks := readAll(t, s, h)
	require.Len(t, chunks, 3)
	assert.Equal(t, []byte("0123"), chunks[0])
	assert.Equal(t, []byte("89"), chunks[2])
}

func TestHandle_EnqueueServesParkedRead(t *testing.T) {
	s, _ := newTestScope(t)
	h := NewWithExternalSource(s, FetchResponseSource())
	require.NoError(t, h.StartReading())
	p := h.ReadAChunk()
	s.Loop.RunUntilIdle()
	assert.False(t, p.Settled())

	h.EnqueueNative([]byte("late"))
	res := settleRead(t, s, p)
	assert.Equal(t, []byte("late"), res.Value)

	p = h.ReadAChunk()
	h.CloseNative()
	assert.True(t, settleRead(t, s, p).Done)
}

func TestHandle_EnqueueAfterCancelDropped(t *testing.T) {
	s, _ := newTestScope(t)
	h := NewWithExternalSource(s, FetchResponseSource())
	h.EnqueueNative([]byte("buffered"))
	h.Cancel(errors.New("stop"))
	s.Loop.RunUntilIdle()
	require.True(t, h.Controller().Closed())
	assert.NotPanics(t, func() { h.EnqueueNative([]byte("late")) })
	assert.Equal(t, 0, h.Controller().Len())
}

func TestHandle_ErrorNativeRejectsRead(t *testing.T) {
	s, _ := newTestScope(t)
	h := NewWithExternalSource(s, FetchResponseSource())
	require.NoError(t, h.StartReading())
	p := h.ReadAChunk()
	boom := errors.New("network reset")
	h.ErrorNative(boom)
	s.Loop.RunUntilIdle()
	assert.ErrorIs(t, p.Err(), boom)
}

func TestHandle_CancelStopsController(t *testing.T) {
	s, _ := newTestScope(t)
	h := NewWithExternalSource(s, MemorySource([]byte("unread")))
	p := h.Cancel(errors.New("no longer needed"))
	s.Loop.RunUntilIdle()
	assert.True(t, p.Fulfilled())
	assert.True(t, h.Controller().Closed())
	assert.Equal(t, 0, h.Controller().Len())
	assert.True(t, h.IsDisturbed())
}

func TestFeed_CopiesReader(t *testing.T) {
	s, _ := newTestScope(t)
	h := NewWithExternalSource(s, FetchResponseSource())
	want := strings.Repeat("stream-bytes;", 500)
	Feed(context.Background(), h, strings.NewReader(want), 97)
	require.NoError(t, s.Loop.Drain(time.Now().Add(5*time.Second)))
	assert.Equal(t, want, string(concat(readAll(t, s, h))))
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestFeed_PropagatesReadError(t *testing.T) {
	s, _ := newTestScope(t)
	h := NewWithExternalSource(s, FetchResponseSource())
	boom := errors.New("disk gone")
	Feed(context.Background(), h, failingReader{err: boom}, 0)
	require.NoError(t, s.Loop.Drain(time.Now().Add(5*time.Second)))
	require.NoError(t, h.StartReading())
	p := h.ReadAChunk()
	s.Loop.RunUntilIdle()
	assert.ErrorIs(t, p.Err(), boom)
}

// blockingReader yields one chunk per token sent on next.
type blockingReader struct {
	next   chan struct{}
	closed chan struct{}
}

func (b *blockingReader) Read(p []byte) (int, error) {
	select {
	case <-b.next:
		return copy(p, "x"), nil
	case <-b.closed:
		return 0, io.ErrClosedPipe
	}
}

func (b *blockingReader) Close() error {
	close(b.closed)
	return nil
}

func TestFeed_StopsAfterCancel(t *testing.T) {
	s, _ := newTestScope(t)
	h := NewWithExternalSource(s, FetchResponseSource())
	br := &blockingReader{next: make(chan struct{}), closed: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	Feed(ctx, h, br, 8)

	br.next <- struct{}{}
	h.Cancel(errors.New("stop"))
	cancel()
	require.NoError(t, s.Loop.Drain(time.Now().Add(5*time.Second)))
	assert.True(t, h.Controller().Closed())
	select {
	case <-br.closed:
	case <-time.After(time.Second):
		t.Fatal("reader was not closed")
	}
}

func TestHandle_FinalizedWhenCollected(t *testing.T) {
	loop := eventloop.New(nil)
	s := NewScope(loop, nil, nil)
	defer s.Shutdown()

	func() {
		h := NewWithExternalSource(s, MemorySource([]byte("garbage")))
		_ = h
	}()
	require.Equal(t, 1, s.Arena.Len())
	for i := 0; i < 100 && s.Arena.Len() > 0; i++ {
		runtime.GC()
		time.Sleep(5 * time.Millisecond)
		loop.RunUntilIdle()
	}
	assert.Equal(t, 0, s.Arena.Len())
}
