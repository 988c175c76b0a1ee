package stream

import (
	"errors"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/readable"
)

func TestTee_FanOut(t *testing.T) {
	s, _ := newTestScope(t)
	up := NewDefault(s, &listSource{chunks: []any{"c1", "c2", "c3"}})
	tc, err := Tee(up, false)
	require.NoError(t, err)
	assert.True(t, up.IsLocked())

	want := []any{"c1", "c2", "c3"}
	assert.Equal(t, want, readAll(t, s, tc.Branch1()))
	assert.Equal(t, want, readAll(t, s, tc.Branch2()))
	assert.True(t, tc.CancelPromise().Fulfilled())
	assert.True(t, up.IsDisturbed())
}

func TestTee_LockedUpstream(t *testing.T) {
	s, _ := newTestScope(t)
	up := NewWithExternalSource(s, FetchResponseSource())
	require.NoError(t, up.StartReading())
	_, err := Tee(up, false)
	assert.ErrorIs(t, err, core.ErrLocked)
}

func TestTee_NativeUpstream(t *testing.T) {
	s, _ := newTestScope(t)
	up := NewWithExternalSource(s, MemorySource([]byte("native bytes")))
	up.CloseNative()
	tc, err := Tee(up, true)
	require.NoError(t, err)
	assert.Equal(t, "native bytes", string(concat(readAll(t, s, tc.Branch1()))))
	assert.Equal(t, "native bytes", string(concat(readAll(t, s, tc.Branch2()))))
}

func TestTee_IndependentCancel(t *testing.T) {
	s, _ := newTestScope(t)
	up := NewDefault(s, &listSource{chunks: []any{"c1", "c2", "c3"}})
	tc, err := Tee(up, false)
	require.NoError(t, err)
	b1, b2 := tc.Branch1(), tc.Branch2()
	require.NoError(t, b1.StartReading())
	require.NoError(t, b2.StartReading())

	assert.Equal(t, "c1", settleRead(t, s, b1.ReadAChunk()).Value)
	assert.Equal(t, "c1", settleRead(t, s, b2.ReadAChunk()).Value)

	cancelled := b1.Cancel(errors.New("branch one done"))
	s.Loop.RunUntilIdle()
	assert.False(t, cancelled.Settled(), "cancel of one branch waits for the other")
	assert.False(t, tc.CancelPromise().Settled())

	var rest []any
	for {
		res := settleRead(t, s, b2.ReadAChunk())
		if res.Done {
			break
		}
		rest = append(rest, res.Value)
	}
	assert.Equal(t, []any{"c2", "c3"}, rest)
	assert.True(t, settleRead(t, s, b1.ReadAChunk()).Done, "cancelled branch sees nothing further")
	assert.True(t, tc.CancelPromise().Fulfilled(), "upstream close settles the shared promise")
	assert.True(t, cancelled.Fulfilled())
}

func TestTee_BothCancelledCancelsUpstream(t *testing.T) {
	s, _ := newTestScope(t)
	src := &manualSource{}
	up := NewDefault(s, src, readable.WithHighWaterMark(0))
	tc, err := Tee(up, false)
	require.NoError(t, err)

	r1, r2 := errors.New("one"), errors.New("two")
	tc.Branch1().Cancel(r1)
	s.Loop.RunUntilIdle()
	assert.False(t, src.cancelled)
	tc.Branch2().Cancel(r2)
	s.Loop.RunUntilIdle()

	require.True(t, src.cancelled)
	assert.ErrorIs(t, src.reason, r1)
	assert.ErrorIs(t, src.reason, r2)
	assert.True(t, tc.CancelPromise().Fulfilled())
}

type countingReader struct {
	core.Reader
	reads int
}

func (c *countingReader) Read() *core.Promise {
	c.reads++
	return c.Reader.Read()
}

func TestTee_ReadAgainCoalescing(t *testing.T) {
	s, _ := newTestScope(t)
	up := NewDefault(s, &manualSource{}, readable.WithHighWaterMark(0))
	upCtrl := up.Primitive().(*readable.Stream).Controller()
	tc, err := Tee(up, false)
	require.NoError(t, err)
	cr := &countingReader{Reader: tc.reader}
	tc.reader = cr

	b1 := tc.Branch1().Primitive()
	b2 := tc.Branch2().Primitive()
	r1, err := b1.GetReader()
	require.NoError(t, err)
	r2, err := b2.GetReader()
	require.NoError(t, err)

	first := r1.Read()
	second := r1.Read()
	other := r2.Read()
	s.Loop.RunUntilIdle()
	assert.Equal(t, 1, cr.reads, "pulls during an in-flight read are coalesced")

	upCtrl.Enqueue("c1")
	s.Loop.RunUntilIdle()
	assert.Equal(t, "c1", first.Value().(core.ReadResult).Value)
	assert.Equal(t, "c1", other.Value().(core.ReadResult).Value)
	assert.False(t, second.Settled())
	assert.Equal(t, 2, cr.reads, "exactly one follow-up read")

	upCtrl.Enqueue("c2")
	s.Loop.RunUntilIdle()
	assert.Equal(t, "c2", second.Value().(core.ReadResult).Value)
	assert.Equal(t, 2, cr.reads)
}

type opaque struct{ ch chan int }

func TestTee_CloneFailureErrorsBothBranches(t *testing.T) {
	s, _ := newTestScope(t)
	src := &manualSource{}
	up := NewDefault(s, src, readable.WithHighWaterMark(0))
	upCtrl := up.Primitive().(*readable.Stream).Controller()
	tc, err := Tee(up, true)
	require.NoError(t, err)
	b1, b2 := tc.Branch1(), tc.Branch2()
	require.NoError(t, b1.StartReading())
	require.NoError(t, b2.StartReading())
	p1, p2 := b1.ReadAChunk(), b2.ReadAChunk()
	s.Loop.RunUntilIdle()

	upCtrl.Enqueue(opaque{})
	s.Loop.RunUntilIdle()

	var dce *core.DataCloneError
	assert.ErrorAs(t, p1.Err(), &dce)
	assert.ErrorAs(t, p2.Err(), &dce)
	assert.True(t, src.cancelled)
	assert.ErrorAs(t, src.reason, &dce)
	assert.True(t, tc.CancelPromise().Fulfilled())
}

func TestTee_CloneGivesBranchTwoACopy(t *testing.T) {
	s, _ := newTestScope(t)
	up := NewDefault(s, &listSource{chunks: []any{[]byte("abc")}})
	tc, err := Tee(up, true)
	require.NoError(t, err)
	c1 := readAll(t, s, tc.Branch1())
	c2 := readAll(t, s, tc.Branch2())
	require.Len(t, c1, 1)
	require.Len(t, c2, 1)
	c1[0].([]byte)[0] = 'X'
	assert.Equal(t, []byte("abc"), c2[0])
}

func TestTee_UpstreamErrorReachesBranches(t *testing.T) {
	s, _ := newTestScope(t)
	up := NewDefault(s, &manualSource{}, readable.WithHighWaterMark(0))
	upCtrl := up.Primitive().(*readable.Stream).Controller()
	tc, err := Tee(up, false)
	require.NoError(t, err)
	b2 := tc.Branch2()
	require.NoError(t, b2.StartReading())
	p := b2.ReadAChunk()
	s.Loop.RunUntilIdle()

	boom := errors.New("upstream failed")
	upCtrl.Error(boom)
	s.Loop.RunUntilIdle()
	assert.ErrorIs(t, p.Err(), boom)
	assert.False(t, tc.Branch1().IsReadable())
	assert.False(t, tc.reading)
}

func TestTee_FanOutProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("both branches see upstream chunks in order", prop.ForAll(
		func(words []string) bool {
			s, _ := newTestScope(t)
			chunks := make([]any, len(words))
			for i, w := range words {
				chunks[i] = w
			}
			up := NewDefault(s, &listSource{chunks: append([]any(nil), chunks...)})
			tc, err := Tee(up, len(words)%2 == 0)
			if err != nil {
				return false
			}
			got1 := readAll(t, s, tc.Branch1())
			got2 := readAll(t, s, tc.Branch2())
			if len(chunks) == 0 {
				return len(got1) == 0 && len(got2) == 0
			}
			return reflect.DeepEqual(got1, chunks) && reflect.DeepEqual(got2, chunks)
		},
		gen.SliceOf(gen.AlphaString()),
	))
	properties.TestingRun(t)
}

func TestCloneChunk(t *testing.T) {
	in := map[string]any{"a": []any{1, "two", []byte{3}}, "b": nil}
	out, err := CloneChunk(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	out.(map[string]any)["a"].([]any)[2].([]byte)[0] = 9
	assert.Equal(t, byte(3), in["a"].([]any)[2].([]byte)[0])

	_, err = CloneChunk(func() {})
	var dce *core.DataCloneError
	assert.ErrorAs(t, err, &dce)
}
