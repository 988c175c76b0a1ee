//go:build !v8

package quickjs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	r, err := New(32)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestRuntime_EvalKinds(t *testing.T) {
	r := newRuntime(t)
	s, err := r.EvalString(`'a' + 1`)
	require.NoError(t, err)
	assert.Equal(t, "a1", s)

	b, err := r.EvalBool(`1 < 2`)
	require.NoError(t, err)
	assert.True(t, b)

	n, err := r.EvalInt(`6 * 7`)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = r.EvalBool(`'nope'`)
	assert.Error(t, err)
	assert.Error(t, r.Eval(`throw new Error('boom')`))
}

func TestRuntime_RegisterFuncUnwrapsErrors(t *testing.T) {
	r := newRuntime(t)
	require.NoError(t, r.RegisterFunc("half", func(n int) (int, error) {
		if n%2 != 0 {
			return 0, errors.New("odd input")
		}
		return n / 2, nil
	}))

	n, err := r.EvalInt(`half(10)`)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	msg, err := r.EvalString(`(function() {
		try { half(3); return 'no throw'; } catch (e) { return (e instanceof TypeError) + ':' + e.message; }
	})()`)
	require.NoError(t, err)
	assert.Contains(t, msg, "true:calling half")
	assert.Contains(t, msg, "odd input")
}

func TestRuntime_RunMicrotasks(t *testing.T) {
	r := newRuntime(t)
	require.NoError(t, r.Eval(`globalThis.hit = false; Promise.resolve().then(function() { globalThis.hit = true; });`))
	r.RunMicrotasks()
	hit, err := r.EvalBool(`globalThis.hit`)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestRuntime_BinaryTransfer(t *testing.T) {
	for _, fallback := range []bool{false, true} {
		r := newRuntime(t)
		r.useFallback = r.useFallback || fallback
		data := []byte{0, 1, 2, 250, 255}

		require.NoError(t, r.WriteBinaryToJS("buf", data))
		sum, err := r.EvalInt(`new Uint8Array(buf).reduce(function(a, b) { return a + b; }, 0)`)
		require.NoError(t, err)
		assert.Equal(t, 508, sum)

		require.NoError(t, r.Eval(`globalThis.back = new Uint8Array([9, 8, 7]).buffer;`))
		got, err := r.ReadBinaryFromJS("back")
		require.NoError(t, err)
		assert.Equal(t, []byte{9, 8, 7}, got)
		gone, err := r.EvalBool(`typeof globalThis.back === 'undefined'`)
		require.NoError(t, err)
		assert.True(t, gone)

		require.NoError(t, r.WriteBinaryToJS("empty", nil))
		n, err := r.EvalInt(`empty.byteLength`)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	}
}
