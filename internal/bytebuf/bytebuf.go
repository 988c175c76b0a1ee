package bytebuf

import (
	"fmt"

	"github.com/valyala/bytebufferpool"
)

var pool bytebufferpool.Pool

// Buffer is a FIFO byte queue. Bytes are appended at the tail and drained
// from the head. Storage comes from a shared pool and goes back on Release.
// A Buffer is not safe for concurrent use.
type Buffer struct {
	bb  *bytebufferpool.ByteBuffer
	off int
}

// New returns an empty buffer with at least capacity bytes reserved.
func New(capacity int) *Buffer {
	bb := pool.Get()
	if capacity > cap(bb.B) {
		bb.B = make([]byte, 0, capacity)
	}
	return &Buffer{bb: bb}
}

// FromBytes returns a buffer holding a copy of b.
func FromBytes(b []byte) *Buffer {
	buf := New(len(b))
	buf.Append(b)
	return buf
}

// Append adds chunk to the tail.
func (b *Buffer) Append(chunk []byte) {
	b.live()
	_, _ = b.bb.Write(chunk)
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	if b.bb == nil {
		return 0
	}
	return len(b.bb.B) - b.off
}

// Bytes returns the buffered bytes without consuming them. The slice is only
// valid until the next mutation.
func (b *Buffer) Bytes() []byte {
	if b.bb == nil {
		return nil
	}
	return b.bb.B[b.off:]
}

// Drain removes exactly len(target) bytes from the head into target. It
// panics if fewer bytes are buffered.
func (b *Buffer) Drain(target []byte) int {
	n := len(target)
	if n > b.Len() {
		panic(fmt.Sprintf("bytebuf: drain of %d bytes with only %d buffered", n, b.Len()))
	}
	if n == 0 {
		return 0
	}
	copy(target, b.bb.B[b.off:b.off+n])
	b.off += n
	b.compact()
	return n
}

// Reset discards all buffered bytes and keeps the storage.
func (b *Buffer) Reset() {
	if b.bb == nil {
		return
	}
	b.bb.Reset()
	b.off = 0
}

// Release returns the storage to the pool. Further use panics.
func (b *Buffer) Release() {
	if b.bb == nil {
		return
	}
	pool.Put(b.bb)
	b.bb = nil
	b.off = 0
}

func (b *Buffer) live() {
	if b.bb == nil {
		panic("bytebuf: use after Release")
	}
}

func (b *Buffer) compact() {
	switch {
	case b.off == len(b.bb.B):
		b.bb.B = b.bb.B[:0]
		b.off = 0
	case b.off > cap(b.bb.B)/2:
		n := copy(b.bb.B, b.bb.B[b.off:])
		b.bb.B = b.bb.B[:n]
		b.off = 0
	}
}
