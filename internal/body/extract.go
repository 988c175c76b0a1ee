package body

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/stream"
)

// Source records which kind of init a body was extracted from.
type Source int

const (
	SourceNull Source = iota
	SourceBlob
	SourceBufferSource
	SourceFormData
	SourceURLSearchParams
	SourceUSVString
)

func (s Source) String() string {
	switch s {
	case SourceBlob:
		return "blob"
	case SourceBufferSource:
		return "buffer-source"
	case SourceFormData:
		return "form-data"
	case SourceURLSearchParams:
		return "url-search-params"
	case SourceUSVString:
		return "usv-string"
	}
	return "null"
}

// Extracted is the result of extracting a body: a stream of its bytes plus
// what is known about them up front.
type Extracted struct {
	Stream      *stream.Handle
	Source      Source
	TotalBytes  int
	ContentType string // empty when the init implies none
}

// Extract builds a stream over init. In-memory bodies are closed right away
// so a reader sees the bytes followed by done. Stored blobs are streamed from
// their BlobStore on a producer goroutine bound to ctx.
func Extract(ctx context.Context, scope *stream.Scope, init Init) (*Extracted, error) {
	switch v := init.(type) {
	case String:
		return memory(scope, []byte(v), SourceUSVString, "text/plain;charset=UTF-8"), nil
	case Bytes:
		b := make([]byte, len(v))
		copy(b, v)
		return memory(scope, b, SourceBufferSource, ""), nil
	case URLSearchParams:
		return memory(scope, []byte(v.Encode()), SourceURLSearchParams,
			"application/x-www-form-urlencoded;charset=UTF-8"), nil
	case *FormData:
		boundary := newBoundary()
		data, err := encodeMultipart(v, boundary)
		if err != nil {
			return nil, fmt.Errorf("extracting form data: %w", err)
		}
		return memory(scope, data, SourceFormData, "multipart/form-data;boundary="+boundary), nil
	case *Blob:
		return extractBlob(ctx, scope, v)
	case StreamInit:
		if v.Handle == nil {
			return nil, core.NewTypeError("stream body has no stream")
		}
		if v.Handle.IsLocked() || v.Handle.IsDisturbed() {
			return nil, core.ErrDisturbedOrLocked
		}
		return &Extracted{Stream: v.Handle, Source: SourceNull}, nil
	case nil:
		return nil, core.NewTypeError("no body to extract")
	}
	return nil, core.NewTypeError("unsupported body init %T", init)
}

func memory(scope *stream.Scope, b []byte, src Source, contentType string) *Extracted {
	h := stream.NewWithExternalSource(scope, stream.MemorySource(b))
	h.CloseNative()
	return &Extracted{Stream: h, Source: src, TotalBytes: len(b), ContentType: contentType}
}

func extractBlob(ctx context.Context, scope *stream.Scope, b *Blob) (*Extracted, error) {
	if !b.Stored() {
		return memory(scope, b.data, SourceBlob, b.typ), nil
	}
	size, err := b.store.Size(ctx, b.key)
	if err != nil {
		return nil, fmt.Errorf("extracting blob %s: %w", b.key, err)
	}
	if size != b.size {
		scope.Logger.Warn("stored blob size changed",
			zap.String("key", b.key), zap.Int64("want", b.size), zap.Int64("got", size))
	}
	h := stream.NewWithExternalSource(scope, stream.BlobSource(int(size)))
	stream.Feed(ctx, h, &blobReader{ctx: ctx, store: b.store, key: b.key, size: size}, scope.ChunkSize)
	return &Extracted{Stream: h, Source: SourceBlob, TotalBytes: int(size), ContentType: b.typ}, nil
}

// blobReader reads a stored blob range by range.
type blobReader struct {
	ctx   context.Context
	store core.BlobStore
	key   string
	off   int64
	size  int64
}

func (r *blobReader) Read(p []byte) (int, error) {
	if r.off >= r.size {
		return 0, io.EOF
	}
	n := int64(len(p))
	if rest := r.size - r.off; n > rest {
		n = rest
	}
	data, err := r.store.ReadRange(r.ctx, r.key, r.off, n)
	if err != nil {
		return 0, fmt.Errorf("reading blob %s at %d: %w", r.key, r.off, err)
	}
	if len(data) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	copied := copy(p, data)
	r.off += int64(copied)
	return copied, nil
}
