package core

import "context"

// BlobStore backs blob bodies that are streamed rather than held in memory.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Size(ctx context.Context, key string) (int64, error)
	// ReadRange returns at most n bytes starting at off. A short read means
	// the end of the blob was reached.
	ReadRange(ctx context.Context, key string, off, n int64) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
