// Package blobstore holds the backends that stored blob bodies are streamed
// from.
package blobstore

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cryguy/nativestream/internal/core"
)

// Open builds the store selected by cfg. Callers own the returned store and
// must Close it.
func Open(cfg core.BlobStoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(cfg.Path)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return NewRedis(client, cfg.KeyPrefix), nil
	}
	return nil, fmt.Errorf("blobstore: unknown driver %q", cfg.Driver)
}

// Store is a core.BlobStore that holds resources.
type Store interface {
	core.BlobStore
	Close() error
}

// clampRange bounds [off, off+n) to a blob of the given size.
func clampRange(size, off, n int64) (int64, int64, error) {
	if off < 0 || n < 0 {
		return 0, 0, fmt.Errorf("blobstore: invalid range off=%d n=%d", off, n)
	}
	if off >= size {
		return size, size, nil
	}
	end := off + n
	if end > size {
		end = size
	}
	return off, end, nil
}
