package blobstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cryguy/nativestream/internal/core"
)

// Redis stores each blob as a string value under prefix+key.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Put(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, r.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("storing blob %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Size(ctx context.Context, key string) (int64, error) {
	k := r.key(key)
	n, err := r.client.Exists(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("sizing blob %q: %w", key, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("blob %q: %w", key, core.ErrBlobNotFound)
	}
	size, err := r.client.StrLen(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("sizing blob %q: %w", key, err)
	}
	return size, nil
}

func (r *Redis) ReadRange(ctx context.Context, key string, off, n int64) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("blobstore: invalid range off=%d n=%d", off, n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	k := r.key(key)
	// GETRANGE cannot tell a missing key from an empty slice.
	exists, err := r.client.Exists(ctx, k).Result()
	if err != nil {
		return nil, fmt.Errorf("reading blob %q: %w", key, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("blob %q: %w", key, core.ErrBlobNotFound)
	}
	s, err := r.client.GetRange(ctx, k, off, off+n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading blob %q: %w", key, err)
	}
	return []byte(s), nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("deleting blob %q: %w", key, err)
	}
	return nil
}

// Close closes the client.
func (r *Redis) Close() error { return r.client.Close() }
