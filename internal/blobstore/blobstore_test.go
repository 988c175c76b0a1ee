package blobstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/nativestream/internal/core"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rs := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "blob:")

	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "blobs.sqlite3"))
	require.NoError(t, err)

	out := map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
		"redis":  rs,
	}
	t.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})
	return out
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "a", []byte("hello world")))

			size, err := s.Size(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, int64(11), size)

			got, err := s.ReadRange(ctx, "a", 6, 5)
			require.NoError(t, err)
			assert.Equal(t, "world", string(got))

			got, err = s.ReadRange(ctx, "a", 8, 100)
			require.NoError(t, err)
			assert.Equal(t, "rld", string(got), "reads past the end are short")

			got, err = s.ReadRange(ctx, "a", 11, 4)
			require.NoError(t, err)
			assert.Empty(t, got)

			require.NoError(t, s.Put(ctx, "a", []byte("xy")))
			size, err = s.Size(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, int64(2), size, "put overwrites")

			require.NoError(t, s.Delete(ctx, "a"))
			_, err = s.Size(ctx, "a")
			assert.ErrorIs(t, err, core.ErrBlobNotFound)
		})
	}
}

func TestStore_MissingKey(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.ReadRange(ctx, "nope", 0, 4)
			assert.ErrorIs(t, err, core.ErrBlobNotFound)
			_, err = s.Size(ctx, "nope")
			assert.ErrorIs(t, err, core.ErrBlobNotFound)
			assert.NoError(t, s.Delete(ctx, "nope"))
		})
	}
}

func TestStore_InvalidRange(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(ctx, "k", []byte("abc")))
			_, err := s.ReadRange(ctx, "k", -1, 2)
			assert.Error(t, err)
		})
	}
}

func TestRedis_UsesPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	rs := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "pfx:")
	require.NoError(t, rs.Put(context.Background(), "k", []byte("v")))
	v, err := mr.Get("pfx:k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestOpen_Drivers(t *testing.T) {
	s, err := Open(core.BlobStoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	s, err = Open(core.BlobStoreConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "x", "b.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Close())

	mr := miniredis.RunT(t)
	s, err = Open(core.BlobStoreConfig{Driver: "redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, s)
	require.NoError(t, s.Close())

	_, err = Open(core.BlobStoreConfig{Driver: "s3"})
	assert.Error(t, err)
}
