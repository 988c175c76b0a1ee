package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("test", reg)

	c.StreamCreated("memory")
	c.StreamCreated("memory")
	c.StreamCreated("blob")
	c.BytesEnqueued(10)
	c.BytesEnqueued(5)
	c.LockConflict()
	c.BodyConsumed("text", "ok")
	c.FetchBytes("", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.streamsCreated.WithLabelValues("memory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.streamsCreated.WithLabelValues("blob")))
	assert.Equal(t, 15.0, testutil.ToFloat64(c.bytesEnqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.lockConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.bodiesConsumed.WithLabelValues("text", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.fetchBytes.WithLabelValues("identity")))

	n, err := testutil.GatherAndCount(reg, "test_streams_created_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.StreamCreated("memory")
		c.BytesEnqueued(1)
		c.ChunkRead()
		c.LockConflict()
		c.StreamFinalized()
		c.TeeCloneFailure()
		c.BodyConsumed("json", "error")
		c.FetchBytes("br", 1)
	})
}

func TestCollector_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewCollector("test", reg)
	var b *Collector
	require.NotPanics(t, func() { b = NewCollector("test", reg) })

	a.StreamCreated("memory")
	b.StreamCreated("memory")
	b.BytesEnqueued(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.streamsCreated.WithLabelValues("memory")))
	assert.Equal(t, 4.0, testutil.ToFloat64(a.bytesEnqueued))
}

func TestCollector_NilRegisterer(t *testing.T) {
	c := NewCollector("test", nil)
	c.ChunkRead()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.chunksRead))
}
