package body

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/eventloop"
	"github.com/cryguy/nativestream/internal/metrics"
	"github.com/cryguy/nativestream/internal/stream"
)

func newTestScope(t *testing.T) *stream.Scope {
	t.Helper()
	s, _ := newTestScopeWithRegistry(t)
	return s
}

func newTestScopeWithRegistry(t *testing.T) (*stream.Scope, *prometheus.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()
	s := stream.NewScope(eventloop.New(logger), logger, metrics.NewCollector("test", reg))
	s.FinalizeOnCollect = false
	t.Cleanup(s.Shutdown)
	return s, reg
}

const consumedHeader = `# HELP test_bodies_consumed_total Body consumptions, by package type and outcome
# TYPE test_bodies_consumed_total counter
`

// await drives the loop until p settles.
func await(t *testing.T, s *stream.Scope, p *core.Promise) *core.Promise {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !p.Settled() && time.Now().Before(deadline) {
		require.NoError(t, s.Loop.Drain(deadline))
	}
	require.True(t, p.Settled(), "promise did not settle")
	return p
}

func consumeText(t *testing.T, s *stream.Scope, ex *Extracted) string {
	t.Helper()
	p := await(t, s, Consume(s, ex.Stream, TypeText, ex.ContentType))
	require.NoError(t, p.Err())
	return p.Value().(string)
}
