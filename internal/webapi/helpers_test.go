package webapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cryguy/nativestream/internal/body"
	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/eventloop"
	"github.com/cryguy/nativestream/internal/stream"
)

func newTestScope(t *testing.T) *stream.Scope {
	t.Helper()
	logger := zaptest.NewLogger(t)
	s := stream.NewScope(eventloop.New(logger), logger, nil)
	s.FinalizeOnCollect = false
	t.Cleanup(s.Shutdown)
	return s
}

// await drives the scope loop on the calling goroutine until p settles.
func await(t *testing.T, s *stream.Scope, p *core.Promise) *core.Promise {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !p.Settled() {
		require.True(t, time.Now().Before(deadline), "promise did not settle")
		require.NoError(t, s.Loop.Drain(deadline))
		if !p.Settled() {
			time.Sleep(time.Millisecond)
		}
	}
	return p
}

func readText(t *testing.T, s *stream.Scope, h *stream.Handle) (string, error) {
	t.Helper()
	p := await(t, s, body.Consume(s, h, body.TypeText, ""))
	if p.Err() != nil {
		return "", p.Err()
	}
	return p.Value().(string), nil
}
