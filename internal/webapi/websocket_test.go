package webapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/nativestream/internal/body"
	"github.com/cryguy/nativestream/internal/stream"
)

// runLoop runs s's loop on its own goroutine until the test ends.
func runLoop(t *testing.T, s *stream.Scope) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// serveBody starts a websocket server that transmits rb to the first client.
func serveBody(t *testing.T, rb *body.RequestBody) (string, <-chan error) {
	t.Helper()
	result := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			result <- err
			return
		}
		result <- ServeBodyTransmission(r.Context(), conn, rb)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), result
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func TestWebSocket_TransmitsBody(t *testing.T) {
	server := newTestScope(t)
	server.MaxChunk = 100
	payload := strings.Repeat("0123456789", 1000)
	ex, err := body.Extract(context.Background(), server, body.String(payload))
	require.NoError(t, err)
	rb, _ := body.IntoRequestBody(server, ex)
	runLoop(t, server)

	url, result := serveBody(t, rb)
	client := newTestScope(t)
	h := ReceiveBody(context.Background(), client, dial(t, url))

	got, err := readText(t, client, h)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.NoError(t, <-result)
}

func TestWebSocket_PeerFailureErrorsStream(t *testing.T) {
	server := newTestScope(t)
	src := stream.NewWithExternalSource(server, stream.FetchResponseSource())
	src.ErrorNative(errors.New("upstream reset"))
	ex, err := body.Extract(context.Background(), server, body.StreamInit{Handle: src})
	require.NoError(t, err)
	rb, _ := body.IntoRequestBody(server, ex)
	runLoop(t, server)

	url, result := serveBody(t, rb)
	client := newTestScope(t)
	h := ReceiveBody(context.Background(), client, dial(t, url))

	_, err = readText(t, client, h)
	require.ErrorIs(t, err, ErrPeerFailed)
	assert.Contains(t, err.Error(), "upstream reset")
	assert.NoError(t, <-result)
}

func TestWebSocket_RejectsPipelinedRequests(t *testing.T) {
	server := newTestScope(t)
	rb, _ := body.IntoRequestBody(server, mustExtract(t, server, "never sent"))
	// The server loop is not run, so the first request stays in flight.

	url, result := serveBody(t, rb)
	conn := dial(t, url)
	ctx := context.Background()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frameChunk)))
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frameChunk)))

	err := <-result
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in flight")
}

func TestWebSocket_UnexpectedFrame(t *testing.T) {
	server := newTestScope(t)
	rb, _ := body.IntoRequestBody(server, mustExtract(t, server, "x"))

	url, result := serveBody(t, rb)
	conn := dial(t, url)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte("gimme")))

	err := <-result
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected frame")
}

func mustExtract(t *testing.T, s *stream.Scope, text string) *body.Extracted {
	t.Helper()
	ex, err := body.Extract(context.Background(), s, body.String(text))
	require.NoError(t, err)
	return ex
}
