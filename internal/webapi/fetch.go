package webapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/nativestream/internal/body"
	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/stream"
)

// ForbiddenFetchHeaders are request headers callers cannot set.
var ForbiddenFetchHeaders = map[string]bool{
	"host":                true,
	"transfer-encoding":   true,
	"connection":          true,
	"keep-alive":          true,
	"upgrade":             true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"content-length":      true,
}

const maxRedirects = 20

// Request describes an outgoing fetch.
type Request struct {
	Method string
	URL    string
	Header http.Header
	// Body is an extracted request body, or nil.
	Body *body.Extracted
	// Redirect is "follow" (default), "manual" or "error".
	Redirect string
}

// Response is a fetched response. Its body streams into Body as it arrives.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	URL        string
	Redirected bool
	Body       *stream.Handle
}

// Client performs fetches for one scope.
type Client struct {
	HTTP *http.Client
	// MaxResponseBytes bounds decoded response bodies; zero means no limit.
	MaxResponseBytes int64
	// BlockPrivate rejects requests and redirects to private addresses.
	BlockPrivate bool
}

// NewClient builds a client from the engine configuration. Private
// addresses are refused at dial time when blockPrivate is set.
func NewClient(cfg core.EngineConfig, blockPrivate bool) *Client {
	timeout := time.Duration(cfg.FetchTimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		// Content codings are decoded by the stream producer, not the transport.
		DisableCompression: true,
	}
	if blockPrivate {
		transport.DialContext = ssrfSafeDialContext
	}
	return &Client{
		HTTP:             &http.Client{Timeout: timeout, Transport: transport},
		MaxResponseBytes: cfg.MaxResponseBytes,
		BlockPrivate:     blockPrivate,
	}
}

// Fetch sends req from a worker goroutine. It must be called on the scope's
// loop goroutine; the returned promise fulfills there with a *Response once
// headers arrive, or rejects with a TypeError. The request body is read
// through the body transmission protocol, so the loop must keep running
// while the request is in flight.
func Fetch(ctx context.Context, scope *stream.Scope, c *Client, req Request) *core.Promise {
	p := core.NewPromise(scope.Loop)
	if req.URL == "" {
		p.Reject(core.NewTypeError("fetch requires a URL"))
		return p
	}
	if c.BlockPrivate && IsPrivateHostname(req.URL) {
		p.Reject(core.NewTypeError("fetch to private IP addresses is not allowed"))
		return p
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var (
		bodyReader io.ReadCloser
		length     int64 = -1
	)
	if req.Body != nil {
		if req.Body.Stream.IsLocked() || req.Body.Stream.IsDisturbed() {
			p.Reject(core.ErrDisturbedOrLocked)
			return p
		}
		rb, _ := body.IntoRequestBody(scope, req.Body)
		bodyReader = rb.Reader(ctx)
		if req.Body.Source != body.SourceNull {
			length = int64(req.Body.TotalBytes)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		if bodyReader != nil {
			_ = bodyReader.Close()
		}
		p.Reject(core.NewTypeError("fetch: %v", err))
		return p
	}
	if bodyReader != nil {
		httpReq.ContentLength = length
		if req.Body.ContentType != "" && req.Header.Get("Content-Type") == "" {
			httpReq.Header.Set("Content-Type", req.Body.ContentType)
		}
	}
	for k, vals := range req.Header {
		if ForbiddenFetchHeaders[strings.ToLower(k)] {
			continue
		}
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	client := *c.HTTP
	client.CheckRedirect = c.redirectPolicy(req.Redirect)

	logger := scope.Logger.With(zap.String("method", method), zap.String("url", req.URL))
	scope.Loop.AddPending()
	go func() {
		defer scope.Loop.DonePending()
		resp, err := client.Do(httpReq)
		post := scope.Post(func() {
			if err != nil {
				logger.Debug("fetch failed", zap.Error(err))
				p.Reject(core.NewTypeError("fetch failed: %v", err))
				return
			}
			p.Resolve(newResponse(ctx, scope, c, req.URL, resp))
		})
		if post != nil {
			logger.Debug("fetch result dropped", zap.Error(post))
			if err == nil {
				_ = resp.Body.Close()
			}
		}
	}()
	return p
}

func (c *Client) redirectPolicy(mode string) func(*http.Request, []*http.Request) error {
	switch mode {
	case "manual":
		return func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	case "error":
		return func(*http.Request, []*http.Request) error {
			return fmt.Errorf("redirect mode is 'error'")
		}
	}
	return func(r *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("too many redirects")
		}
		if c.BlockPrivate && IsPrivateHostname(r.URL.String()) {
			return fmt.Errorf("redirect to private IP address is not allowed")
		}
		return nil
	}
}

func newResponse(ctx context.Context, scope *stream.Scope, c *Client, url string, resp *http.Response) *Response {
	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &Response{
		Status:     resp.StatusCode,
		StatusText: strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode))),
		Header:     resp.Header,
		URL:        finalURL,
		Redirected: finalURL != url,
		Body:       StreamResponse(ctx, scope, resp, c.MaxResponseBytes),
	}
}

// StreamResponse returns a stream over resp's decoded body. A producer
// goroutine reads the body and posts its chunks to the scope's loop; the
// stream errors with core.ErrResponseTooLarge once more than limit decoded
// bytes arrive. It must be called on the loop goroutine.
func StreamResponse(ctx context.Context, scope *stream.Scope, resp *http.Response, limit int64) *stream.Handle {
	h := stream.NewWithExternalSource(scope, stream.FetchResponseSource())
	encoding := resp.Header.Get("Content-Encoding")
	decoded, err := decodeBody(resp.Body, encoding, scope.Logger)
	if err != nil {
		h.ErrorNative(core.NewTypeError("fetch: %v", err))
		return h
	}
	label := strings.ToLower(strings.TrimSpace(encoding))
	lr := &limitedReader{
		r:       decoded,
		limit:   limit,
		onBytes: func(n int) { scope.Metrics.FetchBytes(label, n) },
	}
	stream.Feed(ctx, h, struct {
		io.Reader
		io.Closer
	}{lr, decoded}, scope.ChunkSize)
	return h
}

func errTooLarge(limit int64) error {
	return fmt.Errorf("%w (%d bytes)", core.ErrResponseTooLarge, limit)
}
