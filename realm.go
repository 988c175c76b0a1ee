package nativestream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cryguy/nativestream/internal/body"
	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/eventloop"
	"github.com/cryguy/nativestream/internal/stream"
	"github.com/cryguy/nativestream/internal/webapi"
)

// maxPumpRounds bounds how often one pump alternates between the loop and
// the engine job queue.
const maxPumpRounds = 64

// Realm is one owning execution context: an event loop, the stream scope
// bound to it and a JS runtime. Every method except Close must be called
// on the goroutine that created the realm.
type Realm struct {
	id      string
	engine  *Engine
	loop    *eventloop.EventLoop
	scope   *stream.Scope
	rt      core.JSRuntime
	streams *webapi.NativeStreams
	logger  *zap.Logger

	closeOnce sync.Once
}

// ID returns the realm's unique id.
func (r *Realm) ID() string { return r.id }

// Scope returns the stream scope for building handles directly.
func (r *Realm) Scope() *stream.Scope { return r.scope }

// Runtime returns the realm's JS runtime.
func (r *Realm) Runtime() JSRuntime { return r.rt }

// Eval runs script and then pumps pending work once.
func (r *Realm) Eval(js string) error {
	if err := r.rt.Eval(js); err != nil {
		return err
	}
	r.pump()
	return nil
}

// EvalString evaluates js after pumping pending work.
func (r *Realm) EvalString(js string) (string, error) {
	r.pump()
	return r.rt.EvalString(js)
}

// pump alternates engine jobs and loop work until the loop goes idle.
func (r *Realm) pump() {
	for i := 0; i < maxPumpRounds; i++ {
		r.rt.RunMicrotasks()
		if !r.loop.RunUntilIdle() {
			return
		}
	}
}

func (r *Realm) drainDeadline() time.Time {
	ms := r.engine.config.DrainTimeoutMs
	if ms <= 0 {
		ms = 5000
	}
	return time.Now().Add(time.Duration(ms) * time.Millisecond)
}

// Drain runs the realm until no tasks are queued and no producer goroutine
// is outstanding, or until the configured drain timeout passes.
func (r *Realm) Drain() error {
	ctx, cancel := context.WithDeadline(context.Background(), r.drainDeadline())
	defer cancel()
	for {
		r.pump()
		if !r.loop.HasPending() {
			return nil
		}
		r.loop.WaitForTask(ctx)
		if ctx.Err() != nil {
			r.pump()
			if !r.loop.HasPending() {
				return nil
			}
			return fmt.Errorf("draining realm %s: %w", r.id, ctx.Err())
		}
	}
}

// Await runs the realm until p settles and returns its outcome. It fails
// with context.DeadlineExceeded after the configured drain timeout.
func (r *Realm) Await(p *Promise) (any, error) {
	ctx, cancel := context.WithDeadline(context.Background(), r.drainDeadline())
	defer cancel()
	for {
		r.pump()
		if p.Settled() {
			return p.Value(), p.Err()
		}
		r.loop.WaitForTask(ctx)
		if ctx.Err() != nil {
			r.pump()
			if p.Settled() {
				return p.Value(), p.Err()
			}
			return nil, fmt.Errorf("awaiting promise in realm %s: %w", r.id, ctx.Err())
		}
	}
}

// Run serves the realm until ctx is done or the realm is closed.
func (r *Realm) Run(ctx context.Context) error {
	for {
		r.pump()
		if r.loop.Closed() {
			return nil
		}
		r.loop.WaitForTask(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// ExtractBody builds a body stream from init.
func (r *Realm) ExtractBody(ctx context.Context, init BodyInit) (*ExtractedBody, error) {
	return body.Extract(ctx, r.scope, init)
}

// ConsumeBody reads h to the end and packages it as bodyType.
func (r *Realm) ConsumeBody(h *Handle, bodyType BodyType, mimeType string) *Promise {
	return body.Consume(r.scope, h, bodyType, mimeType)
}

// StoreBlob puts data into the engine's blob store and returns a blob that
// streams from it.
func (r *Realm) StoreBlob(ctx context.Context, data []byte, typ string) (*Blob, error) {
	key := uuid.NewString()
	if err := r.engine.blobs.Put(ctx, key, data); err != nil {
		return nil, fmt.Errorf("storing blob: %w", err)
	}
	return body.StoredBlob(r.engine.blobs, key, int64(len(data)), typ), nil
}

// Fetch issues req with the engine's HTTP client.
func (r *Realm) Fetch(ctx context.Context, req FetchRequest) *Promise {
	return webapi.Fetch(ctx, r.scope, r.engine.client, req)
}

// Tee splits h into two branches.
func (r *Realm) Tee(h *Handle, cloneForBranch2 bool) (*stream.TeeController, error) {
	return stream.Tee(h, cloneForBranch2)
}

// Expose makes h visible to script as globalThis[global].
func (r *Realm) Expose(h *Handle, global string) (int, error) {
	return r.streams.Expose(h, global)
}

// Adopt wraps the script stream expr evaluates to in a native handle.
func (r *Realm) Adopt(expr string) (*Handle, error) {
	return r.streams.Adopt(expr)
}

// Close tears the realm down: queued stream tasks are cancelled, live
// controllers released and the runtime freed. It is safe to call twice.
func (r *Realm) Close() {
	r.closeOnce.Do(func() {
		r.scope.Shutdown()
		r.loop.Close()
		r.rt.Close()
		r.engine.realms.Delete(r.id)
		r.logger.Debug("realm closed")
	})
}
