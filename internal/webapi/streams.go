package webapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/stream"
)

// nativeStreamsJS defines NativeReadableStream, the script-side view of a
// stream handle, plus the hooks Go uses to settle its promises.
const nativeStreamsJS = `
(function() {
var reads = {};
var cancels = {};
var nextCancel = 1;

function settle(map, id) {
	var q = map[id];
	if (!q || q.length === 0) return null;
	var p = q.shift();
	if (q.length === 0) delete map[id];
	return p;
}

class NativeReadableStreamDefaultReader {
	constructor(stream) {
		if (stream._locked) throw new TypeError('ReadableStream is already locked');
		__nsStartReading(stream._id);
		this._stream = stream;
		stream._locked = true;
		var self = this;
		this._closedPromise = new Promise(function(resolve, reject) {
			self._closedResolve = resolve;
			self._closedReject = reject;
		});
	}
	read() {
		var s = this._stream;
		if (!s) return Promise.reject(new TypeError('reader has been released'));
		var self = this;
		return new Promise(function(resolve, reject) {
			(reads[s._id] = reads[s._id] || []).push({
				resolve: function(r) { if (r.done) self._closedResolve(); resolve(r); },
				reject: function(e) { self._closedReject(e); reject(e); }
			});
			__nsRead(s._id);
		});
	}
	releaseLock() {
		var s = this._stream;
		if (!s) return;
		__nsStopReading(s._id);
		s._locked = false;
		this._stream = null;
	}
	cancel(reason) {
		var s = this._stream;
		if (!s) return Promise.reject(new TypeError('reader has been released'));
		return s._cancel(reason);
	}
	get closed() { return this._closedPromise; }
}

class NativeReadableStream {
	constructor(id) {
		this._id = id;
		this._locked = false;
	}
	get locked() { return this._locked; }
	getReader() { return new NativeReadableStreamDefaultReader(this); }
	cancel(reason) {
		if (this._locked) return Promise.reject(new TypeError('Cannot cancel a locked stream'));
		return this._cancel(reason);
	}
	_cancel(reason) {
		var id = this._id;
		var key = nextCancel++;
		return new Promise(function(resolve, reject) {
			cancels[key] = { resolve: resolve, reject: reject };
			__nsCancel(id, key, reason === undefined ? '' : String(reason));
		});
	}
	async *[Symbol.asyncIterator]() {
		var reader = this.getReader();
		try {
			for (;;) {
				var r = await reader.read();
				if (r.done) return;
				yield r.value;
			}
		} finally {
			reader.releaseLock();
		}
	}
}

globalThis.NativeReadableStream = NativeReadableStream;
globalThis.__nativeStreams = {};

globalThis.__nsDeliver = function(id, kind, text) {
	var p = settle(reads, id);
	if (!p) return;
	if (kind === 'done') { p.resolve({ value: undefined, done: true }); return; }
	var value;
	if (kind === 'bytes') {
		value = new Uint8Array(globalThis.__ns_out);
		delete globalThis.__ns_out;
	} else {
		value = JSON.parse(text);
	}
	p.resolve({ value: value, done: false });
};
globalThis.__nsFail = function(id, msg) {
	var p = settle(reads, id);
	if (p) p.reject(new TypeError(msg));
};
globalThis.__nsCancelled = function(key, msg) {
	var p = cancels[key];
	delete cancels[key];
	if (!p) return;
	if (msg) p.reject(new TypeError(msg)); else p.resolve();
};

// Script streams adopted by Go, pulled one chunk at a time.
var adopted = {};
globalThis.__nsAdopt = function(id, stream) {
	adopted[id] = stream.getReader();
};
globalThis.__nsPullScript = function(id) {
	var reader = adopted[id];
	if (!reader) { __nsScriptError(id, 'stream was not adopted'); return; }
	reader.read().then(function(r) {
		if (r.done) { delete adopted[id]; __nsScriptDone(id); return; }
		var v = r.value;
		if (v instanceof ArrayBuffer || ArrayBuffer.isView(v)) {
			var view = v instanceof ArrayBuffer ? new Uint8Array(v) : new Uint8Array(v.buffer, v.byteOffset, v.byteLength);
			globalThis.__ns_in = view.slice().buffer;
			__nsScriptChunk(id, 'bytes', '');
		} else {
			__nsScriptChunk(id, 'json', JSON.stringify(v === undefined ? null : v));
		}
	}, function(e) {
		delete adopted[id];
		__nsScriptError(id, String(e && e.message !== undefined ? e.message : e));
	});
};
globalThis.__nsCancelScript = function(id, reason) {
	var reader = adopted[id];
	delete adopted[id];
	if (reader) reader.cancel(reason);
};
})();
`

// NativeStreams binds stream handles into one JS runtime. All methods run on
// the scope's loop goroutine, which also owns the runtime.
type NativeStreams struct {
	rt    core.JSRuntime
	bt    core.BinaryTransferer
	scope *stream.Scope

	handles map[int]*stream.Handle
	readers map[int]core.Reader
	sources map[int]*jsSource
	next    int
}

// SetupNativeStreams installs NativeReadableStream and its Go hooks in rt.
// rt must implement core.BinaryTransferer.
func SetupNativeStreams(rt core.JSRuntime, scope *stream.Scope) (*NativeStreams, error) {
	bt, ok := rt.(core.BinaryTransferer)
	if !ok {
		return nil, fmt.Errorf("native streams: runtime %T cannot transfer binary data", rt)
	}
	ns := &NativeStreams{
		rt:      rt,
		bt:      bt,
		scope:   scope,
		handles: make(map[int]*stream.Handle),
		readers: make(map[int]core.Reader),
		sources: make(map[int]*jsSource),
	}
	funcs := map[string]any{
		"__nsStartReading": ns.startReading,
		"__nsRead":         ns.read,
		"__nsStopReading":  ns.stopReading,
		"__nsCancel":       ns.cancel,
		"__nsScriptChunk":  ns.scriptChunk,
		"__nsScriptDone":   ns.scriptDone,
		"__nsScriptError":  ns.scriptError,
	}
	for name, fn := range funcs {
		if err := rt.RegisterFunc(name, fn); err != nil {
			return nil, fmt.Errorf("registering %s: %w", name, err)
		}
	}
	if err := rt.Eval(nativeStreamsJS); err != nil {
		return nil, fmt.Errorf("installing native streams: %w", err)
	}
	return ns, nil
}

// Expose makes h reachable from script as globalThis[global], a
// NativeReadableStream, and returns its binding id.
func (ns *NativeStreams) Expose(h *stream.Handle, global string) (int, error) {
	ns.next++
	id := ns.next
	ns.handles[id] = h
	js := fmt.Sprintf("globalThis[%q] = globalThis.__nativeStreams[%d] = new NativeReadableStream(%d);", global, id, id)
	if err := ns.rt.Eval(js); err != nil {
		delete(ns.handles, id)
		return 0, fmt.Errorf("exposing stream: %w", err)
	}
	return id, nil
}

// Forget drops the binding id. The script object stays but can no longer
// reach the handle.
func (ns *NativeStreams) Forget(id int) {
	delete(ns.handles, id)
	delete(ns.readers, id)
	_ = ns.rt.Eval(fmt.Sprintf("delete globalThis.__nativeStreams[%d];", id))
}

func (ns *NativeStreams) handle(id int) (*stream.Handle, error) {
	h, ok := ns.handles[id]
	if !ok {
		return nil, fmt.Errorf("unknown native stream %d", id)
	}
	return h, nil
}

func (ns *NativeStreams) startReading(id int) (string, error) {
	h, err := ns.handle(id)
	if err != nil {
		return "", err
	}
	r, err := h.Primitive().GetReader()
	if err != nil {
		return "", err
	}
	ns.readers[id] = r
	return "", nil
}

func (ns *NativeStreams) read(id int) (string, error) {
	r, ok := ns.readers[id]
	if !ok {
		return "", core.NewTypeError("reader has been released")
	}
	r.Read().Then(func(v any) {
		ns.deliver(id, v.(core.ReadResult))
	}, func(err error) {
		ns.evalJS(fmt.Sprintf("__nsFail(%d, %s);", id, strconv.Quote(err.Error())))
	})
	return "", nil
}

func (ns *NativeStreams) deliver(id int, res core.ReadResult) {
	if res.Done {
		ns.evalJS(fmt.Sprintf("__nsDeliver(%d, 'done', '');", id))
		return
	}
	if b, ok := res.Value.([]byte); ok {
		if err := ns.bt.WriteBinaryToJS("__ns_out", b); err != nil {
			ns.evalJS(fmt.Sprintf("__nsFail(%d, %s);", id, strconv.Quote(err.Error())))
			return
		}
		ns.evalJS(fmt.Sprintf("__nsDeliver(%d, 'bytes', '');", id))
		return
	}
	data, err := json.Marshal(res.Value)
	if err != nil {
		ns.evalJS(fmt.Sprintf("__nsFail(%d, %s);", id, strconv.Quote(err.Error())))
		return
	}
	ns.evalJS(fmt.Sprintf("__nsDeliver(%d, 'json', %s);", id, strconv.Quote(string(data))))
}

func (ns *NativeStreams) stopReading(id int) (string, error) {
	if r, ok := ns.readers[id]; ok {
		delete(ns.readers, id)
		r.ReleaseLock()
	}
	return "", nil
}

func (ns *NativeStreams) cancel(id, key int, reason string) (string, error) {
	h, err := ns.handle(id)
	if err != nil {
		return "", err
	}
	var cause error
	if reason != "" {
		cause = errors.New(reason)
	}
	var p *core.Promise
	if r, ok := ns.readers[id]; ok {
		p = r.Cancel(cause)
	} else {
		p = h.Cancel(cause)
	}
	p.Then(func(any) {
		ns.evalJS(fmt.Sprintf("__nsCancelled(%d, '');", key))
	}, func(err error) {
		ns.evalJS(fmt.Sprintf("__nsCancelled(%d, %s);", key, strconv.Quote(err.Error())))
	})
	return "", nil
}

// evalJS runs script glue and pumps the engine's own job queue so promise
// reactions reach script code.
func (ns *NativeStreams) evalJS(js string) {
	if err := ns.rt.Eval(js); err != nil {
		ns.scope.Logger.Warn("native stream callback failed", zap.Error(err))
	}
	ns.rt.RunMicrotasks()
}

// Adopt wraps the script ReadableStream that expr evaluates to in a native
// handle. The script stream is locked to an internal reader and pulled one
// chunk per native demand; byte chunks arrive as []byte, anything else as
// its JSON value.
func (ns *NativeStreams) Adopt(expr string) (*stream.Handle, error) {
	ns.next++
	id := ns.next
	if err := ns.rt.Eval(fmt.Sprintf("__nsAdopt(%d, (%s));", id, expr)); err != nil {
		return nil, fmt.Errorf("adopting script stream: %w", err)
	}
	src := &jsSource{ns: ns, id: id}
	ns.sources[id] = src
	return stream.NewDefault(ns.scope, src), nil
}

// jsSource is the underlying source of an adopted script stream.
type jsSource struct {
	ns      *NativeStreams
	id      int
	ctrl    core.DefaultController
	pending *core.Promise
}

func (s *jsSource) Pull(ctrl core.DefaultController) *core.Promise {
	s.ctrl = ctrl
	s.pending = core.NewPromise(s.ns.scope.Loop)
	p := s.pending
	s.ns.evalJS(fmt.Sprintf("__nsPullScript(%d);", s.id))
	return p
}

func (s *jsSource) Cancel(reason error) *core.Promise {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	delete(s.ns.sources, s.id)
	s.ns.evalJS(fmt.Sprintf("__nsCancelScript(%d, %s);", s.id, strconv.Quote(msg)))
	return nil
}

func (s *jsSource) settle(fn func(core.DefaultController)) {
	if s.ctrl != nil {
		fn(s.ctrl)
	}
	if p := s.pending; p != nil {
		s.pending = nil
		p.Resolve(nil)
	}
}

func (ns *NativeStreams) scriptChunk(id int, kind, text string) (string, error) {
	src, ok := ns.sources[id]
	if !ok {
		return "", nil
	}
	var chunk any
	if kind == "bytes" {
		b, err := ns.bt.ReadBinaryFromJS("__ns_in")
		if err != nil {
			return "", err
		}
		if b == nil {
			b = []byte{}
		}
		chunk = b
	} else if err := json.Unmarshal([]byte(text), &chunk); err != nil {
		return "", err
	}
	src.settle(func(c core.DefaultController) { c.Enqueue(chunk) })
	return "", nil
}

func (ns *NativeStreams) scriptDone(id int) (string, error) {
	if src, ok := ns.sources[id]; ok {
		delete(ns.sources, id)
		src.settle(func(c core.DefaultController) { c.Close() })
	}
	return "", nil
}

func (ns *NativeStreams) scriptError(id int, msg string) (string, error) {
	if src, ok := ns.sources[id]; ok {
		delete(ns.sources, id)
		src.settle(func(c core.DefaultController) { c.Error(errors.New(msg)) })
	}
	return "", nil
}
