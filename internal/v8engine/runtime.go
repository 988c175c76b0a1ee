//go:build v8

// Package v8engine hosts script-visible streams on V8.
package v8engine

import (
	"fmt"
	"reflect"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/nativestream/internal/core"
)

// Runtime implements core.JSRuntime on one V8 isolate and context.
type Runtime struct {
	iso *v8.Isolate
	ctx *v8.Context
}

var _ core.JSRuntime = (*Runtime)(nil)
var _ core.BinaryTransferer = (*Runtime)(nil)

// New creates an isolate with a fresh context. A positive memoryLimitMB
// caps the heap.
func New(memoryLimitMB int) (*Runtime, error) {
	var iso *v8.Isolate
	if memoryLimitMB > 0 {
		heap := uint64(memoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heap/2, heap))
	} else {
		iso = v8.NewIsolate()
	}
	return &Runtime{iso: iso, ctx: v8.NewContext(iso)}, nil
}

func (r *Runtime) Eval(js string) error {
	_, err := r.ctx.RunScript(js, "eval.js")
	return err
}

func (r *Runtime) EvalString(js string) (string, error) {
	val, err := r.ctx.RunScript(js, "eval_string.js")
	if err != nil || val == nil {
		return "", err
	}
	return val.String(), nil
}

func (r *Runtime) EvalBool(js string) (bool, error) {
	val, err := r.ctx.RunScript(js, "eval_bool.js")
	if err != nil || val == nil {
		return false, err
	}
	return val.Boolean(), nil
}

func (r *Runtime) EvalInt(js string) (int, error) {
	val, err := r.ctx.RunScript(js, "eval_int.js")
	if err != nil || val == nil {
		return 0, err
	}
	return int(val.Integer()), nil
}

// RegisterFunc exposes fn as a global function. Arguments may be string,
// int, int64, float64 or bool; fn may return nothing, T, or (T, error), in
// which case a non-nil error is thrown.
func (r *Runtime) RegisterFunc(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("RegisterFunc: expected function, got %T", fn)
	}

	tmpl := v8.NewFunctionTemplate(r.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < fnType.NumIn() {
			return r.throw(fmt.Sprintf("%s requires %d argument(s), got %d", name, fnType.NumIn(), len(args)))
		}
		goArgs := make([]reflect.Value, fnType.NumIn())
		for i := range goArgs {
			goArgs[i] = jsToGoArg(args[i], fnType.In(i))
		}
		results := fnVal.Call(goArgs)
		switch fnType.NumOut() {
		case 1:
			return goToJSValue(r.iso, results[0])
		case 2:
			if errVal := results[1]; !errVal.IsNil() {
				return r.throw(fmt.Sprintf("calling %s: %s", name, errVal.Interface().(error).Error()))
			}
			return goToJSValue(r.iso, results[0])
		}
		return nil
	})
	return r.ctx.Global().Set(name, tmpl.GetFunction(r.ctx))
}

func (r *Runtime) throw(msg string) *v8.Value {
	jsMsg, _ := v8.NewValue(r.iso, msg)
	r.iso.ThrowException(jsMsg)
	return nil
}

// RunMicrotasks pumps the V8 microtask queue.
func (r *Runtime) RunMicrotasks() {
	r.ctx.PerformMicrotaskCheckpoint()
}

// Close disposes the context and isolate.
func (r *Runtime) Close() {
	r.ctx.Close()
	r.iso.Dispose()
}

// ReadBinaryFromJS copies the ArrayBuffer at globalName through a
// SharedArrayBuffer and deletes the global.
func (r *Runtime) ReadBinaryFromJS(globalName string) ([]byte, error) {
	if _, err := r.ctx.RunScript(fmt.Sprintf(`(function() {
		var buf = globalThis[%q];
		delete globalThis[%q];
		var n = buf ? buf.byteLength : 0;
		var sab = new SharedArrayBuffer(n);
		if (n > 0) new Uint8Array(sab).set(new Uint8Array(buf));
		globalThis.__tmp_read_sab = sab;
	})()`, globalName, globalName), "sab_read.js"); err != nil {
		return nil, fmt.Errorf("staging %s: %w", globalName, err)
	}
	defer func() { _, _ = r.ctx.RunScript("delete globalThis.__tmp_read_sab;", "sab_read_cleanup.js") }()

	sabVal, err := r.ctx.Global().Get("__tmp_read_sab")
	if err != nil {
		return nil, fmt.Errorf("retrieving %s: %w", globalName, err)
	}
	data, release, err := sabVal.SharedArrayBufferGetContents()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", globalName, err)
	}
	defer release()
	if len(data) == 0 {
		return nil, nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteBinaryToJS stores a copy of data as an ArrayBuffer at globalName.
func (r *Runtime) WriteBinaryToJS(globalName string, data []byte) error {
	alloc := fmt.Sprintf("globalThis.__tmp_write_sab = new SharedArrayBuffer(%d);", len(data))
	if _, err := r.ctx.RunScript(alloc, "sab_alloc.js"); err != nil {
		return fmt.Errorf("allocating SharedArrayBuffer: %w", err)
	}
	if len(data) > 0 {
		sabVal, err := r.ctx.Global().Get("__tmp_write_sab")
		if err != nil {
			_, _ = r.ctx.RunScript("delete globalThis.__tmp_write_sab;", "sab_cleanup.js")
			return fmt.Errorf("retrieving SharedArrayBuffer: %w", err)
		}
		sabBytes, release, err := sabVal.SharedArrayBufferGetContents()
		if err != nil {
			_, _ = r.ctx.RunScript("delete globalThis.__tmp_write_sab;", "sab_cleanup.js")
			return fmt.Errorf("getting SharedArrayBuffer contents: %w", err)
		}
		copy(sabBytes, data)
		release()
	}
	_, err := r.ctx.RunScript(fmt.Sprintf(`(function() {
		var sab = globalThis.__tmp_write_sab;
		delete globalThis.__tmp_write_sab;
		var buf = new ArrayBuffer(sab.byteLength);
		new Uint8Array(buf).set(new Uint8Array(sab));
		globalThis[%q] = buf;
	})()`, globalName), "sab_copy.js")
	if err != nil {
		return fmt.Errorf("copying SharedArrayBuffer to ArrayBuffer: %w", err)
	}
	return nil
}

func jsToGoArg(val *v8.Value, t reflect.Type) reflect.Value {
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(val.String())
	case reflect.Int:
		return reflect.ValueOf(int(val.Integer()))
	case reflect.Int64:
		return reflect.ValueOf(val.Integer())
	case reflect.Float64:
		return reflect.ValueOf(val.Number())
	case reflect.Bool:
		return reflect.ValueOf(val.Boolean())
	}
	return reflect.Zero(t)
}

func goToJSValue(iso *v8.Isolate, val reflect.Value) *v8.Value {
	if !val.IsValid() {
		return nil
	}
	var (
		v   *v8.Value
		err error
	)
	switch val.Kind() {
	case reflect.String:
		v, err = v8.NewValue(iso, val.String())
	case reflect.Int, reflect.Int64, reflect.Int32:
		v, err = v8.NewValue(iso, int32(val.Int()))
	case reflect.Float64, reflect.Float32:
		v, err = v8.NewValue(iso, val.Float())
	case reflect.Bool:
		v, err = v8.NewValue(iso, val.Bool())
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	return v
}
