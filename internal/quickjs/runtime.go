//go:build !v8

// Package quickjs hosts script-visible streams on QuickJS.
package quickjs

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"

	"github.com/cryguy/nativestream/internal/core"
)

// Runtime implements core.JSRuntime for one QuickJS VM.
type Runtime struct {
	vm  *quickjs.VM
	tls *libc.TLS // from VM internals, for direct C API access
	ctx uintptr   // JSContext pointer

	// Set when the VM layout could not be read; binary transfer then goes
	// through JSON instead of the C API.
	useFallback bool
}

var _ core.JSRuntime = (*Runtime)(nil)
var _ core.BinaryTransferer = (*Runtime)(nil)

// New creates a VM. A positive memoryLimitMB caps its heap.
func New(memoryLimitMB int) (*Runtime, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if memoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(memoryLimitMB) * 1024 * 1024)
	}
	r := &Runtime{vm: vm}
	if err := r.extractInternals(); err != nil {
		r.useFallback = true
	}
	return r, nil
}

func (r *Runtime) Eval(js string) error {
	v, err := r.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

func (r *Runtime) EvalString(js string) (string, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil || result == nil {
		return "", err
	}
	return fmt.Sprint(result), nil
}

func (r *Runtime) EvalBool(js string) (bool, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", result)
	}
	return b, nil
}

func (r *Runtime) EvalInt(js string) (int, error) {
	result, err := r.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return 0, err
	}
	switch v := result.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	}
	return 0, fmt.Errorf("expected int, got %T", result)
}

// RegisterFunc exposes fn as a global function. The Go wrapper hands
// multi-value returns to JS as arrays, so (T, error) results are unwrapped
// here: T on success, a thrown TypeError otherwise.
func (r *Runtime) RegisterFunc(name string, fn any) error {
	rawName := "__raw_" + name
	if err := r.vm.RegisterFunc(rawName, fn, false); err != nil {
		return err
	}
	return r.Eval(fmt.Sprintf(`(function() {
		var raw = globalThis[%q];
		globalThis[%q] = function() {
			var r = raw.apply(this, arguments);
			if (Array.isArray(r)) {
				if (r[1] !== null && r[1] !== undefined) throw new TypeError("calling %s: " + r[1]);
				return r[0];
			}
			return r;
		};
		delete globalThis[%q];
	})()`, rawName, name, name, rawName))
}

// RunMicrotasks drains the QuickJS job queue.
func (r *Runtime) RunMicrotasks() {
	executePendingJobs(r.vm)
}

// Close frees the VM.
func (r *Runtime) Close() {
	r.vm.Close()
}

// extractInternals caches the VM's TLS and context pointers.
func (r *Runtime) extractInternals() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic extracting VM internals: %v", p)
		}
	}()
	vmPtr := uintptr(unsafe.Pointer(r.vm))
	// cContext is the first field of VM.
	r.ctx = *(*uintptr)(unsafe.Pointer(vmPtr))
	if r.ctx == 0 {
		return fmt.Errorf("JSContext is nil")
	}
	_, tls, ok := extractRuntime(r.vm)
	if !ok {
		return fmt.Errorf("quickjs.VM runtime layout not recognised")
	}
	r.tls = tls
	return nil
}

// WriteBinaryToJS stores a copy of data as an ArrayBuffer at globalName
// with a single JS_NewArrayBufferCopy.
func (r *Runtime) WriteBinaryToJS(globalName string, data []byte) error {
	if len(data) == 0 {
		return r.Eval(fmt.Sprintf("globalThis[%q] = new ArrayBuffer(0);", globalName))
	}
	if r.useFallback {
		return r.writeBinaryJSON(globalName, data)
	}
	jsVal := lib.XJS_NewArrayBufferCopy(r.tls, r.ctx, uintptr(unsafe.Pointer(&data[0])), lib.Tsize_t(len(data)))
	cName, err := libc.CString(globalName)
	if err != nil {
		lib.XFreeValue(r.tls, r.ctx, jsVal)
		return fmt.Errorf("allocating property name: %w", err)
	}
	glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
	// JS_SetPropertyStr takes ownership of jsVal.
	ret := lib.XJS_SetPropertyStr(r.tls, r.ctx, glob, cName, jsVal)
	lib.XFreeValue(r.tls, r.ctx, glob)
	libc.Xfree(r.tls, cName)
	if ret < 0 {
		return fmt.Errorf("setting global %q", globalName)
	}
	return nil
}

// ReadBinaryFromJS copies the ArrayBuffer at globalName and deletes the
// global.
func (r *Runtime) ReadBinaryFromJS(globalName string) ([]byte, error) {
	if r.useFallback {
		return r.readBinaryJSON(globalName)
	}
	cName, err := libc.CString(globalName)
	if err != nil {
		return nil, fmt.Errorf("allocating property name: %w", err)
	}
	glob := lib.XJS_GetGlobalObject(r.tls, r.ctx)
	jsVal := lib.XJS_GetPropertyStr(r.tls, r.ctx, glob, cName)
	lib.XFreeValue(r.tls, r.ctx, glob)
	libc.Xfree(r.tls, cName)
	defer func() { _ = r.Eval(fmt.Sprintf("delete globalThis[%q];", globalName)) }()

	var size lib.Tsize_t
	ptr := lib.XJS_GetArrayBuffer(r.tls, r.ctx, uintptr(unsafe.Pointer(&size)), jsVal)
	defer lib.XFreeValue(r.tls, r.ctx, jsVal)
	if ptr == 0 || size == 0 {
		return nil, nil
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size))
	return out, nil
}

func (r *Runtime) writeBinaryJSON(globalName string, data []byte) error {
	var sb strings.Builder
	sb.Grow(len(data) * 4)
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprint(&sb, b)
	}
	return r.Eval(fmt.Sprintf("globalThis[%q] = new Uint8Array([%s]).buffer;", globalName, sb.String()))
}

func (r *Runtime) readBinaryJSON(globalName string) ([]byte, error) {
	s, err := r.EvalString(fmt.Sprintf(`(function() {
		var b = globalThis[%q];
		delete globalThis[%q];
		return JSON.stringify(b ? Array.from(new Uint8Array(b)) : []);
	})()`, globalName, globalName))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", globalName, err)
	}
	var ints []int
	if err := json.Unmarshal([]byte(s), &ints); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", globalName, err)
	}
	if len(ints) == 0 {
		return nil, nil
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		out[i] = byte(v)
	}
	return out, nil
}

// executePendingJobs runs queued promise jobs. The Go wrapper never calls
// JS_ExecutePendingJob itself, so .then callbacks would otherwise not fire.
func executePendingJobs(vm *quickjs.VM) int {
	rt, tls, ok := extractRuntime(vm)
	if !ok {
		return 0
	}
	count := 0
	for lib.XJS_ExecutePendingJob(tls, rt, 0) > 0 {
		count++
	}
	return count
}

// extractRuntime reads the unexported runtime of a VM:
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func extractRuntime(vm *quickjs.VM) (cRuntime uintptr, tls *libc.TLS, ok bool) {
	rtField := reflect.ValueOf(vm).Elem().FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return 0, nil, false
	}
	rtVal := reflect.NewAt(rtField.Type().Elem(), unsafe.Pointer(rtField.Pointer())).Elem()
	cRuntimeField := rtVal.FieldByName("cRuntime")
	tlsField := rtVal.FieldByName("tls")
	if !cRuntimeField.IsValid() || !tlsField.IsValid() || tlsField.IsNil() {
		return 0, nil, false
	}
	return uintptr(cRuntimeField.Uint()), (*libc.TLS)(unsafe.Pointer(tlsField.Pointer())), true
}
