package core

// JSRuntime abstracts the JavaScript engine (QuickJS or V8) that hosts
// script-visible streams. All calls must happen on the goroutine that owns
// the realm the runtime belongs to.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// EvalInt evaluates JavaScript and returns the result as a Go int.
	EvalInt(js string) (int, error)

	// RegisterFunc registers a Go function as a global JavaScript function.
	// Functions returning (T, error) throw a TypeError on error.
	RegisterFunc(name string, fn any) error

	// RunMicrotasks pumps the engine's own microtask queue.
	RunMicrotasks()

	// Close releases the engine.
	Close()
}

// BinaryTransferer moves byte chunks between Go and JS without a string
// round trip. Both backends implement it.
type BinaryTransferer interface {
	// ReadBinaryFromJS reads and deletes the ArrayBuffer stored at the
	// given global.
	ReadBinaryFromJS(globalName string) ([]byte, error)

	// WriteBinaryToJS stores a copy of data as an ArrayBuffer global.
	WriteBinaryToJS(globalName string, data []byte) error
}
