package body

import (
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/stream"
)

// Type selects the package-data algorithm run on a consumed body.
type Type int

const (
	TypeText Type = iota
	TypeJSON
	TypeBlob
	TypeFormData
	TypeArrayBuffer
)

func (t Type) String() string {
	switch t {
	case TypeJSON:
		return "json"
	case TypeBlob:
		return "blob"
	case TypeFormData:
		return "formdata"
	case TypeArrayBuffer:
		return "arraybuffer"
	}
	return "text"
}

var accumulators bytebufferpool.Pool

// Consume reads h to the end and packages the bytes as bodyType. The promise
// fulfills with a string (text), any (json), *Blob, *FormData or []byte
// (arraybuffer). A nil h is an empty body. A disturbed or locked stream
// rejects with core.ErrDisturbedOrLocked.
func Consume(scope *stream.Scope, h *stream.Handle, bodyType Type, mimeType string) *core.Promise {
	p := core.NewPromise(scope.Loop)
	finish := func(data []byte) {
		v, err := PackageData(data, bodyType, mimeType)
		if err != nil {
			reject(scope, p, bodyType, err)
			return
		}
		scope.Metrics.BodyConsumed(bodyType.String(), "ok")
		p.Resolve(v)
	}
	if h == nil {
		finish(nil)
		return p
	}
	if h.IsDisturbed() || h.IsLocked() {
		reject(scope, p, bodyType, core.ErrDisturbedOrLocked)
		return p
	}
	if err := h.StartReading(); err != nil {
		reject(scope, p, bodyType, err)
		return p
	}

	acc := accumulators.Get()
	var step func()
	step = func() {
		h.ReadAChunk().Then(func(v any) {
			res, _ := v.(core.ReadResult)
			if res.Done {
				h.StopReading()
				data := append([]byte(nil), acc.B...)
				accumulators.Put(acc)
				finish(data)
				return
			}
			chunk, ok := res.Value.([]byte)
			if !ok {
				h.StopReading()
				accumulators.Put(acc)
				reject(scope, p, bodyType, core.NewTypeError("body chunk is %T, not a byte sequence", res.Value))
				return
			}
			_, _ = acc.Write(chunk)
			step()
		}, func(err error) {
			h.StopReading()
			accumulators.Put(acc)
			reject(scope, p, bodyType, err)
		})
	}
	step()
	return p
}

func reject(scope *stream.Scope, p *core.Promise, bodyType Type, err error) {
	scope.Metrics.BodyConsumed(bodyType.String(), "error")
	scope.Logger.Debug("consume body failed", zap.Stringer("type", bodyType), zap.Error(err))
	p.Reject(err)
}
