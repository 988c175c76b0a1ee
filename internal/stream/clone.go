package stream

import (
	"fmt"

	"github.com/cryguy/nativestream/internal/core"
)

// Cloner returns an independent copy of a chunk or a DataCloneError.
type Cloner func(chunk any) (any, error)

// CloneChunk deep-copies byte slices, scalars, strings, and nested
// []any / map[string]any values. Anything else fails to clone.
func CloneChunk(chunk any) (any, error) {
	switch v := chunk.(type) {
	case nil, bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return v, nil
	case []byte:
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			c, err := CloneChunk(e)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			c, err := CloneChunk(e)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	}
	return nil, &core.DataCloneError{Type: fmt.Sprintf("%T", chunk)}
}
