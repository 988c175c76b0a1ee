//go:build v8

package nativestream

import (
	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/v8engine"
)

func newRuntime(memoryLimitMB int) (core.JSRuntime, error) {
	return v8engine.New(memoryLimitMB)
}
