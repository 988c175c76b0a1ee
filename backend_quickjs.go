//go:build !v8

package nativestream

import (
	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/quickjs"
)

func newRuntime(memoryLimitMB int) (core.JSRuntime, error) {
	return quickjs.New(memoryLimitMB)
}
