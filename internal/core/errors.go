package core

import (
	"errors"
	"fmt"
)

var (
	// ErrLocked is returned when a reader is requested on a stream that is
	// already locked to another reader.
	ErrLocked = errors.New("stream is locked to a reader")

	// ErrDisturbed is returned when native reading is started on a stream
	// that has already been read from.
	ErrDisturbed = errors.New("stream is disturbed")

	// ErrDisturbedOrLocked is the rejection reason for consuming a body whose
	// stream can no longer be read from start to finish.
	ErrDisturbedOrLocked = &TypeError{Msg: "The response's stream is disturbed or locked"}

	// ErrLoopClosed is returned when a task is queued on a closed event loop.
	ErrLoopClosed = errors.New("event loop is closed")

	// ErrBlobNotFound is returned by blob stores for unknown keys.
	ErrBlobNotFound = errors.New("blob not found")

	// ErrResponseTooLarge is the stream error used when a fetched body exceeds
	// the configured response limit.
	ErrResponseTooLarge = errors.New("response body exceeds limit")
)

// TypeError mirrors the script-visible TypeError raised by stream and body
// operations.
type TypeError struct {
	Msg string
}

func (e *TypeError) Error() string {
	return "TypeError: " + e.Msg
}

// NewTypeError builds a TypeError from a format string.
func NewTypeError(format string, args ...any) error {
	return &TypeError{Msg: fmt.Sprintf(format, args...)}
}

// DataCloneError is returned when a chunk cannot be structurally cloned.
type DataCloneError struct {
	Type string
}

func (e *DataCloneError) Error() string {
	return fmt.Sprintf("DataCloneError: value of type %s could not be cloned", e.Type)
}
