package nativestream

import (
	"github.com/cryguy/nativestream/internal/blobstore"
	"github.com/cryguy/nativestream/internal/body"
	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/stream"
	"github.com/cryguy/nativestream/internal/webapi"
)

// Type aliases re-exporting internal types so callers can build bodies,
// read streams and configure the engine without importing internal
// packages.

type EngineConfig = core.EngineConfig
type LogConfig = core.LogConfig
type BlobStoreConfig = core.BlobStoreConfig
type BlobStore = core.BlobStore
type ClosableBlobStore = blobstore.Store
type JSRuntime = core.JSRuntime
type Promise = core.Promise
type ReadResult = core.ReadResult
type TypeError = core.TypeError

type Handle = stream.Handle
type TeeController = stream.TeeController

type BodyInit = body.Init
type ExtractedBody = body.Extracted
type BodyType = body.Type
type Blob = body.Blob
type FormData = body.FormData
type URLSearchParams = body.URLSearchParams
type Param = body.Param
type StringBody = body.String
type BytesBody = body.Bytes
type StreamBody = body.StreamInit

type FetchRequest = webapi.Request
type FetchResponse = webapi.Response

// Body package types.
const (
	BodyArrayBuffer = body.TypeArrayBuffer
	BodyBlob        = body.TypeBlob
	BodyFormData    = body.TypeFormData
	BodyJSON        = body.TypeJSON
	BodyText        = body.TypeText
)

// Errors re-exported from core.
var (
	ErrLocked            = core.ErrLocked
	ErrDisturbed         = core.ErrDisturbed
	ErrDisturbedOrLocked = core.ErrDisturbedOrLocked
	ErrLoopClosed        = core.ErrLoopClosed
	ErrBlobNotFound      = core.ErrBlobNotFound
	ErrResponseTooLarge  = core.ErrResponseTooLarge
)

// Functions re-exported from internal packages.
var (
	DefaultConfig = core.DefaultConfig
	LoadConfig    = core.LoadConfig
	LoadEnvFile   = core.LoadEnvFile
	NewLogger     = core.NewLogger
	NewBlob       = body.NewBlob
	OpenBlobStore = blobstore.Open
)
