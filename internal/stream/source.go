package stream

// SourceKind names where a native stream's bytes come from.
type SourceKind int

const (
	KindMemory SourceKind = iota
	KindBlob
	KindFetchResponse
	KindFetchRequest
)

func (k SourceKind) String() string {
	switch k {
	case KindMemory:
		return "memory"
	case KindBlob:
		return "blob"
	case KindFetchResponse:
		return "fetch-response"
	case KindFetchRequest:
		return "fetch-request"
	}
	return "unknown"
}

// ExternalSource describes the producer behind a SourceController. It is
// consumed once, when the controller is built.
type ExternalSource struct {
	kind SourceKind
	data []byte
	size int
}

// MemorySource seeds the controller with b. The slice is copied.
func MemorySource(b []byte) ExternalSource {
	return ExternalSource{kind: KindMemory, data: b, size: len(b)}
}

// BlobSource reserves room for a blob of expectedSize bytes that will be
// pushed in later.
func BlobSource(expectedSize int) ExternalSource {
	return ExternalSource{kind: KindBlob, size: expectedSize}
}

// FetchResponseSource starts empty; bytes arrive from a network response.
func FetchResponseSource() ExternalSource { return ExternalSource{kind: KindFetchResponse} }

// FetchRequestSource starts empty; bytes arrive from an outgoing request body.
func FetchRequestSource() ExternalSource { return ExternalSource{kind: KindFetchRequest} }

// Kind reports the source variant.
func (s ExternalSource) Kind() SourceKind { return s.kind }

// Size is the seeded length for memory sources and the expected length for
// blobs. It is zero for fetch sources.
func (s ExternalSource) Size() int { return s.size }
