package body

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/cryguy/nativestream/internal/core"
	"github.com/cryguy/nativestream/internal/stream"
)

// Init is a value a body can be extracted from: String, Bytes,
// URLSearchParams, *Blob, *FormData or StreamInit.
type Init interface {
	isBodyInit()
}

// String is a text body, encoded as UTF-8.
type String string

// Bytes is a buffer-source body. Extraction copies it.
type Bytes []byte

// StreamInit wraps an existing stream as a body.
type StreamInit struct {
	Handle *stream.Handle
}

func (String) isBodyInit()          {}
func (Bytes) isBodyInit()           {}
func (URLSearchParams) isBodyInit() {}
func (*Blob) isBodyInit()           {}
func (*FormData) isBodyInit()       {}
func (StreamInit) isBodyInit()      {}

// Param is one name/value pair of a URLSearchParams list.
type Param struct {
	Name, Value string
}

// URLSearchParams is an ordered list of query parameters.
type URLSearchParams []Param

// Encode serializes the list as application/x-www-form-urlencoded.
func (p URLSearchParams) Encode() string {
	var sb strings.Builder
	for i, kv := range p {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(kv.Name))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(kv.Value))
	}
	return sb.String()
}

// ParseURLEncoded parses an application/x-www-form-urlencoded payload,
// keeping entry order. Malformed escapes are kept literally.
func ParseURLEncoded(s string) URLSearchParams {
	var out URLSearchParams
	for _, part := range strings.Split(s, "&") {
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		out = append(out, Param{Name: unescape(name), Value: unescape(value)})
	}
	return out
}

func unescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return strings.ReplaceAll(s, "+", " ")
}

// Blob is immutable binary data with a MIME type. Its bytes live either in
// memory or in a core.BlobStore under a key.
type Blob struct {
	typ   string
	data  []byte
	store core.BlobStore
	key   string
	size  int64
}

// NewBlob returns an in-memory blob. The type is normalized.
func NewBlob(data []byte, typ string) *Blob {
	return &Blob{typ: NormalizeType(typ), data: data, size: int64(len(data))}
}

// StoredBlob refers to size bytes stored under key.
func StoredBlob(store core.BlobStore, key string, size int64, typ string) *Blob {
	return &Blob{typ: NormalizeType(typ), store: store, key: key, size: size}
}

// Type returns the normalized MIME type, possibly empty.
func (b *Blob) Type() string { return b.typ }

// Size returns the blob length in bytes.
func (b *Blob) Size() int64 { return b.size }

// Bytes returns the in-memory contents, or nil for stored blobs.
func (b *Blob) Bytes() []byte { return b.data }

// Stored reports whether the blob is backed by a BlobStore.
func (b *Blob) Stored() bool { return b.store != nil }

// NormalizeType lowercases t, or returns "" if t contains characters outside
// printable ASCII.
func NormalizeType(t string) string {
	for i := 0; i < len(t); i++ {
		if t[i] < 0x20 || t[i] > 0x7e {
			return ""
		}
	}
	return strings.ToLower(t)
}

// FormFile is a file entry of a FormData.
type FormFile struct {
	Filename string
	Type     string
	Data     []byte
}

// FormEntry is one FormData entry; File is nil for plain values.
type FormEntry struct {
	Name  string
	Value string
	File  *FormFile
}

// FormData is an ordered multipart form.
type FormData struct {
	entries []FormEntry
}

// Append adds a string entry.
func (f *FormData) Append(name, value string) {
	f.entries = append(f.entries, FormEntry{Name: name, Value: value})
}

// AppendFile adds a file entry.
func (f *FormData) AppendFile(name, filename, typ string, data []byte) {
	f.entries = append(f.entries, FormEntry{
		Name: name,
		File: &FormFile{Filename: filename, Type: typ, Data: data},
	})
}

// Entries returns the entries in insertion order.
func (f *FormData) Entries() []FormEntry { return f.entries }

// Get returns the first string value named name.
func (f *FormData) Get(name string) (string, bool) {
	for _, e := range f.entries {
		if e.Name == name && e.File == nil {
			return e.Value, true
		}
	}
	return "", false
}

func newBoundary() string {
	return "----NativeStreamBoundary" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// encodeMultipart writes f as multipart/form-data with the given boundary.
func encodeMultipart(f *FormData, boundary string) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(boundary); err != nil {
		return nil, fmt.Errorf("setting multipart boundary: %w", err)
	}
	for _, e := range f.entries {
		if e.File == nil {
			if err := w.WriteField(e.Name, e.Value); err != nil {
				return nil, fmt.Errorf("writing form field %q: %w", e.Name, err)
			}
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(e.Name), escapeQuotes(e.File.Filename)))
		typ := e.File.Type
		if typ == "" {
			typ = "application/octet-stream"
		}
		h.Set("Content-Type", typ)
		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("creating form file %q: %w", e.Name, err)
		}
		if _, err := pw.Write(e.File.Data); err != nil {
			return nil, fmt.Errorf("writing form file %q: %w", e.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}
	return buf.Bytes(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "%22", "\n", "%0A", "\r", "%0D")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
