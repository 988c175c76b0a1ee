package body

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/unicode"

	"github.com/cryguy/nativestream/internal/core"
)

// PackageData converts consumed body bytes to the value for bodyType.
func PackageData(data []byte, bodyType Type, mimeType string) (any, error) {
	switch bodyType {
	case TypeText:
		return decodeText(data, mimeType)
	case TypeJSON:
		text, err := decodeText(data, "")
		if err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, fmt.Errorf("SyntaxError: %w", err)
		}
		return v, nil
	case TypeBlob:
		return NewBlob(data, mimeType), nil
	case TypeFormData:
		return parseFormData(data, mimeType)
	case TypeArrayBuffer:
		if data == nil {
			data = []byte{}
		}
		return data, nil
	}
	return nil, fmt.Errorf("unknown body type %d", bodyType)
}

// decodeText decodes UTF-8 (dropping a leading BOM, replacing invalid
// sequences). A non-UTF-8 charset parameter on mimeType selects a legacy
// decoder instead.
func decodeText(data []byte, mimeType string) (string, error) {
	if label := charsetOf(mimeType); label != "" && !isUTF8Label(label) {
		r, err := charset.NewReaderLabel(label, bytes.NewReader(data))
		if err == nil {
			out, err := io.ReadAll(r)
			if err != nil {
				return "", fmt.Errorf("decoding %s text: %w", label, err)
			}
			return string(out), nil
		}
	}
	out, err := unicode.UTF8BOM.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decoding text: %w", err)
	}
	return string(out), nil
}

func charsetOf(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(params["charset"]))
}

func isUTF8Label(label string) bool {
	switch label {
	case "utf-8", "utf8", "unicode-1-1-utf-8":
		return true
	}
	return false
}

var errInappropriateMIME = core.NewTypeError("Inappropriate MIME-type for Body")

func parseFormData(data []byte, mimeType string) (*FormData, error) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return nil, errInappropriateMIME
	}
	switch mediaType {
	case "application/x-www-form-urlencoded":
		fd := &FormData{}
		for _, kv := range ParseURLEncoded(string(data)) {
			fd.Append(kv.Name, kv.Value)
		}
		return fd, nil
	case "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return nil, errInappropriateMIME
		}
		return parseMultipart(data, boundary)
	}
	return nil, errInappropriateMIME
}

func parseMultipart(data []byte, boundary string) (*FormData, error) {
	fd := &FormData{}
	mr := multipart.NewReader(bytes.NewReader(data), boundary)
	for {
		part, err := mr.NextPart()
		// A truncated body surfaces as a wrapped EOF; only a bare one ends the form.
		if err == io.EOF {
			return fd, nil
		}
		if err != nil {
			return nil, core.NewTypeError("malformed multipart body: %v", err)
		}
		content, err := io.ReadAll(part)
		if err != nil {
			return nil, core.NewTypeError("malformed multipart body: %v", err)
		}
		name := part.FormName()
		if filename := part.FileName(); filename != "" {
			fd.AppendFile(name, filename, part.Header.Get("Content-Type"), content)
		} else {
			fd.Append(name, string(content))
		}
		_ = part.Close()
	}
}
