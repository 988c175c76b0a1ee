package webapi

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// decodedBody wraps a response body with its content decoders. Closing it
// releases every decoder and the underlying body.
type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedBody) Close() error {
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// decodeBody undoes the codings listed in a Content-Encoding header, last
// applied first. Unknown codings are passed through untouched.
func decodeBody(rc io.ReadCloser, contentEncoding string, logger *zap.Logger) (*decodedBody, error) {
	d := &decodedBody{Reader: rc, closers: []io.Closer{rc}}
	codings := strings.Split(contentEncoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		switch coding {
		case "", "identity":
		case "gzip", "x-gzip":
			zr, err := gzip.NewReader(d.Reader)
			if err != nil {
				_ = d.Close()
				return nil, fmt.Errorf("gzip decoding: %w", err)
			}
			d.Reader = zr
			d.closers = append(d.closers, zr)
		case "deflate":
			r, err := newDeflateReader(d.Reader)
			if err != nil {
				_ = d.Close()
				return nil, fmt.Errorf("deflate decoding: %w", err)
			}
			d.Reader = r
			d.closers = append(d.closers, r)
		case "br":
			d.Reader = brotli.NewReader(d.Reader)
		case "zstd":
			dec, err := zstd.NewReader(d.Reader)
			if err != nil {
				_ = d.Close()
				return nil, fmt.Errorf("zstd decoding: %w", err)
			}
			d.Reader = dec
			d.closers = append(d.closers, dec.IOReadCloser())
		default:
			logger.Warn("unsupported content coding, passing through", zap.String("coding", coding))
		}
	}
	return d, nil
}

// newDeflateReader accepts both zlib-wrapped and raw deflate streams, since
// servers send either under "deflate".
func newDeflateReader(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	hdr, err := br.Peek(2)
	if err != nil && len(hdr) < 2 {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if isZlibHeader(hdr[0], hdr[1]) {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && cmf>>4 <= 7 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// limitedReader fails with errTooLarge once more than limit bytes are read.
type limitedReader struct {
	r       io.Reader
	limit   int64
	read    int64
	onBytes func(n int)
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.limit > 0 && l.read > l.limit {
		return 0, errTooLarge(l.limit)
	}
	if n > 0 && l.onBytes != nil {
		l.onBytes(n)
	}
	return n, err
}
