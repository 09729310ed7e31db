package compression

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// gzipCompressor wraps a gzip stream, recognized by its 2-byte magic
// header 0x1f 0x8b.
type gzipCompressor struct{}

func (gzipCompressor) Algorithm() Algorithm { return Gzip }

func (gzipCompressor) Compress(data []byte, level int) ([]byte, error) {
	lvl := clampLevel(level, gzip.BestSpeed, gzip.BestCompression, gzip.BestSpeed)
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, lvl)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	if !(gzipCompressor{}).IsCompressed(data) {
		return nil, invalidData("not a gzip stream")
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, invalidDataErr(err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, invalidDataErr(err)
	}
	return out, nil
}

func (gzipCompressor) IsCompressed(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
