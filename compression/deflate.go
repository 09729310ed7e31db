package compression

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
)

// deflateCompressor wraps a zlib stream, recognized by its 2-byte magic
// header (0x78 0x9c | 0x78 0xda | 0x78 0x5e | 0x78 0x01).
type deflateCompressor struct{}

func (deflateCompressor) Algorithm() Algorithm { return Deflate }

func (deflateCompressor) Compress(data []byte, level int) ([]byte, error) {
	lvl := clampLevel(level, zlib.BestSpeed, zlib.BestCompression, zlib.BestSpeed)
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, lvl)
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

func (deflateCompressor) Decompress(data []byte) ([]byte, error) {
	if !(deflateCompressor{}).IsCompressed(data) {
		return nil, invalidData("not a deflate stream")
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
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

func (deflateCompressor) IsCompressed(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	if data[0] != 0x78 {
		return false
	}
	switch data[1] {
	case 0x9c, 0xda, 0x01, 0x5e:
		return true
	default:
		return false
	}
}
