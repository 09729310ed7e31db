package compression

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/s2"
)

// s2MagicChunk is the framed-stream identifier chunk klauspost/compress/s2
// writes at the start of every stream: chunk type 0xff, 3-byte length
// 0x06 0x00 0x00, body "S2sTwO".
var s2MagicChunk = []byte{0xff, 0x06, 0x00, 0x00, 'S', '2', 's', 'T', 'w', 'O'}

// lz77Compressor wraps klauspost/compress/s2, an LZ77-family codec
// compatible with the Snappy framing format.
type lz77Compressor struct{}

func (lz77Compressor) Algorithm() Algorithm { return LZ77 }

func (lz77Compressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	opts := []s2.WriterOption{}
	if level <= 0 {
		opts = append(opts, s2.WriterBestSpeed())
	} else if level >= 7 {
		opts = append(opts, s2.WriterBestCompression())
	}
	w := s2.NewWriter(&buf, opts...)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz77Compressor) Decompress(data []byte) ([]byte, error) {
	if !(lz77Compressor{}).IsCompressed(data) {
		return nil, invalidData("not an s2/lz77 stream")
	}
	r := s2.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, invalidDataErr(err)
	}
	return out, nil
}

func (lz77Compressor) IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, s2MagicChunk)
}
