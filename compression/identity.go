package compression

// identityCompressor passes bytes through unchanged.
type identityCompressor struct{}

func (identityCompressor) Algorithm() Algorithm { return Identity }

func (identityCompressor) Compress(data []byte, _ int) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (identityCompressor) Decompress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// IsCompressed always reports false: identity is never sniffed, it is
// only ever selected explicitly or as the fallback when no other codec
// claims the bytes.
func (identityCompressor) IsCompressed(_ []byte) bool { return false }
