package source

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Decoder turns raw partition bytes into JSON, decompressing zstd files.
type Decoder struct {
	zstdDecoder *zstd.Decoder
}

// NewDecoder creates a decoder. DecodeAll on the result is safe for concurrent use.
func NewDecoder() (*Decoder, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Decoder{zstdDecoder: dec}, nil
}

// Close releases decoder resources.
func (d *Decoder) Close() {
	if d.zstdDecoder != nil {
		d.zstdDecoder.Close()
	}
}

// Decode returns data unchanged unless compressed is set.
func (d *Decoder) Decode(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	out, err := d.zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}
