// Package compression provides the record batch compression codecs. The
// codec used for a batch is recorded in the batch attributes, so a consumer
// can decompress without prior negotiation.
package compression

import (
	"errors"
	"fmt"
)

// Codec types as stored in the low 3 bits of batch attributes.
// https://kafka.apache.org/documentation/#recordbatch
const (
	None int16 = iota
	Gzip
	Snappy
	Lz4
	Zstd
)

// ErrUnsupported means a batch declares a codec this client does not know.
// Decoding such a batch must not be retried.
var ErrUnsupported = errors.New("unsupported compression codec")

// Codec compresses and decompresses record batch payloads. Type is the value
// recorded in the batch attributes.
type Codec interface {
	Compress([]byte) ([]byte, error)
	Decompress([]byte) ([]byte, error)
	Type() int16
}

var codecs = map[int16]Codec{
	None:   &Nop{},
	Gzip:   &GzipCodec{},
	Snappy: &SnappyCodec{},
	Lz4:    &Lz4Codec{},
	Zstd:   &ZstdCodec{},
}

// Get returns the codec for a batch attributes value.
func Get(attributes int16) (Codec, error) {
	typ := attributes & 0b111
	c, ok := codecs[typ]
	if !ok {
		return nil, fmt.Errorf("%w: type %d", ErrUnsupported, typ)
	}
	return c, nil
}

var names = map[string]Codec{
	"none":   &Nop{},
	"gzip":   &GzipCodec{},
	"snappy": &SnappyCodec{},
	"lz4":    &Lz4Codec{},
	"zstd":   &ZstdCodec{},
}

// Parse returns the codec for a configuration string.
func Parse(name string) (Codec, error) {
	c, ok := names[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
	return c, nil
}

// Nop passes bytes through unchanged. Used for uncompressed batches.
type Nop struct{}

func (*Nop) Compress(b []byte) ([]byte, error)   { return b, nil }
func (*Nop) Decompress(b []byte) ([]byte, error) { return b, nil }
func (*Nop) Type() int16                         { return None }
