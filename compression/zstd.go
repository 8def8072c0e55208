package compression

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdCodec implements the Codec interface. Encoder and decoder are created
// once and reused; EncodeAll/DecodeAll are safe for concurrent use.
type ZstdCodec struct {
	once sync.Once
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

func (c *ZstdCodec) init() {
	c.enc, _ = zstd.NewWriter(nil)
	c.dec, _ = zstd.NewReader(nil)
}

func (c *ZstdCodec) Compress(data []byte) ([]byte, error) {
	c.once.Do(c.init)
	return c.enc.EncodeAll(data, nil), nil
}

func (c *ZstdCodec) Decompress(data []byte) ([]byte, error) {
	c.once.Do(c.init)
	return c.dec.DecodeAll(data, nil)
}

func (c *ZstdCodec) Type() int16 { return Zstd }
