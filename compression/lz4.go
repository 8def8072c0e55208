package compression

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Lz4Codec implements the Codec interface using the lz4 frame format.
type Lz4Codec struct{}

func (*Lz4Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (*Lz4Codec) Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

func (*Lz4Codec) Type() int16 { return Lz4 }
