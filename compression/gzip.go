package compression

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// GzipCodec implements the Codec interface.
type GzipCodec struct{}

func (*GzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (*GzipCodec) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (*GzipCodec) Type() int16 { return Gzip }
