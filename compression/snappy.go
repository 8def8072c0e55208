package compression

// Brokers expect the xerial framing on snappy-compressed batches (the
// framing the Java snappy library adds). go-xerial-snappy handles both
// framed and raw input on decode.
import snappy "github.com/eapache/go-xerial-snappy"

// SnappyCodec implements the Codec interface.
type SnappyCodec struct{}

func (*SnappyCodec) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(data), nil
}

func (*SnappyCodec) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(data)
}

func (*SnappyCodec) Type() int16 { return Snappy }
