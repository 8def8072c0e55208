package compression

import (
	"bytes"
	"errors"
	"testing"
)

func allCodecs() []Codec {
	return []Codec{&Nop{}, &GzipCodec{}, &SnappyCodec{}, &Lz4Codec{}, &ZstdCodec{}}
}

func TestUnitRoundtrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox "), 100)
	for _, c := range allCodecs() {
		compressed, err := c.Compress(payload)
		if err != nil {
			t.Fatal(c.Type(), err)
		}
		decompressed, err := c.Decompress(compressed)
		if err != nil {
			t.Fatal(c.Type(), err)
		}
		if !bytes.Equal(payload, decompressed) {
			t.Fatal(c.Type())
		}
	}
}

func TestUnitRoundtripEmpty(t *testing.T) {
	for _, c := range allCodecs() {
		compressed, err := c.Compress([]byte{})
		if err != nil {
			t.Fatal(c.Type(), err)
		}
		decompressed, err := c.Decompress(compressed)
		if err != nil {
			t.Fatal(c.Type(), err)
		}
		if len(decompressed) != 0 {
			t.Fatal(c.Type(), decompressed)
		}
	}
}

func TestUnitGetByAttributes(t *testing.T) {
	for _, c := range allCodecs() {
		// attribute bits beyond the codec mask must be ignored
		got, err := Get(c.Type() | 0b110000)
		if err != nil {
			t.Fatal(err)
		}
		if got.Type() != c.Type() {
			t.Fatal(got.Type(), c.Type())
		}
	}
	if _, err := Get(0b111); !errors.Is(err, ErrUnsupported) {
		t.Fatal(err)
	}
}

func TestUnitParse(t *testing.T) {
	for name, want := range map[string]int16{
		"none":   None,
		"gzip":   Gzip,
		"snappy": Snappy,
		"lz4":    Lz4,
		"zstd":   Zstd,
	} {
		c, err := Parse(name)
		if err != nil {
			t.Fatal(name, err)
		}
		if c.Type() != want {
			t.Fatal(name, c.Type())
		}
	}
	if _, err := Parse("brotli"); !errors.Is(err, ErrUnsupported) {
		t.Fatal("expected error")
	}
}
