package record

import (
	"bytes"
	"errors"
	"testing"
)

func TestUnitMarshalUnmarshal(t *testing.T) {
	in := New([]byte("k"), []byte("hello"))
	in.OffsetDelta = 3
	in.TimestampDelta = 1500
	b := in.Marshal()
	out, err := Unmarshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Key, []byte("k")) {
		t.Fatal(out.Key)
	}
	if !bytes.Equal(out.Value, []byte("hello")) {
		t.Fatal(out.Value)
	}
	if out.OffsetDelta != 3 || out.TimestampDelta != 1500 {
		t.Fatalf("%+v", out)
	}
}

func TestUnitNullKey(t *testing.T) {
	in := New(nil, []byte("v"))
	if in.KeyLen != 0 {
		t.Fatal(in.KeyLen)
	}
	in.KeyLen = -1 // null, not empty
	out, err := Unmarshal(in.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if out.Key != nil || out.KeyLen != -1 {
		t.Fatalf("%+v", out)
	}
}

func TestUnitHeadersRoundtrip(t *testing.T) {
	in := New([]byte("k"), []byte("v"))
	in.Headers = []Header{
		{Key: "trace-id", Value: []byte("abc123")},
		{Key: "tombstone", Value: nil},
		{Key: "retry", Value: []byte("2")},
	}
	out, err := Unmarshal(in.Marshal())
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Headers) != 3 {
		t.Fatal(len(out.Headers))
	}
	// order is preserved
	if out.Headers[0].Key != "trace-id" || !bytes.Equal(out.Headers[0].Value, []byte("abc123")) {
		t.Fatalf("%+v", out.Headers[0])
	}
	if out.Headers[1].Key != "tombstone" || out.Headers[1].Value != nil {
		t.Fatalf("%+v", out.Headers[1])
	}
	if out.Headers[2].Key != "retry" {
		t.Fatalf("%+v", out.Headers[2])
	}
}

func TestUnitUnmarshalTruncated(t *testing.T) {
	b := New([]byte("key"), []byte("value")).Marshal()
	for i := 0; i < len(b)-1; i++ {
		if _, err := Unmarshal(b[:i]); !errors.Is(err, ErrTruncated) {
			t.Fatal(i, err)
		}
	}
}
