// Package record implements marshaling and unmarshaling of individual
// records within a record batch. Record encoding is varint-heavy and sits on
// the hot path, so it is done inline rather than through package wire.
package record

import (
	"errors"

	"github.com/courier-mq/courier/varint"
)

var ErrTruncated = errors.New("truncated record")

// Header is one (name, value) pair attached to a record. Header order is
// preserved end to end.
type Header struct {
	Key   string
	Value []byte
}

func New(key, value []byte) *Record {
	return &Record{
		KeyLen:   int64(len(key)),
		Key:      key,
		ValueLen: int64(len(value)),
		Value:    value,
	}
}

// Record in batch wire format. KeyLen and ValueLen of -1 mean a null key or
// value (distinct from empty).
type Record struct {
	Len            int64
	Attributes     int8
	TimestampDelta int64
	OffsetDelta    int64
	KeyLen         int64
	Key            []byte
	ValueLen       int64
	Value          []byte
	Headers        []Header
}

func (r *Record) Marshal() []byte {
	var b, c []byte
	buf := make([]byte, 10) // binary.MaxVarintLen64
	b = append(b, byte(r.Attributes))
	b = varint.PutZigZag64(b, buf, r.TimestampDelta)
	b = varint.PutZigZag64(b, buf, r.OffsetDelta)
	b = varint.PutZigZag64(b, buf, r.KeyLen)
	b = append(b, r.Key...)
	b = varint.PutZigZag64(b, buf, r.ValueLen)
	b = append(b, r.Value...)
	b = varint.PutZigZag64(b, buf, int64(len(r.Headers)))
	for _, h := range r.Headers {
		b = varint.PutZigZag64(b, buf, int64(len(h.Key)))
		b = append(b, h.Key...)
		if h.Value == nil {
			b = varint.PutZigZag64(b, buf, -1)
			continue
		}
		b = varint.PutZigZag64(b, buf, int64(len(h.Value)))
		b = append(b, h.Value...)
	}
	c = varint.PutZigZag64(c, buf, int64(len(b)))
	return append(c, b...)
}

func Unmarshal(b []byte) (*Record, error) {
	r := &Record{}
	var n int
	var offset int
	if r.Len, n = varint.DecodeZigZag64(b); n == 0 {
		return nil, ErrTruncated
	}
	offset = n
	if offset >= len(b) {
		return nil, ErrTruncated
	}
	r.Attributes = int8(b[offset])
	offset++
	if r.TimestampDelta, n = varint.DecodeZigZag64(b[offset:]); n == 0 {
		return nil, ErrTruncated
	}
	offset += n
	if r.OffsetDelta, n = varint.DecodeZigZag64(b[offset:]); n == 0 {
		return nil, ErrTruncated
	}
	offset += n
	if r.KeyLen, n = varint.DecodeZigZag64(b[offset:]); n == 0 {
		return nil, ErrTruncated
	}
	offset += n
	if r.KeyLen > 0 {
		if offset+int(r.KeyLen) > len(b) {
			return nil, ErrTruncated
		}
		r.Key = make([]byte, r.KeyLen)
		offset += copy(r.Key, b[offset:])
	}
	if r.ValueLen, n = varint.DecodeZigZag64(b[offset:]); n == 0 {
		return nil, ErrTruncated
	}
	offset += n
	if r.ValueLen > 0 {
		if offset+int(r.ValueLen) > len(b) {
			return nil, ErrTruncated
		}
		r.Value = make([]byte, r.ValueLen)
		offset += copy(r.Value, b[offset:])
	}
	numHeaders, n := varint.DecodeZigZag64(b[offset:])
	if n == 0 {
		return nil, ErrTruncated
	}
	offset += n
	for i := int64(0); i < numHeaders; i++ {
		var h Header
		keyLen, n := varint.DecodeZigZag64(b[offset:])
		if n == 0 {
			return nil, ErrTruncated
		}
		offset += n
		if keyLen > 0 {
			if offset+int(keyLen) > len(b) {
				return nil, ErrTruncated
			}
			h.Key = string(b[offset : offset+int(keyLen)])
			offset += int(keyLen)
		}
		valLen, n := varint.DecodeZigZag64(b[offset:])
		if n == 0 {
			return nil, ErrTruncated
		}
		offset += n
		if valLen > 0 {
			if offset+int(valLen) > len(b) {
				return nil, ErrTruncated
			}
			h.Value = make([]byte, valLen)
			offset += copy(h.Value, b[offset:])
		}
		r.Headers = append(r.Headers, h)
	}
	return r, nil
}
