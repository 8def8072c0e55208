package api

import (
	"bytes"
	"encoding/binary"
	"io"
	"reflect"

	"github.com/courier-mq/courier/wire"
)

// Read one response frame. Errors wrapping wire.ErrCorruptFrame mean the
// stream is unrecoverable and the connection must be torn down.
func Read(r io.Reader) (*Response, error) {
	b, err := wire.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return &Response{body: b}, nil
}

type Response struct {
	body []byte
}

func (r *Response) CorrelationId() int32 {
	var c int32
	if err := binary.Read(bytes.NewReader(r.body), binary.BigEndian, &c); err != nil {
		panic(err)
	}
	return c
}

func (r *Response) Unmarshal(v interface{}) error {
	// [4:] skips bytes used for correlation id
	return wire.Read(bytes.NewReader(r.body[4:]), reflect.ValueOf(v))
}

func (r *Response) Bytes() []byte {
	// [4:] skips bytes used for correlation id
	return r.body[4:]
}
