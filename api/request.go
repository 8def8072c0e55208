package api

import (
	"bytes"
	"reflect"

	"github.com/courier-mq/courier/wire"
)

// Request is a protocol request frame: a fixed header (api key, version,
// correlation id, client id) followed by a per-call body. The correlation id
// is assigned by the connection at send time; responses are matched back to
// their request by it.
type Request struct {
	ApiKey        int16
	ApiVersion    int16
	CorrelationId int32
	ClientId      string
	Body          interface{}
}

// Bytes marshals the request including the leading size prefix.
func (r *Request) Bytes() []byte {
	tmp := new(bytes.Buffer)
	wire.Write(tmp, reflect.ValueOf(r))
	buf := new(bytes.Buffer)
	wire.WriteFrame(buf, tmp.Bytes())
	return buf.Bytes()
}
