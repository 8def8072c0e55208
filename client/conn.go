package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"

	"github.com/courier-mq/courier"
	"github.com/courier-mq/courier/api"
	"github.com/courier-mq/courier/api/ApiVersions"
)

// Conn is a connection to one broker. It multiplexes many in-flight requests
// by correlation id: responses may arrive out of order and are dispatched
// back to the originating caller. MaxInFlight bounds how many requests may be
// outstanding before Call blocks; this is the primary backpressure valve on
// the write path.
//
// When the read loop encounters any error (connection loss, corrupt frame)
// every in-flight request on the connection fails with
// courier.ErrBrokerUnavailable and the connection becomes unusable; the pool
// re-dials on next use.
type Conn struct {
	addr     string
	clientId string
	logger   log.Logger

	writeMu sync.Mutex
	netConn net.Conn

	correlation atomic.Int32
	inFlight    chan struct{}

	pendingMu sync.Mutex
	pending   map[int32]chan callResult
	dead      bool
	deadErr   error

	versions *ApiVersions.Response
	opened   time.Time
}

type callResult struct {
	resp *api.Response
	err  error
}

type DialConfig struct {
	ClientId    string
	DialTimeout time.Duration
	MaxInFlight int
	TLS         *tls.Config
}

// Dial connects to addr, starts the read loop, and negotiates supported API
// versions with the broker.
func Dial(addr string, cfg DialConfig, logger log.Logger) (*Conn, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = courier.DialTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 5
	}
	var netConn net.Conn
	var err error
	if cfg.TLS != nil {
		netConn, err = tls.DialWithDialer(&net.Dialer{Timeout: cfg.DialTimeout}, "tcp", addr, cfg.TLS)
	} else {
		netConn, err = net.DialTimeout("tcp", addr, cfg.DialTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", courier.ErrBrokerUnavailable, addr, err)
	}
	c := &Conn{
		addr:     addr,
		clientId: cfg.ClientId,
		logger:   logger,
		netConn:  netConn,
		inFlight: make(chan struct{}, cfg.MaxInFlight),
		pending:  make(map[int32]chan callResult),
		opened:   time.Now().UTC(),
	}
	go c.readLoop()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	versions := &ApiVersions.Response{}
	if err := c.Call(ctx, ApiVersions.NewRequest(), versions); err != nil {
		c.Close()
		return nil, fmt.Errorf("error negotiating api versions with %s: %w", addr, err)
	}
	if versions.ErrorCode != courier.ERR_NONE {
		c.Close()
		return nil, fmt.Errorf("error response for api versions call: %w", &courier.Error{Code: versions.ErrorCode})
	}
	c.versions = versions
	level.Debug(logger).Log("msg", "connected to broker", "addr", addr)
	return c, nil
}

func (c *Conn) Addr() string { return c.addr }

// Expired reports whether the connection exceeded courier.ConnectionTTL.
func (c *Conn) Expired() bool {
	return courier.ConnectionTTL > 0 && time.Since(c.opened) > courier.ConnectionTTL
}

// Alive reports whether the connection can still take requests.
func (c *Conn) Alive() bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return !c.dead
}

// Call sends the request and blocks until its response arrives, the context
// expires, or the connection dies. Safe for concurrent use: requests from
// many callers are interleaved on the wire and matched back by correlation
// id. Blocks before sending while MaxInFlight requests are outstanding.
func (c *Conn) Call(ctx context.Context, req *api.Request, v interface{}) error {
	if c.versions != nil && c.versions.Max(req.ApiKey, req.ApiVersion) < req.ApiVersion {
		return fmt.Errorf("%s v%d not supported by broker %s: %w",
			api.Keys[req.ApiKey], req.ApiVersion, c.addr, &courier.Error{Code: courier.ERR_UNSUPPORTED_VERSION})
	}
	select {
	case c.inFlight <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for in-flight slot: %v", courier.ErrRequestTimeout, ctx.Err())
	}
	defer func() { <-c.inFlight }()

	id := c.correlation.Inc()
	req.CorrelationId = id
	if req.ClientId == "" {
		req.ClientId = c.clientId
	}
	ch := make(chan callResult, 1)

	c.pendingMu.Lock()
	if c.dead {
		err := c.deadErr
		c.pendingMu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		c.netConn.SetWriteDeadline(deadline)
	}
	_, err := c.netConn.Write(req.Bytes())
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		err = fmt.Errorf("%w: writing %s request: %v", courier.ErrBrokerUnavailable, api.Keys[req.ApiKey], err)
		c.fail(err)
		return err
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		if err := r.resp.Unmarshal(v); err != nil {
			// a response that cannot be parsed leaves the stream in an
			// unknown state; tear the connection down
			c.fail(fmt.Errorf("%w: unmarshaling %s response: %v", courier.ErrBrokerUnavailable, api.Keys[req.ApiKey], err))
			return fmt.Errorf("error unmarshaling %s response: %v", api.Keys[req.ApiKey], err)
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return fmt.Errorf("%w: awaiting %s response: %v", courier.ErrRequestTimeout, api.Keys[req.ApiKey], ctx.Err())
	}
}

func (c *Conn) forget(id int32) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// fail marks the connection dead and rejects all in-flight requests.
func (c *Conn) fail(err error) {
	c.pendingMu.Lock()
	if c.dead {
		c.pendingMu.Unlock()
		return
	}
	c.dead = true
	c.deadErr = err
	for id, ch := range c.pending {
		ch <- callResult{err: err}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	c.netConn.Close()
	level.Debug(c.logger).Log("msg", "connection failed", "addr", c.addr, "err", err)
}

func (c *Conn) readLoop() {
	r := bufio.NewReader(c.netConn)
	for {
		resp, err := api.Read(r)
		if err != nil {
			c.fail(fmt.Errorf("%w: reading response: %v", courier.ErrBrokerUnavailable, err))
			return
		}
		id := resp.CorrelationId()
		c.pendingMu.Lock()
		ch, ok := c.pending[id]
		delete(c.pending, id)
		c.pendingMu.Unlock()
		if !ok {
			// response to a request whose caller gave up waiting
			level.Debug(c.logger).Log("msg", "dropping orphaned response", "correlation", id)
			continue
		}
		ch <- callResult{resp: resp}
	}
}

// Close the connection. In-flight requests fail with ErrBrokerUnavailable.
func (c *Conn) Close() error {
	c.fail(courier.ErrClosed)
	return nil
}
