// Package client implements the shared transport layer: per-broker
// connections with correlation-id multiplexing (Conn), the lazy per-node
// connection pool (Pool), and the cluster metadata cache (Cache). Producers,
// consumers, and the admin client are built on top of one Client instance;
// no state is shared across Client instances.
package client

import (
	"context"
	"math/rand"
	"net"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/jpillora/backoff"

	"github.com/courier-mq/courier"
)

// LookupSrv returns a list of host:port strings in the order returned by the
// srv lookup call.
func LookupSrv(name string) ([]string, error) {
	_, srvs, err := net.LookupSRV("", "", name)
	if err != nil {
		return nil, err
	}
	var addrs []string
	for _, srv := range srvs {
		host := net.JoinHostPort(srv.Target, strconv.Itoa(int(srv.Port)))
		addrs = append(addrs, host)
	}
	return addrs, nil
}

// RandomBroker tries to resolve name through a call to LookupSrv. If
// successful it returns a random host:port from the list. If LookupSrv fails
// it returns name unmodified (so you can pass "localhost:9092" for example).
func RandomBroker(name string) string {
	addrs, err := LookupSrv(name)
	if err != nil || len(addrs) == 0 {
		return name
	}
	rand.Shuffle(len(addrs), func(i, j int) {
		addrs[i], addrs[j] = addrs[j], addrs[i]
	})
	return addrs[0]
}

// Client bundles the connection pool and metadata cache shared by all
// components built from it. Pass one Client to a producer, a consumer, and
// an admin client to have them share connections and metadata.
type Client struct {
	Config   courier.ClientConfig
	Pool     *Pool
	Metadata *Cache

	logger log.Logger
}

func New(cfg courier.ClientConfig, logger log.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	pool := NewPool(cfg, logger)
	return &Client{
		Config:   cfg,
		Pool:     pool,
		Metadata: NewCache(pool, logger),
		logger:   logger,
	}, nil
}

func (c *Client) Logger() log.Logger { return c.logger }

// RequestTimeout returns a context bounded by the configured request
// timeout, unless ctx already carries an earlier deadline.
func (c *Client) RequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, time.Duration(c.Config.RequestTimeoutMs)*time.Millisecond)
}

// Backoff returns the retry backoff schedule: base delay doubling per
// attempt, capped, with jitter.
func (c *Client) Backoff() *backoff.Backoff {
	min := time.Duration(c.Config.RetryBackoffMs) * time.Millisecond
	return &backoff.Backoff{
		Min:    min,
		Max:    min * 32,
		Factor: 2,
		Jitter: true,
	}
}

// Retry runs op up to 1+Retries times. Retryable failures (per
// courier.IsRetryable) wait out the backoff schedule between attempts; any
// other error, or context expiry, returns immediately. The onRetry hook (may
// be nil) runs before each wait; callers use it to refresh stale metadata.
func (c *Client) Retry(ctx context.Context, op func() error, onRetry func(error)) error {
	b := c.Backoff()
	var err error
	for attempt := 0; attempt <= c.Config.Retries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !courier.IsRetryable(err) {
			return err
		}
		if attempt == c.Config.Retries {
			break
		}
		if onRetry != nil {
			onRetry(err)
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return err
		}
	}
	return err
}

// Close releases all connections.
func (c *Client) Close() {
	c.Pool.Close()
}
