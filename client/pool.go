package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/courier-mq/courier"
	"github.com/courier-mq/courier/api/Metadata"
)

// Pool maintains one connection per broker node, created lazily on first
// need and kept open. Entries are shared by all components of one client
// instance; correlation-id dispatch on Conn makes concurrent use safe. A
// dead connection is replaced on next use.
type Pool struct {
	cfg    courier.ClientConfig
	logger log.Logger

	mu    sync.Mutex
	addrs map[int32]string
	conns map[int32]*Conn
	seed  *Conn // connection to a bootstrap broker, node id unknown
}

func NewPool(cfg courier.ClientConfig, logger log.Logger) *Pool {
	return &Pool{
		cfg:    cfg,
		logger: logger,
		addrs:  make(map[int32]string),
		conns:  make(map[int32]*Conn),
	}
}

func (p *Pool) dialConfig() DialConfig {
	return DialConfig{
		ClientId:    p.cfg.ClientId,
		DialTimeout: time.Duration(p.cfg.ConnectionTimeoutMs) * time.Millisecond,
		MaxInFlight: p.cfg.MaxInFlightRequests,
		TLS:         p.cfg.TLS,
	}
}

// Update records the cluster's broker addresses from a metadata response.
// A node whose address changed has its old connection closed.
func (p *Pool) Update(brokers []Metadata.Broker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range brokers {
		addr := b.Addr()
		if prev, ok := p.addrs[b.NodeId]; ok && prev != addr {
			if conn := p.conns[b.NodeId]; conn != nil {
				conn.Close()
				delete(p.conns, b.NodeId)
			}
		}
		p.addrs[b.NodeId] = addr
	}
}

// Add records a single broker address (e.g. a coordinator returned by
// FindCoordinator that has not appeared in metadata yet).
func (p *Pool) Add(nodeId int32, addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.addrs[nodeId]; ok && prev != addr {
		if conn := p.conns[nodeId]; conn != nil {
			conn.Close()
			delete(p.conns, nodeId)
		}
	}
	p.addrs[nodeId] = addr
}

// Broker returns the connection to the given node, dialing if needed.
func (p *Pool) Broker(nodeId int32) (*Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn := p.conns[nodeId]; conn != nil {
		if conn.Alive() && !conn.Expired() {
			return conn, nil
		}
		conn.Close()
		delete(p.conns, nodeId)
	}
	addr, ok := p.addrs[nodeId]
	if !ok {
		return nil, fmt.Errorf("%w: no known address for broker %d", courier.ErrBrokerUnavailable, nodeId)
	}
	conn, err := Dial(addr, p.dialConfig(), log.With(p.logger, "broker", nodeId))
	if err != nil {
		return nil, err
	}
	p.conns[nodeId] = conn
	return conn, nil
}

// Any returns a connection to a bootstrap broker, for calls that any broker
// can serve (metadata, find-coordinator).
func (p *Pool) Any() (*Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seed != nil {
		if p.seed.Alive() && !p.seed.Expired() {
			return p.seed, nil
		}
		p.seed.Close()
		p.seed = nil
	}
	var lastErr error
	for _, bootstrap := range p.cfg.Brokers {
		conn, err := Dial(RandomBroker(bootstrap), p.dialConfig(), p.logger)
		if err != nil {
			lastErr = err
			level.Debug(p.logger).Log("msg", "bootstrap broker unreachable", "addr", bootstrap, "err", err)
			continue
		}
		p.seed = conn
		return conn, nil
	}
	return nil, fmt.Errorf("no bootstrap broker reachable: %w", lastErr)
}

// Close closes all pooled connections.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, conn := range p.conns {
		conn.Close()
		delete(p.conns, id)
	}
	if p.seed != nil {
		p.seed.Close()
		p.seed = nil
	}
}
