package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/singleflight"

	"github.com/courier-mq/courier"
	"github.com/courier-mq/courier/api/FindCoordinator"
	"github.com/courier-mq/courier/api/Metadata"
)

// TopicSnapshot is the cached metadata of one topic. A snapshot is immutable:
// a refresh replaces the whole snapshot, so readers never observe a mix of
// old and new partitions for the same topic.
type TopicSnapshot struct {
	Topic      string
	Partitions []Metadata.PartitionMetadata
	Fetched    time.Time
}

func (s *TopicSnapshot) NumPartitions() int32 {
	return int32(len(s.Partitions))
}

// Leader returns the node id of the partition leader, or -1.
func (s *TopicSnapshot) Leader(partition int32) int32 {
	for _, p := range s.Partitions {
		if p.Partition == partition {
			return p.Leader
		}
	}
	return -1
}

// Cache tracks topic -> partition -> leader mappings. Refreshes are
// coalesced per topic: concurrent callers awaiting the same topic share a
// single in-flight metadata call (no thundering herd).
type Cache struct {
	pool   *Pool
	logger log.Logger

	sf     singleflight.Group
	mu     sync.RWMutex
	topics map[string]*TopicSnapshot
}

func NewCache(pool *Pool, logger log.Logger) *Cache {
	return &Cache{
		pool:   pool,
		logger: logger,
		topics: make(map[string]*TopicSnapshot),
	}
}

// Partitions returns the cached snapshot for the topic, refreshing on miss.
func (c *Cache) Partitions(ctx context.Context, topic string) (*TopicSnapshot, error) {
	c.mu.RLock()
	s := c.topics[topic]
	c.mu.RUnlock()
	if s != nil {
		return s, nil
	}
	return c.Refresh(ctx, topic)
}

// Leader returns a connection to the leader of (topic, partition). On a
// cache miss the topic is refreshed first.
func (c *Cache) Leader(ctx context.Context, topic string, partition int32) (*Conn, error) {
	s, err := c.Partitions(ctx, topic)
	if err != nil {
		return nil, err
	}
	node := s.Leader(partition)
	if node < 0 {
		return nil, fmt.Errorf("no leader for %s[%d]: %w", topic, partition,
			&courier.Error{Code: courier.ERR_LEADER_NOT_AVAILABLE})
	}
	return c.pool.Broker(node)
}

// Refresh fetches fresh metadata for the topic and atomically replaces its
// snapshot. Concurrent calls for the same topic are coalesced into one
// outstanding request.
func (c *Cache) Refresh(ctx context.Context, topic string) (*TopicSnapshot, error) {
	v, err, _ := c.sf.Do(topic, func() (interface{}, error) {
		return c.fetch(ctx, topic)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TopicSnapshot), nil
}

func (c *Cache) fetch(ctx context.Context, topic string) (*TopicSnapshot, error) {
	conn, err := c.pool.Any()
	if err != nil {
		return nil, err
	}
	resp := &Metadata.Response{}
	if err := conn.Call(ctx, Metadata.NewRequest([]string{topic}), resp); err != nil {
		return nil, fmt.Errorf("error making metadata call: %w", err)
	}
	c.pool.Update(resp.Brokers)
	t := resp.Topic(topic)
	if t == nil {
		return nil, fmt.Errorf("topic %s missing from metadata response: %w", topic,
			&courier.Error{Code: courier.ERR_UNKNOWN_TOPIC_OR_PARTITION})
	}
	if t.ErrorCode != courier.ERR_NONE {
		return nil, fmt.Errorf("error in metadata response for topic %s: %w", topic,
			&courier.Error{Code: t.ErrorCode})
	}
	s := &TopicSnapshot{
		Topic:      topic,
		Partitions: t.PartitionMetadata,
		Fetched:    time.Now().UTC(),
	}
	c.mu.Lock()
	c.topics[topic] = s
	c.mu.Unlock()
	level.Debug(c.logger).Log("msg", "refreshed topic metadata", "topic", topic,
		"partitions", len(s.Partitions))
	return s, nil
}

// Invalidate drops the topic's snapshot so the next read refreshes. Called
// on staleness errors (NOT_LEADER_FOR_PARTITION, UNKNOWN_TOPIC_OR_PARTITION).
func (c *Cache) Invalidate(topic string) {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

// Cluster fetches cluster-wide metadata (all brokers, all topics). Not
// cached: used by the admin client.
func (c *Cache) Cluster(ctx context.Context) (*Metadata.Response, error) {
	conn, err := c.pool.Any()
	if err != nil {
		return nil, err
	}
	resp := &Metadata.Response{}
	if err := conn.Call(ctx, Metadata.NewRequest(nil), resp); err != nil {
		return nil, fmt.Errorf("error making metadata call: %w", err)
	}
	c.pool.Update(resp.Brokers)
	return resp, nil
}

// Controller returns a connection to the cluster controller.
func (c *Cache) Controller(ctx context.Context) (*Conn, error) {
	resp, err := c.Cluster(ctx)
	if err != nil {
		return nil, err
	}
	return c.pool.Broker(resp.ControllerId)
}

// Coordinator locates the group or transaction coordinator for key and
// returns a connection to it.
func (c *Cache) Coordinator(ctx context.Context, key string, keyType int8) (*Conn, error) {
	conn, err := c.pool.Any()
	if err != nil {
		return nil, err
	}
	resp := &FindCoordinator.Response{}
	if err := conn.Call(ctx, FindCoordinator.NewRequest(key, keyType), resp); err != nil {
		return nil, fmt.Errorf("error making find coordinator call: %w", err)
	}
	if resp.ErrorCode != courier.ERR_NONE {
		return nil, fmt.Errorf("error response from find coordinator call: %w",
			&courier.Error{Code: resp.ErrorCode, Message: resp.ErrorMessage})
	}
	c.pool.Add(resp.NodeId, resp.Addr())
	return c.pool.Broker(resp.NodeId)
}
