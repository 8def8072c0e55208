/*
Package admin implements cluster management operations: creating, growing,
and deleting topics, inspecting topic and cluster metadata, reading broker
and topic configuration, and listing consumer groups and their committed
offsets.

Topic mutations go to the cluster controller; a request that lands on the
wrong broker after a controller change fails with NOT_CONTROLLER and is
retried against fresh metadata.
*/
package admin

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/courier-mq/courier"
	"github.com/courier-mq/courier/api/CreatePartitions"
	"github.com/courier-mq/courier/api/CreateTopics"
	"github.com/courier-mq/courier/api/DeleteTopics"
	"github.com/courier-mq/courier/api/DescribeConfigs"
	"github.com/courier-mq/courier/api/DescribeGroups"
	"github.com/courier-mq/courier/api/FindCoordinator"
	"github.com/courier-mq/courier/api/ListGroups"
	"github.com/courier-mq/courier/api/Metadata"
	"github.com/courier-mq/courier/api/OffsetFetch"
	"github.com/courier-mq/courier/client"
)

type Admin struct {
	cl     *client.Client
	logger log.Logger
}

func New(cl *client.Client) *Admin {
	return &Admin{cl: cl, logger: log.With(cl.Logger(), "component", "admin")}
}

// CreateTopic creates one topic and waits for the controller to apply it.
// Creating a topic that already exists fails with TOPIC_ALREADY_EXISTS.
func (a *Admin) CreateTopic(ctx context.Context, name string, numPartitions int32, replicationFactor int16) error {
	return a.CreateTopics(ctx, []CreateTopics.Topic{
		CreateTopics.NewTopic(name, numPartitions, replicationFactor),
	})
}

// CreateTopics creates topics in one controller call. The first failed topic
// fails the call; topics before it may have been created.
func (a *Admin) CreateTopics(ctx context.Context, topics []CreateTopics.Topic) error {
	op := func() error {
		callCtx, cancel := a.cl.RequestTimeout(ctx)
		defer cancel()
		conn, err := a.cl.Metadata.Controller(callCtx)
		if err != nil {
			return err
		}
		resp := &CreateTopics.Response{}
		req := CreateTopics.NewRequest(topics, int32(a.cl.Config.RequestTimeoutMs), false)
		if err := conn.Call(callCtx, req, resp); err != nil {
			return err
		}
		for _, t := range resp.Topics {
			if t.ErrorCode != courier.ERR_NONE {
				return fmt.Errorf("topic %s: %w", t.Name, &courier.Error{Code: t.ErrorCode, Message: t.ErrorMessage})
			}
		}
		return nil
	}
	if err := a.cl.Retry(ctx, op, nil); err != nil {
		return fmt.Errorf("error creating topics: %w", err)
	}
	for _, t := range topics {
		level.Debug(a.logger).Log("msg", "topic created", "topic", t.Name,
			"partitions", t.NumPartitions, "replication", t.ReplicationFactor)
		a.cl.Metadata.Invalidate(t.Name)
	}
	return nil
}

// DeleteTopics deletes topics. Deletion is asynchronous on the broker side:
// a successful response means deletion has started, not finished.
func (a *Admin) DeleteTopics(ctx context.Context, topics ...string) error {
	op := func() error {
		callCtx, cancel := a.cl.RequestTimeout(ctx)
		defer cancel()
		conn, err := a.cl.Metadata.Controller(callCtx)
		if err != nil {
			return err
		}
		resp := &DeleteTopics.Response{}
		req := DeleteTopics.NewRequest(topics, int32(a.cl.Config.RequestTimeoutMs))
		if err := conn.Call(callCtx, req, resp); err != nil {
			return err
		}
		for _, t := range resp.Responses {
			if t.ErrorCode != courier.ERR_NONE {
				return fmt.Errorf("topic %s: %w", t.Name, &courier.Error{Code: t.ErrorCode})
			}
		}
		return nil
	}
	if err := a.cl.Retry(ctx, op, nil); err != nil {
		return fmt.Errorf("error deleting topics: %w", err)
	}
	for _, t := range topics {
		a.cl.Metadata.Invalidate(t)
	}
	return nil
}

// CreatePartitions grows a topic to total partitions. The count can only
// grow, and records already partitioned by key stay where they are: after a
// resize, equal keys may hash to a different partition than before.
func (a *Admin) CreatePartitions(ctx context.Context, topic string, total int32) error {
	op := func() error {
		callCtx, cancel := a.cl.RequestTimeout(ctx)
		defer cancel()
		conn, err := a.cl.Metadata.Controller(callCtx)
		if err != nil {
			return err
		}
		resp := &CreatePartitions.Response{}
		req := CreatePartitions.NewRequest([]CreatePartitions.Topic{
			{Name: topic, Count: total},
		}, int32(a.cl.Config.RequestTimeoutMs), false)
		if err := conn.Call(callCtx, req, resp); err != nil {
			return err
		}
		for _, t := range resp.Results {
			if t.ErrorCode != courier.ERR_NONE {
				return fmt.Errorf("topic %s: %w", t.Name, &courier.Error{Code: t.ErrorCode, Message: t.ErrorMessage})
			}
		}
		return nil
	}
	if err := a.cl.Retry(ctx, op, nil); err != nil {
		return fmt.Errorf("error creating partitions: %w", err)
	}
	a.cl.Metadata.Invalidate(topic)
	return nil
}

// ListTopics returns the names of all topics in the cluster, sorted.
// Internal topics (consumer offsets, transaction state) are excluded.
func (a *Admin) ListTopics(ctx context.Context) ([]string, error) {
	resp, err := a.cl.Metadata.Cluster(ctx)
	if err != nil {
		return nil, err
	}
	var topics []string
	for _, t := range resp.TopicMetadata {
		if t.IsInternal {
			continue
		}
		topics = append(topics, t.Topic)
	}
	sort.Strings(topics)
	return topics, nil
}

// FetchTopicMetadata returns partition metadata (leaders, replicas, isr) for
// one topic.
func (a *Admin) FetchTopicMetadata(ctx context.Context, topic string) (*Metadata.TopicMetadata, error) {
	snapshot, err := a.cl.Metadata.Refresh(ctx, topic)
	if err != nil {
		return nil, err
	}
	return &Metadata.TopicMetadata{
		Topic:             topic,
		PartitionMetadata: snapshot.Partitions,
	}, nil
}

// ClusterInfo describes the cluster: its id, controller, and brokers.
type ClusterInfo struct {
	ClusterId    string
	ControllerId int32
	Brokers      []Metadata.Broker
}

// DescribeCluster returns the cluster's brokers and controller.
func (a *Admin) DescribeCluster(ctx context.Context) (*ClusterInfo, error) {
	resp, err := a.cl.Metadata.Cluster(ctx)
	if err != nil {
		return nil, err
	}
	return &ClusterInfo{
		ClusterId:    resp.ClusterId,
		ControllerId: resp.ControllerId,
		Brokers:      resp.Brokers,
	}, nil
}

// DescribeTopicConfigs returns all configuration entries of a topic.
func (a *Admin) DescribeTopicConfigs(ctx context.Context, topic string) ([]DescribeConfigs.ConfigEntry, error) {
	return a.describeConfigs(ctx, DescribeConfigs.ResourceTopic, topic, -1)
}

// DescribeBrokerConfigs returns all configuration entries of a broker. The
// request must go to the broker being described.
func (a *Admin) DescribeBrokerConfigs(ctx context.Context, nodeId int32) ([]DescribeConfigs.ConfigEntry, error) {
	return a.describeConfigs(ctx, DescribeConfigs.ResourceBroker, strconv.Itoa(int(nodeId)), nodeId)
}

// describeConfigs asks a specific broker (nodeId >= 0) or any broker.
func (a *Admin) describeConfigs(ctx context.Context, resourceType int8, name string, nodeId int32) ([]DescribeConfigs.ConfigEntry, error) {
	var entries []DescribeConfigs.ConfigEntry
	op := func() error {
		callCtx, cancel := a.cl.RequestTimeout(ctx)
		defer cancel()
		var conn *client.Conn
		var err error
		if nodeId >= 0 {
			if _, err = a.cl.Metadata.Cluster(callCtx); err != nil {
				return err
			}
			conn, err = a.cl.Pool.Broker(nodeId)
		} else {
			conn, err = a.cl.Pool.Any()
		}
		if err != nil {
			return err
		}
		resp := &DescribeConfigs.Response{}
		if err := conn.Call(callCtx, DescribeConfigs.NewRequest(resourceType, name, nil), resp); err != nil {
			return err
		}
		for _, r := range resp.Results {
			if r.ErrorCode != courier.ERR_NONE {
				return fmt.Errorf("resource %s: %w", r.ResourceName, &courier.Error{Code: r.ErrorCode, Message: r.ErrorMessage})
			}
			entries = r.Configs
		}
		return nil
	}
	if err := a.cl.Retry(ctx, op, nil); err != nil {
		return nil, fmt.Errorf("error describing configs: %w", err)
	}
	return entries, nil
}

// ListGroups returns the ids of consumer groups known to the cluster. Each
// broker only knows the groups it coordinates, so all brokers are asked.
func (a *Admin) ListGroups(ctx context.Context) ([]string, error) {
	cluster, err := a.cl.Metadata.Cluster(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, b := range cluster.Brokers {
		conn, err := a.cl.Pool.Broker(b.NodeId)
		if err != nil {
			return nil, err
		}
		callCtx, cancel := a.cl.RequestTimeout(ctx)
		resp := &ListGroups.Response{}
		err = conn.Call(callCtx, ListGroups.NewRequest(), resp)
		cancel()
		if err != nil {
			return nil, err
		}
		if err := courier.ErrorFromCode(resp.ErrorCode); err != nil {
			return nil, err
		}
		for _, g := range resp.Groups {
			seen[g.GroupId] = true
		}
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups, nil
}

// DescribeGroup returns the state and members of one consumer group.
func (a *Admin) DescribeGroup(ctx context.Context, group string) (*DescribeGroups.Group, error) {
	var out *DescribeGroups.Group
	op := func() error {
		callCtx, cancel := a.cl.RequestTimeout(ctx)
		defer cancel()
		conn, err := a.cl.Metadata.Coordinator(callCtx, group, FindCoordinator.CoordinatorGroup)
		if err != nil {
			return err
		}
		resp := &DescribeGroups.Response{}
		if err := conn.Call(callCtx, DescribeGroups.NewRequest([]string{group}), resp); err != nil {
			return err
		}
		for i := range resp.Groups {
			g := &resp.Groups[i]
			if g.GroupId != group {
				continue
			}
			if err := courier.ErrorFromCode(g.ErrorCode); err != nil {
				return err
			}
			out = g
			return nil
		}
		return fmt.Errorf("group %s missing from describe groups response: %w", group,
			&courier.Error{Code: courier.ERR_UNKNOWN_SERVER_ERROR})
	}
	if err := a.cl.Retry(ctx, op, nil); err != nil {
		return nil, fmt.Errorf("error describing group %s: %w", group, err)
	}
	return out, nil
}

// FetchOffsets returns a group's committed offsets, topic -> partition ->
// next offset to consume. Partitions with no commit are -1.
func (a *Admin) FetchOffsets(ctx context.Context, group string, topics map[string][]int32) (map[string]map[int32]int64, error) {
	var out map[string]map[int32]int64
	op := func() error {
		callCtx, cancel := a.cl.RequestTimeout(ctx)
		defer cancel()
		conn, err := a.cl.Metadata.Coordinator(callCtx, group, FindCoordinator.CoordinatorGroup)
		if err != nil {
			return err
		}
		resp := &OffsetFetch.Response{}
		if err := conn.Call(callCtx, OffsetFetch.NewRequest(group, topics), resp); err != nil {
			return err
		}
		if err := courier.ErrorFromCode(resp.ErrorCode); err != nil {
			return err
		}
		out = make(map[string]map[int32]int64)
		for _, t := range resp.Topics {
			out[t.Name] = make(map[int32]int64)
			for _, p := range t.Partitions {
				if err := courier.ErrorFromCode(p.ErrorCode); err != nil {
					return fmt.Errorf("partition %s[%d]: %w", t.Name, p.PartitionIndex, err)
				}
				out[t.Name][p.PartitionIndex] = p.CommittedOffset
			}
		}
		return nil
	}
	if err := a.cl.Retry(ctx, op, nil); err != nil {
		return nil, fmt.Errorf("error fetching offsets for group %s: %w", group, err)
	}
	return out, nil
}
