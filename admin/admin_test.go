package admin

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/courier-mq/courier"
	"github.com/courier-mq/courier/api"
	"github.com/courier-mq/courier/api/ApiVersions"
	"github.com/courier-mq/courier/api/CreatePartitions"
	"github.com/courier-mq/courier/api/CreateTopics"
	"github.com/courier-mq/courier/api/DeleteTopics"
	"github.com/courier-mq/courier/api/DescribeConfigs"
	"github.com/courier-mq/courier/api/FindCoordinator"
	"github.com/courier-mq/courier/api/ListGroups"
	"github.com/courier-mq/courier/api/Metadata"
	"github.com/courier-mq/courier/api/OffsetFetch"
	"github.com/courier-mq/courier/client"
	"github.com/courier-mq/courier/wire"
)

// fakeCluster is a single-broker fake that applies topic mutations to its
// in-memory state, so admin calls can be verified end to end.
type fakeCluster struct {
	ln net.Listener

	mu      sync.Mutex
	topics  map[string]int32 // topic -> partition count
	groups  []string
	offsets map[string]map[int32]int64 // per group-agnostic test data
}

func newFakeCluster(t *testing.T) *fakeCluster {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	c := &fakeCluster{
		ln:      ln,
		topics:  make(map[string]int32),
		groups:  []string{"payments", "billing"},
		offsets: map[string]map[int32]int64{"events": {0: 42, 1: -1}},
	}
	go c.serve()
	t.Cleanup(func() { ln.Close() })
	return c
}

func (c *fakeCluster) addr() string { return c.ln.Addr().String() }

func (c *fakeCluster) node() (string, int32) {
	host, port, _ := net.SplitHostPort(c.addr())
	p, _ := strconv.Atoi(port)
	return host, int32(p)
}

func (c *fakeCluster) serve() {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			r := bufio.NewReader(conn)
			for {
				frame, err := wire.ReadFrame(r)
				if err != nil {
					return
				}
				c.handle(conn, frame)
			}
		}()
	}
}

func (c *fakeCluster) handle(w io.Writer, frame []byte) {
	buf := bytes.NewReader(frame)
	var apiKey, apiVersion, clientIdLen int16
	var correlationId int32
	binary.Read(buf, binary.BigEndian, &apiKey)
	binary.Read(buf, binary.BigEndian, &apiVersion)
	binary.Read(buf, binary.BigEndian, &correlationId)
	binary.Read(buf, binary.BigEndian, &clientIdLen)
	if clientIdLen > 0 {
		io.CopyN(io.Discard, buf, int64(clientIdLen))
	}
	reply := func(body interface{}) {
		out := new(bytes.Buffer)
		binary.Write(out, binary.BigEndian, correlationId)
		wire.Write(out, reflect.ValueOf(body))
		wire.WriteFrame(w, out.Bytes())
	}
	host, port := c.node()
	c.mu.Lock()
	defer c.mu.Unlock()
	switch apiKey {
	case api.ApiVersions:
		reply(&ApiVersions.Response{ApiKeys: []ApiVersions.ApiKeyVersion{
			{ApiKey: api.ApiVersions, MaxVersion: 0},
			{ApiKey: api.Metadata, MaxVersion: 5},
			{ApiKey: api.CreateTopics, MaxVersion: 2},
			{ApiKey: api.DeleteTopics, MaxVersion: 1},
			{ApiKey: api.CreatePartitions, MaxVersion: 0},
			{ApiKey: api.DescribeConfigs, MaxVersion: 0},
			{ApiKey: api.ListGroups, MaxVersion: 1},
			{ApiKey: api.FindCoordinator, MaxVersion: 1},
			{ApiKey: api.OffsetFetch, MaxVersion: 3},
		}})
	case api.Metadata:
		resp := &Metadata.Response{
			Brokers:      []Metadata.Broker{{NodeId: 1, Host: host, Port: port}},
			ClusterId:    "fake-cluster",
			ControllerId: 1,
		}
		for topic, n := range c.topics {
			tm := Metadata.TopicMetadata{Topic: topic}
			for p := int32(0); p < n; p++ {
				tm.PartitionMetadata = append(tm.PartitionMetadata, Metadata.PartitionMetadata{
					Partition: p, Leader: 1, Replicas: []int32{1}, Isr: []int32{1},
				})
			}
			resp.TopicMetadata = append(resp.TopicMetadata, tm)
		}
		reply(resp)
	case api.CreateTopics:
		req := &CreateTopics.Request{}
		wire.Read(buf, reflect.ValueOf(req))
		resp := &CreateTopics.Response{}
		for _, topic := range req.Topics {
			code := courier.ERR_NONE
			if _, exists := c.topics[topic.Name]; exists {
				code = courier.ERR_TOPIC_ALREADY_EXISTS
			} else {
				c.topics[topic.Name] = topic.NumPartitions
			}
			resp.Topics = append(resp.Topics, CreateTopics.TopicResponse{Name: topic.Name, ErrorCode: code})
		}
		reply(resp)
	case api.DeleteTopics:
		req := &DeleteTopics.Request{}
		wire.Read(buf, reflect.ValueOf(req))
		resp := &DeleteTopics.Response{}
		for _, name := range req.TopicNames {
			code := courier.ERR_NONE
			if _, exists := c.topics[name]; !exists {
				code = courier.ERR_UNKNOWN_TOPIC_OR_PARTITION
			}
			delete(c.topics, name)
			resp.Responses = append(resp.Responses, DeleteTopics.TopicResponse{Name: name, ErrorCode: code})
		}
		reply(resp)
	case api.CreatePartitions:
		req := &CreatePartitions.Request{}
		wire.Read(buf, reflect.ValueOf(req))
		resp := &CreatePartitions.Response{}
		for _, topic := range req.Topics {
			code := courier.ERR_NONE
			if topic.Count <= c.topics[topic.Name] {
				code = courier.ERR_INVALID_PARTITIONS
			} else {
				c.topics[topic.Name] = topic.Count
			}
			resp.Results = append(resp.Results, CreatePartitions.TopicResult{Name: topic.Name, ErrorCode: code})
		}
		reply(resp)
	case api.DescribeConfigs:
		req := &DescribeConfigs.Request{}
		wire.Read(buf, reflect.ValueOf(req))
		resp := &DescribeConfigs.Response{}
		for _, r := range req.Resources {
			resp.Results = append(resp.Results, DescribeConfigs.Result{
				ResourceType: r.ResourceType,
				ResourceName: r.ResourceName,
				Configs: []DescribeConfigs.ConfigEntry{
					{Name: "retention.ms", Value: "604800000", IsDefault: true},
				},
			})
		}
		reply(resp)
	case api.ListGroups:
		resp := &ListGroups.Response{}
		for _, g := range c.groups {
			resp.Groups = append(resp.Groups, ListGroups.Group{GroupId: g, ProtocolType: "consumer"})
		}
		reply(resp)
	case api.FindCoordinator:
		reply(&FindCoordinator.Response{NodeId: 1, Host: host, Port: port})
	case api.OffsetFetch:
		resp := &OffsetFetch.Response{}
		for topic, partitions := range c.offsets {
			tr := OffsetFetch.TopicResponse{Name: topic}
			for p, offset := range partitions {
				tr.Partitions = append(tr.Partitions, OffsetFetch.PartitionResponse{
					PartitionIndex: p, CommittedOffset: offset,
				})
			}
			resp.Topics = append(resp.Topics, tr)
		}
		reply(resp)
	}
}

func testAdmin(t *testing.T) (*Admin, *fakeCluster) {
	cluster := newFakeCluster(t)
	cl, err := client.New(courier.ClientConfig{
		Brokers:        []string{cluster.addr()},
		RetryBackoffMs: 1,
	}, log.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(cl.Close)
	return New(cl), cluster
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestUnitTopicLifecycle(t *testing.T) {
	a, _ := testAdmin(t)
	ctx := testCtx(t)

	require.NoError(t, a.CreateTopic(ctx, "events", 3, 1))

	topics, err := a.ListTopics(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"events"}, topics)

	tm, err := a.FetchTopicMetadata(ctx, "events")
	require.NoError(t, err)
	require.Len(t, tm.PartitionMetadata, 3)

	require.NoError(t, a.CreatePartitions(ctx, "events", 5))
	tm, err = a.FetchTopicMetadata(ctx, "events")
	require.NoError(t, err)
	require.Len(t, tm.PartitionMetadata, 5)

	require.NoError(t, a.DeleteTopics(ctx, "events"))
	topics, err = a.ListTopics(ctx)
	require.NoError(t, err)
	require.Empty(t, topics)
}

func TestUnitCreateTopicAlreadyExists(t *testing.T) {
	a, _ := testAdmin(t)
	ctx := testCtx(t)
	require.NoError(t, a.CreateTopic(ctx, "events", 1, 1))
	err := a.CreateTopic(ctx, "events", 1, 1)
	var e *courier.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, courier.ERR_TOPIC_ALREADY_EXISTS, e.Code)
}

func TestUnitShrinkPartitionsRejected(t *testing.T) {
	a, _ := testAdmin(t)
	ctx := testCtx(t)
	require.NoError(t, a.CreateTopic(ctx, "events", 4, 1))
	err := a.CreatePartitions(ctx, "events", 2)
	var e *courier.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, courier.ERR_INVALID_PARTITIONS, e.Code)
}

func TestUnitDescribeCluster(t *testing.T) {
	a, _ := testAdmin(t)
	info, err := a.DescribeCluster(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, "fake-cluster", info.ClusterId)
	require.Equal(t, int32(1), info.ControllerId)
	require.Len(t, info.Brokers, 1)
}

func TestUnitListGroups(t *testing.T) {
	a, _ := testAdmin(t)
	groups, err := a.ListGroups(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, []string{"billing", "payments"}, groups, "sorted")
}

func TestUnitFetchOffsets(t *testing.T) {
	a, _ := testAdmin(t)
	offsets, err := a.FetchOffsets(testCtx(t), "payments", map[string][]int32{"events": {0, 1}})
	require.NoError(t, err)
	require.Equal(t, int64(42), offsets["events"][0])
	require.Equal(t, int64(-1), offsets["events"][1], "no commit yet")
}

func TestUnitDescribeTopicConfigs(t *testing.T) {
	a, _ := testAdmin(t)
	entries, err := a.DescribeTopicConfigs(testCtx(t), "events")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "retention.ms", entries[0].Name)
}
