package producer

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
	"github.com/courier-mq/courier/api/InitProducerId"
	"github.com/courier-mq/courier/api/Metadata"
	"github.com/courier-mq/courier/api/Produce"
	"github.com/courier-mq/courier/batch"
	"github.com/courier-mq/courier/client"
	"github.com/courier-mq/courier/wire"
)

// producedBatch is one produce attempt as seen by the fake leader, with the
// batch header fields the broker would use for deduplication.
type producedBatch struct {
	partition    int32
	producerId   int64
	baseSequence int32
	numRecords   int32
}

// fakeLeader is a single-node fake that leads every partition of one topic.
// The first failProduces produce attempts are rejected with a retryable
// error; every attempt, failed or not, is recorded.
type fakeLeader struct {
	ln         net.Listener
	topic      string
	partitions int32

	mu           sync.Mutex
	failProduces int
	produced     []producedBatch
	logEnd       map[int32]int64
}

func newFakeLeader(t *testing.T, topic string, partitions int32, failProduces int) *fakeLeader {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeLeader{
		ln:           ln,
		topic:        topic,
		partitions:   partitions,
		failProduces: failProduces,
		logEnd:       make(map[int32]int64),
	}
	go f.serve()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeLeader) addr() string { return f.ln.Addr().String() }

func (f *fakeLeader) attempts() []producedBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]producedBatch(nil), f.produced...)
}

func (f *fakeLeader) serve() {
	for {
		conn, err := f.ln.Accept()
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
				f.handle(conn, frame)
			}
		}()
	}
}

func (f *fakeLeader) handle(w io.Writer, frame []byte) {
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
	f.mu.Lock()
	defer f.mu.Unlock()
	switch apiKey {
	case api.ApiVersions:
		reply(&ApiVersions.Response{ApiKeys: []ApiVersions.ApiKeyVersion{
			{ApiKey: api.ApiVersions, MaxVersion: 0},
			{ApiKey: api.Metadata, MaxVersion: 5},
			{ApiKey: api.InitProducerId, MaxVersion: 0},
			{ApiKey: api.Produce, MaxVersion: 7},
		}})
	case api.Metadata:
		host, port, _ := net.SplitHostPort(f.addr())
		p, _ := strconv.Atoi(port)
		tm := Metadata.TopicMetadata{Topic: f.topic}
		for i := int32(0); i < f.partitions; i++ {
			tm.PartitionMetadata = append(tm.PartitionMetadata, Metadata.PartitionMetadata{
				Partition: i, Leader: 1, Replicas: []int32{1}, Isr: []int32{1},
			})
		}
		reply(&Metadata.Response{
			Brokers:       []Metadata.Broker{{NodeId: 1, Host: host, Port: int32(p)}},
			ControllerId:  1,
			TopicMetadata: []Metadata.TopicMetadata{tm},
		})
	case api.InitProducerId:
		reply(&InitProducerId.Response{ProducerId: 700, ProducerEpoch: 3})
	case api.Produce:
		req := &Produce.Request{}
		wire.Read(buf, reflect.ValueOf(req))
		data := req.TopicData[0].Data[0]
		b, err := batch.Unmarshal(data.RecordSet)
		if err != nil {
			reply(&Produce.Response{TopicResponses: []Produce.TopicResponse{{
				Topic: f.topic,
				PartitionResponses: []Produce.PartitionResponse{
					{Partition: data.Partition, ErrorCode: courier.ERR_CORRUPT_MESSAGE},
				},
			}}})
			return
		}
		f.produced = append(f.produced, producedBatch{
			partition:    data.Partition,
			producerId:   b.ProducerId,
			baseSequence: b.BaseSequence,
			numRecords:   b.NumRecords,
		})
		code := courier.ERR_NONE
		baseOffset := f.logEnd[data.Partition]
		if f.failProduces > 0 {
			f.failProduces--
			code = courier.ERR_NOT_LEADER_FOR_PARTITION
			baseOffset = -1
		} else {
			f.logEnd[data.Partition] += int64(b.NumRecords)
		}
		reply(&Produce.Response{TopicResponses: []Produce.TopicResponse{{
			Topic: f.topic,
			PartitionResponses: []Produce.PartitionResponse{
				{Partition: data.Partition, ErrorCode: code, BaseOffset: baseOffset},
			},
		}}})
	}
}

func testProducer(t *testing.T, f *fakeLeader, cfg courier.ProducerConfig) *Producer {
	cfg.Brokers = []string{f.addr()}
	cfg.RetryBackoffMs = 1
	cl, err := client.New(cfg.ClientConfig, log.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(cl.Close)
	p, err := New(cl, cfg)
	require.NoError(t, err)
	return p
}

func waitReceipt(t *testing.T, r *Receipt) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	offset, err := r.Wait(ctx)
	require.NoError(t, err)
	return offset
}

func TestUnitIdempotentSequenceStableAcrossRetry(t *testing.T) {
	f := newFakeLeader(t, "events", 1, 1)
	p := testProducer(t, f, courier.ProducerConfig{Idempotent: true})
	ctx := context.Background()

	r, err := p.Send(ctx, &Message{Topic: "events", Value: []byte("m1")})
	require.NoError(t, err)
	require.Equal(t, int64(0), waitReceipt(t, r))

	// first attempt failed retryably, second got through; both must carry
	// the identical batch so the broker can deduplicate
	attempts := f.attempts()
	require.Len(t, attempts, 2)
	require.Equal(t, attempts[0], attempts[1], "a requeued batch keeps its sequence")
	require.Equal(t, int64(700), attempts[0].producerId)
	require.Equal(t, int32(0), attempts[0].baseSequence)

	// the next batch continues the sequence from where the first ended
	r, err = p.Send(ctx, &Message{Topic: "events", Value: []byte("m2")})
	require.NoError(t, err)
	require.Equal(t, int64(1), waitReceipt(t, r))
	attempts = f.attempts()
	require.Len(t, attempts, 3)
	require.Equal(t, int32(1), attempts[2].baseSequence)
}

func TestUnitIdempotentSequencePerPartition(t *testing.T) {
	f := newFakeLeader(t, "events", 2, 0)
	p := testProducer(t, f, courier.ProducerConfig{Idempotent: true})
	ctx := context.Background()

	for _, partition := range []int32{0, 1, 0} {
		r, err := p.Send(ctx, &Message{Topic: "events", Partition: partition, Value: []byte("m")})
		require.NoError(t, err)
		waitReceipt(t, r)
	}
	seq := make(map[int32][]int32)
	for _, a := range f.attempts() {
		seq[a.partition] = append(seq[a.partition], a.baseSequence)
	}
	require.Equal(t, []int32{0, 1}, seq[0], "sequences are per partition")
	require.Equal(t, []int32{0}, seq[1])
}

func TestUnitStickyRotatesAcrossFlushes(t *testing.T) {
	// with a long linger, every seal happens on the flush path; the sticky
	// partition must still advance, wrapping around all partitions
	f := newFakeLeader(t, "events", 4, 0)
	p := testProducer(t, f, courier.ProducerConfig{LingerMs: 60000})
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		r, err := p.Send(ctx, &Message{Topic: "events", Partition: -1, Value: []byte("m")})
		require.NoError(t, err)
		require.NoError(t, p.Flush(ctx))
		waitReceipt(t, r)
	}
	attempts := f.attempts()
	require.Len(t, attempts, 8)
	visited := make(map[int32]bool)
	for i, a := range attempts {
		visited[a.partition] = true
		if i > 0 {
			require.Equal(t, (attempts[i-1].partition+1)%4, a.partition, "each flush rotates to the next partition")
		}
	}
	require.Len(t, visited, 4, "rotation wraps around every partition")
}
