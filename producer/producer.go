/*
Package producer implements a batching producer.

Records sent to the same partition are grouped into batches; a batch ships
when it reaches the configured size or when the linger timer fires. Each
partition has one writer with one batch in flight at a time, so batches for a
partition reach the broker in send order even across retries.

With Idempotent enabled the producer obtains a producer id and stamps every
batch with a per-partition sequence number; a batch requeued after a
retryable error keeps its original sequence, so broker-side deduplication
makes retries safe. With TransactionalId set the transactional calls
(BeginTransaction, CommitTransaction, AbortTransaction) become available and
every send must happen inside a transaction.

Send is asynchronous: it enqueues the record and returns a Receipt that
resolves when the record's batch is acknowledged or fails for good.
*/
package producer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"

	"github.com/courier-mq/courier"
	"github.com/courier-mq/courier/api/FindCoordinator"
	"github.com/courier-mq/courier/api/InitProducerId"
	"github.com/courier-mq/courier/api/Produce"
	"github.com/courier-mq/courier/client"
	"github.com/courier-mq/courier/compression"
	"github.com/courier-mq/courier/metrics"
	"github.com/courier-mq/courier/record"
)

// Message is one record to produce. Partition -1 delegates partition choice
// to the partitioner; an explicit partition is used as given.
type Message struct {
	Topic     string
	Partition int32
	Key       []byte
	Value     []byte
	Headers   []record.Header
}

// Receipt is the pending result of one Send. It resolves once the record's
// batch has been acknowledged by the partition leader or has failed after
// all retries.
type Receipt struct {
	Topic     string
	Partition int32
	Offset    int64

	err  error
	done chan struct{}
}

func newReceipt(topic string, partition int32) *Receipt {
	return &Receipt{Topic: topic, Partition: partition, Offset: -1, done: make(chan struct{})}
}

func failedReceipt(topic string, partition int32, err error) *Receipt {
	r := newReceipt(topic, partition)
	r.resolve(-1, err)
	return r
}

func (r *Receipt) resolve(offset int64, err error) {
	r.Offset = offset
	r.err = err
	close(r.done)
}

// Done is closed when the receipt has resolved.
func (r *Receipt) Done() <-chan struct{} { return r.done }

// Err returns the send error. Valid after Done is closed.
func (r *Receipt) Err() error { return r.err }

// Wait blocks until the receipt resolves or ctx expires, and returns the
// assigned offset.
func (r *Receipt) Wait(ctx context.Context) (int64, error) {
	select {
	case <-r.done:
		return r.Offset, r.err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

type Producer struct {
	Config  courier.ProducerConfig
	Metrics *metrics.Metrics

	cl          *client.Client
	logger      log.Logger
	codec       compression.Codec
	partitioner Partitioner
	acc         *accumulator

	producerId    int64
	producerEpoch int16

	seqMu     sync.Mutex
	sequences map[topicPartition]int32

	writersMu sync.Mutex
	writers   map[topicPartition]chan sealed

	inflight sync.WaitGroup

	fenced atomic.Bool
	closed atomic.Bool

	txn txnState
}

// New creates a producer on top of cl. The client may be shared with
// consumers and admin clients. With Idempotent (or TransactionalId) set the
// producer id is obtained here, before New returns.
func New(cl *client.Client, cfg courier.ProducerConfig) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := compression.Parse(cfg.Compression)
	if err != nil {
		return nil, err
	}
	p := &Producer{
		Config:      cfg,
		Metrics:     metrics.New(nil),
		cl:          cl,
		logger:      log.With(cl.Logger(), "component", "producer"),
		codec:       codec,
		partitioner: NewDefault(),
		producerId:  -1,
		sequences:   make(map[topicPartition]int32),
		writers:     make(map[topicPartition]chan sealed),
		txn:         txnState{partitions: make(map[topicPartition]bool)},
	}
	p.acc = newAccumulator(cfg.BatchSizeBytes, time.Duration(cfg.LingerMs)*time.Millisecond, p.dispatch)
	if cfg.Idempotent {
		if err := p.initProducerId(context.Background()); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// SetPartitioner replaces the default partitioner. Call before the first
// Send.
func (p *Producer) SetPartitioner(pr Partitioner) { p.partitioner = pr }

// initProducerId obtains (or, for a transactional id that was used before,
// re-obtains with a bumped epoch) the producer identity.
func (p *Producer) initProducerId(ctx context.Context) error {
	op := func() error {
		callCtx, cancel := p.cl.RequestTimeout(ctx)
		defer cancel()
		var conn *client.Conn
		var err error
		if p.Config.TransactionalId != "" {
			conn, err = p.coordinator(callCtx)
		} else {
			conn, err = p.cl.Pool.Any()
		}
		if err != nil {
			return err
		}
		req := InitProducerId.NewRequest(p.Config.TransactionalId, int32(p.Config.TransactionTimeoutMs))
		resp := &InitProducerId.Response{}
		if err := conn.Call(callCtx, req, resp); err != nil {
			return err
		}
		if err := courier.ErrorFromCode(resp.ErrorCode); err != nil {
			return err
		}
		p.producerId = resp.ProducerId
		p.producerEpoch = resp.ProducerEpoch
		return nil
	}
	if err := p.cl.Retry(ctx, op, nil); err != nil {
		return fmt.Errorf("error initializing producer id: %w", err)
	}
	level.Debug(p.logger).Log("msg", "producer id initialized",
		"producer_id", p.producerId, "epoch", p.producerEpoch)
	return nil
}

func (p *Producer) coordinator(ctx context.Context) (*client.Conn, error) {
	return p.cl.Metadata.Coordinator(ctx, p.Config.TransactionalId, FindCoordinator.CoordinatorTransaction)
}

// Send enqueues one message. Partitioning errors (unknown topic, explicit
// partition out of range, oversized record) are returned synchronously; the
// returned receipt resolves with the broker outcome. Send blocks only when
// the target partition's writer queue is full.
func (p *Producer) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	if p.closed.Load() {
		return nil, courier.ErrClosed
	}
	if p.fenced.Load() {
		return nil, courier.ErrProducerFenced
	}
	if p.Config.TransactionalId != "" && !p.txnActive() {
		return nil, courier.ErrNoActiveTransaction
	}
	snapshot, err := p.cl.Metadata.Partitions(ctx, msg.Topic)
	if err != nil {
		return nil, err
	}
	n := snapshot.NumPartitions()
	partition := msg.Partition
	if partition < 0 {
		partition = p.partitioner.Partition(msg.Topic, msg.Key, n)
	} else if partition >= n {
		return nil, fmt.Errorf("%w: partition %d, topic %s has %d partitions",
			courier.ErrPartitionOutOfRange, partition, msg.Topic, n)
	}
	r := record.New(msg.Key, msg.Value)
	r.Headers = msg.Headers
	size := len(r.Marshal())
	if size > p.Config.BatchSizeBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", courier.ErrRecordTooLarge, size, p.Config.BatchSizeBytes)
	}
	tp := topicPartition{topic: msg.Topic, partition: partition}
	receipt := newReceipt(msg.Topic, partition)
	p.acc.add(tp, r, receipt, size)
	return receipt, nil
}

// SendBatch enqueues messages one by one. A synchronous Send error becomes a
// pre-failed receipt, so the returned slice always matches msgs by index.
func (p *Producer) SendBatch(ctx context.Context, msgs []*Message) []*Receipt {
	receipts := make([]*Receipt, len(msgs))
	for i, m := range msgs {
		r, err := p.Send(ctx, m)
		if err != nil {
			r = failedReceipt(m.Topic, m.Partition, err)
		}
		receipts[i] = r
	}
	return receipts
}

// dispatch hands a sealed batch to its partition writer, creating the writer
// on first use. Called by the accumulator for every sealed batch, whichever
// of size, linger, or flush sealed it; the partitioner rotates here so sticky
// rotation keeps up with all three.
func (p *Producer) dispatch(s sealed) {
	p.partitioner.BatchSealed(s.tp.topic, s.tp.partition)
	p.inflight.Add(1)
	p.writersMu.Lock()
	ch, ok := p.writers[s.tp]
	if !ok {
		ch = make(chan sealed, 16)
		p.writers[s.tp] = ch
		go p.writeLoop(ch)
	}
	p.writersMu.Unlock()
	ch <- s
}

func (p *Producer) writeLoop(ch chan sealed) {
	for s := range ch {
		p.writeBatch(s)
		p.inflight.Done()
	}
}

// nextSequence reserves numRecords sequence numbers for the partition and
// returns the base. Called once per batch before the first attempt; retries
// of the same batch reuse the same base.
func (p *Producer) nextSequence(tp topicPartition, numRecords int32) int32 {
	p.seqMu.Lock()
	defer p.seqMu.Unlock()
	base := p.sequences[tp]
	p.sequences[tp] = base + numRecords
	return base
}

// writeBatch builds, stamps, and produces one batch, retrying per the client
// retry policy. All the batch's receipts resolve here, exactly once.
func (p *Producer) writeBatch(s sealed) {
	fail := func(err error) {
		p.Metrics.ProduceErrors.WithLabelValues(s.tp.topic).Inc()
		if p.Config.TransactionalId != "" {
			p.txnFailed(err)
		}
		for _, r := range s.receipts {
			r.resolve(-1, err)
		}
	}
	b, err := s.builder.Build(time.Now().UTC())
	if err != nil {
		fail(err)
		return
	}
	if err := b.Compress(p.codec); err != nil {
		fail(err)
		return
	}
	ctx := context.Background()
	if p.Config.TransactionalId != "" {
		if err := p.addTxnPartition(ctx, s.tp); err != nil {
			fail(err)
			return
		}
	}
	if p.Config.Idempotent {
		base := p.nextSequence(s.tp, b.NumRecords)
		b.SetProducerState(p.producerId, p.producerEpoch, base, p.Config.TransactionalId != "")
	}
	recordSet := b.Marshal()
	args := &Produce.Args{
		TransactionalId: p.Config.TransactionalId,
		Topic:           s.tp.topic,
		Partition:       s.tp.partition,
		Acks:            p.Config.Acks,
		TimeoutMs:       int32(p.Config.RequestTimeoutMs),
	}
	var baseOffset int64
	op := func() error {
		callCtx, cancel := p.cl.RequestTimeout(ctx)
		defer cancel()
		conn, err := p.cl.Metadata.Leader(callCtx, s.tp.topic, s.tp.partition)
		if err != nil {
			return err
		}
		resp := &Produce.Response{}
		if err := conn.Call(callCtx, Produce.NewRequest(args, recordSet), resp); err != nil {
			return err
		}
		pr := partitionResponse(resp, s.tp)
		if pr == nil {
			return fmt.Errorf("partition %s[%d] missing from produce response: %w",
				s.tp.topic, s.tp.partition, &courier.Error{Code: courier.ERR_UNKNOWN_SERVER_ERROR})
		}
		if pr.ErrorCode == courier.ERR_DUPLICATE_SEQUENCE_NUMBER {
			// an earlier attempt got through; the records are in the log
			baseOffset = pr.BaseOffset
			return nil
		}
		if err := courier.ErrorFromCode(pr.ErrorCode); err != nil {
			return err
		}
		baseOffset = pr.BaseOffset
		return nil
	}
	onRetry := func(err error) {
		p.Metrics.ProduceRetries.Inc()
		p.cl.Metadata.Invalidate(s.tp.topic)
		level.Debug(p.logger).Log("msg", "retrying produce", "topic", s.tp.topic,
			"partition", s.tp.partition, "err", err)
	}
	if err := p.cl.Retry(ctx, op, onRetry); err != nil {
		if courier.IsFencing(err) {
			p.fenced.Store(true)
			err = fmt.Errorf("%w: %v", courier.ErrProducerFenced, err)
		}
		level.Error(p.logger).Log("msg", "produce failed", "topic", s.tp.topic,
			"partition", s.tp.partition, "records", b.NumRecords, "err", err)
		fail(err)
		return
	}
	p.Metrics.RecordsProduced.WithLabelValues(s.tp.topic).Add(float64(b.NumRecords))
	p.Metrics.BytesProduced.WithLabelValues(s.tp.topic).Add(float64(len(recordSet)))
	p.Metrics.BatchSizeRecords.Observe(float64(b.NumRecords))
	p.Metrics.BatchSizeBytes.Observe(float64(len(recordSet)))
	for i, r := range s.receipts {
		r.resolve(baseOffset+int64(i), nil)
	}
}

func partitionResponse(resp *Produce.Response, tp topicPartition) *Produce.PartitionResponse {
	for i := range resp.TopicResponses {
		t := &resp.TopicResponses[i]
		if t.Topic != tp.topic {
			continue
		}
		for j := range t.PartitionResponses {
			if t.PartitionResponses[j].Partition == tp.partition {
				return &t.PartitionResponses[j]
			}
		}
	}
	return nil
}

// Flush seals all pending batches and blocks until every batch in flight at
// the time of the call has resolved, or until ctx expires.
func (p *Producer) Flush(ctx context.Context) error {
	p.acc.flush()
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending records and stops the partition writers. The
// underlying client stays open (it may be shared).
func (p *Producer) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.Flush(ctx)
	p.writersMu.Lock()
	for tp, ch := range p.writers {
		close(ch)
		delete(p.writers, tp)
	}
	p.writersMu.Unlock()
	return err
}
