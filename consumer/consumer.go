/*
Package consumer implements a consumer group member.

Run joins the configured group, receives a partition assignment, and fetches
those partitions until the context is canceled or the group rebalances. On a
rebalance (another member joined or left, or this member fell behind on
heartbeats) in-flight work for revoked partitions is discarded and the
member rejoins; processing then resumes from the last committed offsets, so
handlers must tolerate redelivery.

Exactly one of Handler.EachMessage or Handler.EachBatch must be set. A
handler error halts consumption of that partition for the rest of the
session; other partitions continue.

By default the consumer reads committed data only: records from transactions
that aborted, and records from transactions still in progress, are not
delivered.
*/
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/courier-mq/courier"
	"github.com/courier-mq/courier/api/Fetch"
	"github.com/courier-mq/courier/api/ListOffsets"
	"github.com/courier-mq/courier/batch"
	"github.com/courier-mq/courier/client"
	"github.com/courier-mq/courier/metrics"
	"github.com/courier-mq/courier/record"
)

// errRebalance ends a session so the member rejoins the group.
var errRebalance = errors.New("group is rebalancing")

// Message is one record delivered to a handler.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   []record.Header
	Timestamp time.Time
}

// Batch is a set of messages from one partition, delivered to EachBatch.
type Batch struct {
	Topic         string
	Partition     int32
	Messages      []*Message
	HighWatermark int64

	c        *Consumer
	s        *session
	resolved int64
}

// ResolveOffset marks offset as processed. The next commit for the
// partition commits offset+1. EachBatch handlers that return early should
// resolve as they go; a handler that returns nil without resolving anything
// has the whole batch resolved for it.
func (b *Batch) ResolveOffset(offset int64) {
	b.resolved = offset
	b.c.mark(topicPartition{topic: b.Topic, partition: b.Partition}, offset+1)
}

// Heartbeat lets a long-running handler keep its group membership alive
// between fetches.
func (b *Batch) Heartbeat(ctx context.Context) error {
	callCtx, cancel := b.c.cl.RequestTimeout(ctx)
	defer cancel()
	return b.c.group.heartbeat(callCtx, b.s)
}

// Commit writes the partition's resolved offset to the coordinator now,
// instead of waiting for the autocommit tick.
func (b *Batch) Commit(ctx context.Context) error {
	b.c.offMu.Lock()
	offset, ok := b.c.offsets[topicPartition{topic: b.Topic, partition: b.Partition}]
	b.c.offMu.Unlock()
	if !ok {
		return nil
	}
	err := b.c.group.commit(ctx, b.s, b.Topic, map[int32]int64{b.Partition: offset})
	if err == nil {
		b.c.Metrics.OffsetCommits.Inc()
	}
	return err
}

// Handler is the processing callback for Run. Set exactly one field.
type Handler struct {
	EachMessage func(ctx context.Context, msg *Message) error
	EachBatch   func(ctx context.Context, b *Batch) error
}

type Consumer struct {
	Config  courier.ConsumerConfig
	Metrics *metrics.Metrics

	cl     *client.Client
	logger log.Logger
	group  *group

	topics        []string
	fromBeginning bool
	isolation     int8

	offMu   sync.Mutex
	offsets map[topicPartition]int64 // next offset to commit
	seeks   map[topicPartition]int64 // explicit start offsets, consumed at session start

	session atomic.Pointer[session]
	running atomic.Bool
}

func New(cl *client.Client, cfg courier.ConsumerConfig) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := log.With(cl.Logger(), "component", "consumer", "group", cfg.GroupId)
	return &Consumer{
		Config:    cfg,
		Metrics:   metrics.New(nil),
		cl:        cl,
		logger:    logger,
		group:     &group{cl: cl, cfg: cfg, logger: logger},
		isolation: Fetch.ReadCommitted,
		offsets:   make(map[topicPartition]int64),
		seeks:     make(map[topicPartition]int64),
	}, nil
}

// Subscribe sets the topics to consume. fromBeginning controls where a
// partition with no committed offset starts: the oldest available offset, or
// only records produced from now on. Call before Run.
func (c *Consumer) Subscribe(topics []string, fromBeginning bool) {
	c.topics = topics
	c.fromBeginning = fromBeginning
}

// SetIsolation overrides the default read-committed isolation.
// Fetch.ReadUncommitted delivers records from open and aborted transactions.
func (c *Consumer) SetIsolation(level int8) { c.isolation = level }

// Seek overrides the start offset for one partition. Takes effect when the
// partition is next assigned to this member; it does not move commits that
// already happened.
func (c *Consumer) Seek(topic string, partition int32, offset int64) {
	c.offMu.Lock()
	c.seeks[topicPartition{topic: topic, partition: partition}] = offset
	c.offMu.Unlock()
}

// CommitOffsets writes all resolved offsets to the coordinator. For use with
// AutoCommit disabled; requires a running session.
func (c *Consumer) CommitOffsets(ctx context.Context) error {
	return c.commitDirty(ctx, c.currentSession())
}

func (c *Consumer) mark(tp topicPartition, next int64) {
	c.offMu.Lock()
	if next > c.offsets[tp] {
		c.offsets[tp] = next
	}
	c.offMu.Unlock()
}

func (c *Consumer) currentSession() *session {
	return c.session.Load()
}

// Run joins the group and consumes until ctx is canceled or a fatal error
// occurs. Rebalances and retryable failures rejoin automatically.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	if (h.EachMessage == nil) == (h.EachBatch == nil) {
		return fmt.Errorf("exactly one of EachMessage and EachBatch must be set")
	}
	if len(c.topics) == 0 {
		return fmt.Errorf("no topics subscribed")
	}
	if !c.running.CompareAndSwap(false, true) {
		return fmt.Errorf("consumer is already running")
	}
	defer c.running.Store(false)
	defer func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), courier.DialTimeout)
		defer cancel()
		c.group.leave(leaveCtx)
	}()
	b := c.cl.Backoff()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.runSession(ctx, h)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return ctx.Err()
			}
		case errors.Is(err, errRebalance), errors.Is(err, courier.ErrIllegalGeneration):
			c.Metrics.Rebalances.Inc()
			level.Debug(c.logger).Log("msg", "rejoining group", "reason", err)
			b.Reset()
			continue
		case courier.IsRetryable(err):
			level.Warn(c.logger).Log("msg", "session failed, rejoining", "err", err)
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		default:
			return err
		}
	}
}

// runSession is one generation of membership: join, heartbeat, consume
// assigned partitions, commit. Returns errRebalance (possibly wrapped) when
// the member must rejoin.
func (c *Consumer) runSession(ctx context.Context, h Handler) error {
	s, err := c.group.join(ctx, c.topics)
	if err != nil {
		return err
	}
	c.session.Store(s)
	defer c.session.Store(nil)
	assigned := s.partitions()
	if len(assigned) == 0 {
		// nothing assigned; idle until the next rebalance
		return c.idle(ctx, s)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	hbErr := make(chan error, 1)
	go func() {
		if err := c.heartbeatLoop(sessCtx, s); err != nil {
			hbErr <- err
			cancel() // revoke: discard in-flight fetches
		}
	}()

	starts, err := c.startOffsets(sessCtx, s)
	if err != nil {
		return err
	}

	if c.Config.AutoCommit {
		go c.autocommitLoop(sessCtx, s)
	}

	// every partition fetches in its own goroutine so none starves; slots
	// bound how many handlers run at once
	g, workerCtx := errgroup.WithContext(sessCtx)
	slots := make(chan struct{}, c.Config.PartitionsConsumedConcurrently)
	for _, tp := range assigned {
		tp := tp
		g.Go(func() error {
			return c.consumePartition(workerCtx, s, h, tp, starts[tp], slots)
		})
	}
	err = g.Wait()

	// final commit with the session's generation, before any rejoin
	if c.Config.AutoCommit {
		commitCtx, commitCancel := context.WithTimeout(context.Background(), courier.DialTimeout)
		if cerr := c.commitDirty(commitCtx, s); cerr != nil {
			level.Debug(c.logger).Log("msg", "final session commit failed", "err", cerr)
		}
		commitCancel()
	}

	select {
	case herr := <-hbErr:
		return fmt.Errorf("%w: %v", errRebalance, herr)
	default:
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// idle holds group membership for a member with no assigned partitions.
func (c *Consumer) idle(ctx context.Context, s *session) error {
	if err := c.heartbeatLoop(ctx, s); err != nil {
		return fmt.Errorf("%w: %v", errRebalance, err)
	}
	return ctx.Err()
}

// heartbeatLoop reports liveness to the coordinator. Returns when the
// coordinator signals a rebalance or the generation went stale; transient
// errors are absorbed, the session timeout is the real deadline.
func (c *Consumer) heartbeatLoop(ctx context.Context, s *session) error {
	ticker := time.NewTicker(time.Duration(c.Config.HeartbeatIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		callCtx, cancel := c.cl.RequestTimeout(ctx)
		err := c.group.heartbeat(callCtx, s)
		cancel()
		if err == nil {
			continue
		}
		var e *courier.Error
		if errors.As(err, &e) {
			switch e.Code {
			case courier.ERR_REBALANCE_IN_PROGRESS, courier.ERR_ILLEGAL_GENERATION, courier.ERR_UNKNOWN_MEMBER_ID:
				return err
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		c.Metrics.HeartbeatErrors.Inc()
		level.Debug(c.logger).Log("msg", "heartbeat error", "err", err)
	}
}

func (c *Consumer) autocommitLoop(ctx context.Context, s *session) {
	ticker := time.NewTicker(time.Duration(c.Config.AutoCommitIntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := c.commitDirty(ctx, s); err != nil {
			level.Debug(c.logger).Log("msg", "autocommit failed", "err", err)
		}
	}
}

// commitDirty commits every marked offset, grouped by topic.
func (c *Consumer) commitDirty(ctx context.Context, s *session) error {
	if s == nil {
		return courier.ErrIllegalGeneration
	}
	c.offMu.Lock()
	byTopic := make(map[string]map[int32]int64)
	for tp, offset := range c.offsets {
		if byTopic[tp.topic] == nil {
			byTopic[tp.topic] = make(map[int32]int64)
		}
		byTopic[tp.topic][tp.partition] = offset
	}
	c.offMu.Unlock()
	for topic, offsets := range byTopic {
		if err := c.group.commit(ctx, s, topic, offsets); err != nil {
			return err
		}
		c.Metrics.OffsetCommits.Inc()
	}
	return nil
}

// startOffsets resolves where each assigned partition starts: an explicit
// Seek, then the group's committed offset, then the oldest or newest offset
// per the subscription.
func (c *Consumer) startOffsets(ctx context.Context, s *session) (map[topicPartition]int64, error) {
	committed, err := c.group.committed(ctx, s.assigned)
	if err != nil {
		return nil, err
	}
	starts := make(map[topicPartition]int64)
	for _, tp := range s.partitions() {
		c.offMu.Lock()
		seek, seeked := c.seeks[tp]
		delete(c.seeks, tp)
		c.offMu.Unlock()
		if seeked {
			starts[tp] = seek
			continue
		}
		if offset, ok := committed[tp]; ok && offset >= 0 {
			starts[tp] = offset
			continue
		}
		timestamp := ListOffsets.Newest
		if c.fromBeginning {
			timestamp = ListOffsets.Oldest
		}
		offset, err := c.listOffset(ctx, tp, timestamp)
		if err != nil {
			return nil, err
		}
		starts[tp] = offset
	}
	return starts, nil
}

// listOffset asks the partition leader for the offset at a timestamp
// (or ListOffsets.Newest / ListOffsets.Oldest).
func (c *Consumer) listOffset(ctx context.Context, tp topicPartition, timestamp int64) (int64, error) {
	var offset int64
	op := func() error {
		callCtx, cancel := c.cl.RequestTimeout(ctx)
		defer cancel()
		conn, err := c.cl.Metadata.Leader(callCtx, tp.topic, tp.partition)
		if err != nil {
			return err
		}
		resp := &ListOffsets.Response{}
		if err := conn.Call(callCtx, ListOffsets.NewRequest(tp.topic, tp.partition, timestamp), resp); err != nil {
			return err
		}
		for _, t := range resp.Responses {
			for _, p := range t.Partitions {
				if t.Topic == tp.topic && p.Partition == tp.partition {
					if err := courier.ErrorFromCode(p.ErrorCode); err != nil {
						return err
					}
					offset = p.Offset
					return nil
				}
			}
		}
		return fmt.Errorf("partition %s[%d] missing from list offsets response: %w",
			tp.topic, tp.partition, &courier.Error{Code: courier.ERR_UNKNOWN_SERVER_ERROR})
	}
	onRetry := func(error) { c.cl.Metadata.Invalidate(tp.topic) }
	if err := c.cl.Retry(ctx, op, onRetry); err != nil {
		return -1, fmt.Errorf("error listing offsets for %s[%d]: %w", tp.topic, tp.partition, err)
	}
	return offset, nil
}

// consumePartition fetches one partition for the life of the session.
// Delivery to the handler waits for a slot, so handler concurrency across
// partitions is bounded while every partition keeps fetching. A handler
// error stops this partition but not the session; fetch errors that survive
// the retry policy end the session.
func (c *Consumer) consumePartition(ctx context.Context, s *session, h Handler, tp topicPartition, offset int64, slots chan struct{}) error {
	level.Debug(c.logger).Log("msg", "consuming partition", "topic", tp.topic,
		"partition", tp.partition, "offset", offset)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pr, err := c.fetch(ctx, tp, offset)
		if err != nil {
			var e *courier.Error
			if errors.As(err, &e) && e.Code == courier.ERR_OFFSET_OUT_OF_RANGE {
				// the log moved on under us (retention); reset
				timestamp := ListOffsets.Newest
				if c.fromBeginning {
					timestamp = ListOffsets.Oldest
				}
				if offset, err = c.listOffset(ctx, tp, timestamp); err != nil {
					return err
				}
				continue
			}
			return err
		}
		msgs, err := c.parseRecordSet(tp, offset, pr.RecordSet, pr.AbortedTransactions)
		if err != nil {
			return err
		}
		last := lastOffset(pr.RecordSet)
		if len(msgs) == 0 {
			if last >= offset {
				// everything in the response was filtered (markers,
				// aborted data); move past it
				offset = last + 1
			}
			continue
		}
		c.Metrics.RecordsFetched.WithLabelValues(tp.topic).Add(float64(len(msgs)))
		c.Metrics.BytesFetched.WithLabelValues(tp.topic).Add(float64(len(pr.RecordSet)))
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		err = c.deliver(ctx, s, h, tp, msgs, pr.HighWatermark)
		<-slots
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			level.Error(c.logger).Log("msg", "handler failed, partition halted", "topic", tp.topic,
				"partition", tp.partition, "err", err)
			<-ctx.Done()
			return nil
		}
		offset = msgs[len(msgs)-1].Offset + 1
	}
}

// lastOffset returns the highest record offset covered by the record set, or
// -1 when it holds no complete batch.
func lastOffset(recordSet []byte) int64 {
	last := int64(-1)
	for _, raw := range batch.RecordSet(recordSet).Batches() {
		if b, err := batch.Unmarshal(raw); err == nil && b.LastOffset() > last {
			last = b.LastOffset()
		}
	}
	return last
}

func (c *Consumer) deliver(ctx context.Context, s *session, h Handler, tp topicPartition, msgs []*Message, highWatermark int64) error {
	if h.EachMessage != nil {
		for _, m := range msgs {
			if err := h.EachMessage(ctx, m); err != nil {
				return err
			}
			c.mark(tp, m.Offset+1)
		}
		return nil
	}
	b := &Batch{
		Topic:         tp.topic,
		Partition:     tp.partition,
		Messages:      msgs,
		HighWatermark: highWatermark,
		c:             c,
		s:             s,
		resolved:      -1,
	}
	if err := h.EachBatch(ctx, b); err != nil {
		return err
	}
	if b.resolved < 0 {
		b.ResolveOffset(msgs[len(msgs)-1].Offset)
	}
	return nil
}

// fetch makes one fetch call for the partition, retrying per the client
// retry policy. Blocks up to MaxWaitTimeMs on the broker when no data is
// available.
func (c *Consumer) fetch(ctx context.Context, tp topicPartition, offset int64) (*Fetch.PartitionResponse, error) {
	var pr *Fetch.PartitionResponse
	op := func() error {
		wait := time.Duration(c.Config.MaxWaitTimeMs+c.Config.RequestTimeoutMs) * time.Millisecond
		callCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		conn, err := c.cl.Metadata.Leader(callCtx, tp.topic, tp.partition)
		if err != nil {
			return err
		}
		resp := &Fetch.Response{}
		req := Fetch.NewRequest(&Fetch.Args{
			Topic:             tp.topic,
			Partition:         tp.partition,
			Offset:            offset,
			MinBytes:          int32(c.Config.MinBytes),
			MaxBytes:          int32(c.Config.MaxBytes),
			PartitionMaxBytes: int32(c.Config.MaxBytesPerPartition),
			MaxWaitTimeMs:     int32(c.Config.MaxWaitTimeMs),
			IsolationLevel:    c.isolation,
		})
		if err := conn.Call(callCtx, req, resp); err != nil {
			return err
		}
		pr = resp.PartitionResponse()
		if pr == nil {
			return fmt.Errorf("partition %s[%d] missing from fetch response: %w",
				tp.topic, tp.partition, &courier.Error{Code: courier.ERR_UNKNOWN_SERVER_ERROR})
		}
		if pr.ErrorCode == courier.ERR_OFFSET_OUT_OF_RANGE {
			return nil // caller resets the offset; do not retry blindly
		}
		return courier.ErrorFromCode(pr.ErrorCode)
	}
	onRetry := func(error) { c.cl.Metadata.Invalidate(tp.topic) }
	if err := c.cl.Retry(ctx, op, onRetry); err != nil {
		c.Metrics.FetchErrors.WithLabelValues(tp.topic).Inc()
		return nil, fmt.Errorf("error fetching %s[%d]: %w", tp.topic, tp.partition, err)
	}
	if pr.ErrorCode == courier.ERR_OFFSET_OUT_OF_RANGE {
		return nil, &courier.Error{Code: pr.ErrorCode}
	}
	return pr, nil
}

// parseRecordSet turns the fetched record set into messages at or past
// fetchOffset. Control batches (transaction markers) and, inside compressed
// batches, records before the fetch offset are skipped. The aborted list
// from the fetch response marks (producer id, first offset) ranges whose
// transactional batches were aborted; their records are dropped up to the
// producer's abort marker. Brokers only send the list under read-committed
// isolation.
func (c *Consumer) parseRecordSet(tp topicPartition, fetchOffset int64, recordSet []byte, aborted []Fetch.AbortedTransaction) ([]*Message, error) {
	abortedFrom := make(map[int64][]int64) // producer id -> first offsets, ascending
	for _, a := range aborted {
		abortedFrom[a.ProducerId] = append(abortedFrom[a.ProducerId], a.FirstOffset)
	}
	for _, offs := range abortedFrom {
		sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	}
	abortedNow := make(map[int64]bool) // producers inside an aborted transaction
	var msgs []*Message
	for _, raw := range batch.RecordSet(recordSet).Batches() {
		b, err := batch.Unmarshal(raw)
		if err != nil {
			return nil, fmt.Errorf("error parsing batch from %s[%d]: %w", tp.topic, tp.partition, err)
		}
		for offs := abortedFrom[b.ProducerId]; len(offs) > 0 && offs[0] <= b.BaseOffset; offs = offs[1:] {
			abortedNow[b.ProducerId] = true
			abortedFrom[b.ProducerId] = offs[1:]
		}
		if b.IsControl() {
			// the marker ends the producer's transaction
			delete(abortedNow, b.ProducerId)
			continue
		}
		if b.IsTransactional() && abortedNow[b.ProducerId] {
			continue
		}
		if err := b.Decompress(); err != nil {
			return nil, fmt.Errorf("error decompressing batch from %s[%d]: %w", tp.topic, tp.partition, err)
		}
		for _, rb := range b.Records() {
			r, err := record.Unmarshal(rb)
			if err != nil {
				return nil, fmt.Errorf("error parsing record from %s[%d]: %w", tp.topic, tp.partition, err)
			}
			offset := b.BaseOffset + r.OffsetDelta
			if offset < fetchOffset {
				continue
			}
			msgs = append(msgs, &Message{
				Topic:     tp.topic,
				Partition: tp.partition,
				Offset:    offset,
				Key:       r.Key,
				Value:     r.Value,
				Headers:   r.Headers,
				Timestamp: time.UnixMilli(b.FirstTimestamp + r.TimestampDelta),
			})
		}
	}
	return msgs, nil
}

func rebalanceTimeout(cfg courier.ConsumerConfig) time.Duration {
	return time.Duration(cfg.RebalanceTimeoutMs+cfg.RequestTimeoutMs) * time.Millisecond
}
