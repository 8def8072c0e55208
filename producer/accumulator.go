package producer

import (
	"sync"
	"time"

	"github.com/courier-mq/courier/batch"
	"github.com/courier-mq/courier/record"
)

type topicPartition struct {
	topic     string
	partition int32
}

// sealed is a closed batch handed off to the partition writer. Receipts are
// in record order; receipt i resolves to batch BaseOffset+i.
type sealed struct {
	tp       topicPartition
	builder  *batch.Builder
	receipts []*Receipt
	bytes    int
}

type pending struct {
	builder  *batch.Builder
	receipts []*Receipt
	bytes    int
	timer    *time.Timer
}

// accumulator groups records into per-partition batches. A batch is sealed
// and dispatched when its marshaled size reaches sizeLimit or when linger
// expires, whichever comes first. With linger zero every record ships in its
// own batch.
type accumulator struct {
	sizeLimit int
	linger    time.Duration
	dispatch  func(sealed)

	mu      sync.Mutex
	batches map[topicPartition]*pending
}

func newAccumulator(sizeLimit int, linger time.Duration, dispatch func(sealed)) *accumulator {
	return &accumulator{
		sizeLimit: sizeLimit,
		linger:    linger,
		dispatch:  dispatch,
		batches:   make(map[topicPartition]*pending),
	}
}

// add appends one record to the partition's pending batch. Returns true when
// the add sealed the batch.
func (a *accumulator) add(tp topicPartition, r *record.Record, receipt *Receipt, size int) bool {
	a.mu.Lock()
	p := a.batches[tp]
	if p == nil {
		p = &pending{builder: batch.NewBuilder(time.Now().UTC())}
		a.batches[tp] = p
		if a.linger > 0 {
			p.timer = time.AfterFunc(a.linger, func() { a.flushPartition(tp) })
		}
	}
	p.builder.Add(r)
	p.receipts = append(p.receipts, receipt)
	p.bytes += size
	if p.bytes >= a.sizeLimit || a.linger == 0 {
		s := a.sealLocked(tp, p)
		a.mu.Unlock()
		a.dispatch(s)
		return true
	}
	a.mu.Unlock()
	return false
}

// sealLocked removes the pending batch from the map and stops its timer.
// Caller holds a.mu.
func (a *accumulator) sealLocked(tp topicPartition, p *pending) sealed {
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(a.batches, tp)
	return sealed{tp: tp, builder: p.builder, receipts: p.receipts, bytes: p.bytes}
}

func (a *accumulator) flushPartition(tp topicPartition) {
	a.mu.Lock()
	p := a.batches[tp]
	if p == nil {
		a.mu.Unlock()
		return
	}
	s := a.sealLocked(tp, p)
	a.mu.Unlock()
	a.dispatch(s)
}

// flush seals every pending batch regardless of size or linger.
func (a *accumulator) flush() {
	a.mu.Lock()
	var out []sealed
	for tp, p := range a.batches {
		out = append(out, a.sealLocked(tp, p))
	}
	a.mu.Unlock()
	for _, s := range out {
		a.dispatch(s)
	}
}
