package producer

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-kit/log/level"

	"github.com/courier-mq/courier"
	"github.com/courier-mq/courier/api/AddPartitionsToTxn"
	"github.com/courier-mq/courier/api/EndTxn"
)

// txnState tracks the open transaction: the partitions enlisted with the
// coordinator so far, and the first batch failure inside the transaction
// (which forces an abort on commit).
type txnState struct {
	mu         sync.Mutex
	active     bool
	partitions map[topicPartition]bool
	err        error
}

func (p *Producer) txnActive() bool {
	p.txn.mu.Lock()
	defer p.txn.mu.Unlock()
	return p.txn.active
}

func (p *Producer) txnFailed(err error) {
	p.txn.mu.Lock()
	if p.txn.err == nil {
		p.txn.err = err
	}
	p.txn.mu.Unlock()
}

// BeginTransaction opens a transaction. Sends until the matching
// CommitTransaction or AbortTransaction belong to it. Only one transaction
// may be open at a time.
func (p *Producer) BeginTransaction() error {
	if p.Config.TransactionalId == "" {
		return fmt.Errorf("transactional_id is not configured")
	}
	if p.fenced.Load() {
		return courier.ErrProducerFenced
	}
	p.txn.mu.Lock()
	defer p.txn.mu.Unlock()
	if p.txn.active {
		return courier.ErrTransactionInFlight
	}
	p.txn.active = true
	p.txn.err = nil
	p.txn.partitions = make(map[topicPartition]bool)
	return nil
}

// addTxnPartition enlists the partition with the transaction coordinator
// before its first batch of the transaction is produced. Subsequent batches
// to the same partition skip the call.
func (p *Producer) addTxnPartition(ctx context.Context, tp topicPartition) error {
	p.txn.mu.Lock()
	if p.txn.partitions[tp] {
		p.txn.mu.Unlock()
		return nil
	}
	p.txn.mu.Unlock()
	op := func() error {
		callCtx, cancel := p.cl.RequestTimeout(ctx)
		defer cancel()
		conn, err := p.coordinator(callCtx)
		if err != nil {
			return err
		}
		req := AddPartitionsToTxn.NewRequest(p.Config.TransactionalId, p.producerId, p.producerEpoch,
			map[string][]int32{tp.topic: {tp.partition}})
		resp := &AddPartitionsToTxn.Response{}
		if err := conn.Call(callCtx, req, resp); err != nil {
			return err
		}
		return courier.ErrorFromCode(resp.ErrorCode())
	}
	if err := p.cl.Retry(ctx, op, nil); err != nil {
		if courier.IsFencing(err) {
			p.fenced.Store(true)
			err = fmt.Errorf("%w: %v", courier.ErrProducerFenced, err)
		}
		return fmt.Errorf("error adding %s[%d] to transaction: %w", tp.topic, tp.partition, err)
	}
	p.txn.mu.Lock()
	p.txn.partitions[tp] = true
	p.txn.mu.Unlock()
	return nil
}

// CommitTransaction flushes the transaction's records and commits. If any
// batch inside the transaction failed, the transaction is aborted instead
// and the batch error is returned: a transaction never half-commits.
func (p *Producer) CommitTransaction(ctx context.Context) error {
	if !p.txnActive() {
		return courier.ErrNoActiveTransaction
	}
	if err := p.Flush(ctx); err != nil {
		return err
	}
	p.txn.mu.Lock()
	txnErr := p.txn.err
	enlisted := len(p.txn.partitions)
	p.txn.mu.Unlock()
	if txnErr != nil {
		level.Debug(p.logger).Log("msg", "aborting transaction after batch failure", "err", txnErr)
		if err := p.endTxn(ctx, false, enlisted); err != nil {
			return fmt.Errorf("error aborting failed transaction: %v (batch error: %w)", err, txnErr)
		}
		p.clearTxn()
		return fmt.Errorf("transaction aborted: %w", txnErr)
	}
	if err := p.endTxn(ctx, true, enlisted); err != nil {
		return err
	}
	p.clearTxn()
	p.Metrics.TransactionsUsed.WithLabelValues("commit").Inc()
	return nil
}

// AbortTransaction flushes outstanding sends (their outcomes are discarded;
// aborted records are invisible to read-committed consumers) and aborts.
func (p *Producer) AbortTransaction(ctx context.Context) error {
	if !p.txnActive() {
		return courier.ErrNoActiveTransaction
	}
	if err := p.Flush(ctx); err != nil {
		return err
	}
	p.txn.mu.Lock()
	enlisted := len(p.txn.partitions)
	p.txn.mu.Unlock()
	if err := p.endTxn(ctx, false, enlisted); err != nil {
		return err
	}
	p.clearTxn()
	p.Metrics.TransactionsUsed.WithLabelValues("abort").Inc()
	return nil
}

// endTxn sends EndTxn to the coordinator. A transaction with no enlisted
// partitions was never opened on the coordinator, so there is nothing to
// end and the call is skipped.
func (p *Producer) endTxn(ctx context.Context, committed bool, enlisted int) error {
	if enlisted == 0 {
		return nil
	}
	op := func() error {
		callCtx, cancel := p.cl.RequestTimeout(ctx)
		defer cancel()
		conn, err := p.coordinator(callCtx)
		if err != nil {
			return err
		}
		resp := &EndTxn.Response{}
		req := EndTxn.NewRequest(p.Config.TransactionalId, p.producerId, p.producerEpoch, committed)
		if err := conn.Call(callCtx, req, resp); err != nil {
			return err
		}
		return courier.ErrorFromCode(resp.ErrorCode)
	}
	if err := p.cl.Retry(ctx, op, nil); err != nil {
		if courier.IsFencing(err) {
			p.fenced.Store(true)
			err = fmt.Errorf("%w: %v", courier.ErrProducerFenced, err)
		}
		return fmt.Errorf("error ending transaction (committed=%t): %w", committed, err)
	}
	return nil
}

func (p *Producer) clearTxn() {
	p.txn.mu.Lock()
	p.txn.active = false
	p.txn.err = nil
	p.txn.partitions = make(map[topicPartition]bool)
	p.txn.mu.Unlock()
}
