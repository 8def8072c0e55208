package producer

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/courier-mq/courier"
	"github.com/courier-mq/courier/metrics"
)

// bare constructs a producer with no broker behind it, enough to exercise
// the transaction state machine paths that never reach the network.
func bare(transactionalId string) *Producer {
	p := &Producer{
		Config: courier.ProducerConfig{
			TransactionalId: transactionalId,
		},
		Metrics:   metrics.New(nil),
		logger:    log.NewNopLogger(),
		sequences: make(map[topicPartition]int32),
		writers:   make(map[topicPartition]chan sealed),
		txn:       txnState{partitions: make(map[topicPartition]bool)},
	}
	p.acc = newAccumulator(1<<20, time.Hour, p.dispatch)
	return p
}

func TestUnitBeginWithoutTransactionalId(t *testing.T) {
	p := bare("")
	require.Error(t, p.BeginTransaction())
}

func TestUnitBeginTwice(t *testing.T) {
	p := bare("txn-1")
	require.NoError(t, p.BeginTransaction())
	require.ErrorIs(t, p.BeginTransaction(), courier.ErrTransactionInFlight)
}

func TestUnitCommitWithoutBegin(t *testing.T) {
	p := bare("txn-1")
	require.ErrorIs(t, p.CommitTransaction(context.Background()), courier.ErrNoActiveTransaction)
}

func TestUnitAbortWithoutBegin(t *testing.T) {
	p := bare("txn-1")
	require.ErrorIs(t, p.AbortTransaction(context.Background()), courier.ErrNoActiveTransaction)
}

func TestUnitCommitEmptyTransaction(t *testing.T) {
	// no partitions were enlisted with the coordinator, so there is nothing
	// to end; commit succeeds without any broker call
	p := bare("txn-1")
	require.NoError(t, p.BeginTransaction())
	require.NoError(t, p.CommitTransaction(context.Background()))
	require.False(t, p.txnActive())
	// the producer is reusable for the next transaction
	require.NoError(t, p.BeginTransaction())
}

func TestUnitAbortEmptyTransaction(t *testing.T) {
	p := bare("txn-1")
	require.NoError(t, p.BeginTransaction())
	require.NoError(t, p.AbortTransaction(context.Background()))
	require.False(t, p.txnActive())
}

func TestUnitCommitAfterBatchFailure(t *testing.T) {
	p := bare("txn-1")
	require.NoError(t, p.BeginTransaction())
	p.txnFailed(courier.ErrRequestTimeout)
	err := p.CommitTransaction(context.Background())
	require.ErrorIs(t, err, courier.ErrRequestTimeout, "commit reports the batch failure")
	require.False(t, p.txnActive(), "the failed transaction was aborted")
}

func TestUnitBeginWhenFenced(t *testing.T) {
	p := bare("txn-1")
	p.fenced.Store(true)
	require.ErrorIs(t, p.BeginTransaction(), courier.ErrProducerFenced)
}

func TestUnitSendOutsideTransaction(t *testing.T) {
	p := bare("txn-1")
	_, err := p.Send(context.Background(), &Message{Topic: "events", Partition: -1})
	require.ErrorIs(t, err, courier.ErrNoActiveTransaction)
}
