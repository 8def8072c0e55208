package producer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/courier-mq/courier/record"
)

type sealCollector struct {
	mu     sync.Mutex
	sealed []sealed
	notify chan sealed
}

func newSealCollector() *sealCollector {
	return &sealCollector{notify: make(chan sealed, 16)}
}

func (c *sealCollector) dispatch(s sealed) {
	c.mu.Lock()
	c.sealed = append(c.sealed, s)
	c.mu.Unlock()
	c.notify <- s
}

func (c *sealCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sealed)
}

func rec(n int) *record.Record {
	return record.New(nil, make([]byte, n))
}

func TestUnitAccumulatorLingerGroupsRecords(t *testing.T) {
	c := newSealCollector()
	a := newAccumulator(1<<20, time.Hour, c.dispatch)
	tp := topicPartition{topic: "events", partition: 0}
	for i := 0; i < 10; i++ {
		sealedNow := a.add(tp, rec(1024), newReceipt("events", 0), 1024)
		require.False(t, sealedNow)
	}
	require.Equal(t, 0, c.count(), "nothing sealed before linger or size limit")
	a.flush()
	select {
	case s := <-c.notify:
		require.Equal(t, 10, s.builder.NumRecords(), "all records in one batch")
		require.Len(t, s.receipts, 10)
	case <-time.After(time.Second):
		t.Fatal("flush did not dispatch")
	}
	require.Equal(t, 1, c.count())
}

func TestUnitAccumulatorSizeTrigger(t *testing.T) {
	c := newSealCollector()
	a := newAccumulator(100, time.Hour, c.dispatch)
	tp := topicPartition{topic: "events", partition: 0}
	require.False(t, a.add(tp, rec(40), newReceipt("events", 0), 40))
	require.False(t, a.add(tp, rec(40), newReceipt("events", 0), 40))
	require.True(t, a.add(tp, rec(40), newReceipt("events", 0), 40), "third add crosses the size limit")
	s := <-c.notify
	require.Equal(t, 3, s.builder.NumRecords())
	// the sealed batch is gone; the next add starts a new one
	require.False(t, a.add(tp, rec(40), newReceipt("events", 0), 40))
}

func TestUnitAccumulatorLingerTimer(t *testing.T) {
	c := newSealCollector()
	a := newAccumulator(1<<20, 10*time.Millisecond, c.dispatch)
	tp := topicPartition{topic: "events", partition: 0}
	require.False(t, a.add(tp, rec(10), newReceipt("events", 0), 10))
	select {
	case s := <-c.notify:
		require.Equal(t, 1, s.builder.NumRecords())
	case <-time.After(time.Second):
		t.Fatal("linger timer did not fire")
	}
}

func TestUnitAccumulatorNoLingerShipsImmediately(t *testing.T) {
	c := newSealCollector()
	a := newAccumulator(1<<20, 0, c.dispatch)
	tp := topicPartition{topic: "events", partition: 0}
	require.True(t, a.add(tp, rec(10), newReceipt("events", 0), 10))
	require.True(t, a.add(tp, rec(10), newReceipt("events", 0), 10))
	require.Equal(t, 2, c.count(), "every record ships in its own batch")
}

func TestUnitAccumulatorPerPartitionBatches(t *testing.T) {
	c := newSealCollector()
	a := newAccumulator(1<<20, time.Hour, c.dispatch)
	a.add(topicPartition{topic: "events", partition: 0}, rec(10), newReceipt("events", 0), 10)
	a.add(topicPartition{topic: "events", partition: 1}, rec(10), newReceipt("events", 1), 10)
	a.add(topicPartition{topic: "logs", partition: 0}, rec(10), newReceipt("logs", 0), 10)
	a.flush()
	require.Equal(t, 3, c.count(), "one batch per partition")
}
