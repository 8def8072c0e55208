package producer

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Partitioner picks a partition for a message that does not carry an
// explicit one. Implementations must be safe for concurrent use.
type Partitioner interface {
	// Partition returns a partition in [0, numPartitions) for the given
	// key. A nil key means the message is unkeyed.
	Partition(topic string, key []byte, numPartitions int32) int32
	// BatchSealed tells the partitioner that the pending batch for
	// (topic, partition) has been sealed. The sticky partitioner uses this
	// to rotate, so unkeyed messages fill one batch at a time instead of
	// spraying single records across all partitions.
	BatchSealed(topic string, partition int32)
}

// Default routes keyed messages by key hash (equal keys always land on the
// same partition while the partition count is stable) and unkeyed messages
// to a sticky randomly-started partition that rotates on every sealed batch.
type Default struct {
	mu     sync.Mutex
	sticky map[string]int32
}

func NewDefault() *Default {
	return &Default{sticky: make(map[string]int32)}
}

func (d *Default) Partition(topic string, key []byte, numPartitions int32) int32 {
	if len(key) > 0 {
		return int32(xxhash.Sum64(key) % uint64(numPartitions))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.sticky[topic]
	if !ok {
		p = int32(xxhash.Sum64String(topic) % uint64(numPartitions))
	}
	// the stored value is kept normalized so that BatchSealed can match it
	// against the partition a batch was sealed on
	p %= numPartitions
	d.sticky[topic] = p
	return p
}

func (d *Default) BatchSealed(topic string, partition int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.sticky[topic]; ok && p == partition {
		d.sticky[topic] = partition + 1
	}
}

// RoundRobin distributes messages one by one across partitions, ignoring
// keys. Use it when even load matters more than key locality.
type RoundRobin struct {
	mu   sync.Mutex
	next map[string]int32
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{next: make(map[string]int32)}
}

func (r *RoundRobin) Partition(topic string, _ []byte, numPartitions int32) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.next[topic] % numPartitions
	r.next[topic] = p + 1
	return p
}

func (r *RoundRobin) BatchSealed(string, int32) {}
