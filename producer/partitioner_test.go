package producer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnitDefaultKeyedDeterministic(t *testing.T) {
	d := NewDefault()
	first := d.Partition("events", []byte("user-42"), 12)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, d.Partition("events", []byte("user-42"), 12))
	}
	require.GreaterOrEqual(t, first, int32(0))
	require.Less(t, first, int32(12))
}

func TestUnitDefaultKeyedSpread(t *testing.T) {
	d := NewDefault()
	hit := make(map[int32]bool)
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n", "o", "p"}
	for _, k := range keys {
		hit[d.Partition("events", []byte(k), 4)] = true
	}
	// 16 distinct keys across 4 partitions should hit more than one
	require.Greater(t, len(hit), 1)
}

func TestUnitDefaultStickyUntilSealed(t *testing.T) {
	d := NewDefault()
	p := d.Partition("events", nil, 4)
	for i := 0; i < 10; i++ {
		require.Equal(t, p, d.Partition("events", nil, 4), "unkeyed messages stick to one partition")
	}
	d.BatchSealed("events", p)
	next := d.Partition("events", nil, 4)
	require.NotEqual(t, p, next, "sealing the batch rotates the sticky partition")
	require.Equal(t, (p+1)%4, next)
}

func TestUnitDefaultStickyPerTopic(t *testing.T) {
	d := NewDefault()
	p := d.Partition("events", nil, 4)
	d.BatchSealed("other", 0)
	require.Equal(t, p, d.Partition("events", nil, 4), "sealing another topic's batch does not rotate")
}

func TestUnitRoundRobin(t *testing.T) {
	r := NewRoundRobin()
	first := r.Partition("events", nil, 3)
	require.Equal(t, (first+1)%3, r.Partition("events", nil, 3))
	require.Equal(t, (first+2)%3, r.Partition("events", nil, 3))
	require.Equal(t, first, r.Partition("events", nil, 3))
	// keys are ignored
	require.Equal(t, (first+1)%3, r.Partition("events", []byte("k"), 3))
}
