package replication

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	writes [][]byte
	closed bool
}

func (s *recordingSink) Submit(data []byte) bool {
	if s.closed {
		return false
	}
	s.writes = append(s.writes, data)
	return true
}

func TestNewPrimaryReplID(t *testing.T) {
	p := NewPrimary()
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{40}$`), p.ReplID)
	assert.Zero(t, p.ReplicatedBytes)
	assert.Zero(t, p.ReplicaCount())
}

func TestPropagateFansOutAndCounts(t *testing.T) {
	p := NewPrimary()
	a := &recordingSink{}
	b := &recordingSink{}
	p.AddReplica(1, a)
	p.AddReplica(2, b)

	blob := []byte("*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
	p.Propagate(blob)

	require.Len(t, a.writes, 1)
	require.Len(t, b.writes, 1)
	assert.Equal(t, blob, a.writes[0])
	assert.Equal(t, uint64(len(blob)), p.ReplicatedBytes)

	// Fan-out shares the encoded slice rather than copying per replica.
	assert.Same(t, &a.writes[0][0], &b.writes[0][0])
}

func TestPropagateDropsDeadReplica(t *testing.T) {
	p := NewPrimary()
	alive := &recordingSink{}
	dead := &recordingSink{closed: true}
	p.AddReplica(1, alive)
	p.AddReplica(2, dead)

	p.Propagate([]byte("x"))

	assert.Equal(t, 1, p.ReplicaCount())
	_, exists := p.Replica(2)
	assert.False(t, exists)
}

func TestAckUpdatesAndPublishes(t *testing.T) {
	p := NewPrimary()
	replica := p.AddReplica(1, &recordingSink{})

	ch, cancel := replica.Acks.Subscribe()
	defer cancel()

	p.Ack(1, 31)
	assert.Equal(t, uint64(31), replica.AckedBytes)
	assert.Equal(t, uint64(31), <-ch)

	// Stale acks are ignored.
	p.Ack(1, 10)
	assert.Equal(t, uint64(31), replica.AckedBytes)

	// Acks for unknown replicas are a no-op.
	p.Ack(99, 5)
}

func TestInSyncCount(t *testing.T) {
	p := NewPrimary()
	p.AddReplica(1, &recordingSink{})
	p.AddReplica(2, &recordingSink{})

	assert.Equal(t, 2, p.InSyncCount(), "fresh replicas match offset 0")

	p.Propagate([]byte("hello"))
	assert.Equal(t, 0, p.InSyncCount())

	p.Ack(1, p.ReplicatedBytes)
	assert.Equal(t, 1, p.InSyncCount())
}

func TestAckBroadcastWatchSemantics(t *testing.T) {
	b := NewAckBroadcast()

	ch, cancel := b.Subscribe()

	// A slow subscriber sees the latest value, not the backlog.
	b.Publish(1)
	b.Publish(2)
	b.Publish(3)
	assert.Equal(t, uint64(3), <-ch)

	b.Publish(4)
	assert.Equal(t, uint64(4), <-ch)

	cancel()
	_, open := <-ch
	assert.False(t, open, "cancel closes the subscription channel")

	// Publishing after cancel must not panic.
	b.Publish(5)
	cancel()
}

func TestAckBroadcastMultipleSubscribers(t *testing.T) {
	b := NewAckBroadcast()

	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel1()
	defer cancel2()

	b.Publish(7)
	assert.Equal(t, uint64(7), <-ch1)
	assert.Equal(t, uint64(7), <-ch2)
}
