package replication

import "sync"

// AckBroadcast fans a replica's acknowledged-bytes updates out to an
// arbitrary number of subscribers. It behaves like a watch channel: a
// subscriber receives values published after it subscribed, but holds at
// most one unread value; a slow subscriber is skipped forward to the
// latest value rather than blocking the publisher, so intermediate values
// it did not read in time are not delivered to it.
type AckBroadcast struct {
	mu   sync.Mutex
	subs map[uint64]chan uint64
	next uint64
}

func NewAckBroadcast() *AckBroadcast {
	return &AckBroadcast{subs: make(map[uint64]chan uint64)}
}

// Subscribe registers a listener. The cancel function releases the
// subscription and closes the channel; it is safe to call more than once.
func (b *AckBroadcast) Subscribe() (<-chan uint64, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan uint64, 1)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers a new acked-bytes value to every subscriber without
// blocking: a full subscriber buffer is drained first so the latest value
// wins.
func (b *AckBroadcast) Publish(v uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}
