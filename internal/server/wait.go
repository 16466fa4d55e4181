package server

import (
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"

	"keyva/internal/command"
	"keyva/internal/protocol"
)

// runWait answers WAIT <numreplicas> <timeout>. The fast path replies from
// the dispatcher itself; the slow path probes every replica with REPLCONF
// GETACK and hands counting to a bounded-lifetime helper goroutine so the
// dispatcher keeps serving other clients.
//
// The counting convention: expected is captured before the probe bytes are
// added to ReplicatedBytes, so a replica that had processed everything the
// primary sent up to the WAIT command acks exactly expected. Slower
// replicas ack less; faster ones cannot exist.
func (d *Dispatcher) runWait(c *Conn, cmd command.Wait) {
	needed := cmd.NumReplicas
	if count := d.primary.ReplicaCount(); needed > count {
		needed = count
	}

	if acked := d.primary.InSyncCount(); acked >= needed {
		d.reply(c, protocol.Integer(acked))
		return
	}

	// Slow path: stop consuming from this client until the verdict is in.
	c.BlockReads()

	replicas := d.primary.Replicas()
	subs := make([]<-chan uint64, 0, len(replicas))
	cancels := make([]func(), 0, len(replicas))
	for _, replica := range replicas {
		ch, cancel := replica.Acks.Subscribe()
		subs = append(subs, ch)
		cancels = append(cancels, cancel)
	}

	// A zero timeout means wait indefinitely: the timeout channel stays
	// nil and the select below never fires it. The timer is armed before
	// the probe goes out so the deadline covers the whole round trip.
	var timer *clock.Timer
	var timeout <-chan time.Time
	if cmd.Timeout > 0 {
		timer = d.clk.Timer(cmd.Timeout)
		timeout = timer.C
	}

	// Capture the target before the probe inflates the counter.
	expected := d.primary.ReplicatedBytes
	probe := protocol.Encode(command.ToValue(command.ReplConfGetAck{}))
	d.primary.Propagate(probe)

	hits := make(chan struct{}, len(subs))
	for _, ch := range subs {
		go func(ch <-chan uint64) {
			for acked := range ch {
				if acked >= expected {
					hits <- struct{}{}
					return
				}
			}
		}(ch)
	}

	go func() {
		defer func() {
			for _, cancel := range cancels {
				cancel()
			}
			if timer != nil {
				timer.Stop()
			}
			c.UnblockReads()
		}()

		count := 0
	counting:
		for count < needed {
			select {
			case <-hits:
				count++
			case <-timeout:
				break counting
			}
		}

		log.Debugf("[WAIT] Replying %d (needed %d, expected offset %d)",
			count, needed, expected)
		d.reply(c, protocol.Integer(count))
	}()
}
