package server

import (
	"net"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// writeQueueSize bounds the per-connection outbound queue. Backpressure
// propagates to the dispatcher naturally when a peer stops draining.
const writeQueueSize = 32

// Conn wraps one TCP connection with an ordered write multiplexer and the
// two flags the dispatcher manipulates: silence (replies discarded, used
// for the primary link on a replica) and the read block used by WAIT.
type Conn struct {
	id   int64
	sock net.Conn

	out  chan []byte
	stop chan struct{}
	once sync.Once

	silenced    atomic.Bool
	readBlocked atomic.Bool

	gateMu sync.Mutex
	gate   chan struct{} // closed while reads may proceed
}

func newConn(id int64, sock net.Conn) *Conn {
	gate := make(chan struct{})
	close(gate)
	return &Conn{
		id:   id,
		sock: sock,
		out:  make(chan []byte, writeQueueSize),
		stop: make(chan struct{}),
		gate: gate,
	}
}

// ID returns the connection's client id.
func (c *Conn) ID() int64 {
	return c.id
}

// Submit queues data for writing, honoring the silence flag: silenced
// submissions are discarded but still report success. Returns false once
// the connection is shut down.
func (c *Conn) Submit(data []byte) bool {
	if c.silenced.Load() {
		return true
	}
	return c.ForceSubmit(data)
}

// ForceSubmit queues data regardless of the silence flag. A replica uses
// this for the one reply it is allowed to send its primary, the REPLCONF
// ACK answering a GETACK probe.
func (c *Conn) ForceSubmit(data []byte) bool {
	// Check stop on its own first: a select with both cases ready picks
	// one at random, which would let a submission slip into the queue of
	// a connection that is already shut down.
	select {
	case <-c.stop:
		return false
	default:
	}
	select {
	case <-c.stop:
		return false
	case c.out <- data:
		return true
	}
}

// Silence toggles discarding of submitted replies.
func (c *Conn) Silence(on bool) {
	c.silenced.Store(on)
}

// BlockReads suspends delivery of further commands from this connection
// until UnblockReads is called.
func (c *Conn) BlockReads() {
	c.gateMu.Lock()
	defer c.gateMu.Unlock()
	if c.readBlocked.Load() {
		return
	}
	c.readBlocked.Store(true)
	c.gate = make(chan struct{})
}

// UnblockReads lifts the read block. Safe to call when not blocked.
func (c *Conn) UnblockReads() {
	c.gateMu.Lock()
	defer c.gateMu.Unlock()
	if !c.readBlocked.Load() {
		return
	}
	c.readBlocked.Store(false)
	close(c.gate)
}

// awaitReadable parks the read loop while the read block is set.
func (c *Conn) awaitReadable() {
	c.gateMu.Lock()
	gate := c.gate
	c.gateMu.Unlock()
	<-gate
}

// writeLoop drains the outbound queue in submission order. A write error
// shuts the connection down.
func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.stop:
			return
		case data := <-c.out:
			if _, err := c.sock.Write(data); err != nil {
				log.Debugf("[CONN] Write error on client %d: %v", c.id, err)
				c.shutdown()
				return
			}
		}
	}
}

// shutdown closes the socket and wakes every goroutine parked on this
// connection. Idempotent.
func (c *Conn) shutdown() {
	c.once.Do(func() {
		close(c.stop)
		c.sock.Close()
	})
}
