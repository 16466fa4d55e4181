package replication

import (
	"crypto/rand"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Role represents the server's role in replication.
type Role string

const (
	RoleMaster  Role = "master"
	RoleReplica Role = "slave" // Redis uses "slave" in the protocol
)

// PrimaryClientID is the sentinel client id a replica assigns to the
// pseudo-client that injects primary-originated commands into the
// dispatcher.
const PrimaryClientID int64 = -1

// Sink is the write end of a replica's connection. Submit reports whether
// the bytes were accepted; a closed connection returns false.
type Sink interface {
	Submit(data []byte) bool
}

// ReplicaInfo tracks one attached replica on the primary side.
type ReplicaInfo struct {
	ID         int64
	Sink       Sink
	AckedBytes uint64
	Acks       *AckBroadcast
}

// Primary holds the primary-side replication state: the replication id,
// the registry of attached replicas and the running count of bytes fanned
// out to them. Only the dispatcher goroutine mutates it.
type Primary struct {
	ReplID          string
	ReplicatedBytes uint64

	replicas map[int64]*ReplicaInfo
}

func NewPrimary() *Primary {
	return &Primary{
		ReplID:   generateReplID(),
		replicas: make(map[int64]*ReplicaInfo),
	}
}

// AddReplica registers a connection as a replica after a successful PSYNC.
func (p *Primary) AddReplica(id int64, sink Sink) *ReplicaInfo {
	replica := &ReplicaInfo{
		ID:   id,
		Sink: sink,
		Acks: NewAckBroadcast(),
	}
	p.replicas[id] = replica
	log.Infof("[REPLICATION] Replica connected: client %d", id)
	return replica
}

// RemoveReplica drops a replica from the registry, e.g. on disconnect.
func (p *Primary) RemoveReplica(id int64) {
	if _, exists := p.replicas[id]; exists {
		delete(p.replicas, id)
		log.Infof("[REPLICATION] Replica disconnected: client %d", id)
	}
}

// Replica returns the registered replica for a client id.
func (p *Primary) Replica(id int64) (*ReplicaInfo, bool) {
	replica, exists := p.replicas[id]
	return replica, exists
}

// Replicas returns all registered replicas.
func (p *Primary) Replicas() []*ReplicaInfo {
	replicas := make([]*ReplicaInfo, 0, len(p.replicas))
	for _, replica := range p.replicas {
		replicas = append(replicas, replica)
	}
	return replicas
}

// ReplicaCount returns the number of attached replicas.
func (p *Primary) ReplicaCount() int {
	return len(p.replicas)
}

// InSyncCount counts replicas whose last acknowledged offset matches the
// primary's replicated byte count.
func (p *Primary) InSyncCount() int {
	count := 0
	for _, replica := range p.replicas {
		if replica.AckedBytes == p.ReplicatedBytes {
			count++
		}
	}
	return count
}

// Propagate submits one already-encoded blob to every replica and advances
// ReplicatedBytes by its length. The same slice is shared across all
// sinks; it must not be mutated afterwards. Replicas whose sink rejects
// the write are dropped.
func (p *Primary) Propagate(raw []byte) {
	for id, replica := range p.replicas {
		if !replica.Sink.Submit(raw) {
			log.Warnf("[REPLICATION] Dropping replica %d: write queue closed", id)
			delete(p.replicas, id)
		}
	}
	p.ReplicatedBytes += uint64(len(raw))
}

// Ack records a replica's REPLCONF ACK and publishes the new value to the
// replica's subscribers. Acked offsets are monotonic; stale values are
// ignored.
func (p *Primary) Ack(id int64, ackedBytes uint64) {
	replica, exists := p.replicas[id]
	if !exists {
		return
	}
	if ackedBytes < replica.AckedBytes {
		return
	}
	replica.AckedBytes = ackedBytes
	replica.Acks.Publish(ackedBytes)
}

// ReplicaState holds the replica-side view of the replication session:
// where the primary lives and how many RESP bytes of its command stream
// have been consumed since the handshake completed.
type ReplicaState struct {
	PrimaryHost    string
	PrimaryPort    int
	ProcessedBytes uint64
}

// generateReplID generates a random 40-character hexadecimal replication
// id, matching the format Redis advertises in FULLRESYNC.
func generateReplID() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		log.Warnf("[REPLICATION] crypto/rand failed, using fallback: %v", err)
		return fmt.Sprintf("%040d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", b)
}
