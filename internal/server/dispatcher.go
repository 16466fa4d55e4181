package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"

	"keyva/internal/command"
	"keyva/internal/config"
	"keyva/internal/protocol"
	"keyva/internal/rdb"
	"keyva/internal/replication"
	"keyva/internal/storage"
)

// commandQueueSize bounds the dispatcher's inbound packet channel.
const commandQueueSize = 32

// packet is one unit of work for the dispatcher: a parsed command (or the
// error parsing it produced) plus the connection it arrived on. A
// disconnect packet is the read loop's last word for a client.
type packet struct {
	clientID   int64
	cmd        command.Command
	raw        []byte
	conn       *Conn
	parseErr   error
	disconnect bool
}

// Dispatcher is the single owner of the store and the replication state.
// Every mutation flows through its packet channel, which linearizes
// command effects in arrival order; no other goroutine touches the state.
type Dispatcher struct {
	cfg   *config.Config
	clk   clock.Clock
	store *storage.Store

	role    replication.Role
	primary *replication.Primary      // non-nil iff role == RoleMaster
	replica *replication.ReplicaState // non-nil iff role == RoleReplica

	packets chan packet
}

func newDispatcher(cfg *config.Config, clk clock.Clock) *Dispatcher {
	d := &Dispatcher{
		cfg:     cfg,
		clk:     clk,
		store:   storage.New(clk),
		packets: make(chan packet, commandQueueSize),
	}

	if cfg.IsReplica() {
		d.role = replication.RoleReplica
		d.replica = &replication.ReplicaState{
			PrimaryHost: cfg.ReplicaOfHost,
			PrimaryPort: cfg.ReplicaOfPort,
		}
	} else {
		d.role = replication.RoleMaster
		d.primary = replication.NewPrimary()
	}
	return d
}

// Run consumes packets until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Infof("[DISPATCH] Running as %s", d.role)
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-d.packets:
			d.handle(p)
		}
	}
}

func (d *Dispatcher) handle(p packet) {
	if p.disconnect {
		if d.primary != nil {
			d.primary.RemoveReplica(p.clientID)
		}
		return
	}

	fromPrimary := p.clientID == replication.PrimaryClientID

	if p.parseErr != nil {
		// A bad command never corrupts state; the offending client gets
		// the error text and the connection carries on.
		d.replyError(p.conn, p.parseErr.Error())
		return
	}

	switch cmd := p.cmd.(type) {
	case command.Ping:
		if cmd.Message != nil {
			d.reply(p.conn, protocol.BulkString(cmd.Message))
		} else {
			d.reply(p.conn, protocol.SimpleString("PONG"))
		}

	case command.Echo:
		d.reply(p.conn, protocol.BulkString(cmd.Message))

	case command.ConfigGet:
		d.handleConfigGet(p.conn, cmd)

	case command.Get:
		d.handleGet(p.conn, cmd)

	case command.Set:
		d.handleSet(p, cmd, fromPrimary)

	case command.Keys:
		d.handleKeys(p.conn, cmd)

	case command.Type:
		d.reply(p.conn, protocol.SimpleString(d.store.Type(cmd.Key).String()))

	case command.XAdd:
		d.handleXAdd(p.conn, cmd)

	case command.Info:
		d.reply(p.conn, protocol.BulkString(d.infoPayload()))

	case command.ReplConfPort, command.ReplConfCapa:
		if d.primary == nil {
			d.replyError(p.conn, "ERR REPLCONF is only valid on a primary")
			break
		}
		d.reply(p.conn, protocol.SimpleString("OK"))

	case command.ReplConfGetAck:
		d.handleGetAck(p, fromPrimary)

	case command.ReplConfAck:
		if d.primary == nil {
			d.replyError(p.conn, "ERR ACK is only valid on a primary")
			break
		}
		// One-way: the primary never answers an ACK.
		d.primary.Ack(p.clientID, cmd.Processed)

	case command.PSync:
		d.handlePSync(p, cmd)

	case command.Wait:
		if d.primary == nil {
			d.replyError(p.conn, "ERR WAIT is only valid on a primary")
			break
		}
		d.runWait(p.conn, cmd)

	default:
		d.replyError(p.conn, fmt.Sprintf("ERR unknown command '%s'", p.cmd.Name()))
	}

	// Byte accounting for the replicated stream: everything consumed from
	// the primary counts once it has been handled.
	if fromPrimary && d.replica != nil {
		d.replica.ProcessedBytes += uint64(len(p.raw))
	}
}

func (d *Dispatcher) handleGet(c *Conn, cmd command.Get) {
	value, ok, err := d.store.Get(cmd.Key)
	switch {
	case err != nil:
		d.replyError(c, err.Error())
	case !ok:
		d.reply(c, protocol.NullBulkString{})
	default:
		d.reply(c, protocol.BulkString(value))
	}
}

func (d *Dispatcher) handleSet(p packet, cmd command.Set, fromPrimary bool) {
	if d.role == replication.RoleReplica && !fromPrimary {
		d.replyError(p.conn, "READONLY You can't write against a read only replica")
		return
	}

	d.store.Set(cmd.Key, cmd.Value, cmd.ExpiresAt)
	d.reply(p.conn, protocol.SimpleString("OK"))

	// Fan the client's exact bytes out to every replica: encoded once,
	// shared by reference across all write queues.
	if d.primary != nil {
		d.primary.Propagate(p.raw)
	}
}

func (d *Dispatcher) handleKeys(c *Conn, cmd command.Keys) {
	keys, err := d.store.Keys(cmd.Pattern)
	if err != nil {
		d.replyError(c, err.Error())
		return
	}

	items := make(protocol.Array, 0, len(keys))
	for _, key := range keys {
		items = append(items, protocol.BulkString(key))
	}
	d.reply(c, items)
}

func (d *Dispatcher) handleXAdd(c *Conn, cmd command.XAdd) {
	if err := d.store.XAdd(cmd.Key, cmd.ID, cmd.Fields); err != nil {
		d.replyError(c, err.Error())
		return
	}
	d.reply(c, protocol.BulkString(cmd.ID))
}

func (d *Dispatcher) handleConfigGet(c *Conn, cmd command.ConfigGet) {
	items := make(protocol.Array, 0, 2*len(cmd.Keys))
	for _, key := range cmd.Keys {
		if value, ok := d.cfg.Get(key); ok {
			items = append(items, protocol.BulkString(key), protocol.BulkString(value))
		}
	}
	d.reply(c, items)
}

// handleGetAck answers the primary's probe with the bytes processed so
// far. This is the sole command a replica replies to on the primary link,
// so the reply bypasses the silence flag.
func (d *Dispatcher) handleGetAck(p packet, fromPrimary bool) {
	if !fromPrimary || d.replica == nil {
		d.replyError(p.conn, "ERR GETACK is only valid from a primary")
		return
	}

	ack := command.ReplConfAck{Processed: d.replica.ProcessedBytes}
	p.conn.ForceSubmit(protocol.Encode(command.ToValue(ack)))
}

// handlePSync answers a full resynchronization request: the FULLRESYNC
// line, the snapshot (no trailing CRLF), and registration of the
// connection as a replica.
func (d *Dispatcher) handlePSync(p packet, cmd command.PSync) {
	if d.primary == nil {
		d.replyError(p.conn, "ERR PSYNC is only valid on a primary")
		return
	}

	snapshot := rdb.EmptySnapshot()
	header := fmt.Sprintf("+FULLRESYNC %s %d\r\n$%d\r\n",
		d.primary.ReplID, d.primary.ReplicatedBytes, len(snapshot))

	blob := make([]byte, 0, len(header)+len(snapshot))
	blob = append(blob, header...)
	blob = append(blob, snapshot...)
	p.conn.Submit(blob)

	d.primary.AddReplica(p.clientID, p.conn)
	log.Infof("[REPLICATION] Full resync sent to client %d (%d byte snapshot), requested id=%s offset=%d",
		p.clientID, len(snapshot), cmd.ReplicationID, cmd.Offset)
}

// infoPayload renders the INFO reply for the current role.
func (d *Dispatcher) infoPayload() []byte {
	if d.primary != nil {
		lines := []string{
			"role:master",
			fmt.Sprintf("master_replid:%s", d.primary.ReplID),
			fmt.Sprintf("master_repl_offset:%d", d.primary.ReplicatedBytes),
		}
		return []byte(strings.Join(lines, "\n"))
	}
	return []byte("role:slave")
}

func (d *Dispatcher) reply(c *Conn, v protocol.Value) {
	c.Submit(protocol.Encode(v))
}

func (d *Dispatcher) replyError(c *Conn, msg string) {
	c.Submit(protocol.Encode(protocol.SimpleError(msg)))
}
