package replication

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"keyva/internal/command"
	"keyva/internal/protocol"
)

// HandshakeResult carries what the replica learned from the primary plus
// the live connection, positioned right after the RDB payload: the next
// bytes on the wire are the primary's replicated command stream.
type HandshakeResult struct {
	Conn          net.Conn
	Reader        *protocol.Reader
	PrimaryReplID string
	PrimaryOffset int64
	SnapshotSize  int
}

const dialTimeout = 5 * time.Second

// PerformHandshake dials the primary and runs the four-step replication
// handshake: PING, REPLCONF listening-port, REPLCONF capa psync2, and
// PSYNC ? -1 followed by the RDB snapshot transfer. Any deviation from
// the expected replies is fatal.
func PerformHandshake(host string, port int, listeningPort uint16) (*HandshakeResult, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to primary")
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	result, err := HandshakeConn(conn, listeningPort)
	if err != nil {
		conn.Close()
		return nil, err
	}

	log.Infof("[REPLICATION] Connected to primary %s", addr)
	return result, nil
}

// HandshakeConn runs the handshake over an established connection.
func HandshakeConn(conn net.Conn, listeningPort uint16) (*HandshakeResult, error) {
	reader := protocol.NewReader(conn)

	// Step 1: PING.
	if err := sendCommand(conn, command.Ping{}); err != nil {
		return nil, errors.Wrap(err, "handshake failed at PING")
	}
	if err := expectSimpleString(reader, "PONG"); err != nil {
		return nil, errors.Wrap(err, "handshake failed at PING")
	}
	log.Debug("[REPLICATION] Handshake: PING OK")

	// Step 2: REPLCONF listening-port.
	if err := sendCommand(conn, command.ReplConfPort{Port: listeningPort}); err != nil {
		return nil, errors.Wrap(err, "handshake failed at REPLCONF listening-port")
	}
	if err := expectSimpleString(reader, "OK"); err != nil {
		return nil, errors.Wrap(err, "handshake failed at REPLCONF listening-port")
	}
	log.Debug("[REPLICATION] Handshake: REPLCONF listening-port OK")

	// Step 3: REPLCONF capa psync2.
	if err := sendCommand(conn, command.ReplConfCapa{Caps: []string{"psync2"}}); err != nil {
		return nil, errors.Wrap(err, "handshake failed at REPLCONF capa")
	}
	if err := expectSimpleString(reader, "OK"); err != nil {
		return nil, errors.Wrap(err, "handshake failed at REPLCONF capa")
	}
	log.Debug("[REPLICATION] Handshake: REPLCONF capa OK")

	// Step 4: PSYNC ? -1, then drain the snapshot.
	if err := sendCommand(conn, command.PSync{ReplicationID: "?", Offset: -1}); err != nil {
		return nil, errors.Wrap(err, "handshake failed at PSYNC")
	}

	replID, offset, err := readFullResync(reader)
	if err != nil {
		return nil, errors.Wrap(err, "handshake failed at PSYNC")
	}

	snapshot, err := reader.ReadRDB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to receive RDB snapshot")
	}
	log.Infof("[REPLICATION] Full resync: replid=%s offset=%d, snapshot %d bytes",
		replID, offset, len(snapshot))

	return &HandshakeResult{
		Conn:          conn,
		Reader:        reader,
		PrimaryReplID: replID,
		PrimaryOffset: offset,
		SnapshotSize:  len(snapshot),
	}, nil
}

func sendCommand(conn net.Conn, c command.Command) error {
	_, err := conn.Write(protocol.Encode(command.ToValue(c)))
	return err
}

func expectSimpleString(reader *protocol.Reader, want string) error {
	v, _, err := reader.ReadValue()
	if err != nil {
		return err
	}
	s, ok := v.(protocol.SimpleString)
	if !ok || string(s) != want {
		return errors.Errorf("expected +%s, got %#v", want, v)
	}
	return nil
}

// readFullResync parses the +FULLRESYNC <replid> <offset> reply.
func readFullResync(reader *protocol.Reader) (string, int64, error) {
	v, _, err := reader.ReadValue()
	if err != nil {
		return "", 0, err
	}
	s, ok := v.(protocol.SimpleString)
	if !ok {
		return "", 0, errors.Errorf("expected +FULLRESYNC, got %#v", v)
	}

	parts := strings.Fields(string(s))
	if len(parts) != 3 || parts[0] != "FULLRESYNC" {
		return "", 0, errors.Errorf("expected +FULLRESYNC, got %q", s)
	}

	var offset int64
	if _, err := fmt.Sscanf(parts[2], "%d", &offset); err != nil {
		return "", 0, errors.Errorf("malformed FULLRESYNC offset %q", parts[2])
	}
	return parts[1], offset, nil
}
