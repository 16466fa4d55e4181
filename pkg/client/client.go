// Package client is a minimal synchronous client for the keyva server,
// covering the command surface the server speaks.
package client

import (
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"keyva/internal/protocol"
)

// Client issues commands over a single connection. It is not safe for
// concurrent use; callers wanting concurrency open one client per
// goroutine.
type Client struct {
	conn   net.Conn
	reader *protocol.Reader
}

// Dial connects to a server address like "127.0.0.1:6379".
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", addr)
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Client {
	return &Client{
		conn:   conn,
		reader: protocol.NewReader(conn),
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// do sends one command and reads one reply, surfacing RESP errors as Go
// errors.
func (c *Client) do(args ...[]byte) (protocol.Value, error) {
	if _, err := c.conn.Write(protocol.Encode(protocol.CommandArray(args...))); err != nil {
		return nil, err
	}

	v, _, err := c.reader.ReadValue()
	if err != nil {
		return nil, err
	}
	if e, ok := v.(protocol.SimpleError); ok {
		return nil, errors.New(string(e))
	}
	return v, nil
}

func (c *Client) Ping() error {
	v, err := c.do([]byte("PING"))
	if err != nil {
		return err
	}
	if s, ok := v.(protocol.SimpleString); !ok || string(s) != "PONG" {
		return errors.Errorf("unexpected PING reply %#v", v)
	}
	return nil
}

func (c *Client) Echo(message string) (string, error) {
	v, err := c.do([]byte("ECHO"), []byte(message))
	if err != nil {
		return "", err
	}
	bulk, ok := v.(protocol.BulkString)
	if !ok {
		return "", errors.Errorf("unexpected ECHO reply %#v", v)
	}
	return string(bulk), nil
}

func (c *Client) Set(key, value string) error {
	return c.expectOK([]byte("SET"), []byte(key), []byte(value))
}

// SetWithTTL stores a value that expires after ttl.
func (c *Client) SetWithTTL(key, value string, ttl time.Duration) error {
	millis := strconv.FormatInt(ttl.Milliseconds(), 10)
	return c.expectOK([]byte("SET"), []byte(key), []byte(value), []byte("PX"), []byte(millis))
}

// Get returns the value behind key; the second result is false when the
// key is absent or expired.
func (c *Client) Get(key string) (string, bool, error) {
	v, err := c.do([]byte("GET"), []byte(key))
	if err != nil {
		return "", false, err
	}
	switch v := v.(type) {
	case protocol.NullBulkString:
		return "", false, nil
	case protocol.BulkString:
		return string(v), true, nil
	default:
		return "", false, errors.Errorf("unexpected GET reply %#v", v)
	}
}

// Keys lists every key on the server.
func (c *Client) Keys() ([]string, error) {
	v, err := c.do([]byte("KEYS"), []byte("*"))
	if err != nil {
		return nil, err
	}
	array, ok := v.(protocol.Array)
	if !ok {
		return nil, errors.Errorf("unexpected KEYS reply %#v", v)
	}

	keys := make([]string, 0, len(array))
	for _, item := range array {
		bulk, ok := item.(protocol.BulkString)
		if !ok {
			return nil, errors.Errorf("unexpected KEYS element %#v", item)
		}
		keys = append(keys, string(bulk))
	}
	return keys, nil
}

// TypeOf reports "string", "stream" or "none" for key.
func (c *Client) TypeOf(key string) (string, error) {
	v, err := c.do([]byte("TYPE"), []byte(key))
	if err != nil {
		return "", err
	}
	s, ok := v.(protocol.SimpleString)
	if !ok {
		return "", errors.Errorf("unexpected TYPE reply %#v", v)
	}
	return string(s), nil
}

// XAdd appends an entry to a stream. Fields are alternating name/value
// pairs in the order they should be stored.
func (c *Client) XAdd(key, id string, fields ...string) (string, error) {
	if len(fields) == 0 || len(fields)%2 != 0 {
		return "", errors.New("fields must be non-empty name/value pairs")
	}

	args := [][]byte{[]byte("XADD"), []byte(key), []byte(id)}
	for _, f := range fields {
		args = append(args, []byte(f))
	}

	v, err := c.do(args...)
	if err != nil {
		return "", err
	}
	bulk, ok := v.(protocol.BulkString)
	if !ok {
		return "", errors.Errorf("unexpected XADD reply %#v", v)
	}
	return string(bulk), nil
}

// Wait blocks until numReplicas replicas have acknowledged all writes
// issued so far, or the timeout elapses. It returns the number of
// replicas that acknowledged in time. A zero timeout waits indefinitely.
func (c *Client) Wait(numReplicas int, timeout time.Duration) (int, error) {
	v, err := c.do(
		[]byte("WAIT"),
		[]byte(strconv.Itoa(numReplicas)),
		[]byte(strconv.FormatInt(timeout.Milliseconds(), 10)),
	)
	if err != nil {
		return 0, err
	}
	n, ok := v.(protocol.Integer)
	if !ok {
		return 0, errors.Errorf("unexpected WAIT reply %#v", v)
	}
	return int(n), nil
}

// Info returns the replication section of INFO.
func (c *Client) Info() (string, error) {
	v, err := c.do([]byte("INFO"), []byte("replication"))
	if err != nil {
		return "", err
	}
	bulk, ok := v.(protocol.BulkString)
	if !ok {
		return "", errors.Errorf("unexpected INFO reply %#v", v)
	}
	return string(bulk), nil
}

func (c *Client) expectOK(args ...[]byte) error {
	v, err := c.do(args...)
	if err != nil {
		return err
	}
	if s, ok := v.(protocol.SimpleString); !ok || string(s) != "OK" {
		return errors.Errorf("expected +OK, got %#v", v)
	}
	return nil
}
