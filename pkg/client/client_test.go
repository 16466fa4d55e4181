package client_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyva/internal/config"
	"keyva/internal/server"
	"keyva/pkg/client"
)

// newRunningServer boots a real server on a loopback port and returns its
// address.
func newRunningServer(t *testing.T) string {
	t.Helper()

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = port

	srv := server.New(cfg, clock.New())
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Start(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Shutdown()
	})

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond, "server did not start listening")

	return addr
}

func TestClientRoundTrip(t *testing.T) {
	addr := newRunningServer(t)

	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ping())

	echoed, err := c.Echo("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", echoed)

	require.NoError(t, c.Set("user:1", "Alice"))

	value, ok, err := c.Get("user:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Alice", value)

	_, ok, err = c.Get("user:2")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := c.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1"}, keys)

	kind, err := c.TypeOf("user:1")
	require.NoError(t, err)
	assert.Equal(t, "string", kind)
}

func TestClientTTL(t *testing.T) {
	addr := newRunningServer(t)

	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetWithTTL("ephemeral", "v", 100*time.Millisecond))

	_, ok, err := c.Get("ephemeral")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(200 * time.Millisecond)

	_, ok, err = c.Get("ephemeral")
	require.NoError(t, err)
	assert.False(t, ok, "value must expire")
}

func TestClientStreams(t *testing.T) {
	addr := newRunningServer(t)

	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	id, err := c.XAdd("sensor", "1-1", "temp", "36")
	require.NoError(t, err)
	assert.Equal(t, "1-1", id)

	kind, err := c.TypeOf("sensor")
	require.NoError(t, err)
	assert.Equal(t, "stream", kind)

	// Appending to a string surfaces the server's error.
	require.NoError(t, c.Set("plain", "v"))
	_, err = c.XAdd("plain", "1-1", "f", "v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WRONGTYPE")

	_, err = c.XAdd("sensor", "2-1")
	require.Error(t, err, "fields are required")
}

func TestClientWaitAndInfo(t *testing.T) {
	addr := newRunningServer(t)

	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	// No replicas attached: WAIT resolves immediately.
	n, err := c.Wait(3, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	info, err := c.Info()
	require.NoError(t, err)
	assert.Contains(t, info, "role:master")
	assert.Contains(t, info, "master_repl_offset:0")
}
