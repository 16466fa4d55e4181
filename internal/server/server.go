package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"keyva/internal/command"
	"keyva/internal/config"
	"keyva/internal/protocol"
	"keyva/internal/replication"
)

// Server accepts client connections and feeds their commands into the
// dispatcher. On a replica it additionally owns the primary link
// established by the startup handshake.
type Server struct {
	cfg        *config.Config
	parser     *command.Parser
	dispatcher *Dispatcher

	listener        net.Listener
	connections     sync.Map
	connIDCounter   atomic.Int64
	activeConnCount atomic.Int64
	wg              sync.WaitGroup
	shutdownChan    chan struct{}
	mu              sync.RWMutex
	isShutdown      bool
}

func New(cfg *config.Config, clk clock.Clock) *Server {
	return &Server{
		cfg:          cfg,
		parser:       command.NewParser(clk),
		dispatcher:   newDispatcher(cfg, clk),
		shutdownChan: make(chan struct{}),
	}
}

// Start runs the server until the context is cancelled. A replica first
// completes the handshake with its primary; any deviation there aborts
// startup.
func (s *Server) Start(ctx context.Context) error {
	go s.dispatcher.Run(ctx)

	if s.cfg.IsReplica() {
		if err := s.connectToPrimary(); err != nil {
			return errors.Wrap(err, "replication handshake failed")
		}
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "failed to start listener")
	}
	s.listener = listener
	log.Infof("[SERVER] Listening on %s", addr)

	go s.acceptConnections(ctx)

	<-ctx.Done()
	return nil
}

func (s *Server) acceptConnections(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownChan:
			return
		default:
			sock, err := s.listener.Accept()
			if err != nil {
				s.mu.RLock()
				down := s.isShutdown
				s.mu.RUnlock()
				if down {
					return
				}
				log.Errorf("[SERVER] Error accepting connection: %v", err)
				continue
			}

			if s.activeConnCount.Load() >= int64(s.cfg.MaxConnections) {
				log.Warnf("[SERVER] Max connections reached, rejecting %s", sock.RemoteAddr())
				sock.Close()
				continue
			}

			s.wg.Add(1)
			go s.handleConnection(sock)
		}
	}
}

// handleConnection runs one client's read loop: frame RESP values, parse
// commands, hand packets to the dispatcher. The paired write loop drains
// the connection's outbound queue.
func (s *Server) handleConnection(sock net.Conn) {
	defer s.wg.Done()

	id := s.connIDCounter.Add(1)
	s.activeConnCount.Add(1)
	defer s.activeConnCount.Add(-1)

	c := newConn(id, sock)
	s.connections.Store(id, c)
	defer s.connections.Delete(id)

	go c.writeLoop()
	defer c.shutdown()
	defer s.dispatch(packet{clientID: id, conn: c, disconnect: true})

	reader := protocol.NewReader(sock)
	for {
		// WAIT parks this client here until its deadline resolves.
		c.awaitReadable()

		value, raw, err := reader.ReadValue()
		if err != nil {
			if err != io.EOF {
				log.Debugf("[SERVER] Client %d framing error: %v", id, err)
				c.Submit(protocol.Encode(protocol.SimpleError(
					fmt.Sprintf("ERR protocol error: %v", err))))
			}
			return
		}

		cmd, parseErr := s.parser.Parse(value)
		if !s.dispatch(packet{
			clientID: id,
			cmd:      cmd,
			raw:      raw,
			conn:     c,
			parseErr: parseErr,
		}) {
			return
		}
	}
}

// connectToPrimary performs the replica handshake and spawns the
// pseudo-client that injects the primary's command stream into the
// dispatcher.
func (s *Server) connectToPrimary() error {
	result, err := replication.PerformHandshake(
		s.cfg.ReplicaOfHost, s.cfg.ReplicaOfPort, uint16(s.cfg.Port))
	if err != nil {
		return err
	}

	c := newConn(replication.PrimaryClientID, result.Conn)
	// Primary-originated commands are applied silently; only a GETACK
	// reply is forced past the silence flag.
	c.Silence(true)
	go c.writeLoop()
	go s.primaryReadLoop(c, result.Reader)

	return nil
}

// primaryReadLoop consumes the replicated command stream. Framing or
// parse errors on this link are fatal to the replication session.
func (s *Server) primaryReadLoop(c *Conn, reader *protocol.Reader) {
	defer c.shutdown()
	defer s.dispatch(packet{clientID: c.ID(), conn: c, disconnect: true})

	for {
		value, raw, err := reader.ReadValue()
		if err != nil {
			if err == io.EOF {
				log.Warn("[REPLICATION] Primary closed the connection")
			} else {
				log.Errorf("[REPLICATION] Error reading from primary: %v", err)
			}
			return
		}

		cmd, parseErr := s.parser.Parse(value)
		if parseErr != nil {
			log.Errorf("[REPLICATION] Unparseable command from primary: %v", parseErr)
			return
		}

		if !s.dispatch(packet{
			clientID: c.ID(),
			cmd:      cmd,
			raw:      raw,
			conn:     c,
		}) {
			return
		}
	}
}

// dispatch hands a packet to the dispatcher, backing off only for server
// shutdown. Reports whether the packet was accepted.
func (s *Server) dispatch(p packet) bool {
	select {
	case s.dispatcher.packets <- p:
		return true
	case <-s.shutdownChan:
		return false
	}
}

// Shutdown gracefully stops the server: no new connections, live ones
// closed, a bounded wait for their goroutines.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.isShutdown {
		s.mu.Unlock()
		return
	}
	s.isShutdown = true
	s.mu.Unlock()

	log.Info("[SERVER] Initiating graceful shutdown...")
	close(s.shutdownChan)

	if s.listener != nil {
		s.listener.Close()
	}

	s.connections.Range(func(_, value interface{}) bool {
		if c, ok := value.(*Conn); ok {
			c.UnblockReads()
			c.shutdown()
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("[SERVER] All connections closed gracefully")
	case <-time.After(5 * time.Second):
		log.Warn("[SERVER] Shutdown timeout reached, forcing exit")
	}
}
