package tcp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bivalvia/sensor-relay/pkg/logger"
)

const (
	defaultIdleTimeout = 5 * time.Minute
	readChunk          = 4096
)

// SinkFactory returns the writer that receives one connection's raw bytes.
// Each device connection gets its own writer so partial lines never mix.
type SinkFactory func(remote string) io.Writer

// Server accepts network-attached devices and pumps their byte streams
type Server struct {
	address  string
	newSink  SinkFactory
	listener net.Listener
	logger   *slog.Logger
	idle     time.Duration

	wg     sync.WaitGroup
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithIdleTimeout sets how long a device may stay silent before it is dropped.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idle = d }
}

// NewServer creates a new TCP server instance
func NewServer(address string, newSink SinkFactory, opts ...Option) *Server {
	s := &Server{
		address: address,
		newSink: newSink,
		logger:  logger.Discard(),
		idle:    defaultIdleTimeout,
		conns:   make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the TCP server
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.listener = listener

	s.logger.Info("TCP ingest listening", "address", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}

// Stop closes the listener and every open device connection, then waits
// for the handlers to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()
	return err
}

// acceptConnections accepts incoming TCP connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("Failed to accept connection", "error", err)
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return
		}
		s.logger.Info("Device connected", "remote", conn.RemoteAddr().String())
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// handleConnection pumps one device's raw chunks into its sink
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	sink := s.newSink(remote)
	buf := make([]byte, readChunk)

	for {
		// Set read deadline to detect dead connections
		conn.SetReadDeadline(time.Now().Add(s.idle))

		n, err := conn.Read(buf)
		if n > 0 {
			sink.Write(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("Error reading from device", "remote", remote, "error", err)
			}
			break
		}
	}

	s.logger.Info("Device connection closed", "remote", remote)
}
