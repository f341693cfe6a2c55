package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bivalvia/sensor-relay/internal/hub"
	"github.com/bivalvia/sensor-relay/internal/model"
	"github.com/bivalvia/sensor-relay/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueue      = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards are served from this same origin or opened from file://
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server serves static dashboard assets and the subscriber channel on one port
type Server struct {
	hub      *hub.Hub
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	staticDir string
	metrics   http.Handler
	logger    *slog.Logger
}

// WithStaticDir serves files from dir for plain HTTP requests.
func WithStaticDir(dir string) Option {
	return func(o *serverOptions) { o.staticDir = dir }
}

// WithMetricsHandler exposes h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *serverOptions) { o.metrics = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *serverOptions) { o.logger = l }
}

// NewServer creates a new server instance
func NewServer(address string, h *hub.Hub, opts ...Option) *Server {
	o := serverOptions{logger: logger.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	mux := http.NewServeMux()
	s := &Server{
		hub:    h,
		logger: o.logger,
		server: &http.Server{
			Addr:              address,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	var static http.Handler = http.NotFoundHandler()
	if o.staticDir != "" {
		static = http.FileServer(http.Dir(o.staticDir))
	}

	mux.HandleFunc("/health", s.handleHealth)
	if o.metrics != nil {
		mux.Handle("/metrics", o.metrics)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.handleWebSocket(w, r)
			return
		}
		static.ServeHTTP(w, r)
	})

	return s
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("HTTP/WebSocket server listening", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Stop stops the server
func (s *Server) Stop() error {
	return s.server.Close()
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleWebSocket upgrades a subscriber connection and registers it
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", "error", err)
		return
	}

	client := hub.NewClient(uuid.New().String(), sendQueue)

	s.hub.Register(client)
	s.logger.Info("WS subscriber connected", "id", client.ID, "remote", r.RemoteAddr)

	go s.writePump(conn, client)
	go s.readPump(conn, client)
}

// readPump drains inbound frames; subscribers only send keep-alives
func (s *Server) readPump(conn *websocket.Conn, client *hub.Client) {
	defer func() {
		s.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("WebSocket read error", "id", client.ID, "error", err)
			}
			break
		}
		// Any inbound frame proves liveness.
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg model.Envelope
		if err := json.Unmarshal(message, &msg); err != nil {
			s.logger.Debug("Error parsing message", "id", client.ID, "error", err)
			continue
		}

		switch msg.Type {
		case model.TypePing:
			s.logger.Debug("Heartbeat", "id", client.ID)
		default:
			s.logger.Debug("Unknown message type", "id", client.ID, "type", msg.Type)
		}
	}
	s.logger.Info("WS subscriber disconnected", "id", client.ID)
}

// writePump sends one envelope per text frame and keeps the connection alive with pings
func (s *Server) writePump(conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
