// Package dashboard is the live dashboard client: a reconnecting WebSocket
// transport, a one-shot event stream transport, and the card update routine
// both share.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bivalvia/sensor-relay/internal/model"
	"github.com/bivalvia/sensor-relay/pkg/logger"
)

const (
	DefaultMaxReconnectAttempts = 10
	DefaultReconnectInterval    = 5 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second

	writeWait = 10 * time.Second
)

var (
	// ErrReconnectExhausted is returned by Run once every reconnect attempt failed.
	ErrReconnectExhausted = errors.New("maximum reconnect attempts reached")
	// ErrNotConnected is returned by Send while the connection is not open.
	ErrNotConnected = errors.New("websocket is not connected")
	// ErrMissingSector is returned when no sector id is configured.
	ErrMissingSector = errors.New("sector id is required")
)

// State is the connection lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ClientConfig configures the WebSocket transport.
type ClientConfig struct {
	BaseURL              string // page origin, e.g. https://bivalvia.example.com
	SectorID             string
	MaxReconnectAttempts int
	ReconnectInterval    time.Duration
	HeartbeatInterval    time.Duration
	Dialer               *websocket.Dialer
	Header               http.Header
	Logger               *slog.Logger
}

func (c *ClientConfig) setDefaults() {
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Logger == nil {
		c.Logger = logger.Discard()
	}
}

// EndpointURL derives the dashboard socket endpoint from the page origin:
// {ws|wss}://<host>/ws/dashboard/<sector>/.
func EndpointURL(baseURL, sectorID string) (string, error) {
	if strings.TrimSpace(sectorID) == "" {
		return "", ErrMissingSector
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}

	scheme := "ws"
	if u.Scheme == "https" || u.Scheme == "wss" {
		scheme = "wss"
	}
	endpoint := url.URL{
		Scheme: scheme,
		Host:   u.Host,
		Path:   "/ws/dashboard/" + sectorID + "/",
	}
	return endpoint.String(), nil
}

// Client is the persistent WebSocket transport. It keeps one connection
// open at a time, pings it while open, and reconnects after a fixed delay up
// to MaxReconnectAttempts times.
type Client struct {
	cfg    ClientConfig
	url    string
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	conn     *websocket.Conn
	stopped  bool

	stop     chan struct{}
	stopOnce sync.Once

	writeMu sync.Mutex
}

// NewClient validates cfg and builds a client. Nothing is dialed until Run.
func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.setDefaults()
	endpoint, err := EndpointURL(cfg.BaseURL, cfg.SectorID)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:    cfg,
		url:    endpoint,
		logger: cfg.Logger.With("sector", cfg.SectorID),
		state:  StateClosed,
		stop:   make(chan struct{}),
	}, nil
}

// URL returns the endpoint the client dials.
func (c *Client) URL() string { return c.url }

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the reconnect attempt counter.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Run drives the connection until Disconnect is called (returns nil), ctx
// ends (returns ctx.Err()), or reconnection gives up (returns
// ErrReconnectExhausted).
func (c *Client) Run(ctx context.Context, l Listener) error {
	if l == nil {
		l = ListenerFuncs{}
	}
	if c.isStopped() {
		return nil
	}
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		c.connect(ctx, l)

		if parent.Err() != nil {
			return parent.Err()
		}
		if err := c.reconnect(); err != nil {
			if errors.Is(err, errStopped) {
				return nil
			}
			return err
		}

		timer := time.NewTimer(c.cfg.ReconnectInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return c.exitErr(parent)
		}
	}
}

func (c *Client) exitErr(parent context.Context) error {
	if c.isStopped() {
		c.setState(StateClosed)
		return nil
	}
	return parent.Err()
}

// connect performs one connection attempt and returns once it is closed.
func (c *Client) connect(ctx context.Context, l Listener) {
	c.setState(StateConnecting)
	c.logger.Info("Connecting WebSocket", "url", c.url)

	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.url, c.cfg.Header)
	if err != nil {
		if ctx.Err() == nil {
			l.OnError(fmt.Errorf("dial %s: %w", c.url, err))
		}
		c.setState(StateClosed)
		c.closed(l, CloseInfo{Code: websocket.CloseAbnormalClosure, Reason: err.Error()})
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.state = StateClosed
		c.mu.Unlock()
		conn.Close()
		c.closed(l, CloseInfo{Code: websocket.CloseNormalClosure, Reason: "disconnected"})
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("WebSocket connected")
	stopClose := context.AfterFunc(ctx, func() { conn.Close() })
	stopHeartbeat := c.startHeartbeat(conn)
	l.OnConnected()

	info := c.readLoop(ctx, conn, l)

	c.mu.Lock()
	c.state = StateClosed
	c.conn = nil
	c.mu.Unlock()

	stopHeartbeat()
	stopClose()
	conn.Close()
	c.closed(l, info)
}

func (c *Client) closed(l Listener, info CloseInfo) {
	c.logger.Info("WebSocket closed", "code", info.Code, "reason", info.Reason)
	l.OnDisconnected(info)
}

// reconnect applies the bounded retry policy after a close.
func (c *Client) reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		c.state = StateClosed
		return errStopped
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.state = StateFailed
		c.logger.Error("Maximum reconnect attempts reached", "max", c.cfg.MaxReconnectAttempts)
		return ErrReconnectExhausted
	}
	c.attempts++
	c.logger.Info("Reconnecting", "attempt", c.attempts, "max", c.cfg.MaxReconnectAttempts, "delay", c.cfg.ReconnectInterval)
	return nil
}

var errStopped = errors.New("disconnected by caller")

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, l Listener) CloseInfo {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return CloseInfo{Code: ce.Code, Reason: ce.Text}
			}
			if ctx.Err() == nil {
				l.OnError(err)
			}
			return CloseInfo{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
		}
		c.dispatch(data, l)
	}
}

// dispatch classifies one inbound frame by envelope type.
func (c *Client) dispatch(data []byte, l Listener) {
	var msg model.ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Error("Error parsing message", "error", err)
		return
	}

	switch msg.Type {
	case model.TypeConnectionEstablished:
		c.logger.Info("Connection established", "message", msg.Message)
	case model.TypeSensorData:
		reading, err := model.ParseReading(msg.Data)
		if err != nil {
			c.logger.Error("Error parsing sensor data", "error", err)
			return
		}
		if len(reading.Skipped) > 0 {
			c.logger.Warn("Ignoring non-numeric sensor fields", "fields", reading.Skipped)
		}
		l.OnData(reading)
	default:
		c.logger.Info("Unrecognized message", "type", msg.Type)
	}
}

// startHeartbeat pings conn every HeartbeatInterval. The returned func stops
// the ticker and waits for the goroutine to exit.
func (c *Client) startHeartbeat(conn *websocket.Conn) func() {
	done := make(chan struct{})
	exited := make(chan struct{})
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	ping, _ := json.Marshal(model.Ping())

	go func() {
		defer close(exited)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if c.State() != StateOpen {
					continue
				}
				if err := c.write(conn, ping); err != nil {
					c.logger.Warn("Heartbeat failed", "error", err)
					continue
				}
				c.logger.Debug("Heartbeat sent")
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

// Send encodes v as JSON and writes it if the connection is open.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	conn, open := c.conn, c.state == StateOpen
	c.mu.Unlock()

	if !open || conn == nil {
		c.logger.Warn("WebSocket is not connected")
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.write(conn, data)
}

func (c *Client) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Disconnect closes the connection and suppresses any further reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopped = true
	c.attempts = c.cfg.MaxReconnectAttempts
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
