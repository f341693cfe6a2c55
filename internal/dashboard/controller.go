package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bivalvia/sensor-relay/internal/model"
	"github.com/bivalvia/sensor-relay/pkg/logger"
)

// Transport delivers readings to a Listener until it stops.
type Transport interface {
	Run(ctx context.Context, l Listener) error
}

// Mode selects the transport strategy.
type Mode string

const (
	ModeSocket Mode = "socket"
	ModePoll   Mode = "poll"
)

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSocket:
		return ModeSocket, nil
	case ModePoll:
		return ModePoll, nil
	default:
		return "", fmt.Errorf("unknown dashboard mode %q (want socket or poll)", s)
	}
}

// NewTransport builds the transport for mode from a shared configuration.
func NewTransport(mode Mode, cfg ClientConfig) (Transport, error) {
	switch mode {
	case ModeSocket:
		return NewClient(cfg)
	case ModePoll:
		return NewPollTransport(PollConfig{
			BaseURL:  cfg.BaseURL,
			SectorID: cfg.SectorID,
			Logger:   cfg.Logger,
		})
	default:
		return nil, fmt.Errorf("unknown dashboard mode %q", mode)
	}
}

// Controller ties a transport to the page elements it updates.
type Controller struct {
	transport Transport
	board     Board
	status    StatusIndicator
	chart     ChartFunc
	user      Listener
	logger    *slog.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithChart registers a hook that receives every reading after the cards.
func WithChart(fn ChartFunc) ControllerOption {
	return func(c *Controller) { c.chart = fn }
}

// WithListener registers user callbacks, invoked before the built-in handling.
func WithListener(l Listener) ControllerOption {
	return func(c *Controller) { c.user = l }
}

// WithStatus sets the connection indicator.
func WithStatus(s StatusIndicator) ControllerOption {
	return func(c *Controller) { c.status = s }
}

// WithControllerLogger sets the logger.
func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// NewController builds a controller. Board may also implement Flusher and
// StatusIndicator; WithStatus overrides the latter.
func NewController(t Transport, board Board, opts ...ControllerOption) *Controller {
	c := &Controller{
		transport: t,
		board:     board,
		user:      ListenerFuncs{},
		logger:    logger.Discard(),
	}
	if s, ok := board.(StatusIndicator); ok {
		c.status = s
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run starts the transport with the controller as its listener.
func (c *Controller) Run(ctx context.Context) error {
	return c.transport.Run(ctx, c)
}

func (c *Controller) OnConnected() {
	c.user.OnConnected()
	c.setStatus(true)
}

func (c *Controller) OnDisconnected(info CloseInfo) {
	c.user.OnDisconnected(info)
	c.setStatus(false)
}

func (c *Controller) OnError(err error) {
	c.logger.Error("Dashboard transport error", "error", err)
	c.user.OnError(err)
}

func (c *Controller) OnData(r model.Reading) {
	c.user.OnData(r)
	UpdateCards(c.board, r)
	if f, ok := c.board.(Flusher); ok {
		f.Flush()
	}
	if c.chart != nil {
		c.chart(r)
	}
}

func (c *Controller) setStatus(connected bool) {
	if c.status != nil {
		c.status.SetConnected(connected)
	}
}
