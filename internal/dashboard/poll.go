package dashboard

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bivalvia/sensor-relay/internal/model"
	"github.com/bivalvia/sensor-relay/pkg/logger"
)

// statusClosed is the terminal status the stream endpoint sends.
const statusClosed = "cerrado"

// PollConfig configures the event stream transport.
type PollConfig struct {
	BaseURL    string
	SectorID   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// StreamURL derives the event stream endpoint:
// {http|https}://<host>/stream-sensores/?sector_id=<id>.
func StreamURL(baseURL, sectorID string) (string, error) {
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

	scheme := "http"
	if u.Scheme == "https" || u.Scheme == "wss" {
		scheme = "https"
	}
	endpoint := url.URL{
		Scheme:   scheme,
		Host:     u.Host,
		Path:     "/stream-sensores/",
		RawQuery: url.Values{"sector_id": {sectorID}}.Encode(),
	}
	return endpoint.String(), nil
}

// PollTransport reads a server-sent event stream once. It never reconnects.
type PollTransport struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewPollTransport validates cfg and builds the transport.
func NewPollTransport(cfg PollConfig) (*PollTransport, error) {
	endpoint, err := StreamURL(cfg.BaseURL, cfg.SectorID)
	if err != nil {
		return nil, err
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	return &PollTransport{
		url:    endpoint,
		client: cfg.HTTPClient,
		logger: cfg.Logger.With("sector", cfg.SectorID, "transport", "poll"),
	}, nil
}

// URL returns the stream endpoint.
func (p *PollTransport) URL() string { return p.url }

type streamEvent struct {
	Error  string `json:"error"`
	Status string `json:"status"`
}

// Run opens the stream and forwards each data event to l until the stream
// ends, the server reports it closed, or ctx is cancelled.
func (p *PollTransport) Run(ctx context.Context, l Listener) error {
	if l == nil {
		l = ListenerFuncs{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fmt.Errorf("open stream: %w", err)
		l.OnError(err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("open stream: unexpected status %s", resp.Status)
		l.OnError(err)
		return err
	}
	p.logger.Info("Event stream opened", "url", p.url)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			continue
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		if done := p.handle(data, l); done {
			p.logger.Info("Event stream closed by server")
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, bufio.ErrTooLong) {
			err = fmt.Errorf("stream event too large: %w", err)
		}
		l.OnError(err)
		return err
	}
	return nil
}

// handle processes one data payload and reports whether the stream is done.
func (p *PollTransport) handle(data []byte, l Listener) bool {
	var ev streamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		p.logger.Error("Error parsing event", "error", err)
		return false
	}
	switch {
	case ev.Error != "":
		p.logger.Warn("Stream reported error", "error", ev.Error)
		return false
	case ev.Status == statusClosed:
		return true
	}

	reading, err := model.ParseReading(data)
	if err != nil {
		p.logger.Error("Error parsing sensor data", "error", err)
		return false
	}
	if len(reading.Skipped) > 0 {
		p.logger.Warn("Ignoring non-numeric sensor fields", "fields", reading.Skipped)
	}
	l.OnData(reading)
	return false
}
