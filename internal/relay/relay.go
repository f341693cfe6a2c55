// Package relay turns a raw device byte stream into broadcast envelopes.
package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bivalvia/sensor-relay/internal/model"
	"github.com/bivalvia/sensor-relay/pkg/logger"
)

var errNotObject = errors.New("record is not a JSON object")

// Output receives every envelope the relay produces, in line order.
// Emit must not block.
type Output interface {
	Emit(env model.Envelope, payload []byte)
}

// OutputFunc adapts a function to Output.
type OutputFunc func(env model.Envelope, payload []byte)

// Emit calls f.
func (f OutputFunc) Emit(env model.Envelope, payload []byte) { f(env, payload) }

// Relay reassembles newline-delimited records and dispatches one envelope per
// non-empty line. It implements io.Writer so a source can io.Copy into it.
type Relay struct {
	mu      sync.Mutex
	seg     Segmenter
	outputs []Output
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// New creates a Relay dispatching to outputs.
func New(outputs []Output, opts ...Option) *Relay {
	r := &Relay{
		outputs: outputs,
		logger:  logger.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Write consumes one raw chunk. It never fails.
func (r *Relay) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics.addBytes(len(p))
	for _, line := range r.seg.Push(p) {
		r.dispatch(line)
	}
	return len(p), nil
}

func (r *Relay) dispatch(line string) {
	env, fields, err := Classify(line, r.now())
	if err != nil {
		r.metrics.parseFailure()
		r.logger.Warn("JSON parse error, forwarding raw line", "line", line, "error", err)
	} else {
		r.logger.Info("Data", "tempC", rawField(fields, "tempC"), "clasif", rawField(fields, "clasif"))
	}

	payload, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("Error marshaling envelope", "error", err)
		return
	}

	r.metrics.record(env.Type)
	for _, out := range r.outputs {
		out.Emit(env, payload)
	}
}

// Classify builds the envelope for one trimmed line. A JSON object becomes a
// sensor envelope; anything else becomes a text envelope and err is non-nil.
func Classify(line string, at time.Time) (model.Envelope, map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return model.NewTextEnvelope(line, at), nil, err
	}
	if fields == nil {
		// "null" decodes into a nil map without error
		return model.NewTextEnvelope(line, at), nil, errNotObject
	}
	return model.NewSensorEnvelope(json.RawMessage(line), at), fields, nil
}

func rawField(fields map[string]json.RawMessage, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return s
	}
	return string(v)
}
