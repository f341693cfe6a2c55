package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bivalvia/sensor-relay/internal/model"
	"github.com/bivalvia/sensor-relay/pkg/logger"
)

const (
	saveTimeout = 5 * time.Second

	// Device firmware reports -999 when a probe fails.
	sensorErrorValue = -999
)

// Measurement is one numeric field of a sensor record.
type Measurement struct {
	Field string
	Value float64
}

// Repository persists the measurements of one record.
type Repository interface {
	SaveReading(ctx context.Context, at time.Time, values []Measurement) error
}

// Measurements extracts the numeric top-level fields of a record, sorted by
// field name. Non-numeric fields and the probe error value are skipped.
func Measurements(record json.RawMessage) []Measurement {
	var fields map[string]any
	if err := json.Unmarshal(record, &fields); err != nil {
		return nil
	}

	out := make([]Measurement, 0, len(fields))
	for k, v := range fields {
		f, ok := v.(float64)
		if !ok || f == sensorErrorValue {
			continue
		}
		out = append(out, Measurement{Field: k, Value: f})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

type storeJob struct {
	at     time.Time
	values []Measurement
}

// Store writes sensor envelopes to a Repository from its own goroutine so
// database latency never reaches the relay.
type Store struct {
	repo   Repository
	queue  chan storeJob
	logger *slog.Logger

	saved   prometheus.Counter
	failed  prometheus.Counter
	dropped prometheus.Counter
}

// NewStore creates a store with a bounded queue. reg may be nil.
func NewStore(repo Repository, queueSize int, log *slog.Logger, reg prometheus.Registerer) *Store {
	if log == nil {
		log = logger.Discard()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &Store{
		repo:   repo,
		queue:  make(chan storeJob, queueSize),
		logger: log,
		saved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bivalvia", Subsystem: "store", Name: "saved_total",
			Help: "Sensor records persisted",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bivalvia", Subsystem: "store", Name: "failed_total",
			Help: "Sensor records that failed to persist",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bivalvia", Subsystem: "store", Name: "dropped_total",
			Help: "Sensor records dropped because the queue was full",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.saved, s.failed, s.dropped)
	}
	return s
}

// Emit queues sensor envelopes; other types are ignored.
func (s *Store) Emit(env model.Envelope, _ []byte) {
	if env.Type != model.TypeSensor {
		return
	}
	values := Measurements(env.Data)
	if len(values) == 0 {
		return
	}

	job := storeJob{at: time.UnixMilli(env.TS).UTC(), values: values}
	select {
	case s.queue <- job:
	default:
		s.dropped.Inc()
		s.logger.Warn("Store queue full, dropping record")
	}
}

// Run drains the queue until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			s.save(ctx, job)
		}
	}
}

func (s *Store) save(ctx context.Context, job storeJob) {
	saveCtx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	if err := s.repo.SaveReading(saveCtx, job.at, job.values); err != nil {
		s.failed.Inc()
		s.logger.Error("Error saving reading", "error", err)
		return
	}
	s.saved.Inc()
	s.logger.Debug("Reading saved", "fields", len(job.values))
}
