package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bivalvia/sensor-relay/internal/model"
	"github.com/bivalvia/sensor-relay/pkg/logger"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, payload: payload.([]byte)})
	return newDoneToken(nil)
}

func TestMirror_PublishesByType(t *testing.T) {
	pub := &fakePublisher{}
	m := NewMirror(pub, "bivalvia/relay/", logger.Discard())

	now := time.Now()
	m.Emit(model.NewSensorEnvelope(json.RawMessage(`{"tempC":25}`), now), []byte(`{"type":"sensor"}`))
	m.Emit(model.NewTextEnvelope("hola", now), []byte(`{"type":"text"}`))

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "bivalvia/relay/sensor", pub.msgs[0].topic)
	assert.Equal(t, `{"type":"sensor"}`, string(pub.msgs[0].payload))
	assert.Equal(t, "bivalvia/relay/text", pub.msgs[1].topic)
}

func TestMeasurements(t *testing.T) {
	got := Measurements(json.RawMessage(`{"tempC":-999,"turbidez":50,"salinidad":55.5,"vivo":true,"clasif":"OSTRA","ph":7.2}`))

	assert.Equal(t, []Measurement{
		{Field: "ph", Value: 7.2},
		{Field: "salinidad", Value: 55.5},
		{Field: "turbidez", Value: 50},
	}, got)
}

func TestMeasurements_NotAnObject(t *testing.T) {
	assert.Empty(t, Measurements(json.RawMessage(`"hola"`)))
}

type fakeRepo struct {
	mu    sync.Mutex
	saved [][]Measurement
	at    []time.Time
	err   error
}

func (f *fakeRepo) SaveReading(_ context.Context, at time.Time, values []Measurement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, values)
	f.at = append(f.at, at)
	return nil
}

func (f *fakeRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func TestStore_SavesOnlySensorRecords(t *testing.T) {
	repo := &fakeRepo{}
	reg := prometheus.NewRegistry()
	s := NewStore(repo, 8, logger.Discard(), reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	at := time.UnixMilli(1736936400000)
	s.Emit(model.NewTextEnvelope("[SAL raw]=3", at), nil)
	s.Emit(model.NewSensorEnvelope(json.RawMessage(`{"clasif":"NONE"}`), at), nil)
	s.Emit(model.NewSensorEnvelope(json.RawMessage(`{"tempC":21.5}`), at), nil)

	require.Eventually(t, func() bool { return repo.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []Measurement{{Field: "tempC", Value: 21.5}}, repo.saved[0])
	assert.True(t, repo.at[0].Equal(at))
	assert.Eventually(t, func() bool { return testutil.ToFloat64(s.saved) == 1 }, time.Second, 10*time.Millisecond)
}

func TestStore_FailuresAreCounted(t *testing.T) {
	repo := &fakeRepo{err: errors.New("db down")}
	s := NewStore(repo, 8, logger.Discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Emit(model.NewSensorEnvelope(json.RawMessage(`{"tempC":21.5}`), time.Now()), nil)

	assert.Eventually(t, func() bool { return testutil.ToFloat64(s.failed) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStore_FullQueueDrops(t *testing.T) {
	s := NewStore(&fakeRepo{}, 1, logger.Discard(), nil)

	for i := 0; i < 3; i++ {
		s.Emit(model.NewSensorEnvelope(json.RawMessage(`{"tempC":1}`), time.Now()), nil)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(s.dropped))
}

func TestLastValueKey(t *testing.T) {
	assert.Equal(t, "sensor:last:tempC", LastValueKey("tempC"))
}
