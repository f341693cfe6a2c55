package relay

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bivalvia/sensor-relay/internal/model"
)

// recorder collects emitted payloads in order.
type recorder struct {
	envs     []model.Envelope
	payloads [][]byte
}

func (r *recorder) Emit(env model.Envelope, payload []byte) {
	r.envs = append(r.envs, env)
	r.payloads = append(r.payloads, payload)
}

var fixedNow = time.UnixMilli(1736936400000)

func newTestRelay(rec *recorder, opts ...Option) *Relay {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New([]Output{rec}, opts...)
}

func TestRelay_SplitRecordAcrossChunks(t *testing.T) {
	rec := &recorder{}
	r := newTestRelay(rec)

	_, err := r.Write([]byte(`{"tempC":25.1,"clasif":"MEJILLON"}` + "\n" + `{"tempC":26`))
	require.NoError(t, err)

	require.Len(t, rec.payloads, 1)
	var wire struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
		TS   int64          `json:"ts"`
	}
	require.NoError(t, json.Unmarshal(rec.payloads[0], &wire))
	assert.Equal(t, model.TypeSensor, wire.Type)
	assert.Equal(t, 25.1, wire.Data["tempC"])
	assert.Equal(t, "MEJILLON", wire.Data["clasif"])
	assert.Equal(t, fixedNow.UnixMilli(), wire.TS)

	_, _ = r.Write([]byte(`,"clasif":"OSTRA"}`))
	assert.Len(t, rec.payloads, 1, "no envelope until the newline arrives")

	_, _ = r.Write([]byte("\n"))
	require.Len(t, rec.payloads, 2)
	assert.Equal(t, model.TypeSensor, rec.envs[1].Type)
}

func TestRelay_TextFallback(t *testing.T) {
	rec := &recorder{}
	r := newTestRelay(rec)

	_, _ = r.Write([]byte("  [SAL raw]=512  \n"))

	require.Len(t, rec.payloads, 1)
	var wire struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.payloads[0], &wire))
	assert.Equal(t, model.TypeText, wire.Type)
	assert.Equal(t, "[SAL raw]=512", wire.Data)
}

func TestRelay_NonObjectJSONIsText(t *testing.T) {
	rec := &recorder{}
	r := newTestRelay(rec)

	_, _ = r.Write([]byte("42\nnull\n[1,2]\n"))

	require.Len(t, rec.envs, 3)
	for _, env := range rec.envs {
		assert.Equal(t, model.TypeText, env.Type)
	}
}

func TestRelay_SensorDataDeepEqualsRecord(t *testing.T) {
	rec := &recorder{}
	r := newTestRelay(rec)

	line := `{"tempC":24.0,"turbidez":50,"salinidad":55,"vivo":true,"clasif":"ALMEJA","extra":{"n":[1,2]}}`
	_, _ = r.Write([]byte(line + "\n"))

	require.Len(t, rec.envs, 1)
	var want, got any
	require.NoError(t, json.Unmarshal([]byte(line), &want))
	require.NoError(t, json.Unmarshal(rec.envs[0].Data, &got))
	assert.Equal(t, want, got)
}

func TestRelay_BlankLinesProduceNothing(t *testing.T) {
	rec := &recorder{}
	r := newTestRelay(rec)

	_, _ = r.Write([]byte("\n \n\t\n\r\n"))
	assert.Empty(t, rec.payloads)
}

func TestRelay_NoOutputsNeverFails(t *testing.T) {
	r := New(nil)

	n, err := r.Write([]byte("{\"tempC\":1}\nraw\n"))
	require.NoError(t, err)
	assert.Equal(t, 16, n)
}

func TestRelay_ChunkingDoesNotChangeOutput(t *testing.T) {
	var sb strings.Builder
	const k = 200
	for i := 0; i < k; i++ {
		if i%7 == 0 {
			fmt.Fprintf(&sb, "debug line %d\n", i)
		} else {
			fmt.Fprintf(&sb, `{"seq":%d,"tempC":%d.5}`+"\n", i, 20+i%10)
		}
		if i%13 == 0 {
			sb.WriteString("   \n")
		}
	}
	stream := []byte(sb.String())

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		rec := &recorder{}
		r := newTestRelay(rec)

		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(64)
			if n > len(rest) {
				n = len(rest)
			}
			_, _ = r.Write(rest[:n])
			rest = rest[n:]
		}

		require.Len(t, rec.envs, k, "trial %d", trial)
		for i, env := range rec.envs {
			if i%7 == 0 {
				assert.Equal(t, model.TypeText, env.Type)
				continue
			}
			var record struct {
				Seq int `json:"seq"`
			}
			require.NoError(t, json.Unmarshal(env.Data, &record))
			assert.Equal(t, i, record.Seq, "trial %d: envelope out of order", trial)
		}
	}
}

func TestRelay_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	rec := &recorder{}
	r := newTestRelay(rec, WithMetrics(m))

	_, _ = r.Write([]byte("{\"a\":1}\nnope\n{\"b\":2}\n"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.records.WithLabelValues(model.TypeSensor)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues(model.TypeText)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.parseFailures))
	assert.Equal(t, 21.0, testutil.ToFloat64(m.bytesReceived))
}

func TestNewMetrics_NilRegisterer(t *testing.T) {
	m := NewMetrics(nil)
	assert.Nil(t, m)
	assert.NotPanics(t, func() {
		m.addBytes(3)
		m.record(model.TypeText)
		m.parseFailure()
	})
}
