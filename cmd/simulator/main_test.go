package main

import (
	"bytes"
	"encoding/json"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bivalvia/sensor-relay/internal/model"
	"github.com/bivalvia/sensor-relay/internal/relay"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		tempC    float64
		turbidez int
		sal      int
		want     string
	}{
		{"oyster", 22, 40, 80, "OSTRA"},
		{"oyster wins overlap", 20, 55, 72, "OSTRA"},
		{"mussel", 14, 70, 60, "MEJILLON"},
		{"clam", 29, 45, 30, "ALMEJA"},
		{"too cold", 5, 70, 60, "NONE"},
		{"murky and salty", 22, 95, 90, "NONE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.tempC, tt.turbidez, tt.sal))
		})
	}
}

func TestFormatReading(t *testing.T) {
	line := formatReading(21.54, 40, 80, true)
	assert.Equal(t, `{"tempC":21.5,"turbidez":40,"salinidad":80,"vivo":true,"clasif":"OSTRA"}`, line)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))
}

func TestDevice_LinesFeedTheRelay(t *testing.T) {
	dev := newDevice(rand.New(rand.NewPCG(1, 2)))
	dev.debugSal = true

	var buf bytes.Buffer
	for i := 0; i < 50; i++ {
		require.NoError(t, dev.writeReading(&buf))
	}

	var sensor, text int
	r := relay.New([]relay.Output{relay.OutputFunc(func(env model.Envelope, _ []byte) {
		switch env.Type {
		case model.TypeSensor:
			sensor++
		case model.TypeText:
			text++
			assert.True(t, strings.HasPrefix(string(env.Data), `"[SAL raw]=`))
		}
	})})
	_, err := r.Write(buf.Bytes())
	require.NoError(t, err)

	assert.Equal(t, 50, sensor+text)
	assert.Positive(t, sensor)
	assert.Positive(t, text, "debug prefix turns some lines into text")
}

func TestDevice_Activity(t *testing.T) {
	dev := newDevice(rand.New(rand.NewPCG(3, 4)))
	now := time.Now()
	dev.now = func() time.Time { return now }
	dev.lastAct = now.Add(-time.Minute)
	assert.True(t, dev.alive())

	dev.lastAct = now.Add(-3 * time.Minute)
	assert.False(t, dev.alive())
}
