package model

import (
	"encoding/json"
	"fmt"
)

// Reading is one sensor_data payload. Each field is nil when absent or null.
type Reading struct {
	Temperatura *float64 `json:"temperatura,omitempty"`
	PH          *float64 `json:"ph,omitempty"`
	Turbidez    *float64 `json:"turbidez,omitempty"`
	Humedad     *float64 `json:"humedad,omitempty"`
	Salinidad   *float64 `json:"salinidad,omitempty"`

	// Raw keeps the payload exactly as received for chart hooks.
	Raw json.RawMessage `json:"-"`
	// Skipped names known fields whose value was not a number.
	Skipped []string `json:"-"`
}

// ParseReading decodes a sensor_data payload field by field. A known field
// with a non-numeric value is left nil and listed in Skipped; only a payload
// that is not a JSON object is an error.
func ParseReading(data []byte) (Reading, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Reading{}, fmt.Errorf("sensor data is not an object: %w", err)
	}

	r := Reading{Raw: append(json.RawMessage(nil), data...)}
	targets := []struct {
		name string
		dst  **float64
	}{
		{"temperatura", &r.Temperatura},
		{"ph", &r.PH},
		{"turbidez", &r.Turbidez},
		{"humedad", &r.Humedad},
		{"salinidad", &r.Salinidad},
	}
	for _, t := range targets {
		raw, ok := fields[t.name]
		if !ok {
			continue
		}
		var v *float64
		if err := json.Unmarshal(raw, &v); err != nil {
			r.Skipped = append(r.Skipped, t.name)
			continue
		}
		*t.dst = v
	}
	return r, nil
}
