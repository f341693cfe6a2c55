package model

import (
	"encoding/json"
	"time"
)

// Envelope represents the relay wire format
// Protocol: {"type":<type>,"data":<record>,"ts":<epoch-ms>}
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	TS   int64           `json:"ts,omitempty"`
}

// Message types
const (
	TypeSensor                = "sensor"
	TypeText                  = "text"
	TypePing                  = "ping"
	TypeConnectionEstablished = "connection_established"
	TypeSensorData            = "sensor_data"
)

// NewSensorEnvelope wraps a parsed JSON object record.
func NewSensorEnvelope(record json.RawMessage, at time.Time) Envelope {
	return Envelope{Type: TypeSensor, Data: record, TS: at.UnixMilli()}
}

// NewTextEnvelope wraps a raw line that did not parse as a JSON object.
func NewTextEnvelope(line string, at time.Time) Envelope {
	data, _ := json.Marshal(line) // marshaling a string cannot fail
	return Envelope{Type: TypeText, Data: data, TS: at.UnixMilli()}
}

// Ping is the client keep-alive payload.
func Ping() Envelope {
	return Envelope{Type: TypePing}
}

// ServerMessage is what a dashboard endpoint sends to browser clients.
type ServerMessage struct {
	Type     string          `json:"type"`
	Message  string          `json:"message,omitempty"`
	SectorID json.RawMessage `json:"sector_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}
