// Package sink holds optional relay outputs beside the live subscriber hub.
package sink

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/bivalvia/sensor-relay/internal/model"
	"github.com/bivalvia/sensor-relay/pkg/logger"
)

const publishTimeout = 5 * time.Second

// Publisher is the slice of mqtt.Client the mirror needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Mirror republishes every envelope to MQTT under <prefix>/<type>.
type Mirror struct {
	client Publisher
	prefix string
	logger *slog.Logger
}

// NewMirror creates a mirror publishing under prefix.
func NewMirror(client Publisher, prefix string, log *slog.Logger) *Mirror {
	if log == nil {
		log = logger.Discard()
	}
	return &Mirror{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: log,
	}
}

// Topic returns the topic an envelope type is published to.
func (m *Mirror) Topic(envType string) string {
	return m.prefix + "/" + envType
}

// Emit publishes fire-and-forget; delivery failures are logged asynchronously.
func (m *Mirror) Emit(env model.Envelope, payload []byte) {
	topic := m.Topic(env.Type)
	token := m.client.Publish(topic, 0, false, payload)

	go func() {
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				m.logger.Warn("MQTT publish failed", "topic", topic, "error", err)
			}
		case <-time.After(publishTimeout):
			m.logger.Warn("MQTT publish timed out", "topic", topic)
		}
	}()
}

// DialMQTT connects to broker and returns a client that reconnects on its own.
func DialMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", broker, token.Error())
	}
	return client, nil
}
