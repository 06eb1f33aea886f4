// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	mqttPublishTimeout = 2 * time.Second
	mqttQuiesceMS      = 250
)

// mqttPublisher is the slice of mqtt.Client the mirror needs.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTMirror publishes snapshots as retained JSON messages, QoS 0.
type MQTTMirror struct {
	client mqttPublisher
	topic  string
	logger *zap.SugaredLogger
}

// DialMQTT connects to broker and returns a mirror publishing on topic.
func DialMQTT(broker, clientID, topic string, logger *zap.SugaredLogger) (*MQTTMirror, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrapf(token.Error(), "connect to MQTT broker %s", broker)
	}
	logger.Infow("connected to MQTT broker", "broker", broker, "topic", topic)
	return NewMQTTMirror(client, topic, logger), nil
}

// NewMQTTMirror wraps an already connected client.
func NewMQTTMirror(client mqttPublisher, topic string, logger *zap.SugaredLogger) *MQTTMirror {
	return &MQTTMirror{client: client, topic: topic, logger: logger}
}

// Name implements Sink.
func (m *MQTTMirror) Name() string { return "mqtt" }

// Publish implements Sink.
func (m *MQTTMirror) Publish(ctx context.Context, s Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	token := m.client.Publish(m.topic, 0, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttPublishTimeout):
		return errors.Errorf("publish to %s timed out", m.topic)
	}
	return errors.Wrapf(token.Error(), "publish to %s", m.topic)
}

// Close disconnects the client if it supports it.
func (m *MQTTMirror) Close() error {
	if c, ok := m.client.(interface{ Disconnect(uint) }); ok {
		c.Disconnect(mqttQuiesceMS)
		m.logger.Info("disconnected from MQTT broker")
	}
	return nil
}
