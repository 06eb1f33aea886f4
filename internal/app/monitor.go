// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/relabs-tech/imu_pipeline/internal/config"
	"github.com/relabs-tech/imu_pipeline/internal/telemetry"
)

// FormatSnapshot renders one console line for s.
func FormatSnapshot(s telemetry.Snapshot) string {
	return fmt.Sprintf(
		"[MOTION] ROLL=%7.2f PITCH=%7.2f YAW=%7.2f  vel=[%.3f, %.3f, %.3f]m/s  pos=[%.3f, %.3f, %.3f]m  ts=%d",
		s.Pose.Roll, s.Pose.Pitch, s.Pose.Yaw,
		s.Velocity.X, s.Velocity.Y, s.Velocity.Z,
		s.Position.X, s.Position.Y, s.Position.Z,
		s.AccTimestamp,
	)
}

func monitorHandler(out io.Writer, logger *zap.SugaredLogger) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		var s telemetry.Snapshot
		if err := json.Unmarshal(msg.Payload(), &s); err != nil {
			logger.Warnw("snapshot unmarshal error", "topic", msg.Topic(), "error", err)
			return
		}
		fmt.Fprintln(out, FormatSnapshot(s))
	}
}

// RunMonitor subscribes to the motion topic mirrored by a consumer and prints
// every snapshot to out until ctx is done.
func RunMonitor(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, out io.Writer) error {
	if cfg.MQTTBroker == "" {
		return errors.New("monitor needs MQTT_BROKER")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID + "-monitor")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "connect to MQTT broker %s", cfg.MQTTBroker)
	}
	defer client.Disconnect(250)
	logger.Infow("connected to MQTT broker", "broker", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicMotion, 0, monitorHandler(out, logger))
	token.Wait()
	if token.Error() != nil {
		return errors.Wrapf(token.Error(), "subscribe to %s", cfg.TopicMotion)
	}
	logger.Infow("subscribed", "topic", cfg.TopicMotion)

	<-ctx.Done()
	logger.Info("monitor shutting down")
	return nil
}
