// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/relabs-tech/imu_pipeline/internal/config"
	"github.com/relabs-tech/imu_pipeline/internal/emulator"
	"github.com/relabs-tech/imu_pipeline/internal/transport"
)

// NewPublisher builds the emulator-backed publisher described by cfg.
func NewPublisher(cfg *config.Config, logger *zap.SugaredLogger) (*transport.Publisher, error) {
	var opts []emulator.Option
	if cfg.EmulatorSeed != 0 {
		opts = append(opts, emulator.WithSeed(cfg.EmulatorSeed))
	}
	return transport.NewPublisher(cfg.SocketPath, cfg.PublishFrequency, emulator.New(opts...), logger.Named("publisher"))
}

// RunPublisher binds the socket and streams emulated samples until ctx is
// done. A bind failure is returned immediately.
func RunPublisher(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (err error) {
	pub, err := NewPublisher(cfg, logger)
	if err != nil {
		return err
	}
	if err := pub.Listen(); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, pub.Close())
	}()

	err = pub.Run(ctx)
	logger.Infow("publisher stopped", "frames_sent", pub.Sent())
	return err
}
