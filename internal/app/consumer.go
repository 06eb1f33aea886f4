// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relabs-tech/imu_pipeline/internal/config"
	"github.com/relabs-tech/imu_pipeline/internal/imu"
	"github.com/relabs-tech/imu_pipeline/internal/motion"
	"github.com/relabs-tech/imu_pipeline/internal/telemetry"
	"github.com/relabs-tech/imu_pipeline/internal/transport"
)

// Pipeline is the consumer side: socket reader, motion processor and
// telemetry fan-out.
type Pipeline struct {
	logger     *zap.SugaredLogger
	processor  *motion.Processor
	dispatcher *telemetry.Dispatcher
	consumer   *transport.Consumer
	summary    *rate.Limiter
}

// NewPipeline wires a consumer for cfg that feeds sinks.
func NewPipeline(cfg *config.Config, logger *zap.SugaredLogger, sinks ...telemetry.Sink) *Pipeline {
	p := &Pipeline{
		logger: logger,
		processor: motion.NewProcessor(logger.Named("motion"),
			motion.WithComplementaryFilter(cfg.ComplementaryFilter)),
		dispatcher: telemetry.NewDispatcher(cfg.StatePublishRateHz, logger.Named("telemetry"), sinks...),
		summary:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
	p.consumer = transport.NewConsumer(cfg.SocketPath, cfg.ConnectTimeout(), p.handle, logger.Named("consumer"))
	return p
}

func (p *Pipeline) handle(s imu.Sample) {
	state := p.processor.Process(s)

	p.logger.Debugf("%s", state)
	if p.summary.Allow() {
		p.logger.Info(state.String())
	}

	p.dispatcher.Offer(telemetry.NewSnapshot(time.Now(), state, s))
}

// Run connects to the publisher and processes samples until the stream ends
// or ctx is done. Sinks are closed before returning.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	p.dispatcher.Start(ctx)
	defer func() {
		err = multierr.Append(err, p.dispatcher.Close())
	}()

	err = p.consumer.Run(ctx)
	p.logger.Infow("consumer finished", "stats", p.consumer.Stats(), "final", p.processor.State().String())
	return err
}

// State returns the current motion estimate.
func (p *Pipeline) State() motion.State {
	return p.processor.State()
}

// Stats returns the reader counters.
func (p *Pipeline) Stats() transport.Stats {
	return p.consumer.Stats()
}

// OpenSinks opens every telemetry output enabled in cfg. On failure the
// outputs opened so far are closed.
func OpenSinks(cfg *config.Config, logger *zap.SugaredLogger) (sinks []telemetry.Sink, err error) {
	defer func() {
		if err == nil {
			return
		}
		for _, s := range sinks {
			err = multierr.Append(err, s.Close())
		}
		sinks = nil
	}()

	if cfg.MQTTBroker != "" {
		m, err := telemetry.DialMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.TopicMotion, logger.Named("mqtt"))
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, m)
	}

	if cfg.WebServerAddr != "" {
		ws := telemetry.NewWebServer(cfg.WebServerAddr, logger.Named("web"))
		if err := ws.Start(); err != nil {
			return sinks, err
		}
		sinks = append(sinks, ws)
	}

	if cfg.SerialPort != "" {
		n, err := telemetry.OpenSerialNMEA(cfg.SerialPort, cfg.SerialBaudRate, logger.Named("nmea"))
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, n)
	}

	return sinks, nil
}

// RunConsumer opens the configured sinks and runs the consumer pipeline.
func RunConsumer(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	sinks, err := OpenSinks(cfg, logger)
	if err != nil {
		return err
	}
	return NewPipeline(cfg, logger, sinks...).Run(ctx)
}
