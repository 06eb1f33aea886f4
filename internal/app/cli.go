// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/relabs-tech/imu_pipeline/internal/config"
	"github.com/relabs-tech/imu_pipeline/internal/logging"
)

// Flag names.
const (
	flagConfig           = "config"
	flagSocketPath       = "socket-path"
	flagLogLevel         = "log-level"
	flagFrequency        = "frequency"
	flagSeed             = "seed"
	flagTimeout          = "timeout"
	flagNoFilter         = "no-complementary-filter"
	flagMQTTBroker       = "mqtt-broker"
	flagWebAddr          = "web-addr"
	flagSerialPort       = "serial-port"
	flagSerialBaudRate   = "serial-baud"
	flagStatePublishRate = "state-rate"
)

// config keys set by each string-valued flag
var stringFlagKeys = map[string]string{
	flagSocketPath:       "SOCKET_PATH",
	flagLogLevel:         "LOG_LEVEL",
	flagFrequency:        "PUBLISH_FREQUENCY",
	flagSeed:             "EMULATOR_SEED",
	flagTimeout:          "CONNECT_TIMEOUT_MS",
	flagMQTTBroker:       "MQTT_BROKER",
	flagWebAddr:          "WEB_SERVER_ADDR",
	flagSerialPort:       "SERIAL_PORT",
	flagSerialBaudRate:   "SERIAL_BAUD_RATE",
	flagStatePublishRate: "STATE_PUBLISH_RATE_HZ",
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.StringFlag{
			Name:    flagSocketPath,
			Aliases: []string{"s"},
			Usage:   "unix socket `PATH`",
			Value:   config.DefaultSocketPath,
		},
		&cli.StringFlag{
			Name:    flagLogLevel,
			Aliases: []string{"l"},
			Usage:   "log level: trace, debug, info, warn or error",
			Value:   config.DefaultLogLevel,
		},
	}
}

// overridesFromFlags collects the flags given on the command line as config
// overrides. Defaults shown in help do not override the config file.
func overridesFromFlags(c *cli.Context) map[string]string {
	overrides := make(map[string]string)
	for flag, key := range stringFlagKeys {
		if c.IsSet(flag) {
			overrides[key] = c.String(flag)
		}
	}
	if c.IsSet(flagNoFilter) {
		overrides["COMPLEMENTARY_FILTER"] = strconv.FormatBool(!c.Bool(flagNoFilter))
	}
	return overrides
}

// setup loads the global config and builds the process logger.
func setup(c *cli.Context, name string) (*config.Config, *zap.SugaredLogger, error) {
	if err := config.InitGlobal(c.String(flagConfig), overridesFromFlags(c)); err != nil {
		return nil, nil, err
	}
	cfg := config.Get()

	logger, err := logging.New(name, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	cfg.Log(logger)
	return cfg, logger, nil
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

// NewPublisherCLI returns the imu_publisher command.
func NewPublisherCLI() *cli.App {
	return &cli.App{
		Name:  "imu_publisher",
		Usage: "stream emulated IMU samples over a unix socket",
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:    flagFrequency,
				Aliases: []string{"f"},
				Usage:   "publish frequency, e.g. 500Hz or 1kHz",
				Value:   config.DefaultPublishFrequency.String(),
			},
			&cli.StringFlag{
				Name:  flagSeed,
				Usage: "emulator seed, 0 seeds from entropy",
				Value: "0",
			},
		),
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c, "imu_publisher")
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signalContext(c)
			defer stop()
			return RunPublisher(ctx, cfg, logger)
		},
	}
}

// NewMonitorCLI returns the imu_monitor command.
func NewMonitorCLI() *cli.App {
	return &cli.App{
		Name:  "imu_monitor",
		Usage: "print the motion state a consumer mirrors to MQTT",
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:  flagMQTTBroker,
				Usage: "MQTT `BROKER`, e.g. tcp://localhost:1883",
			},
		),
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c, "imu_monitor")
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signalContext(c)
			defer stop()
			return RunMonitor(ctx, cfg, logger, c.App.Writer)
		},
	}
}

// NewConsumerCLI returns the imu_consumer command.
func NewConsumerCLI() *cli.App {
	return &cli.App{
		Name:  "imu_consumer",
		Usage: "read IMU samples from a unix socket and estimate motion",
		Flags: append(commonFlags(),
			&cli.StringFlag{
				Name:    flagTimeout,
				Aliases: []string{"t"},
				Usage:   "connect timeout in milliseconds",
				Value:   strconv.Itoa(config.DefaultConnectTimeoutMS),
			},
			&cli.BoolFlag{
				Name:  flagNoFilter,
				Usage: "integrate the gyroscope only",
			},
			&cli.StringFlag{
				Name:  flagMQTTBroker,
				Usage: "mirror motion state to this MQTT `BROKER`, e.g. tcp://localhost:1883",
			},
			&cli.StringFlag{
				Name:  flagWebAddr,
				Usage: "serve motion state over HTTP and websocket on `ADDR`",
			},
			&cli.StringFlag{
				Name:  flagSerialPort,
				Usage: "write NMEA attitude sentences to serial `PORT`",
			},
			&cli.StringFlag{
				Name:  flagSerialBaudRate,
				Usage: "serial baud rate",
				Value: strconv.Itoa(config.DefaultSerialBaudRate),
			},
			&cli.StringFlag{
				Name:  flagStatePublishRate,
				Usage: "maximum motion state updates per second sent to outputs",
				Value: strconv.Itoa(config.DefaultStatePublishRateHz),
			},
		),
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c, "imu_consumer")
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signalContext(c)
			defer stop()
			return RunConsumer(ctx, cfg, logger)
		},
	}
}
