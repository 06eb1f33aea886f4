// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package config loads the KEY=VALUE configuration shared by the publisher
// and consumer binaries.
package config

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"

	"github.com/relabs-tech/imu_pipeline/internal/logging"
)

// Defaults.
const (
	DefaultSocketPath         = "/tmp/imu-ipc.sock"
	DefaultPublishFrequency   = 500 * physic.Hertz
	DefaultConnectTimeoutMS   = 1000
	DefaultLogLevel           = "info"
	DefaultMQTTClientID       = "imu-consumer"
	DefaultTopicMotion        = "imu/motion"
	DefaultSerialBaudRate     = 115200
	DefaultStatePublishRateHz = 20
)

// Config holds all application configuration values.
type Config struct {
	// IPC
	SocketPath       string
	PublishFrequency physic.Frequency
	ConnectTimeoutMS int

	// Logging
	LogLevel string

	// Motion
	ComplementaryFilter bool

	// Emulator, 0 seeds from entropy
	EmulatorSeed uint64

	// MQTT mirror, disabled when broker is empty
	MQTTBroker   string
	MQTTClientID string
	TopicMotion  string

	// Web server, disabled when empty
	WebServerAddr string

	// NMEA serial output, disabled when empty
	SerialPort     string
	SerialBaudRate int

	// Sinks
	StatePublishRateHz float64
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		SocketPath:          DefaultSocketPath,
		PublishFrequency:    DefaultPublishFrequency,
		ConnectTimeoutMS:    DefaultConnectTimeoutMS,
		LogLevel:            DefaultLogLevel,
		ComplementaryFilter: true,
		MQTTClientID:        DefaultMQTTClientID,
		TopicMotion:         DefaultTopicMotion,
		SerialBaudRate:      DefaultSerialBaudRate,
		StatePublishRateHz:  DefaultStatePublishRateHz,
	}
}

// Load reads the configuration file on top of Default and validates it.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer file.Close()

	cfg := Default()
	if err := cfg.parse(file); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return errors.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := c.Set(key, value); err != nil {
			return errors.Wrapf(err, "config line %d", lineNum)
		}
	}

	return errors.Wrap(scanner.Err(), "error reading config file")
}

// Set assigns one KEY=VALUE pair, checking the value's format and range.
func (c *Config) Set(key, value string) error {
	switch key {
	// IPC
	case "SOCKET_PATH":
		if value == "" {
			return errors.New("SOCKET_PATH must not be empty")
		}
		c.SocketPath = value
	case "PUBLISH_FREQUENCY":
		var f physic.Frequency
		if err := f.Set(value); err != nil {
			return errors.Wrapf(err, "invalid PUBLISH_FREQUENCY %q", value)
		}
		if f < physic.Hertz || f > physic.KiloHertz {
			return errors.Errorf("PUBLISH_FREQUENCY must be 1-1000 Hz, got %s", f)
		}
		c.PublishFrequency = f
	case "CONNECT_TIMEOUT_MS":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid CONNECT_TIMEOUT_MS %q", value)
		}
		if ms < 1 || ms > 60000 {
			return errors.Errorf("CONNECT_TIMEOUT_MS must be 1-60000, got %d", ms)
		}
		c.ConnectTimeoutMS = ms

	// Logging
	case "LOG_LEVEL":
		if _, err := logging.ParseLevel(value); err != nil {
			return err
		}
		c.LogLevel = value

	// Motion
	case "COMPLEMENTARY_FILTER":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Wrapf(err, "invalid COMPLEMENTARY_FILTER %q", value)
		}
		c.ComplementaryFilter = enabled

	// Emulator
	case "EMULATOR_SEED":
		seed, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid EMULATOR_SEED %q", value)
		}
		c.EmulatorSeed = seed

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_MOTION":
		c.TopicMotion = value

	// Web
	case "WEB_SERVER_ADDR":
		c.WebServerAddr = value

	// Serial
	case "SERIAL_PORT":
		c.SerialPort = value
	case "SERIAL_BAUD_RATE":
		baud, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid SERIAL_BAUD_RATE %q", value)
		}
		if baud <= 0 {
			return errors.Errorf("SERIAL_BAUD_RATE must be positive, got %d", baud)
		}
		c.SerialBaudRate = baud

	// Sinks
	case "STATE_PUBLISH_RATE_HZ":
		rate, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid STATE_PUBLISH_RATE_HZ %q", value)
		}
		if rate <= 0 || rate > 1000 {
			return errors.Errorf("STATE_PUBLISH_RATE_HZ must be in (0, 1000], got %g", rate)
		}
		c.StatePublishRateHz = rate

	default:
		return errors.Errorf("unknown config key: %q", key)
	}

	return nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return errors.New("SOCKET_PATH is required")
	}
	if c.PublishFrequency < physic.Hertz || c.PublishFrequency > physic.KiloHertz {
		return errors.Errorf("PUBLISH_FREQUENCY must be 1-1000 Hz, got %s", c.PublishFrequency)
	}
	if c.ConnectTimeoutMS < 1 || c.ConnectTimeoutMS > 60000 {
		return errors.Errorf("CONNECT_TIMEOUT_MS must be 1-60000, got %d", c.ConnectTimeoutMS)
	}
	if c.MQTTBroker != "" {
		if c.MQTTClientID == "" {
			return errors.New("MQTT_CLIENT_ID is required when MQTT_BROKER is set")
		}
		if c.TopicMotion == "" {
			return errors.New("TOPIC_MOTION is required when MQTT_BROKER is set")
		}
	}
	return nil
}

// ConnectTimeout returns the consumer connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// Log prints the effective configuration.
func (c *Config) Log(logger *zap.SugaredLogger) {
	logger.Infow("configuration",
		"socket_path", c.SocketPath,
		"publish_frequency", c.PublishFrequency.String(),
		"connect_timeout", c.ConnectTimeout(),
		"log_level", c.LogLevel,
		"complementary_filter", c.ComplementaryFilter,
		"emulator_seed", c.EmulatorSeed,
		"mqtt_broker", c.MQTTBroker,
		"topic_motion", c.TopicMotion,
		"web_server_addr", c.WebServerAddr,
		"serial_port", c.SerialPort,
		"state_publish_rate_hz", c.StatePublishRateHz,
	)
}

// Build loads configPath (Default when empty), applies overrides through Set
// in key order and validates the result.
func Build(configPath string, overrides map[string]string) (*Config, error) {
	cfg := Default()
	if configPath != "" {
		loaded, err := Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := cfg.Set(k, overrides[k]); err != nil {
			return nil, errors.Wrap(err, "command line override")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InitGlobal builds the process-wide configuration. Only the first call has
// any effect.
func InitGlobal(configPath string, overrides map[string]string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Build(configPath, overrides)
	})
	return err
}

// Get returns the global configuration, or nil before InitGlobal.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
