package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"
	"periph.io/x/conn/v3/physic"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imu.conf")
	test.That(t, os.WriteFile(path, []byte(body), 0o600), test.ShouldBeNil)
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.SocketPath, test.ShouldEqual, "/tmp/imu-ipc.sock")
	test.That(t, cfg.PublishFrequency, test.ShouldEqual, 500*physic.Hertz)
	test.That(t, cfg.PublishFrequency.Period(), test.ShouldEqual, 2*time.Millisecond)
	test.That(t, cfg.ConnectTimeout(), test.ShouldEqual, time.Second)
	test.That(t, cfg.ComplementaryFilter, test.ShouldBeTrue)
	test.That(t, cfg.TopicMotion, test.ShouldEqual, "imu/motion")
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"# pipeline settings",
		"",
		"SOCKET_PATH = /run/imu/imu.sock",
		"PUBLISH_FREQUENCY=1kHz",
		"CONNECT_TIMEOUT_MS=2500",
		"LOG_LEVEL=debug",
		"COMPLEMENTARY_FILTER=false",
		"EMULATOR_SEED=0x2a",
		"MQTT_BROKER=tcp://localhost:1883",
		"WEB_SERVER_ADDR=:8080",
		"SERIAL_PORT=/dev/ttyUSB0",
		"SERIAL_BAUD_RATE=9600",
		"STATE_PUBLISH_RATE_HZ=5",
	}, "\n"))

	cfg, err := Load(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.SocketPath, test.ShouldEqual, "/run/imu/imu.sock")
	test.That(t, cfg.PublishFrequency, test.ShouldEqual, physic.KiloHertz)
	test.That(t, cfg.ConnectTimeout(), test.ShouldEqual, 2500*time.Millisecond)
	test.That(t, cfg.LogLevel, test.ShouldEqual, "debug")
	test.That(t, cfg.ComplementaryFilter, test.ShouldBeFalse)
	test.That(t, cfg.EmulatorSeed, test.ShouldEqual, uint64(42))
	test.That(t, cfg.MQTTBroker, test.ShouldEqual, "tcp://localhost:1883")
	test.That(t, cfg.MQTTClientID, test.ShouldEqual, DefaultMQTTClientID)
	test.That(t, cfg.WebServerAddr, test.ShouldEqual, ":8080")
	test.That(t, cfg.SerialPort, test.ShouldEqual, "/dev/ttyUSB0")
	test.That(t, cfg.SerialBaudRate, test.ShouldEqual, 9600)
	test.That(t, cfg.StatePublishRateHz, test.ShouldEqual, 5.0)
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
		want string
	}{
		{"missing equals", "SOCKET_PATH", "invalid config line 1"},
		{"unknown key", "FOO=bar", "unknown config key"},
		{"frequency too high", "PUBLISH_FREQUENCY=1001", "PUBLISH_FREQUENCY must be 1-1000 Hz"},
		{"frequency zero", "PUBLISH_FREQUENCY=0", "PUBLISH_FREQUENCY must be 1-1000 Hz"},
		{"frequency garbage", "PUBLISH_FREQUENCY=fast", "invalid PUBLISH_FREQUENCY"},
		{"timeout zero", "CONNECT_TIMEOUT_MS=0", "CONNECT_TIMEOUT_MS must be 1-60000"},
		{"timeout too long", "CONNECT_TIMEOUT_MS=60001", "CONNECT_TIMEOUT_MS must be 1-60000"},
		{"bad level", "LOG_LEVEL=loud", "unknown log level"},
		{"bad bool", "COMPLEMENTARY_FILTER=maybe", "invalid COMPLEMENTARY_FILTER"},
		{"bad rate", "STATE_PUBLISH_RATE_HZ=0", "STATE_PUBLISH_RATE_HZ must be in"},
		{"mqtt without topic", "MQTT_BROKER=tcp://x:1883\nTOPIC_MOTION=", "TOPIC_MOTION is required"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBuildOverrides(t *testing.T) {
	path := writeConfig(t, "PUBLISH_FREQUENCY=100\nLOG_LEVEL=info\n")

	cfg, err := Build(path, map[string]string{
		"LOG_LEVEL":            "warning",
		"COMPLEMENTARY_FILTER": "false",
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.PublishFrequency, test.ShouldEqual, 100*physic.Hertz)
	test.That(t, cfg.LogLevel, test.ShouldEqual, "warning")
	test.That(t, cfg.ComplementaryFilter, test.ShouldBeFalse)

	_, err = Build("", map[string]string{"CONNECT_TIMEOUT_MS": "-1"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "command line override")
}

func TestInitGlobal(t *testing.T) {
	test.That(t, InitGlobal("", map[string]string{"SOCKET_PATH": "/tmp/global.sock"}), test.ShouldBeNil)
	test.That(t, Get().SocketPath, test.ShouldEqual, "/tmp/global.sock")

	// later calls are ignored
	test.That(t, InitGlobal("", map[string]string{"SOCKET_PATH": "/tmp/other.sock"}), test.ShouldBeNil)
	test.That(t, Get().SocketPath, test.ShouldEqual, "/tmp/global.sock")
}
