// Package config handles dhtpub configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fernwood/dhtpub/internal/sensor"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/dhtpub/config.yaml, /etc/dhtpub/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "dhtpub", "config.yaml"))
	}

	paths = append(paths, "/etc/dhtpub/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all dhtpub configuration.
type Config struct {
	WiFi      WiFiConfig      `yaml:"wifi"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
}

// WiFiConfig defines the wireless network to join. An empty SSID means
// the link is managed outside this process (wired, or a supplicant the
// OS owns) and the network stage treats it as always up.
type WiFiConfig struct {
	SSID              string `yaml:"ssid"`
	Passphrase        string `yaml:"passphrase"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"` // default 15
}

// Managed reports whether this process manages the wireless link.
func (w WiFiConfig) Managed() bool { return w.SSID != "" }

// ConnectTimeout returns the per-attempt association budget.
func (w WiFiConfig) ConnectTimeout() time.Duration {
	if w.ConnectTimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(w.ConnectTimeoutSec) * time.Second
}

// MQTTConfig defines the broker connection. Endpoint is host:port,
// e.g. "abcdefg-ats.iot.us-east-1.amazonaws.com:8883". The three
// credential files are opaque references handed to crypto/tls.
type MQTTConfig struct {
	Endpoint   string `yaml:"endpoint"`
	DeviceID   string `yaml:"device_id"` // empty: generated and persisted under data_dir
	Topic      string `yaml:"topic"`     // default devices/<device_id>/telemetry
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	RootCAFile string `yaml:"root_ca_file"`
	// AvailabilityTopic carries retained online/offline markers via a
	// birth message and the connection's will. Empty disables it.
	AvailabilityTopic string `yaml:"availability_topic"`
	QoS               int    `yaml:"qos"`                 // default 1
	KeepAliveSec      int    `yaml:"keepalive_sec"`       // default 60
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"` // default 30
	PublishTimeoutSec int    `yaml:"publish_timeout_sec"` // default 10
}

// SensorConfig defines the DHT sensor attachment.
type SensorConfig struct {
	// Model is "dht11" (default) or "dht22".
	Model string `yaml:"model"`
	// IIODevice is the kernel driver's sysfs directory,
	// e.g. /sys/bus/iio/devices/iio:device0.
	IIODevice string `yaml:"iio_device"`
	// ReadRetries is the per-cycle attempt budget (default 3).
	ReadRetries int `yaml:"read_retries"`
	// RetryDelayMS is the wait between attempts (default 250).
	RetryDelayMS int `yaml:"retry_delay_ms"`
}

// ParseModel resolves the configured model name.
func (s SensorConfig) ParseModel() (sensor.Model, error) {
	return sensor.ParseModel(s.Model)
}

// RetryDelay returns the wait between read attempts.
func (s SensorConfig) RetryDelay() time.Duration {
	if s.RetryDelayMS <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(s.RetryDelayMS) * time.Millisecond
}

// TelemetryConfig tunes the publish loop.
type TelemetryConfig struct {
	IntervalSec    int           `yaml:"interval_sec"`    // default 5
	PublishRetries int           `yaml:"publish_retries"` // default 1
	Backoff        BackoffConfig `yaml:"backoff"`
	FaultPauseSec  int           `yaml:"fault_pause_sec"` // default 300
}

// BackoffConfig is the transient-failure retry schedule.
type BackoffConfig struct {
	InitialSec int     `yaml:"initial_sec"` // default 2
	MaxSec     int     `yaml:"max_sec"`     // default 60
	Multiplier float64 `yaml:"multiplier"`  // default 2.0
}

// Interval returns the cycle period.
func (t TelemetryConfig) Interval() time.Duration {
	if t.IntervalSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(t.IntervalSec) * time.Second
}

// FaultPause returns the flat delay applied after TLS/auth faults.
func (t TelemetryConfig) FaultPause() time.Duration {
	if t.FaultPauseSec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(t.FaultPauseSec) * time.Second
}

// Load reads configuration from a YAML file. Environment variables in
// the file (e.g. passphrase: ${WIFI_PASS}) are expanded before parsing
// so secrets can stay out of the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			QoS:               1,
			KeepAliveSec:      60,
			ConnectTimeoutSec: 30,
			PublishTimeoutSec: 10,
		},
		Sensor: SensorConfig{
			Model:        "dht11",
			ReadRetries:  3,
			RetryDelayMS: 250,
		},
		Telemetry: TelemetryConfig{
			IntervalSec:    5,
			PublishRetries: 1,
			Backoff:        BackoffConfig{InitialSec: 2, MaxSec: 60, Multiplier: 2.0},
			FaultPauseSec:  300,
		},
		DataDir: ".",
	}
}

// Validate checks the fields the serve command cannot run without and
// the values that would only fail later and more confusingly.
func (c *Config) Validate() error {
	if c.MQTT.Endpoint == "" {
		return fmt.Errorf("mqtt.endpoint is required")
	}
	if c.MQTT.CertFile == "" || c.MQTT.KeyFile == "" || c.MQTT.RootCAFile == "" {
		return fmt.Errorf("mqtt.cert_file, mqtt.key_file and mqtt.root_ca_file are all required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 1 {
		return fmt.Errorf("mqtt.qos must be 0 or 1, got %d", c.MQTT.QoS)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if _, err := c.Sensor.ParseModel(); err != nil {
		return err
	}
	return nil
}
