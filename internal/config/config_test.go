package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fernwood/dhtpub/internal/sensor"
)

// writeConfig writes YAML content to a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
wifi:
  ssid: "Home"
  passphrase: "pw123456"
mqtt:
  endpoint: "abc-ats.iot.us-east-1.amazonaws.com:8883"
  device_id: "myESP32"
  cert_file: "certificate.pem.crt"
  key_file: "private.pem.key"
  root_ca_file: "AmazonRootCA1.pem"
sensor:
  model: "dht22"
telemetry:
  interval_sec: 30
log_level: "debug"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.WiFi.SSID != "Home" || cfg.WiFi.Passphrase != "pw123456" {
		t.Errorf("WiFi = %+v, want Home/pw123456", cfg.WiFi)
	}
	if !cfg.WiFi.Managed() {
		t.Error("Managed() = false with an SSID set")
	}
	if cfg.MQTT.Endpoint != "abc-ats.iot.us-east-1.amazonaws.com:8883" {
		t.Errorf("Endpoint = %q", cfg.MQTT.Endpoint)
	}
	if cfg.Sensor.Model != "dht22" {
		t.Errorf("Sensor.Model = %q, want dht22", cfg.Sensor.Model)
	}
	if cfg.Telemetry.Interval() != 30*time.Second {
		t.Errorf("Interval() = %v, want 30s", cfg.Telemetry.Interval())
	}
	// Unset fields keep their defaults.
	if cfg.MQTT.QoS != 1 {
		t.Errorf("QoS default = %d, want 1", cfg.MQTT.QoS)
	}
	if cfg.Sensor.ReadRetries != 3 {
		t.Errorf("ReadRetries default = %d, want 3", cfg.Sensor.ReadRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("DHTPUB_TEST_PASS", "s3cret")

	path := writeConfig(t, `
wifi:
  ssid: "Home"
  passphrase: ${DHTPUB_TEST_PASS}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.WiFi.Passphrase != "s3cret" {
		t.Errorf("Passphrase = %q, want expanded env value", cfg.WiFi.Passphrase)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		cfg := Default()
		cfg.MQTT.Endpoint = "broker:8883"
		cfg.MQTT.CertFile = "c"
		cfg.MQTT.KeyFile = "k"
		cfg.MQTT.RootCAFile = "r"
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing endpoint", func(c *Config) { c.MQTT.Endpoint = "" }},
		{"missing cert", func(c *Config) { c.MQTT.CertFile = "" }},
		{"missing key", func(c *Config) { c.MQTT.KeyFile = "" }},
		{"missing root CA", func(c *Config) { c.MQTT.RootCAFile = "" }},
		{"bad qos", func(c *Config) { c.MQTT.QoS = 2 }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad sensor model", func(c *Config) { c.Sensor.Model = "bme280" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted an invalid config")
			}
		})
	}
}

func TestSensorConfig_ParseModel(t *testing.T) {
	t.Parallel()

	cfg := Default()
	m, err := cfg.Sensor.ParseModel()
	if err != nil || m != sensor.DHT11 {
		t.Errorf("ParseModel() = %v, %v; want DHT11", m, err)
	}
}

func TestDurationsAndDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.WiFi.ConnectTimeout() != 15*time.Second {
		t.Errorf("ConnectTimeout() = %v, want 15s", cfg.WiFi.ConnectTimeout())
	}
	if cfg.Telemetry.Interval() != 5*time.Second {
		t.Errorf("Interval() = %v, want 5s", cfg.Telemetry.Interval())
	}
	if cfg.Telemetry.FaultPause() != 5*time.Minute {
		t.Errorf("FaultPause() = %v, want 5m", cfg.Telemetry.FaultPause())
	}
	if cfg.Sensor.RetryDelay() != 250*time.Millisecond {
		t.Errorf("RetryDelay() = %v, want 250ms", cfg.Sensor.RetryDelay())
	}
	if cfg.WiFi.Managed() {
		t.Error("Managed() = true with no SSID")
	}
}

func TestFindConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "log_level: info\n")

	found, err := FindConfig(path)
	if err != nil || found != path {
		t.Errorf("FindConfig(explicit) = %q, %v; want %q", found, err, path)
	}

	if _, err := FindConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("FindConfig accepted a missing explicit path")
	}
}

func TestDefaultYAML_LoadsAndValidates(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, DefaultYAML, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(DefaultYAML) error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}
