// Dhtpub reads a DHT temperature/humidity sensor and publishes JSON
// telemetry to an MQTT broker over mutual TLS (AWS IoT Core or any
// broker with X.509 client auth). It is designed to run unattended:
// every failure — sensor glitch, dropped WiFi, broker outage, even a
// misconfigured certificate — becomes a classified delay-and-retry
// decision, never a crash.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	dhtpub serve             Run the telemetry loop
//	dhtpub check             Verify broker connectivity and credentials
//	dhtpub read              Read the sensor once and print the result
//	dhtpub init [dir]        Write a starter config.yaml
//	dhtpub version           Print version and build information
//	dhtpub -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fernwood/dhtpub/internal/backoff"
	"github.com/fernwood/dhtpub/internal/buildinfo"
	"github.com/fernwood/dhtpub/internal/config"
	"github.com/fernwood/dhtpub/internal/mqtt"
	"github.com/fernwood/dhtpub/internal/sensor"
	"github.com/fernwood/dhtpub/internal/telemetry"
	"github.com/fernwood/dhtpub/internal/wifi"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the dhtpub command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the telemetry loop and the MQTT session.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:] — the command-line arguments after the program
//     name. We parse these manually rather than using the flag package
//     to avoid global state that interferes with parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "check":
		return runCheck(ctx, stdout, configPath)
	case "read":
		return runRead(ctx, stdout, configPath, outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runServe is the primary operating mode: loads config, wires the
// network session, sensor reader and MQTT client into the telemetry
// loop, and runs it until a shutdown signal arrives. Shutdown closes
// the MQTT session cleanly so the retained availability marker (when
// configured) flips to "offline" by choice rather than by will.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting dhtpub",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Reconfigure logger now that we know the desired level and format.
	// The initial Info-level text logger is used only for the startup
	// banner and config load message.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by cfg.Validate(); this error path
			// should be unreachable in practice.
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	deviceID := cfg.MQTT.DeviceID
	if deviceID == "" {
		deviceID, err = mqtt.LoadOrCreateDeviceID(cfg.DataDir)
		if err != nil {
			return err
		}
		logger.Info("using generated device ID", "device_id", deviceID)
	}

	topic := cfg.MQTT.Topic
	if topic == "" {
		topic = telemetry.DefaultTopic(deviceID)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"endpoint", cfg.MQTT.Endpoint,
		"device_id", deviceID,
		"topic", topic,
		"interval", cfg.Telemetry.Interval())

	// --- Network session ---
	// NetworkManager drives the radio when an SSID is configured;
	// otherwise the link belongs to the OS and is assumed up, with real
	// outages still surfacing through MQTT dial failures.
	var backend wifi.Backend = wifi.StaticBackend{}
	if cfg.WiFi.Managed() {
		backend = &wifi.NMCLIBackend{}
	} else {
		logger.Info("no wifi ssid configured, treating link as externally managed")
	}
	session := wifi.NewSession(backend, wifi.Config{
		SSID:           cfg.WiFi.SSID,
		Passphrase:     cfg.WiFi.Passphrase,
		ConnectTimeout: cfg.WiFi.ConnectTimeout(),
		Logger:         logger,
	})

	// --- Sensor ---
	reader, err := buildReader(cfg, logger)
	if err != nil {
		return err
	}

	// --- MQTT client ---
	client, err := mqtt.NewClient(mqtt.Options{
		Endpoint: cfg.MQTT.Endpoint,
		ClientID: deviceID,
		Credentials: mqtt.Credentials{
			CertFile:   cfg.MQTT.CertFile,
			KeyFile:    cfg.MQTT.KeyFile,
			RootCAFile: cfg.MQTT.RootCAFile,
		},
		Topic:             topic,
		AvailabilityTopic: cfg.MQTT.AvailabilityTopic,
		KeepAlive:         uint16(cfg.MQTT.KeepAliveSec),
		ConnectTimeout:    time.Duration(cfg.MQTT.ConnectTimeoutSec) * time.Second,
		PublishTimeout:    time.Duration(cfg.MQTT.PublishTimeoutSec) * time.Second,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	// --- Telemetry loop ---
	loop := telemetry.NewLoop(telemetry.Config{
		DeviceID:       deviceID,
		QoS:            byte(cfg.MQTT.QoS),
		Interval:       cfg.Telemetry.Interval(),
		PublishRetries: cfg.Telemetry.PublishRetries,
		Transient: backoff.Policy{
			Initial:    time.Duration(cfg.Telemetry.Backoff.InitialSec) * time.Second,
			Max:        time.Duration(cfg.Telemetry.Backoff.MaxSec) * time.Second,
			Multiplier: cfg.Telemetry.Backoff.Multiplier,
		},
		FaultPause: cfg.Telemetry.FaultPause(),
		Network:    session,
		Broker:     client,
		Sensor:     reader,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = loop.Run(ctx)

	// The loop only returns when ctx is cancelled; disconnect cleanly
	// with a fresh short-lived context.
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := client.Close(closeCtx); cerr != nil {
		logger.Warn("mqtt close failed", "error", cerr)
	}

	logger.Info("shutdown complete")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runCheck verifies the broker configuration: it performs one full
// dial → TLS handshake → CONNECT sequence and reports the classified
// failure, so a misnamed certificate file or a wrong endpoint shows up
// here instead of as a five-minute pause in the serve loop.
func runCheck(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	deviceID := cfg.MQTT.DeviceID
	if deviceID == "" {
		if deviceID, err = mqtt.LoadOrCreateDeviceID(cfg.DataDir); err != nil {
			return err
		}
	}
	topic := cfg.MQTT.Topic
	if topic == "" {
		topic = telemetry.DefaultTopic(deviceID)
	}

	client, err := mqtt.NewClient(mqtt.Options{
		Endpoint: cfg.MQTT.Endpoint,
		ClientID: deviceID,
		Credentials: mqtt.Credentials{
			CertFile:   cfg.MQTT.CertFile,
			KeyFile:    cfg.MQTT.KeyFile,
			RootCAFile: cfg.MQTT.RootCAFile,
		},
		Topic:  topic,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	if err := client.Connect(ctx); err != nil {
		kind, _ := mqtt.KindOf(err)
		return fmt.Errorf("broker check failed (%s): %w", kind, err)
	}
	defer client.Close(ctx)

	fmt.Fprintf(stdout, "OK: connected to %s as %s\n", cfg.MQTT.Endpoint, deviceID)
	return nil
}

// runRead performs a single sensor read with the configured retry
// budget and prints the result. Useful for verifying the wiring and
// the kernel driver without touching the network.
func runRead(ctx context.Context, stdout io.Writer, configPath string, outputFmt string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	reader, err := buildReader(cfg, logger)
	if err != nil {
		return err
	}

	reading, err := reader.Read(ctx)
	if err != nil {
		return fmt.Errorf("sensor read: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		return enc.Encode(map[string]any{
			"temperature": reading.Temperature,
			"humidity":    reading.Humidity,
			"ts":          reading.At.Unix(),
		})
	}
	fmt.Fprintf(stdout, "%.1f°C  %.1f%%RH  (%s)\n",
		reading.Temperature, reading.Humidity, reading.At.Format(time.RFC3339))
	return nil
}

// buildReader constructs the retrying sensor reader from config.
func buildReader(cfg *config.Config, logger *slog.Logger) (*sensor.Reader, error) {
	model, err := cfg.Sensor.ParseModel()
	if err != nil {
		return nil, err
	}
	if cfg.Sensor.IIODevice == "" {
		return nil, errors.New("sensor.iio_device is required")
	}
	return sensor.NewReader(sensor.ReaderConfig{
		Device:      sensor.NewIIODevice(cfg.Sensor.IIODevice),
		Attempts:    cfg.Sensor.ReadRetries,
		RetryDelay:  cfg.Sensor.RetryDelay(),
		MinInterval: model.MinInterval(),
		Logger:      logger,
	}), nil
}

// runInit writes a starter config.yaml into dir. Existing files are
// never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing dhtpub directory in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	configPath := dir + "/config.yaml"
	if err := writeIfMissing(configPath, config.DefaultYAML); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml with your broker endpoint and credential paths,")
	fmt.Fprintln(w, "then run 'dhtpub check' to verify connectivity.")
	return nil
}

// writeIfMissing writes content to path only if the file does not already
// exist. This ensures init never overwrites user customizations.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already exists, skip
	}
	return os.WriteFile(path, content, 0o644)
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "dhtpub - DHT sensor to MQTT telemetry publisher")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: dhtpub [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Run the telemetry loop")
	fmt.Fprintln(w, "  check        Verify broker connectivity and credentials")
	fmt.Fprintln(w, "  read         Read the sensor once and print the result")
	fmt.Fprintln(w, "  init [dir]   Write a starter config.yaml (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintf(w, "  %s\n", strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// newLogger creates a structured logger that writes to w at the given level
// and format. Format must be "text" or "json"; any other value defaults to
// text. All log output in dhtpub goes through slog; this helper standardizes
// the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
