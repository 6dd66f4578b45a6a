package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/fernwood/dhtpub/internal/backoff"
	"github.com/fernwood/dhtpub/internal/mqtt"
	"github.com/fernwood/dhtpub/internal/sensor"
)

// SensorReader is the sensor stage. [sensor.Reader] satisfies it;
// its error already incorporates the bounded per-cycle retry.
type SensorReader interface {
	Read(ctx context.Context) (sensor.Reading, error)
}

// NetworkSession is the network stage. [wifi.Session] satisfies it.
// The loop never connects while IsConnected reports true and never
// expects the session to reconnect on its own.
type NetworkSession interface {
	Connect(ctx context.Context) error
	IsConnected(ctx context.Context) bool
}

// Broker is the MQTT stage. [mqtt.Client] satisfies it. Connect errors
// are classified with [mqtt.KindOf] to pick the backoff class.
type Broker interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Publish(ctx context.Context, payload []byte, qos byte) error
}

// Config configures a Loop.
type Config struct {
	// DeviceID identifies this device in every payload.
	DeviceID string

	// QoS for telemetry publishes. The config layer defaults this to
	// 1 (at-least-once; duplicates acceptable).
	QoS byte

	// Interval is the cycle period (default: 5s, the original
	// firmware's measurement period).
	Interval time.Duration

	// PublishRetries is how many immediate re-publishes of the same
	// message follow a publish failure before deferring to the next
	// cycle (default: 1).
	PublishRetries int

	// Transient is the backoff policy for network drops and broker
	// disconnects. Zero-value fields get [backoff.DefaultPolicy].
	Transient backoff.Policy

	// FaultPause is the flat delay after a TLS handshake or
	// authorization fault (default: 5m). These rarely self-heal, so
	// the long pause avoids hot-looping against a misconfiguration.
	FaultPause time.Duration

	Network NetworkSession
	Broker  Broker
	Sensor  SensorReader

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Loop is the single control point of the publisher. It owns all retry
// pacing; the collaborators only report classified failures.
type Loop struct {
	cfg Config

	netBackoff    *backoff.Backoff
	brokerBackoff *backoff.Backoff

	// test seam
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewLoop creates a Loop. Zero-value config fields get defaults.
func NewLoop(cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.PublishRetries < 0 {
		cfg.PublishRetries = 0
	} else if cfg.PublishRetries == 0 {
		cfg.PublishRetries = 1
	}
	if cfg.FaultPause <= 0 {
		cfg.FaultPause = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		cfg:           cfg,
		netBackoff:    backoff.New(cfg.Transient),
		brokerBackoff: backoff.New(cfg.Transient),
		sleep:         backoff.Sleep,
	}
}

// Run executes cycles until ctx is cancelled and returns ctx.Err().
// No stage outcome terminates it: the device is unattended, so every
// failure becomes a delay and another attempt.
func (l *Loop) Run(ctx context.Context) error {
	log := l.cfg.Logger

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// EnsureNetwork. Unbounded attempts with growing backoff.
		if !l.cfg.Network.IsConnected(ctx) {
			if err := l.cfg.Network.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				delay := l.netBackoff.Next()
				log.Warn("network connect failed",
					"kind", "network",
					"next_retry", delay,
					"error", err)
				if !l.sleep(ctx, delay) {
					return ctx.Err()
				}
				continue
			}
			l.netBackoff.Reset()
		}

		// EnsureMQTT. Transient faults back off like the network;
		// TLS/auth faults pause long and restart from EnsureNetwork.
		if !l.cfg.Broker.IsConnected() {
			if err := l.cfg.Broker.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				kind, _ := mqtt.KindOf(err)
				var delay time.Duration
				if kind.Transient() {
					delay = l.brokerBackoff.Next()
					log.Warn("mqtt connect failed",
						"kind", kind.String(),
						"next_retry", delay,
						"error", err)
				} else {
					delay = l.cfg.FaultPause
					log.Error("mqtt configuration fault, pausing",
						"kind", kind.String(),
						"next_retry", delay,
						"error", err)
				}
				if !l.sleep(ctx, delay) {
					return ctx.Err()
				}
				continue
			}
			l.brokerBackoff.Reset()
		}

		// ReadSensor. A terminal read error skips the rest of the
		// cycle; the session stays up for the next tick.
		reading, err := l.cfg.Sensor.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("sensor unavailable, skipping cycle",
				"kind", "sensor_read",
				"next_cycle", l.cfg.Interval,
				"error", err)
			if !l.sleep(ctx, l.cfg.Interval) {
				return ctx.Err()
			}
			continue
		}

		// Serialize and publish.
		payload, err := NewMessage(l.cfg.DeviceID, reading).Encode()
		if err != nil {
			// Unreachable for this fixed struct; handled so no path panics.
			log.Error("encode telemetry payload", "error", err)
		} else if err := l.publish(ctx, payload); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("publish failed, deferring to next cycle",
				"kind", "publish",
				"next_cycle", l.cfg.Interval,
				"error", err)
		} else {
			log.Debug("telemetry published",
				"temperature", reading.Temperature,
				"humidity", reading.Humidity)
		}

		if !l.sleep(ctx, l.cfg.Interval) {
			return ctx.Err()
		}
	}
}

// publish sends the payload, re-sending the same bytes up to
// PublishRetries times on failure. Telemetry is idempotent per
// message, so a duplicate caused by an ack timeout is harmless.
func (l *Loop) publish(ctx context.Context, payload []byte) error {
	var err error
	for attempt := 0; attempt <= l.cfg.PublishRetries; attempt++ {
		if attempt > 0 {
			l.cfg.Logger.Debug("retrying publish", "attempt", attempt+1)
		}
		err = l.cfg.Broker.Publish(ctx, payload, l.cfg.QoS)
		if err == nil || ctx.Err() != nil {
			return err
		}
	}
	return err
}
