package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
)

// Options configures a Client. Endpoint, ClientID, Credentials and
// Topic are required.
type Options struct {
	// Endpoint is the broker address as host:port, e.g.
	// "abcdefg-ats.iot.us-east-1.amazonaws.com:8883".
	Endpoint string

	// ClientID is the MQTT client identifier (the thing name on AWS
	// IoT; the broker policy is typically scoped to it).
	ClientID string

	// Credentials reference the mutual-TLS material.
	Credentials Credentials

	// Topic is the publish destination, e.g. "devices/<id>/telemetry".
	Topic string

	// AvailabilityTopic, when set, carries a retained will ("offline")
	// and birth ("online") message. Optional.
	AvailabilityTopic string

	// KeepAlive is the MQTT keepalive in seconds (default: 60).
	KeepAlive uint16

	// ConnectTimeout bounds the dial + handshake + CONNECT sequence
	// (default: 30s).
	ConnectTimeout time.Duration

	// PublishTimeout bounds one publish-to-ack round trip
	// (default: 10s).
	PublishTimeout time.Duration

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Client is a mutual-TLS MQTT publisher with explicit, classified
// connection management. It never reconnects on its own; the telemetry
// loop calls Connect when and only when its backoff schedule allows.
type Client struct {
	opts      Options
	tlsCfg    *tls.Config
	connected atomic.Bool

	mu sync.Mutex
	pc *paho.Client
}

// NewClient validates the options and prepares the TLS configuration.
// Unloadable credential files surface here as [KindTLSHandshake]
// errors so a misconfiguration is visible before the first dial.
func NewClient(opts Options) (*Client, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("mqtt: endpoint is required")
	}
	if opts.ClientID == "" {
		return nil, errors.New("mqtt: client ID is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("mqtt: topic is required")
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 60
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	host, _, err := net.SplitHostPort(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("mqtt: endpoint %q: %w", opts.Endpoint, err)
	}

	tlsCfg, err := opts.Credentials.TLSConfig(host)
	if err != nil {
		return nil, err
	}

	return &Client{opts: opts, tlsCfg: tlsCfg}, nil
}

// Connect establishes the session: TCP dial, mutual-TLS handshake,
// MQTT CONNECT. Each stage failure is returned as a classified
// [*Error]; the caller decides whether and when to try again.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(ctx, "tcp", c.opts.Endpoint)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: "dial", Err: err}
	}

	tlsConn := tls.Client(rawConn, c.tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		// A handshake that merely timed out is indistinguishable from
		// a dead network; only a definitive failure after the TCP
		// connect is a configuration fault.
		if isTimeout(err) {
			return &Error{Kind: KindNetwork, Op: "tls handshake", Err: err}
		}
		return &Error{Kind: KindTLSHandshake, Op: "tls handshake", Err: err}
	}

	pc := paho.NewClient(paho.ClientConfig{
		Conn: tlsConn,
		OnClientError: func(err error) {
			c.connected.Store(false)
			c.opts.Logger.Warn("mqtt session lost", "error", err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.connected.Store(false)
			c.opts.Logger.Warn("mqtt server disconnect",
				"reason_code", d.ReasonCode)
		},
	})

	cp := &paho.Connect{
		ClientID:   c.opts.ClientID,
		KeepAlive:  c.opts.KeepAlive,
		CleanStart: true,
	}
	if c.opts.AvailabilityTopic != "" {
		cp.WillMessage = &paho.WillMessage{
			Topic:   c.opts.AvailabilityTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		}
	}

	ca, err := pc.Connect(ctx, cp)
	if err != nil {
		tlsConn.Close()
		if ca != nil {
			return classifyConnack(ca.ReasonCode, err)
		}
		return &Error{Kind: KindNetwork, Op: "connect", Err: err}
	}
	if ca.ReasonCode != 0 {
		tlsConn.Close()
		return classifyConnack(ca.ReasonCode,
			fmt.Errorf("CONNACK reason code %d", ca.ReasonCode))
	}

	c.mu.Lock()
	c.pc = pc
	c.mu.Unlock()
	c.connected.Store(true)

	c.opts.Logger.Info("mqtt connected",
		"endpoint", c.opts.Endpoint, "client_id", c.opts.ClientID)

	if c.opts.AvailabilityTopic != "" {
		c.publishAvailability(ctx, "online")
	}
	return nil
}

// classifyConnack maps CONNACK rejection codes to error kinds.
// Credential and policy rejections are configuration faults; anything
// else (server unavailable, busy) is transient.
func classifyConnack(reason byte, err error) *Error {
	switch reason {
	case 0x85, 0x86, 0x87: // client ID not valid, bad user/pass, not authorized
		return &Error{Kind: KindAuth, Op: "connect", Err: err}
	default:
		return &Error{Kind: KindNetwork, Op: "connect", Err: err}
	}
}

// IsConnected reports whether the session is believed up. It flips to
// false when the transport errors or the server disconnects; the loop
// then schedules an explicit Connect.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Publish sends payload to the configured topic. For qos >= 1 it waits
// for the broker's acknowledgment, bounded by PublishTimeout; delivery
// is at-least-once and an ack timeout may be answered by re-publishing
// the same payload. Failures are [KindPublish].
func (c *Client) Publish(ctx context.Context, payload []byte, qos byte) error {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()

	if pc == nil || !c.connected.Load() {
		return &Error{Kind: KindPublish, Op: "publish", Err: ErrNotConnected}
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.PublishTimeout)
	defer cancel()

	resp, err := pc.Publish(ctx, &paho.Publish{
		Topic:   c.opts.Topic,
		QoS:     qos,
		Payload: payload,
	})
	if err != nil {
		return &Error{Kind: KindPublish, Op: "publish", Err: err}
	}
	// 0x10 is "no matching subscribers" — a successful delivery to a
	// broker nobody is listening to right now.
	if qos > 0 && resp != nil && resp.ReasonCode >= 0x80 {
		return &Error{Kind: KindPublish, Op: "publish",
			Err: fmt.Errorf("PUBACK reason code %d", resp.ReasonCode)}
	}
	return nil
}

// Close publishes a retained "offline" availability message
// (best-effort) and disconnects cleanly.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()

	if pc == nil {
		return nil
	}

	if c.opts.AvailabilityTopic != "" && c.connected.Load() {
		c.publishAvailability(ctx, "offline")
	}
	c.connected.Store(false)

	c.mu.Lock()
	c.pc = nil
	c.mu.Unlock()

	if err := pc.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	return nil
}

// publishAvailability writes the retained birth/offline marker. The
// session does not depend on it, so a failure is only logged.
func (c *Client) publishAvailability(ctx context.Context, status string) {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, c.opts.PublishTimeout)
	defer cancel()

	_, err := pc.Publish(pubCtx, &paho.Publish{
		Topic:   c.opts.AvailabilityTopic,
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	})
	if err != nil {
		c.opts.Logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	}
}

// isTimeout reports whether err is a deadline expiry rather than a
// protocol-level failure.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
