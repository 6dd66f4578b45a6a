// Package wifi maintains the station-mode network link the publisher
// rides on.
//
// A [Session] owns the interface state machine
// (Disconnected → Connecting → Connected | Failed) and deliberately
// never reconnects on its own: when a drop is detected the session
// falls back to Disconnected and waits for an explicit Connect call,
// so that retry pacing stays in the telemetry loop's hands.
//
// The hardware side is behind [Backend]. [NMCLIBackend] drives
// NetworkManager on a Linux host; [StaticBackend] covers boxes whose
// link is managed outside this process (wired, or a supplicant someone
// else configures).
package wifi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the session's view of the link.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the lowercase state name for logging.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Backend is the OS/hardware boundary for the wireless interface.
type Backend interface {
	// Join associates with the network. It may return before the link
	// is fully up; the session polls Connected afterwards.
	Join(ctx context.Context, ssid, passphrase string) error
	// Connected reports whether the link to the given SSID is up.
	Connected(ctx context.Context, ssid string) (bool, error)
	// Leave tears the association down.
	Leave(ctx context.Context, ssid string) error
}

// Config configures a Session.
type Config struct {
	// SSID and Passphrase identify the network to join.
	SSID       string
	Passphrase string

	// ConnectTimeout bounds one Connect attempt, association plus the
	// link-up poll (default: 15s, the original firmware's budget).
	ConnectTimeout time.Duration

	// PollInterval is the link-up polling cadence during Connect
	// (default: 500ms).
	PollInterval time.Duration

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Session is the network session state machine. Methods are safe for
// concurrent use, though the telemetry loop is the only expected caller.
type Session struct {
	backend Backend
	cfg     Config

	mu    sync.Mutex
	state State
}

// NewSession creates a Session in StateDisconnected.
func NewSession(backend Backend, cfg Config) *Session {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{backend: backend, cfg: cfg}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Connect associates with the configured network and waits for the
// link to come up, bounded by ConnectTimeout. On success the session
// is Connected; on failure it is Failed and the error describes why.
// Callers decide when to try again.
func (s *Session) Connect(ctx context.Context) error {
	s.setState(StateConnecting)
	s.cfg.Logger.Debug("wifi connecting", "ssid", s.cfg.SSID)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	if err := s.backend.Join(ctx, s.cfg.SSID, s.cfg.Passphrase); err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("join %q: %w", s.cfg.SSID, err)
	}

	// Poll until the link reports up or the attempt budget expires.
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		up, err := s.backend.Connected(ctx, s.cfg.SSID)
		if err != nil {
			s.setState(StateFailed)
			return fmt.Errorf("check link %q: %w", s.cfg.SSID, err)
		}
		if up {
			s.setState(StateConnected)
			s.cfg.Logger.Info("wifi connected", "ssid", s.cfg.SSID)
			return nil
		}

		select {
		case <-ctx.Done():
			s.setState(StateFailed)
			return fmt.Errorf("connect %q: %w", s.cfg.SSID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// IsConnected queries the link. If a previously Connected session finds
// the link down, it transitions to Disconnected and stays there until
// an explicit Connect — no silent reconnect.
func (s *Session) IsConnected(ctx context.Context) bool {
	s.mu.Lock()
	wasConnected := s.state == StateConnected
	s.mu.Unlock()

	if !wasConnected {
		return false
	}

	up, err := s.backend.Connected(ctx, s.cfg.SSID)
	if err != nil || !up {
		s.setState(StateDisconnected)
		s.cfg.Logger.Warn("wifi link dropped",
			"ssid", s.cfg.SSID, "error", err)
		return false
	}
	return true
}

// Disconnect tears down the association and returns the session to
// Disconnected.
func (s *Session) Disconnect(ctx context.Context) error {
	err := s.backend.Leave(ctx, s.cfg.SSID)
	s.setState(StateDisconnected)
	if err != nil {
		return fmt.Errorf("leave %q: %w", s.cfg.SSID, err)
	}
	return nil
}
