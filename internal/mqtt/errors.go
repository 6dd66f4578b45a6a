package mqtt

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a client failure so the telemetry loop can
// choose the retry class. The split that matters operationally is
// transient (retry soon) versus configuration fault (pause long and
// tell the operator).
type ErrorKind int

const (
	// KindNetwork is a transient transport fault: dial failure, reset
	// connection, timeout. Retry with the short growing backoff.
	KindNetwork ErrorKind = iota

	// KindTLSHandshake is a mutual-TLS handshake failure after the TCP
	// connection succeeded: bad endpoint certificate, missing or
	// misnamed credential files, unsupported TLS version. These are
	// configuration faults and are not retried within the same cycle.
	KindTLSHandshake

	// KindAuth is a broker-side credential or policy rejection
	// (CONNACK bad user name or password / not authorized). Same
	// treatment as a TLS fault.
	KindAuth

	// KindPublish is a failed or unacknowledged publish. Transient;
	// retried once immediately, then deferred to the next cycle.
	KindPublish
)

// String returns the log spelling of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTLSHandshake:
		return "tls_handshake"
	case KindAuth:
		return "auth"
	case KindPublish:
		return "publish"
	default:
		return "network"
	}
}

// Transient reports whether the kind belongs to the short-backoff
// retry class.
func (k ErrorKind) Transient() bool {
	return k == KindNetwork || k == KindPublish
}

// Error is a classified client failure.
type Error struct {
	Kind ErrorKind
	Op   string // the operation that failed: "dial", "tls handshake", ...
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mqtt %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification from err. The second return is
// false when err is not a client [*Error]; callers should treat such
// errors as transient.
func KindOf(err error) (ErrorKind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return KindNetwork, false
}

// ErrNotConnected is returned by Publish when no session is up. The
// loop treats it like any other transient publish failure.
var ErrNotConnected = errors.New("not connected")
