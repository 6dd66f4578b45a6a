// Package backoff provides the retry pacing used by the telemetry loop.
//
// A [Backoff] yields a delay that grows geometrically from
// Policy.Initial up to Policy.Max and resets to Initial after the
// guarded operation succeeds. The loop keeps one Backoff per failure
// class: transient faults (network drops, broker disconnects) use a
// short growing schedule, while configuration faults (TLS handshake,
// authorization) use a long flat pause — they do not self-heal, so
// growth buys nothing.
package backoff

import (
	"context"
	"time"
)

// Policy controls the delay schedule of a [Backoff].
type Policy struct {
	// Initial is the first retry delay (default: 2s).
	Initial time.Duration

	// Max is the ceiling for delay growth (default: 60s).
	Max time.Duration

	// Multiplier scales the delay after each retry (default: 2.0).
	Multiplier float64
}

// DefaultPolicy returns the transient-fault schedule:
// 2s, 4s, 8s, 16s, 32s, 60s (capped).
func DefaultPolicy() Policy {
	return Policy{
		Initial:    2 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2.0,
	}
}

// withDefaults replaces zero-value fields with the defaults.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Initial <= 0 {
		p.Initial = d.Initial
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	return p
}

// Backoff tracks the current retry delay for one failure class.
// It is not safe for concurrent use; the telemetry loop is
// single-threaded by design and never needs it to be.
type Backoff struct {
	policy Policy
	next   time.Duration
}

// New creates a Backoff. Zero-value Policy fields get defaults.
func New(p Policy) *Backoff {
	p = p.withDefaults()
	return &Backoff{policy: p, next: p.Initial}
}

// Next returns the delay to wait before the next retry and advances the
// schedule. Successive calls return a non-decreasing sequence capped at
// Policy.Max until [Backoff.Reset] is called.
func (b *Backoff) Next() time.Duration {
	d := b.next

	grown := time.Duration(float64(b.next) * b.policy.Multiplier)
	if grown > b.policy.Max {
		grown = b.policy.Max
	}
	b.next = grown

	return d
}

// Reset returns the schedule to its initial delay. Call after the
// guarded operation succeeds.
func (b *Backoff) Reset() {
	b.next = b.policy.Initial
}

// Sleep waits for d or until ctx is cancelled. Returns false if cancelled.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
