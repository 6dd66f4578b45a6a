package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrUnavailable is returned when the retry budget for one cycle is
// exhausted. The telemetry loop skips the publish for that cycle and
// tries again on the next tick; it is not a fault that escalates.
var ErrUnavailable = errors.New("sensor unavailable this cycle")

// ReaderConfig configures the per-cycle retry behavior.
type ReaderConfig struct {
	// Device performs the hardware poll.
	Device Device

	// Attempts is the per-cycle retry budget (default: 3).
	Attempts int

	// RetryDelay is the fixed wait between attempts (default: 250ms).
	RetryDelay time.Duration

	// MinInterval is the minimum spacing between polls. Defaults to
	// the model minimum when zero; pass the Model's MinInterval.
	MinInterval time.Duration

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Reader wraps a Device with bounded retry. A transient read error is
// retried up to the attempt budget with a short fixed delay; only when
// the budget is exhausted does Read return a terminal ErrUnavailable
// for the cycle. It also enforces the sensor's minimum sampling
// interval so back-to-back retries never poll faster than the part
// tolerates.
//
// Reader is not safe for concurrent use; the telemetry loop is the
// only caller.
type Reader struct {
	cfg      ReaderConfig
	lastPoll time.Time

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewReader creates a Reader. Zero-value config fields get defaults.
func NewReader(cfg ReaderConfig) *Reader {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 250 * time.Millisecond
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DHT11.MinInterval()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reader{
		cfg:   cfg,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Read polls the sensor, retrying transient failures within the
// per-cycle budget. It returns the first successful Reading, ctx.Err()
// if cancelled mid-cycle, or an error wrapping [ErrUnavailable] once
// the budget is spent. It never hangs: every wait is bounded and
// context-aware.
func (r *Reader) Read(ctx context.Context) (Reading, error) {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		if err := r.pace(ctx); err != nil {
			return Reading{}, err
		}

		reading, err := r.cfg.Device.Read(ctx)
		r.lastPoll = r.now()
		if err == nil {
			if attempt > 1 {
				r.cfg.Logger.Debug("sensor read recovered",
					"attempt", attempt)
			}
			return reading, nil
		}
		if ctx.Err() != nil {
			return Reading{}, ctx.Err()
		}
		lastErr = err

		r.cfg.Logger.Debug("sensor read failed",
			"attempt", attempt,
			"max_attempts", r.cfg.Attempts,
			"error", err)

		if attempt < r.cfg.Attempts {
			if !r.sleep(ctx, r.cfg.RetryDelay) {
				return Reading{}, ctx.Err()
			}
		}
	}

	return Reading{}, fmt.Errorf("%w after %d attempts: %w",
		ErrUnavailable, r.cfg.Attempts, lastErr)
}

// pace waits out the remainder of the minimum sampling interval since
// the previous poll, if any.
func (r *Reader) pace(ctx context.Context) error {
	if r.lastPoll.IsZero() {
		return ctx.Err()
	}
	elapsed := r.now().Sub(r.lastPoll)
	if wait := r.cfg.MinInterval - elapsed; wait > 0 {
		if !r.sleep(ctx, wait) {
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
