package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fernwood/dhtpub/internal/backoff"
	"github.com/fernwood/dhtpub/internal/mqtt"
	"github.com/fernwood/dhtpub/internal/sensor"
)

// The loop fakes pop scripted outcomes in order; an exhausted script
// means success from then on.

type fakeNetwork struct {
	connected   bool
	connectErrs []error
	connects    int
	events      *[]string
}

func (f *fakeNetwork) IsConnected(ctx context.Context) bool { return f.connected }

func (f *fakeNetwork) Connect(ctx context.Context) error {
	f.connects++
	*f.events = append(*f.events, "net.connect")
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

type fakeBroker struct {
	connected   bool
	connectErrs []error
	publishErrs []error
	published   [][]byte
	connects    int
	publishes   int
	events      *[]string
}

func (f *fakeBroker) IsConnected() bool { return f.connected }

func (f *fakeBroker) Connect(ctx context.Context) error {
	f.connects++
	*f.events = append(*f.events, "broker.connect")
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	return nil
}

func (f *fakeBroker) Publish(ctx context.Context, payload []byte, qos byte) error {
	f.publishes++
	*f.events = append(*f.events, "broker.publish")
	if len(f.publishErrs) > 0 {
		err := f.publishErrs[0]
		f.publishErrs = f.publishErrs[1:]
		if err != nil {
			return err
		}
	}
	f.published = append(f.published, payload)
	return nil
}

type fakeSensor struct {
	readErrs []error
	reading  sensor.Reading
	reads    int
	events   *[]string
}

func (f *fakeSensor) Read(ctx context.Context) (sensor.Reading, error) {
	f.reads++
	*f.events = append(*f.events, "sensor.read")
	if len(f.readErrs) > 0 {
		err := f.readErrs[0]
		f.readErrs = f.readErrs[1:]
		if err != nil {
			return sensor.Reading{}, err
		}
	}
	return f.reading, nil
}

// harness wires a loop to fakes with an instant sleep seam that records
// every delay and cancels the run after maxSleeps.
type harness struct {
	loop   *Loop
	net    *fakeNetwork
	broker *fakeBroker
	sensor *fakeSensor
	slept  []time.Duration
	events []string
}

func newHarness(t *testing.T, cfg Config, maxSleeps int) (*harness, context.Context) {
	t.Helper()
	h := &harness{
		net:    &fakeNetwork{},
		broker: &fakeBroker{},
		sensor: &fakeSensor{reading: sensor.Reading{Temperature: 22.5, Humidity: 45, At: time.Unix(1735689600, 0)}},
	}
	h.net.events = &h.events
	h.broker.events = &h.events
	h.sensor.events = &h.events

	cfg.DeviceID = "myESP32"
	cfg.QoS = 1
	cfg.Network = h.net
	cfg.Broker = h.broker
	cfg.Sensor = h.sensor
	if cfg.Transient.Initial == 0 {
		cfg.Transient = backoff.Policy{Initial: time.Second, Max: 8 * time.Second, Multiplier: 2.0}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h.loop = NewLoop(cfg)
	h.loop.sleep = func(ctx context.Context, d time.Duration) bool {
		h.slept = append(h.slept, d)
		if len(h.slept) >= maxSleeps {
			cancel()
			return false
		}
		return ctx.Err() == nil
	}
	return h, ctx
}

func TestLoop_HappyPathPublishesScenarioPayload(t *testing.T) {
	t.Parallel()

	h, ctx := newHarness(t, Config{Interval: 5 * time.Second}, 1)

	if err := h.loop.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}

	if h.net.connects != 1 || h.broker.connects != 1 {
		t.Errorf("connects: net=%d broker=%d, want 1 each", h.net.connects, h.broker.connects)
	}
	if len(h.broker.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(h.broker.published))
	}
	want := `{"device_id":"myESP32","temperature":22.5,"humidity":45,"ts":1735689600}`
	if got := string(h.broker.published[0]); got != want {
		t.Errorf("payload = %s, want %s", got, want)
	}
	if h.slept[0] != 5*time.Second {
		t.Errorf("cycle sleep = %v, want interval 5s", h.slept[0])
	}
}

func TestLoop_StageOrdering(t *testing.T) {
	t.Parallel()

	h, ctx := newHarness(t, Config{}, 1)
	_ = h.loop.Run(ctx)

	want := []string{"net.connect", "broker.connect", "sensor.read", "broker.publish"}
	if len(h.events) != len(want) {
		t.Fatalf("events = %v, want %v", h.events, want)
	}
	for i := range want {
		if h.events[i] != want[i] {
			t.Fatalf("events = %v, want %v", h.events, want)
		}
	}
}

func TestLoop_NetworkBackoffGrowsAndResets(t *testing.T) {
	t.Parallel()

	errDown := errors.New("no ap in range")
	h, ctx := newHarness(t, Config{}, 3)
	h.net.connectErrs = []error{errDown, errDown, errDown}

	_ = h.loop.Run(ctx)

	// Three failures, cancelled during the third backoff sleep: the
	// delays must be non-decreasing from the initial value.
	if len(h.slept) < 3 {
		t.Fatalf("slept %v, want at least 3 backoff delays", h.slept)
	}
	if h.slept[0] != time.Second || h.slept[1] != 2*time.Second || h.slept[2] != 4*time.Second {
		t.Errorf("backoff delays = %v, want 1s, 2s, 4s", h.slept[:3])
	}
	// Sensor must never run while the network stage is failing.
	if h.sensor.reads != 0 {
		t.Errorf("sensor read %d times during network outage, want 0", h.sensor.reads)
	}
}

func TestLoop_TLSFaultUsesFaultPauseAndSkipsCycle(t *testing.T) {
	t.Parallel()

	h, ctx := newHarness(t, Config{FaultPause: 5 * time.Minute}, 1)
	h.broker.connectErrs = []error{
		&mqtt.Error{Kind: mqtt.KindTLSHandshake, Op: "tls handshake", Err: errors.New("certificate signed by unknown authority")},
	}

	_ = h.loop.Run(ctx)

	if h.slept[0] != 5*time.Minute {
		t.Errorf("fault pause = %v, want 5m", h.slept[0])
	}
	if h.sensor.reads != 0 {
		t.Errorf("sensor read %d times after TLS fault, want 0 (cycle skipped)", h.sensor.reads)
	}
	if h.broker.publishes != 0 {
		t.Errorf("published %d times after TLS fault, want 0", h.broker.publishes)
	}
}

func TestLoop_AuthFaultSameClassAsTLS(t *testing.T) {
	t.Parallel()

	h, ctx := newHarness(t, Config{FaultPause: 5 * time.Minute}, 2)
	h.broker.connectErrs = []error{
		&mqtt.Error{Kind: mqtt.KindAuth, Op: "connect", Err: errors.New("not authorized")},
		&mqtt.Error{Kind: mqtt.KindNetwork, Op: "dial", Err: errors.New("connection reset")},
	}

	_ = h.loop.Run(ctx)

	// Auth fault gets the long flat pause; the transient fault right
	// after gets the short class. They must never share an interval.
	if h.slept[0] != 5*time.Minute {
		t.Errorf("auth pause = %v, want 5m", h.slept[0])
	}
	if h.slept[1] != time.Second {
		t.Errorf("transient delay = %v, want 1s", h.slept[1])
	}
}

func TestLoop_BrokerTransientRestartsFromNetwork(t *testing.T) {
	t.Parallel()

	h, ctx := newHarness(t, Config{}, 2)
	h.broker.connectErrs = []error{
		&mqtt.Error{Kind: mqtt.KindNetwork, Op: "dial", Err: errors.New("broken pipe")},
	}
	// The broker failure also took the link down.
	h.loop.sleep = func(sctx context.Context, d time.Duration) bool {
		h.slept = append(h.slept, d)
		h.net.connected = false
		if len(h.slept) >= 2 {
			return false
		}
		return sctx.Err() == nil
	}

	_ = h.loop.Run(ctx)

	// After the broker's backoff delay the cycle restarts from
	// EnsureNetwork, so the dropped link is re-established first.
	if h.net.connects != 2 {
		t.Errorf("network connects = %d, want 2 (initial + after broker fault)", h.net.connects)
	}
}

func TestLoop_SensorFailureSkipsPublish(t *testing.T) {
	t.Parallel()

	h, ctx := newHarness(t, Config{Interval: 5 * time.Second}, 2)
	h.sensor.readErrs = []error{sensor.ErrUnavailable}

	_ = h.loop.Run(ctx)

	// First cycle: read fails, publish skipped, full interval slept.
	// Second cycle: read recovers and the message goes out.
	if h.slept[0] != 5*time.Second {
		t.Errorf("skip-cycle sleep = %v, want interval 5s", h.slept[0])
	}
	if len(h.broker.published) != 1 {
		t.Errorf("published %d messages, want 1 (second cycle only)", len(h.broker.published))
	}
	if h.sensor.reads != 2 {
		t.Errorf("sensor reads = %d, want 2", h.sensor.reads)
	}
}

func TestLoop_PublishRetriesOnceThenDefers(t *testing.T) {
	t.Parallel()

	errAck := &mqtt.Error{Kind: mqtt.KindPublish, Op: "publish", Err: errors.New("ack timeout")}

	t.Run("retry succeeds", func(t *testing.T) {
		t.Parallel()
		h, ctx := newHarness(t, Config{}, 1)
		h.broker.publishErrs = []error{errAck}

		_ = h.loop.Run(ctx)

		if h.broker.publishes != 2 {
			t.Errorf("publish attempts = %d, want 2 (original + immediate retry)", h.broker.publishes)
		}
		if len(h.broker.published) != 1 {
			t.Errorf("delivered %d messages, want 1", len(h.broker.published))
		}
	})

	t.Run("retry fails, deferred to next cycle", func(t *testing.T) {
		t.Parallel()
		h, ctx := newHarness(t, Config{}, 2)
		h.broker.publishErrs = []error{errAck, errAck}

		_ = h.loop.Run(ctx)

		// Cycle 1: two attempts, both fail, defer. Cycle 2: a fresh
		// reading publishes on the first attempt.
		if h.broker.publishes != 3 {
			t.Errorf("publish attempts = %d, want 3", h.broker.publishes)
		}
		if h.sensor.reads != 2 {
			t.Errorf("sensor reads = %d, want 2 (never re-read within a cycle)", h.sensor.reads)
		}
	})
}

func TestLoop_RunReturnsOnCancelledContext(t *testing.T) {
	t.Parallel()

	h, _ := newHarness(t, Config{}, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.loop.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}
