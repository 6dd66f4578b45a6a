package sensor

import (
	"errors"
	"fmt"
	"time"
)

// Model selects the wire-format scaling of a DHT-class sensor.
type Model int

const (
	// DHT11 reports integral °C / %RH with a tenths byte.
	DHT11 Model = iota
	// DHT22 (AM2302) reports signed tenths of °C and tenths of %RH.
	DHT22
)

// ParseModel converts a config string ("dht11", "dht22") to a Model.
func ParseModel(s string) (Model, error) {
	switch s {
	case "", "dht11":
		return DHT11, nil
	case "dht22", "am2302":
		return DHT22, nil
	default:
		return 0, fmt.Errorf("unknown sensor model %q (valid: dht11, dht22)", s)
	}
}

// String returns the config spelling of the model.
func (m Model) String() string {
	switch m {
	case DHT22:
		return "dht22"
	default:
		return "dht11"
	}
}

// MinInterval is the shortest spacing between polls the sensor
// tolerates: ~1s for DHT11, ~2s for DHT22 per the datasheets.
func (m Model) MinInterval() time.Duration {
	if m == DHT22 {
		return 2 * time.Second
	}
	return time.Second
}

// Reading is one successful sensor poll. Immutable once produced;
// consumed by the telemetry loop and never persisted.
type Reading struct {
	Temperature float64   // °C
	Humidity    float64   // %RH
	At          time.Time // when the poll completed
}

// ErrChecksum reports a frame whose checksum byte does not match the
// payload. Transient line noise; retry.
var ErrChecksum = errors.New("sensor frame checksum mismatch")

// Frame is the raw 40-bit frame a DHT sensor shifts out: two humidity
// bytes, two temperature bytes, and an additive checksum.
type Frame [5]byte

// Checksum reports whether the checksum byte matches the payload.
// The sensor's checksum is the low byte of the sum of the first four.
func (f Frame) Checksum() bool {
	sum := f[0] + f[1] + f[2] + f[3]
	return sum == f[4]
}

// Decode validates the checksum and scales the frame per the model.
// The At field of the returned Reading is left zero; the Device fills
// it in.
func (f Frame) Decode(m Model) (Reading, error) {
	if !f.Checksum() {
		return Reading{}, fmt.Errorf("%w: % x", ErrChecksum, f[:])
	}

	var r Reading
	switch m {
	case DHT22:
		r.Humidity = float64(uint16(f[0])<<8|uint16(f[1])) / 10
		t := float64(uint16(f[2]&0x7f)<<8|uint16(f[3])) / 10
		if f[2]&0x80 != 0 {
			t = -t
		}
		r.Temperature = t
	default: // DHT11
		r.Humidity = float64(f[0]) + float64(f[1])/10
		r.Temperature = float64(f[2]) + float64(f[3])/10
	}
	return r, nil
}
