package sensor

import (
	"errors"
	"testing"
	"time"
)

// frame builds a Frame with a valid checksum from four payload bytes.
func frame(b0, b1, b2, b3 byte) Frame {
	return Frame{b0, b1, b2, b3, b0 + b1 + b2 + b3}
}

func TestFrame_DecodeDHT11(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		f        Frame
		wantTemp float64
		wantHum  float64
	}{
		{"typical room", frame(45, 0, 22, 5), 22.5, 45},
		{"integral only", frame(60, 0, 31, 0), 31, 60},
		{"zero", frame(0, 0, 0, 0), 0, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := tt.f.Decode(DHT11)
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if r.Temperature != tt.wantTemp {
				t.Errorf("Temperature = %v, want %v", r.Temperature, tt.wantTemp)
			}
			if r.Humidity != tt.wantHum {
				t.Errorf("Humidity = %v, want %v", r.Humidity, tt.wantHum)
			}
		})
	}
}

func TestFrame_DecodeDHT22(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		f        Frame
		wantTemp float64
		wantHum  float64
	}{
		// 652 → 65.2 %RH, 251 → 25.1 °C
		{"positive", frame(0x02, 0x8C, 0x00, 0xFB), 25.1, 65.2},
		// sign bit set on the temperature high byte: -10.5 °C
		{"negative", frame(0x01, 0x90, 0x80, 0x69), -10.5, 40},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := tt.f.Decode(DHT22)
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if r.Temperature != tt.wantTemp {
				t.Errorf("Temperature = %v, want %v", r.Temperature, tt.wantTemp)
			}
			if r.Humidity != tt.wantHum {
				t.Errorf("Humidity = %v, want %v", r.Humidity, tt.wantHum)
			}
		})
	}
}

func TestFrame_DecodeChecksumMismatch(t *testing.T) {
	t.Parallel()

	bad := Frame{45, 0, 22, 5, 0xFF}
	if _, err := bad.Decode(DHT11); !errors.Is(err, ErrChecksum) {
		t.Errorf("Decode() error = %v, want ErrChecksum", err)
	}
}

func TestParseModel(t *testing.T) {
	t.Parallel()

	if m, err := ParseModel(""); err != nil || m != DHT11 {
		t.Errorf("ParseModel(\"\") = %v, %v; want DHT11", m, err)
	}
	if m, err := ParseModel("dht22"); err != nil || m != DHT22 {
		t.Errorf("ParseModel(dht22) = %v, %v; want DHT22", m, err)
	}
	if m, err := ParseModel("am2302"); err != nil || m != DHT22 {
		t.Errorf("ParseModel(am2302) = %v, %v; want DHT22", m, err)
	}
	if _, err := ParseModel("bme280"); err == nil {
		t.Error("ParseModel(bme280) succeeded, want error")
	}
}

func TestModel_MinInterval(t *testing.T) {
	t.Parallel()

	if got := DHT11.MinInterval(); got != time.Second {
		t.Errorf("DHT11.MinInterval() = %v, want 1s", got)
	}
	if got := DHT22.MinInterval(); got != 2*time.Second {
		t.Errorf("DHT22.MinInterval() = %v, want 2s", got)
	}
}
