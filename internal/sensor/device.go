package sensor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Device is the hardware boundary. Read performs one poll and returns
// either a complete Reading or an error; transient failures are normal
// for this sensor family and the caller is expected to retry.
type Device interface {
	Read(ctx context.Context) (Reading, error)
}

// IIODevice reads the Linux kernel dht11 IIO driver, which exposes the
// sensor as sysfs attributes under /sys/bus/iio/devices/iio:deviceN.
// The kernel driver handles the microsecond pulse timing and checksum;
// a failed exchange surfaces here as an -EIO read of the attribute
// file, which we report as an ordinary error for the Reader to retry.
type IIODevice struct {
	tempPath     string
	humidityPath string
}

// NewIIODevice creates a device over the given IIO sysfs directory,
// e.g. /sys/bus/iio/devices/iio:device0.
func NewIIODevice(dir string) *IIODevice {
	return &IIODevice{
		tempPath:     filepath.Join(dir, "in_temp_input"),
		humidityPath: filepath.Join(dir, "in_humidityrelative_input"),
	}
}

// Read polls both channels. The IIO convention reports temperature in
// millidegrees Celsius and relative humidity in milli-percent.
func (d *IIODevice) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	temp, err := readMilli(d.tempPath)
	if err != nil {
		return Reading{}, fmt.Errorf("read temperature: %w", err)
	}
	hum, err := readMilli(d.humidityPath)
	if err != nil {
		return Reading{}, fmt.Errorf("read humidity: %w", err)
	}

	return Reading{
		Temperature: temp / 1000,
		Humidity:    hum / 1000,
		At:          time.Now(),
	}, nil
}

// readMilli reads a single integer sysfs attribute.
func readMilli(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return float64(n), nil
}

// FrameDevice decodes readings from raw wire frames supplied by a
// pulse-capture front end (or a test). It exists so the frame decoding
// path is exercised even on hosts where the kernel driver does the
// decoding itself.
type FrameDevice struct {
	Model  Model
	Source func(ctx context.Context) (Frame, error)
}

// Read captures one frame from the source and decodes it.
func (d *FrameDevice) Read(ctx context.Context) (Reading, error) {
	f, err := d.Source(ctx)
	if err != nil {
		return Reading{}, err
	}
	r, err := f.Decode(d.Model)
	if err != nil {
		return Reading{}, err
	}
	r.At = time.Now()
	return r, nil
}
