// Package sensor reads DHT-class temperature/humidity sensors.
//
// The DHT11 and DHT22 speak a single-wire timed pulse protocol that
// fails intermittently under normal operation, so the package is split
// into three layers:
//
//   - [Frame] holds the raw 40-bit wire frame and decodes it with
//     checksum validation and per-model scaling.
//   - [Device] is the hardware boundary. The stock implementation is
//     [IIODevice], which reads the Linux kernel dht11 IIO driver's
//     sysfs files; tests substitute in-memory devices.
//   - [Reader] wraps a Device with the bounded per-cycle retry and
//     minimum sampling spacing the sensors require.
//
// Every outcome is an explicit value or error; nothing here panics on
// a bad read and no read blocks past its context deadline.
package sensor
