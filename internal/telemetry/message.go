package telemetry

import (
	"encoding/json"

	"github.com/fernwood/dhtpub/internal/sensor"
)

// Message is the JSON payload published per cycle. It is constructed
// only from a valid sensor reading, is self-contained (a duplicate
// delivery carries the same information), and is discarded after the
// transmission attempt.
type Message struct {
	DeviceID    string  `json:"device_id"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	TS          int64   `json:"ts"` // epoch seconds of the reading
}

// NewMessage builds the payload for one reading.
func NewMessage(deviceID string, r sensor.Reading) Message {
	return Message{
		DeviceID:    deviceID,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		TS:          r.At.Unix(),
	}
}

// Encode serializes the message to its wire form.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DefaultTopic returns the conventional per-device telemetry topic.
// Subscribers typically watch "devices/+/telemetry".
func DefaultTopic(deviceID string) string {
	return "devices/" + deviceID + "/telemetry"
}
