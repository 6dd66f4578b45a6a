// Package mqtt maintains the mutual-TLS MQTT session to the IoT
// broker and publishes telemetry payloads over it.
//
// The client is built on Eclipse Paho v2's core [paho] package rather
// than autopaho: automatic reconnection would fight the telemetry
// loop, which owns retry pacing and applies different backoff classes
// per failure kind. Instead every Connect performs an explicit
// TCP dial → TLS handshake → MQTT CONNECT sequence and classifies the
// failure ([KindNetwork], [KindTLSHandshake], [KindAuth]) so the loop
// can pick the right remediation — short growing backoff for transient
// network faults, a long flat pause for configuration faults that do
// not self-heal.
//
// When an availability topic is configured, the CONNECT packet carries
// a retained "offline" will message and a retained "online" birth
// message is published after each successful connect, so subscribers
// can distinguish a quiet device from a dead one.
package mqtt
