// Package telemetry runs the sensor-to-broker publish loop.
//
// Each cycle walks a fixed stage sequence:
//
//	EnsureNetwork → EnsureMQTT → ReadSensor → Serialize → Publish → Sleep
//
// A later stage never runs after an earlier one reports a
// terminal-for-this-cycle outcome, and no outcome is fatal to the
// process: the loop converts every failure into a classified
// delay-and-retry decision and runs until its context is cancelled.
// Network and broker failures restart the cycle from the top after
// their backoff delay, so the network link is re-verified before any
// MQTT reconnect attempt.
package telemetry
