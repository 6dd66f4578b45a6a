package config

// DefaultYAML is the starter configuration written by `dhtpub init`.
var DefaultYAML = []byte(`# dhtpub configuration.
# Values like ${WIFI_PASS} are expanded from the environment at load time.

# Wireless network to join. Leave ssid empty if the OS manages the link
# (wired ethernet, or a supplicant configured elsewhere).
wifi:
  ssid: ""
  passphrase: ${WIFI_PASS}
  connect_timeout_sec: 15

mqtt:
  # AWS IoT device data endpoint, host:port.
  # Console → IoT Core → Settings → Device data endpoint.
  endpoint: "your-endpoint-ats.iot.us-east-1.amazonaws.com:8883"
  # Thing name / MQTT client ID. Leave empty to generate one and keep
  # it under data_dir.
  device_id: ""
  # Publish topic. Empty means devices/<device_id>/telemetry.
  topic: ""
  cert_file: "certificate.pem.crt"
  key_file: "private.pem.key"
  root_ca_file: "AmazonRootCA1.pem"
  # Retained online/offline markers. Empty disables.
  availability_topic: ""
  qos: 1
  keepalive_sec: 60

sensor:
  # dht11 or dht22
  model: "dht11"
  # Kernel dht11 driver sysfs directory.
  iio_device: "/sys/bus/iio/devices/iio:device0"
  read_retries: 3
  retry_delay_ms: 250

telemetry:
  interval_sec: 5
  publish_retries: 1
  backoff:
    initial_sec: 2
    max_sec: 60
    multiplier: 2.0
  # Flat pause after TLS handshake / authorization faults.
  fault_pause_sec: 300

data_dir: "."
log_level: "info"
log_format: "text"
`)
