package config

// Template is a commented starter configuration for configgen.
const Template = `# epgiod configuration

[device]
# MAC address of the acquisition board. Leave empty to pick the target at
# runtime through the HTTP API.
address = ""
notify_uuid = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
write_uuid = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
connect_timeout = "10s"
subscribe_timeout = "5s"
write_timeout = "5s"
# Connect to the configured address on startup.
auto_connect = false
writes_per_second = 20.0

[stream]
batch_interval = "50ms"
# Device-time span the pending buffer may cover before samples are dropped.
max_buffered = "2s"
# drop_oldest, drop_newest or block
drop_policy = "drop_oldest"
reconnect_delays = ["1s", "2s", "5s", "10s"]
keepalive_interval = "2s"
throughput_window = "1s"
# Emit periodic samples-per-second events and metrics.
throughput_telemetry = true
# Acknowledge command writes and report completion events.
write_sync = true
event_queue_size = 256

[server]
listen = ":8095"
allow_origins = ["*"]
`
