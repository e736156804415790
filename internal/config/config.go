// Package config loads and validates the daemon's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/epglabs/epgio/internal/ble"
	"github.com/epglabs/epgio/internal/stream"
)

var (
	ErrBadAddress  = errors.New("config: device address must be a MAC address")
	ErrBadInterval = errors.New("config: intervals must be positive")
)

type Device struct {
	Address          string  `toml:"address"`
	NotifyUUID       string  `toml:"notify_uuid"`
	WriteUUID        string  `toml:"write_uuid"`
	ConnectTimeout   string  `toml:"connect_timeout"`
	SubscribeTimeout string  `toml:"subscribe_timeout"`
	WriteTimeout     string  `toml:"write_timeout"`
	AutoConnect      bool    `toml:"auto_connect"`
	WritesPerSecond  float64 `toml:"writes_per_second"`
}

type Stream struct {
	BatchInterval       string   `toml:"batch_interval"`
	MaxBuffered         string   `toml:"max_buffered"`
	DropPolicy          string   `toml:"drop_policy"`
	ReconnectDelays     []string `toml:"reconnect_delays"`
	KeepaliveInterval   string   `toml:"keepalive_interval"`
	ThroughputWindow    string   `toml:"throughput_window"`
	ThroughputTelemetry bool     `toml:"throughput_telemetry"`
	WriteSync           bool     `toml:"write_sync"`
	EventQueueSize      int      `toml:"event_queue_size"`
}

type Server struct {
	Listen       string   `toml:"listen"`
	AllowOrigins []string `toml:"allow_origins"`
}

type Config struct {
	Device Device `toml:"device"`
	Stream Stream `toml:"stream"`
	Server Server `toml:"server"`
}

func Default() Config {
	return Config{
		Device: Device{
			NotifyUUID:       "6e400003-b5a3-f393-e0a9-e50e24dcca9e",
			WriteUUID:        "6e400002-b5a3-f393-e0a9-e50e24dcca9e",
			ConnectTimeout:   "10s",
			SubscribeTimeout: "5s",
			WriteTimeout:     "5s",
			WritesPerSecond:  20,
		},
		Stream: Stream{
			BatchInterval:       "50ms",
			MaxBuffered:         "2s",
			DropPolicy:          "drop_oldest",
			ReconnectDelays:     []string{"1s", "2s", "5s", "10s"},
			KeepaliveInterval:   "2s",
			ThroughputWindow:    "1s",
			ThroughputTelemetry: true,
			WriteSync:           true,
			EventQueueSize:      256,
		},
		Server: Server{
			Listen:       ":8095",
			AllowOrigins: []string{"*"},
		},
	}
}

// Load reads path and overlays it on the defaults. A missing file is an
// error; callers that want optional config check for it first.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Device.Address != "" && len(c.Device.Address) != 17 {
		return fmt.Errorf("%w: %q", ErrBadAddress, c.Device.Address)
	}
	for _, field := range []string{
		c.Device.ConnectTimeout, c.Device.SubscribeTimeout, c.Device.WriteTimeout,
		c.Stream.BatchInterval, c.Stream.MaxBuffered,
		c.Stream.KeepaliveInterval, c.Stream.ThroughputWindow,
	} {
		if field == "" {
			continue
		}
		d, err := time.ParseDuration(field)
		if err != nil {
			return fmt.Errorf("config: bad duration %q: %w", field, err)
		}
		if d <= 0 {
			return fmt.Errorf("%w: %q", ErrBadInterval, field)
		}
	}
	for _, field := range c.Stream.ReconnectDelays {
		if _, err := time.ParseDuration(field); err != nil {
			return fmt.Errorf("config: bad reconnect delay %q: %w", field, err)
		}
	}
	if _, err := stream.ParseDropPolicy(c.Stream.DropPolicy); err != nil {
		return err
	}
	if c.Stream.EventQueueSize < 0 {
		return errors.New("config: event queue size must not be negative")
	}
	if c.Server.Listen == "" {
		return errors.New("config: server listen address is required")
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Target builds the BLE target from the device section.
func (c Config) Target() ble.Target {
	return ble.Target{
		Address:    c.Device.Address,
		NotifyUUID: c.Device.NotifyUUID,
		WriteUUID:  c.Device.WriteUUID,
	}
}

// Timeouts builds the per-operation budgets from the device section.
func (c Config) Timeouts() ble.Timeouts {
	return ble.Timeouts{
		Connect:   parseDuration(c.Device.ConnectTimeout, 10*time.Second),
		Subscribe: parseDuration(c.Device.SubscribeTimeout, 5*time.Second),
		Write:     parseDuration(c.Device.WriteTimeout, 5*time.Second),
	}
}

// StreamConfig translates the stream section into the handler's config.
// Validate must have passed; unparsable values fall back to defaults.
func (c Config) StreamConfig() stream.Config {
	cfg := stream.DefaultConfig()
	cfg.BatchInterval = parseDuration(c.Stream.BatchInterval, cfg.BatchInterval)
	cfg.MaxBuffered = parseDuration(c.Stream.MaxBuffered, cfg.MaxBuffered)
	cfg.WriteSync = c.Stream.WriteSync
	if policy, err := stream.ParseDropPolicy(c.Stream.DropPolicy); err == nil {
		cfg.Drop = policy
	}
	if len(c.Stream.ReconnectDelays) > 0 {
		delays := make([]time.Duration, 0, len(c.Stream.ReconnectDelays))
		for _, s := range c.Stream.ReconnectDelays {
			if d, err := time.ParseDuration(s); err == nil && d > 0 {
				delays = append(delays, d)
			}
		}
		cfg.Reconnect = stream.ReconnectPolicy{Delays: delays}
	}
	cfg.KeepaliveInterval = parseDuration(c.Stream.KeepaliveInterval, cfg.KeepaliveInterval)
	cfg.ThroughputWindow = parseDuration(c.Stream.ThroughputWindow, cfg.ThroughputWindow)
	cfg.ThroughputTelemetry = c.Stream.ThroughputTelemetry
	if c.Stream.EventQueueSize > 0 {
		cfg.EventQueueSize = c.Stream.EventQueueSize
	}
	if c.Device.WritesPerSecond > 0 {
		cfg.WritesPerSecond = c.Device.WritesPerSecond
	}
	cfg.Timeouts = c.Timeouts()
	return cfg
}
