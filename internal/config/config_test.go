package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/epglabs/epgio/internal/testutil/testlog"
)

func TestDefaultValidates(t *testing.T) {
	testlog.Start(t)

	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestTemplateParsesAndValidates(t *testing.T) {
	testlog.Start(t)

	cfg := Default()
	if err := toml.Unmarshal([]byte(Template), &cfg); err != nil {
		t.Fatalf("template does not parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("template invalid: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "epgiod.toml")
	body := `
[device]
address = "AA:BB:CC:DD:EE:FF"

[stream]
drop_policy = "block"
reconnect_delays = ["100ms"]
throughput_telemetry = false
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Device.Address != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("address = %q", cfg.Device.Address)
	}
	// Unset fields keep their defaults.
	if cfg.Server.Listen != ":8095" {
		t.Fatalf("listen = %q, want default", cfg.Server.Listen)
	}

	sc := cfg.StreamConfig()
	if sc.Drop.Name() != "block" {
		t.Fatalf("drop policy = %s", sc.Drop.Name())
	}
	if len(sc.Reconnect.Delays) != 1 || sc.Reconnect.Delays[0] != 100*time.Millisecond {
		t.Fatalf("reconnect delays = %v", sc.Reconnect.Delays)
	}
	if sc.BatchInterval != 50*time.Millisecond {
		t.Fatalf("batch interval = %v", sc.BatchInterval)
	}
	if sc.ThroughputTelemetry {
		t.Fatalf("throughput telemetry not switched off")
	}
	if def := Default(); !def.Stream.ThroughputTelemetry {
		t.Fatalf("throughput telemetry should default on")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	testlog.Start(t)

	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("missing file did not error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short address", func(c *Config) { c.Device.Address = "AA:BB" }},
		{"bad duration", func(c *Config) { c.Stream.BatchInterval = "soon" }},
		{"negative duration", func(c *Config) { c.Stream.KeepaliveInterval = "-1s" }},
		{"unknown policy", func(c *Config) { c.Stream.DropPolicy = "latest" }},
		{"bad retry delay", func(c *Config) { c.Stream.ReconnectDelays = []string{"fast"} }},
		{"empty listen", func(c *Config) { c.Server.Listen = "" }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: validation passed", tc.name)
		}
	}
}
