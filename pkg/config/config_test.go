package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config file: %s", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
address: "AA:BB:CC:DD:EE:FF"
transport: bluetooth
idle_disconnect_delay: 2m
log:
  debug: true
  file: /tmp/senssun.log
`)

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("failed to load config: %s", err)
	}

	if cfg.Address != "AA:BB:CC:DD:EE:FF" || cfg.Transport != TransportBluetooth {
		t.Fatalf("unexpected device settings: %+v", cfg)
	}
	if cfg.IdleDisconnectDelay != 2*time.Minute {
		t.Fatalf("unexpected idle disconnect delay: %v", cfg.IdleDisconnectDelay)
	}
	if cfg.ConnectTimeout != 10*time.Second || cfg.OverallConnectTimeout != 20*time.Second || cfg.RetryInterval != time.Minute {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if !cfg.Log.Debug || cfg.Log.File != "/tmp/senssun.log" || cfg.Log.MaxBackups != 3 {
		t.Fatalf("unexpected log settings: %+v", cfg.Log)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SENSSUN_ADDRESS", "11:22:33:44:55:66")
	t.Setenv("SENSSUN_RETRY_INTERVAL", "15s")
	t.Setenv("SENSSUN_LOG_DEBUG", "true")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("failed to load config: %s", err)
	}

	if cfg.Address != "11:22:33:44:55:66" || cfg.RetryInterval != 15*time.Second || !cfg.Log.Debug {
		t.Fatalf("environment not applied: %+v", cfg)
	}
	if cfg.Transport != TransportGatt {
		t.Fatalf("unexpected default transport: %s", cfg.Transport)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("unexpected success loading missing file")
	}
	if _, err := Load(writeConfig(t, "transport: gatt\n"), nil); err == nil {
		t.Fatalf("unexpected success loading config without address")
	}
}

func TestValidate(t *testing.T) {
	for _, cs := range []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{name: "default_with_address", modify: func(c *Config) { c.Address = "AA" }, valid: true},
		{name: "mock_without_address", modify: func(c *Config) { c.Transport = TransportMock }, valid: true},
		{name: "no_address", modify: func(c *Config) {}},
		{name: "unknown_transport", modify: func(c *Config) { c.Address = "AA"; c.Transport = "serial" }},
		{name: "zero_retry", modify: func(c *Config) { c.Address = "AA"; c.RetryInterval = 0 }},
		{name: "overall_shorter", modify: func(c *Config) { c.Address = "AA"; c.OverallConnectTimeout = time.Second }},
	} {
		t.Run(cs.name, func(t *testing.T) {
			cfg := Default()
			cs.modify(cfg)
			if err := cfg.Validate(); (err == nil) != cs.valid {
				t.Fatalf("unexpected validation result: %v", err)
			}
		})
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Address = "AA:BB:CC:DD:EE:FF"
	cfg.RetryInterval = 90 * time.Second

	data, err := cfg.YAML()
	if err != nil {
		t.Fatalf("failed to marshal config: %s", err)
	}

	loaded, err := Load(writeConfig(t, string(data)), nil)
	if err != nil {
		t.Fatalf("failed to load marshalled config: %s", err)
	}
	if *loaded != *cfg {
		t.Fatalf("config changed in round trip: want %+v, have %+v", cfg, loaded)
	}
}

func TestYAMLDurations(t *testing.T) {
	data, err := Default().YAML()
	if err != nil {
		t.Fatalf("failed to marshal config: %s", err)
	}

	for _, line := range []string{
		"connect_timeout: 10s",
		"overall_connect_timeout: 20s",
		"idle_disconnect_delay: 1m0s",
		"retry_interval: 1m0s",
	} {
		if !strings.Contains(string(data), line) {
			t.Fatalf("missing `%s` in rendered config:\n%s", line, data)
		}
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SENSSUN_TRANSPORT", "gatt")
	path := writeConfig(t, `
address: "AA:BB:CC:DD:EE:FF"
listen: ":8080"
`)

	cfg, err := Load(path, map[string]interface{}{
		"address":   "11:22:33:44:55:66",
		"transport": TransportMock,
		"log.debug": true,
	})
	if err != nil {
		t.Fatalf("failed to load config: %s", err)
	}

	if cfg.Address != "11:22:33:44:55:66" || cfg.Transport != TransportMock || !cfg.Log.Debug {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Listen != ":8080" {
		t.Fatalf("file setting lost: %+v", cfg)
	}
}
