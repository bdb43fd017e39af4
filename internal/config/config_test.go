// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cellwatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// ============================================================
// Load Tests
// ============================================================

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
metrics:
  enabled: true
  listen: ":9200"
redis:
  enabled: true
  addr: "redis:6379"
  history: 50
devices:
  - name: house
    address: "C0:D6:3C:58:A4:10"
    profile: jbd
    interval: 10s
  - name: van
    profile: daly
    timeout_scale: 2.5
    transport:
      kind: serial
      port: /dev/ttyUSB0
  - name: boat
    profile: ective
    transport:
      kind: websocket
      url: wss://bridge.local/ws
      username: admin
      no_ssl_verify: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config: %+v", cfg.Log)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != ":9200" {
		t.Errorf("unexpected metrics config: %+v", cfg.Metrics)
	}
	// unset values keep their defaults
	if cfg.Redis.Channel != "cellwatch:samples" || cfg.Redis.History != 50 {
		t.Errorf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.BLE.ScanTimeout != 30*time.Second {
		t.Errorf("expected default scan timeout, got %v", cfg.BLE.ScanTimeout)
	}
	if len(cfg.Devices) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(cfg.Devices))
	}

	house, _ := cfg.Device("house")
	if house.Interval != 10*time.Second || house.Transport.Kind != TransportBLE {
		t.Errorf("unexpected house: %+v", house)
	}
	van, _ := cfg.Device("van")
	if van.Interval != DefaultInterval || van.Transport.Baud != DefaultBaud || van.TimeoutScale != 2.5 {
		t.Errorf("unexpected van: %+v", van)
	}
	boat, _ := cfg.Device("boat")
	if !boat.Transport.NoSSLVerify || boat.Transport.Username != "admin" {
		t.Errorf("unexpected boat: %+v", boat)
	}
	if _, ok := cfg.Device("nobody"); ok {
		t.Error("unexpected device")
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestLoad_Malformed(t *testing.T) {
	path := writeConfig(t, "devices: [name: {")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("expected a parse error, got %v", err)
	}
}

// ============================================================
// Validate Tests
// ============================================================

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	ble := func(name, prof string) DeviceConfig {
		return DeviceConfig{Name: name, Address: "AA:BB", Profile: prof, Transport: TransportConfig{Kind: TransportBLE}}
	}

	tests := []struct {
		name   string
		modify func(c *Config)
		want   string
	}{
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"metrics without listen", func(c *Config) { c.Metrics = MetricsConfig{Enabled: true} }, "metrics.listen"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis.addr"},
		{"redis history", func(c *Config) { c.Redis.Enabled = true; c.Redis.History = 0 }, "redis.history"},
		{"unknown profile", func(c *Config) { c.Devices = []DeviceConfig{ble("a", "acme")} }, "devices[0].profile"},
		{"duplicate name", func(c *Config) { c.Devices = []DeviceConfig{ble("a", "jbd"), ble("a", "daly")} }, "duplicate"},
		{"missing name", func(c *Config) { c.Devices = []DeviceConfig{ble("", "jbd")} }, "devices[0].name"},
		{"ble without address", func(c *Config) {
			d := ble("a", "jbd")
			d.Address = ""
			c.Devices = []DeviceConfig{d}
		}, "devices[0].address"},
		{"serial without port", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "a", Profile: "jbd", Transport: TransportConfig{Kind: TransportSerial}}}
		}, "transport.port"},
		{"websocket without url", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "a", Profile: "jbd", Transport: TransportConfig{Kind: TransportWebSocket}}}
		}, "transport.url"},
		{"unknown transport", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "a", Profile: "jbd", Transport: TransportConfig{Kind: "can"}}}
		}, "transport.kind"},
		{"negative scale", func(c *Config) {
			d := ble("a", "jbd")
			d.TimeoutScale = -1
			c.Devices = []DeviceConfig{d}
		}, "timeout_scale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	if n := len(strings.Split(err.Error(), "\n")); n != 2 {
		t.Errorf("expected 2 problems, got %d: %v", n, err)
	}
}
