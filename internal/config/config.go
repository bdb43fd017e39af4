// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the cellwatch YAML configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/cellwatch/pkg/profile"
)

// Transport kinds
const (
	TransportBLE       = "ble"
	TransportSerial    = "serial"
	TransportWebSocket = "websocket"
)

// Defaults applied to devices that leave a value unset
const (
	DefaultInterval = 30 * time.Second
	DefaultBaud     = 115200
)

type Config struct {
	Log     LogConfig      `yaml:"log"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Redis   RedisConfig    `yaml:"redis"`
	BLE     BLEConfig      `yaml:"ble"`
	Devices []DeviceConfig `yaml:"devices"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File appends logs to a file instead of stderr when set
	File string `yaml:"file"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	// History bounds the per-device sample list
	History int `yaml:"history"`
}

type BLEConfig struct {
	AdapterTimeout time.Duration `yaml:"adapter_timeout"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"`
}

type DeviceConfig struct {
	Name         string          `yaml:"name"`
	Address      string          `yaml:"address"`
	Profile      string          `yaml:"profile"`
	Interval     time.Duration   `yaml:"interval"`
	TimeoutScale float64         `yaml:"timeout_scale"`
	Transport    TransportConfig `yaml:"transport"`
}

type TransportConfig struct {
	Kind        string `yaml:"kind"`
	Port        string `yaml:"port"`
	Baud        int    `yaml:"baud"`
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
}

// Load reads a configuration file over the defaults and validates it
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used without a file
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9108",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Channel: "cellwatch:samples",
			History: 1000,
		},
		BLE: BLEConfig{
			AdapterTimeout: 10 * time.Second,
			ScanTimeout:    30 * time.Second,
		},
	}
}

// ApplyDefaults fills unset device values
func (c *Config) ApplyDefaults() {
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Interval == 0 {
			d.Interval = DefaultInterval
		}
		if d.Transport.Kind == "" {
			d.Transport.Kind = TransportBLE
		}
		if d.Transport.Kind == TransportSerial && d.Transport.Baud == 0 {
			d.Transport.Baud = DefaultBaud
		}
	}
}

// Validate reports every problem in the configuration
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format: %q is not text or json", c.Log.Format))
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen: required when metrics are enabled"))
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr: required when redis is enabled"))
		}
		if c.Redis.Channel == "" {
			errs = append(errs, errors.New("redis.channel: required when redis is enabled"))
		}
		if c.Redis.History <= 0 {
			errs = append(errs, fmt.Errorf("redis.history: %d must be positive", c.Redis.History))
		}
	}

	names := map[string]bool{}
	for i, d := range c.Devices {
		at := fmt.Sprintf("devices[%d]", i)
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", at))
		} else if names[d.Name] {
			errs = append(errs, fmt.Errorf("%s.name: duplicate %q", at, d.Name))
		}
		names[d.Name] = true

		if _, err := profile.Lookup(d.Profile); err != nil {
			errs = append(errs, fmt.Errorf("%s.profile: %w", at, err))
		}
		if d.Interval < 0 {
			errs = append(errs, fmt.Errorf("%s.interval: %v is negative", at, d.Interval))
		}
		if d.TimeoutScale < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout_scale: %v is negative", at, d.TimeoutScale))
		}

		switch d.Transport.Kind {
		case TransportBLE:
			if d.Address == "" {
				errs = append(errs, fmt.Errorf("%s.address: required for ble", at))
			}
		case TransportSerial:
			if d.Transport.Port == "" {
				errs = append(errs, fmt.Errorf("%s.transport.port: required for serial", at))
			}
		case TransportWebSocket:
			if d.Transport.URL == "" {
				errs = append(errs, fmt.Errorf("%s.transport.url: required for websocket", at))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.transport.kind: unknown %q", at, d.Transport.Kind))
		}
	}

	return errors.Join(errs...)
}

// Device returns the device with the given name
func (c *Config) Device(name string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceConfig{}, false
}
