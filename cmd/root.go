// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/cellwatch/internal/config"
	"github.com/Thermoquad/cellwatch/internal/logging"
)

var (
	configPath string
	logLevel   string

	// Single device flags
	deviceName    string
	deviceAddress string
	deviceProfile string

	// Serial bridge flags
	portName string
	baudRate int

	// WebSocket bridge flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "cellwatch",
	Short: "BMS Bluetooth Protocol Monitor",
	Long: `Cellwatch - A CLI tool for polling and decoding battery management systems
over Bluetooth LE.

Devices come from the configuration file (--config) or from flags for a
single device:

  BLE:       --address C0:D6:3C:58:A4:10 --profile jbd
  Serial:    --port /dev/ttyUSB0 [--baud 115200] --profile jbd
  WebSocket: --url ws://host/path [--username user] --profile jbd

Serial and WebSocket connect through a BLE-UART bridge that forwards
notifications and writes unchanged.

For WebSocket authentication, the password is read from the CELLWATCH_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")

	rootCmd.PersistentFlags().StringVar(&deviceName, "name", "", "Device name (single device mode)")
	rootCmd.PersistentFlags().StringVarP(&deviceAddress, "address", "a", "", "BLE device address")
	rootCmd.PersistentFlags().StringVar(&deviceProfile, "profile", "", "Protocol profile")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial bridge device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", config.DefaultBaud, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads --config, or starts from the defaults, and applies
// the command line overrides
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	if d, ok := flagDevice(); ok {
		cfg.Devices = []config.DeviceConfig{d}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// flagDevice builds a device from the connection flags, if any are set
func flagDevice() (config.DeviceConfig, bool) {
	d := config.DeviceConfig{
		Name:    deviceName,
		Address: deviceAddress,
		Profile: deviceProfile,
	}
	switch {
	case wsURL != "":
		d.Transport = config.TransportConfig{
			Kind:        config.TransportWebSocket,
			URL:         wsURL,
			Username:    wsUsername,
			NoSSLVerify: wsNoSSLVerify,
		}
	case portName != "":
		d.Transport = config.TransportConfig{
			Kind: config.TransportSerial,
			Port: portName,
			Baud: baudRate,
		}
	case deviceAddress != "":
		d.Transport = config.TransportConfig{Kind: config.TransportBLE}
	default:
		return d, false
	}
	if d.Name == "" {
		d.Name = d.Profile
	}
	return d, true
}

// setupLogger builds the logger for cfg. The closer must be called on
// exit.
func setupLogger(cfg *config.Config) (*logrus.Logger, io.Closer, error) {
	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: %w", err)
	}
	return log, closer, nil
}
