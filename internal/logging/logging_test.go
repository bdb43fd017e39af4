// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwatch/internal/config"
)

func TestNew_Level(t *testing.T) {
	tests := []struct {
		level    string
		expected logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"", logrus.InfoLevel},
		{"loud", logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log, closer, err := New(config.LogConfig{Level: tt.level})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer closer.Close()
			if log.GetLevel() != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, log.GetLevel())
			}
		})
	}
}

func TestNew_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cellwatch.log")
	log, closer, err := New(config.LogConfig{Level: "info", Format: "json", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.WithField("device", "house").Warn("acquisition cycle failed")
	log.Debug("dropped below level")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %s", len(lines), data)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["device"] != "house" || entry["level"] != "warning" || entry["msg"] != "acquisition cycle failed" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestNew_TextFormatter(t *testing.T) {
	log, closer, err := New(config.LogConfig{Format: "text"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer.Close()
	f, ok := log.Formatter.(*logrus.TextFormatter)
	if !ok || !f.FullTimestamp {
		t.Errorf("expected full timestamp text formatter, got %T", log.Formatter)
	}
}

func TestNew_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "cellwatch.log")
	if _, _, err := New(config.LogConfig{File: path}); err == nil {
		t.Error("expected an error for an unwritable log file")
	}
}
