package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		result := test.level.String()
		if result != test.expected {
			t.Errorf("LogLevel(%d).String() = %s, expected %s", test.level, result, test.expected)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo}, // Default for unknown
	}

	for _, test := range tests {
		result := test.level.SlogLevel()
		if result != test.expected {
			t.Errorf("LogLevel(%d).SlogLevel() = %v, expected %v", test.level, result, test.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		expected LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"verbose", LevelInfo},
		{"", LevelInfo},
	}

	for _, test := range tests {
		if got := ParseLevel(test.name); got != test.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", test.name, got, test.expected)
		}
	}
}

func TestInit_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)

	Debug("Test", "this should be filtered")
	Info("Test", "this should appear")

	output := buf.String()
	if strings.Contains(output, "this should be filtered") {
		t.Error("Debug message appeared despite Info level filter")
	}
	if !strings.Contains(output, "this should appear") {
		t.Error("Info message missing from output")
	}
}

func TestInit_SubsystemAndError(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelDebug, &buf)

	Error("Store", errors.New("disk full"), "write failed for %s", "auth.json")

	output := buf.String()
	if !strings.Contains(output, "subsystem=Store") {
		t.Errorf("Expected subsystem attribute in output, got: %s", output)
	}
	if !strings.Contains(output, "disk full") {
		t.Errorf("Expected error attribute in output, got: %s", output)
	}
	if !strings.Contains(output, "write failed for auth.json") {
		t.Errorf("Expected formatted message in output, got: %s", output)
	}
}
