package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestWithWindow(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	base := slog.New(handler)

	logger := WithWindow(base, "win-123", "primary")
	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "window_id=win-123") {
		t.Errorf("Expected window_id in output, got: %s", output)
	}
	if !strings.Contains(output, "role=primary") {
		t.Errorf("Expected role in output, got: %s", output)
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected message in output, got: %s", output)
	}
}

func TestWithWindow_NilLogger(t *testing.T) {
	logger := WithWindow(nil, "win", "secondary")
	if logger != nil {
		t.Error("WithWindow(nil, ...) should return nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestComponentFiltering(t *testing.T) {
	componentsMu.Lock()
	allowedComponents = map[string]bool{"coordinator": true}
	componentsMu.Unlock()
	defer func() {
		componentsMu.Lock()
		allowedComponents = nil
		componentsMu.Unlock()
	}()

	if !isComponentAllowed("coordinator") {
		t.Error("coordinator should be allowed")
	}
	if isComponentAllowed("relay") {
		t.Error("relay should be filtered out")
	}
}

func TestComponentFiltering_AllowAllByDefault(t *testing.T) {
	componentsMu.Lock()
	allowedComponents = nil
	componentsMu.Unlock()

	if !isComponentAllowed("anything") {
		t.Error("all components should be allowed when none configured")
	}
}
