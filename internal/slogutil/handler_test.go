package slogutil

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLineHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("request done", "method", "textDocument/references", "count", 42)

	output := buf.String()
	for _, want := range []string{"[info]", "request done", " | ", "method=textDocument/references", "count=42"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestLineHandler_Levels(t *testing.T) {
	tests := []struct {
		logFunc  func(*slog.Logger)
		expected string
	}{
		{func(l *slog.Logger) { l.Debug("debug") }, "[debug]"},
		{func(l *slog.Logger) { l.Info("info") }, "[info]"},
		{func(l *slog.Logger) { l.Warn("warn") }, "[warn]"},
		{func(l *slog.Logger) { l.Error("error") }, "[error]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			var buf bytes.Buffer
			tt.logFunc(NewLogger(&buf, slog.LevelDebug))
			if !strings.Contains(buf.String(), tt.expected) {
				t.Errorf("expected %s in output, got: %s", tt.expected, buf.String())
			}
		})
	}
}

func TestLineHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("records below warn should be filtered: %s", output)
	}
	if !strings.Contains(output, "warn message") {
		t.Error("warn message should be included")
	}
}

func TestLineHandler_Component(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewLogger(&buf, slog.LevelInfo), "dispatch")

	logger.Info("fan out", "backends", 2)

	output := buf.String()
	if !strings.Contains(output, "[info] (dispatch) fan out") {
		t.Errorf("component prefix missing: %s", output)
	}
	if strings.Contains(output, "component=") {
		t.Errorf("component should not render as an attribute: %s", output)
	}
}

func TestLineHandler_GroupsAndQuoting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo).WithGroup("lsp")

	logger.Info("spawned", "cmd", "gopls serve")

	if !strings.Contains(buf.String(), `lsp.cmd="gopls serve"`) {
		t.Errorf("grouped attribute missing: %s", buf.String())
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"silent", LevelSilent},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := LevelFromString(tt.input); got != tt.expected {
				t.Errorf("LevelFromString(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		quiet     bool
		expected  slog.Level
	}{
		{0, false, slog.LevelWarn},
		{1, false, slog.LevelInfo},
		{2, false, slog.LevelDebug},
		{3, false, slog.LevelDebug},
		{5, true, LevelSilent},
	}

	for _, tt := range tests {
		if got := LevelFromVerbosity(tt.verbosity, tt.quiet); got != tt.expected {
			t.Errorf("LevelFromVerbosity(%d, %v) = %v, want %v", tt.verbosity, tt.quiet, got, tt.expected)
		}
	}
}

func TestOrDiscard(t *testing.T) {
	// Must not panic on nil.
	OrDiscard(nil).Error("dropped")
}

func TestTeeHandler(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h1 := NewLineHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelInfo})
	h2 := NewLineHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelWarn})

	logger := slog.New(NewTeeHandler(h1, h2))
	logger.Info("info message")
	logger.Warn("warn message")

	if !strings.Contains(buf1.String(), "info message") || !strings.Contains(buf1.String(), "warn message") {
		t.Errorf("buf1 = %q", buf1.String())
	}
	if strings.Contains(buf2.String(), "info message") || !strings.Contains(buf2.String(), "warn message") {
		t.Errorf("buf2 = %q", buf2.String())
	}
}
