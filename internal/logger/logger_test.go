package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	initWithWriter(WarnLevel, "json", &buf)
	defer Init("info", "json")

	Debug("debug %d", 1)
	Info("info %d", 2)
	Warn("warn %d", 3)
	Error("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "[DEBUG]") || strings.Contains(out, "[INFO]") {
		t.Errorf("Messages below warn should be filtered, got: %s", out)
	}
	if !strings.Contains(out, "[WARN] warn 3") {
		t.Errorf("Expected warn message, got: %s", out)
	}
	if !strings.Contains(out, "[ERROR] error 4") {
		t.Errorf("Expected error message, got: %s", out)
	}
}

func TestOpenFile(t *testing.T) {
	Init("info", "text")
	path := filepath.Join(t.TempDir(), "logs", "luftonline.log")

	closeFn, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	Info("written to %s", "file")
	if err := closeFn(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "[INFO] written to file") {
		t.Errorf("Log file missing message, got: %s", data)
	}
}
