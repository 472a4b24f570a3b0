package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abhishekbhakat/liqui-speak/internal/core/config"
)

func TestFileLoggerWritesJSONWithRunID(t *testing.T) {
	dir := t.TempDir()
	l := New(Options{Dir: dir, Level: "info"})
	l.Info("transcription finished", "chars", 42)
	l.Debug("should be filtered")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1:\n%s", len(lines), data)
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "transcription finished" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["run_id"] != l.RunID || l.RunID == "" {
		t.Errorf("run_id = %v, want %q", rec["run_id"], l.RunID)
	}
}

func TestVerboseMirrorsToStderr(t *testing.T) {
	var stderr bytes.Buffer
	dir := t.TempDir()
	l := New(Options{Dir: dir, Level: "warn", Verbose: true, Stderr: &stderr})
	l.Debug("converting input", "format", "m4a")
	l.Close()

	if !strings.Contains(stderr.String(), "converting input") {
		t.Errorf("stderr missing debug record: %q", stderr.String())
	}
	data, _ := os.ReadFile(filepath.Join(dir, FileName))
	if strings.Contains(string(data), "converting input") {
		t.Errorf("file handler should respect its own level")
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing happens")
	if l.LogFile != "" {
		t.Errorf("LogFile = %q, want empty", l.LogFile)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.LogLevel = "debug"
	var stderr bytes.Buffer

	l := FromConfig(cfg, true, &stderr)
	l.Debug("detected format", "format", "wav")
	l.Close()

	if l.LogFile != filepath.Join(cfg.LogDir(), FileName) {
		t.Errorf("LogFile = %q", l.LogFile)
	}
	data, err := os.ReadFile(l.LogFile)
	if err != nil || !strings.Contains(string(data), "detected format") {
		t.Errorf("log file = %q, err = %v", data, err)
	}
	if !strings.Contains(stderr.String(), "detected format") {
		t.Errorf("stderr = %q", stderr.String())
	}
}
