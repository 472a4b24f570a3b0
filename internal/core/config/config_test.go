package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Empty path", "", ""},
		{"Absolute path", "/absolute/path", "/absolute/path"},
		{"Home directory only", "~", home},
		{"Home directory with forward slash", "~/models", filepath.Join(home, "models")},
		{"Home directory with backslash", `~\models`, filepath.Join(home, "models")},
		{"Tilde in the middle", "/path/~/test", "/path/~/test"},
		{"Tilde user form", "~user", "~user"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandPath(tt.input); got != tt.expected {
				t.Errorf("expandPath(%q) = %q; want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default("/tmp/ls-home")

	if cfg.ModelDir != filepath.Join("/tmp/ls-home", "models") {
		t.Errorf("ModelDir = %q", cfg.ModelDir)
	}
	if cfg.SampleRate != 48000 || cfg.Channels != 1 {
		t.Errorf("audio = %d Hz / %d ch, want 48000 / 1", cfg.SampleRate, cfg.Channels)
	}
	if cfg.Timeout() != 60*time.Second {
		t.Errorf("Timeout() = %v", cfg.Timeout())
	}
	if cfg.ChunkDuration != 0 {
		t.Errorf("chunking should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid default", func(c *Config) {}, false},
		{"empty model dir", func(c *Config) { c.ModelDir = "" }, true},
		{"bad hub url", func(c *Config) { c.HubURL = "ftp://example.com" }, true},
		{"sample rate too low", func(c *Config) { c.SampleRate = 100 }, true},
		{"three channels", func(c *Config) { c.Channels = 3 }, true},
		{"stereo", func(c *Config) { c.Channels = 2 }, false},
		{"zero timeout", func(c *Config) { c.TranscriptionTimeout = 0 }, true},
		{"negative chunk", func(c *Config) { c.ChunkDuration = -1 }, true},
		{"overlap longer than chunk", func(c *Config) { c.ChunkDuration = 10; c.Overlap = 10 }, true},
		{"chunk with overlap", func(c *Config) { c.ChunkDuration = 30; c.Overlap = 2 }, false},
		{"unknown converter", func(c *Config) { c.Converter = "sox" }, true},
		{"wasm converter", func(c *Config) { c.Converter = ConverterWASM }, false},
		{"bad verify mode", func(c *Config) { c.VerifyChecksums = "never" }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromMissingFiles(t *testing.T) {
	home := t.TempDir()
	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.HomeDir != home {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, home)
	}
	if cfg.LogDir() != filepath.Join(home, "logs") {
		t.Errorf("LogDir() = %q", cfg.LogDir())
	}
}

func TestLoadPrecedence(t *testing.T) {
	home := t.TempDir()
	writeFile(t, filepath.Join(home, ConfigFileName), "sample_rate: 22050\nchannels: 2\nconverter: wasm\nhub_url: http://file.example/\n")

	t.Setenv(EnvPrefix+"SAMPLE_RATE", "16000")

	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, env should win over file", cfg.SampleRate)
	}
	if cfg.Channels != 2 {
		t.Errorf("Channels = %d, file should win over default", cfg.Channels)
	}
	if cfg.Converter != ConverterWASM {
		t.Errorf("Converter = %q", cfg.Converter)
	}
	if cfg.HubURL != "http://file.example" {
		t.Errorf("HubURL = %q, trailing slash should be trimmed", cfg.HubURL)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	home := t.TempDir()
	writeFile(t, filepath.Join(home, EnvFileName),
		EnvPrefix+"TRANSCRIPTION_TIMEOUT=120\n"+EnvPrefix+"CHANNELS=2\n")

	t.Setenv(EnvPrefix+"CHANNELS", "1")
	t.Cleanup(func() { os.Unsetenv(EnvPrefix + "TRANSCRIPTION_TIMEOUT") })

	cfg, err := LoadFrom(home)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.TranscriptionTimeout != 120 {
		t.Errorf("TranscriptionTimeout = %d, want value from .env", cfg.TranscriptionTimeout)
	}
	if cfg.Channels != 1 {
		t.Errorf("Channels = %d, .env must not override the environment", cfg.Channels)
	}
}

func TestLoadEnvErrors(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"SAMPLE_RATE", "fast"},
		{"CHUNK_DURATION", "long"},
		{"CHANNELS", "5"},
		{"CONVERTER", "sox"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(EnvPrefix+tt.key, tt.value)
			if _, err := LoadFrom(t.TempDir()); err == nil {
				t.Errorf("LoadFrom() with %s=%q should fail", tt.key, tt.value)
			}
		})
	}
}

func TestLoadFloatTimeout(t *testing.T) {
	t.Setenv(EnvPrefix+"TRANSCRIPTION_TIMEOUT", "90.0")
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if cfg.TranscriptionTimeout != 90 {
		t.Errorf("TranscriptionTimeout = %d, want 90", cfg.TranscriptionTimeout)
	}
}

func TestHomeDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvPrefix+"HOME", dir)
	got, err := HomeDir()
	if err != nil {
		t.Fatal(err)
	}
	if got != dir {
		t.Errorf("HomeDir() = %q, want %q", got, dir)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLogLevel(tt.input); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}
