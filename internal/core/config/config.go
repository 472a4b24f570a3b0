package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName = "config.yml"
	EnvFileName    = ".env"
	AppDirName     = ".liqui_speak"
	EnvPrefix      = "LIQUI_SPEAK_"

	DefaultRepo         = "LiquidAI/LFM2-Audio-1.5B-GGUF"
	DefaultHubURL       = "https://huggingface.co"
	DefaultSystemPrompt = "Perform ASR."
)

// Converter names accepted by the converter setting.
const (
	ConverterAuto   = "auto"
	ConverterFFmpeg = "ffmpeg"
	ConverterWASM   = "wasm"
)

// Checksum verification modes used before a transcription.
const (
	VerifyQuick = "quick"
	VerifyFull  = "full"
)

// Config holds all application configuration.
type Config struct {
	// HomeDir holds config.yml, .env and logs/. It is never read from the file.
	HomeDir string `yaml:"-"`

	ModelDir     string `yaml:"model_dir"`
	HubURL       string `yaml:"hub_url"`
	Repo         string `yaml:"repo"`
	SystemPrompt string `yaml:"system_prompt"`

	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// TranscriptionTimeout is in seconds.
	TranscriptionTimeout int `yaml:"transcription_timeout"`

	// ChunkDuration and Overlap are in seconds. Zero disables chunking.
	ChunkDuration float64 `yaml:"chunk_duration"`
	Overlap       float64 `yaml:"overlap"`

	Converter       string `yaml:"converter"`
	VerifyChecksums string `yaml:"verify_checksums"`
	LogLevel        string `yaml:"log_level"`
}

// HomeDir returns the application home directory.
// LIQUI_SPEAK_HOME overrides the default ~/.liqui_speak.
func HomeDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "HOME"); dir != "" {
		return expandPath(dir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, AppDirName), nil
}

// Default returns a Config with default values rooted at home.
func Default(home string) *Config {
	return &Config{
		HomeDir:              home,
		ModelDir:             filepath.Join(home, "models"),
		HubURL:               DefaultHubURL,
		Repo:                 DefaultRepo,
		SystemPrompt:         DefaultSystemPrompt,
		SampleRate:           48000,
		Channels:             1,
		TranscriptionTimeout: 60,
		Converter:            ConverterAuto,
		VerifyChecksums:      VerifyQuick,
		LogLevel:             "info",
	}
}

// Load builds the configuration from defaults, the config file, the .env file
// and the process environment, in increasing order of precedence.
func Load() (*Config, error) {
	home, err := HomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	return LoadFrom(home)
}

// LoadFrom is Load with an explicit home directory. Missing files are not an error.
func LoadFrom(home string) (*Config, error) {
	cfg := Default(home)

	envPath := filepath.Join(home, EnvFileName)
	if _, err := os.Stat(envPath); err == nil {
		// godotenv.Load never overrides variables that are already set.
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("reading %s: %w", envPath, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(home, ConfigFileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.ModelDir = expandPath(cfg.ModelDir)
	cfg.HubURL = strings.TrimRight(cfg.HubURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			// Accept "60.0" style values.
			f, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if ferr != nil {
				return fmt.Errorf("%s%s: invalid integer %q", EnvPrefix, key, v)
			}
			n = int(f)
		}
		*dst = n
		return nil
	}
	float := func(key string, dst *float64) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%s%s: invalid number %q", EnvPrefix, key, v)
		}
		*dst = f
		return nil
	}

	str("MODEL_DIR", &c.ModelDir)
	str("HUB_URL", &c.HubURL)
	str("REPO", &c.Repo)
	str("CONVERTER", &c.Converter)
	str("VERIFY_CHECKSUMS", &c.VerifyChecksums)
	str("LOG_LEVEL", &c.LogLevel)

	for _, f := range []func() error{
		func() error { return integer("SAMPLE_RATE", &c.SampleRate) },
		func() error { return integer("CHANNELS", &c.Channels) },
		func() error { return integer("TRANSCRIPTION_TIMEOUT", &c.TranscriptionTimeout) },
		func() error { return float("CHUNK_DURATION", &c.ChunkDuration) },
		func() error { return float("OVERLAP", &c.Overlap) },
	} {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.ModelDir == "" {
		return fmt.Errorf("model_dir must not be empty")
	}
	if c.Repo == "" {
		return fmt.Errorf("repo must not be empty")
	}
	if !strings.HasPrefix(c.HubURL, "http://") && !strings.HasPrefix(c.HubURL, "https://") {
		return fmt.Errorf("hub_url must be an http(s) URL, got %q", c.HubURL)
	}
	if c.SampleRate < 8000 || c.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000, got %d", c.SampleRate)
	}
	if c.Channels < 1 || c.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.TranscriptionTimeout <= 0 {
		return fmt.Errorf("transcription_timeout must be > 0")
	}
	if c.ChunkDuration < 0 {
		return fmt.Errorf("chunk_duration must be >= 0")
	}
	if c.Overlap < 0 || (c.ChunkDuration > 0 && c.Overlap >= c.ChunkDuration) {
		return fmt.Errorf("overlap must be >= 0 and shorter than chunk_duration")
	}

	switch c.Converter {
	case ConverterAuto, ConverterFFmpeg, ConverterWASM:
	default:
		return fmt.Errorf("converter must be auto, ffmpeg, or wasm, got %q", c.Converter)
	}

	switch c.VerifyChecksums {
	case VerifyQuick, VerifyFull:
	default:
		return fmt.Errorf("verify_checksums must be quick or full, got %q", c.VerifyChecksums)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// Timeout returns the per-invocation inference timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TranscriptionTimeout) * time.Second
}

// LogDir returns the directory holding rotated log files.
func (c *Config) LogDir() string {
	return filepath.Join(c.HomeDir, "logs")
}

// ParseLogLevel converts a log level string to slog.Level.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandPath replaces a leading "~", "~/" or "~\" with the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return ""
	}

	if strings.HasPrefix(path, "~") {
		if len(path) == 1 || path[1] == '/' || path[1] == '\\' {
			home, err := os.UserHomeDir()
			if err == nil {
				subPath := path[1:]
				if len(subPath) > 0 && (subPath[0] == '/' || subPath[0] == '\\') {
					subPath = subPath[1:]
				}
				return filepath.Join(home, subPath)
			}
		}
	}

	return path
}
