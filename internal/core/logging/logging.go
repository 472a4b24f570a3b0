// Package logging sets up the per-run structured logger: JSON lines to a
// rotated file under the home directory, plus human-readable text on stderr
// when verbose output is requested.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/abhishekbhakat/liqui-speak/internal/core/config"
	"github.com/abhishekbhakat/liqui-speak/internal/core/version"
	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

const FileName = "liqui-speak.log"

type Logger struct {
	*slog.Logger
	LogFile string
	RunID   string
	Start   time.Time

	closer io.Closer
}

// Options selects where log records go.
type Options struct {
	// Dir is the directory for the rotated log file. Empty disables file logging.
	Dir   string
	Level string
	// Verbose mirrors every record at debug level to Stderr.
	Verbose bool
	Stderr  io.Writer
}

func New(opts Options) *Logger {
	runID := uuid.NewString()

	var handlers []slog.Handler
	l := &Logger{RunID: runID, Start: time.Now()}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err == nil {
			w := &lumberjack.Logger{
				Filename:   filepath.Join(opts.Dir, FileName),
				MaxSize:    4, // MB
				MaxBackups: 3,
			}
			l.LogFile = w.Filename
			l.closer = w
			handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{
				Level: config.ParseLogLevel(opts.Level),
			}))
		}
	}

	if opts.Verbose {
		stderr := opts.Stderr
		if stderr == nil {
			stderr = os.Stderr
		}
		handlers = append(handlers, slog.NewTextHandler(stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	var h slog.Handler
	switch len(handlers) {
	case 0:
		h = slog.NewTextHandler(io.Discard, nil)
	case 1:
		h = handlers[0]
	default:
		h = fanout(handlers)
	}

	l.Logger = slog.New(h).With(slog.String("run_id", runID))
	l.Debug("logger started",
		slog.String("version", version.Version),
		slog.String("GOOS", runtime.GOOS),
		slog.String("GOARCH", runtime.GOARCH))
	return l
}

// FromConfig creates the logger for one run. With verbose set, records are
// mirrored to stderr, or to os.Stderr when stderr is nil.
func FromConfig(cfg *config.Config, verbose bool, stderr io.Writer) *Logger {
	return New(Options{
		Dir:     cfg.LogDir(),
		Level:   cfg.LogLevel,
		Verbose: verbose,
		Stderr:  stderr,
	})
}

// Discard returns a logger that drops everything. Used by tests and library callers.
func Discard() *Logger {
	return New(Options{})
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	l.Debug("logger closed", slog.Duration("elapsed", time.Since(l.Start)))
	return l.closer.Close()
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
