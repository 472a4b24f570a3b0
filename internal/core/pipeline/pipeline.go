// Package pipeline runs one audio file through detection, normalization and
// transcription.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/abhishekbhakat/liqui-speak/internal/core/audio"
	"github.com/abhishekbhakat/liqui-speak/internal/core/config"
	"github.com/abhishekbhakat/liqui-speak/internal/core/provision"
	"github.com/abhishekbhakat/liqui-speak/internal/core/transcriber"
)

// Pipeline processes audio files with a provisioned runner.
type Pipeline struct {
	config   *config.Config
	platform provision.Platform
	logger   *slog.Logger
	progress io.Writer

	runner    transcriber.Runner
	player    audio.Player
	converter audio.Converter
}

type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithProgress sets where verbose status lines are written.
func WithProgress(w io.Writer) Option {
	return func(p *Pipeline) { p.progress = w }
}

func WithPlatform(pl provision.Platform) Option {
	return func(p *Pipeline) { p.platform = pl }
}

// WithRunner replaces the provisioned binary runner.
func WithRunner(r transcriber.Runner) Option {
	return func(p *Pipeline) { p.runner = r }
}

func WithPlayer(pl audio.Player) Option {
	return func(p *Pipeline) { p.player = pl }
}

func WithConverter(c audio.Converter) Option {
	return func(p *Pipeline) { p.converter = c }
}

// New creates a pipeline for cfg on the running platform.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		config:   cfg,
		logger:   slog.New(slog.DiscardHandler),
		progress: io.Discard,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.platform == "" {
		pl, err := provision.Current()
		if err != nil {
			return nil, err
		}
		p.platform = pl
	}
	if p.player == nil {
		p.player = audio.NewDevicePlayer()
	}
	if p.converter == nil {
		conv, err := audio.NewConverter(cfg.Converter, cfg.SampleRate, cfg.Channels, p.logger)
		if err != nil {
			return nil, err
		}
		p.converter = conv
	}
	return p, nil
}

// Process transcribes the file at path. The input is checked before the
// model directory is read.
func (p *Pipeline) Process(ctx context.Context, path string, opts transcriber.Options) (*transcriber.Result, error) {
	logger := p.logger.With("input", filepath.Base(path))
	if opts.ChunkDuration == 0 {
		opts.ChunkDuration = p.config.ChunkDuration
		opts.Overlap = p.config.Overlap
	}

	format, err := audio.Detect(path)
	if err != nil {
		logger.Error("format detection failed", "error", err)
		return nil, err
	}
	logger.Info("format detected", "format", format)
	p.progressf(opts, "Detected %s audio\n", format)

	runner := p.runner
	if runner == nil {
		paths, err := provision.Verify(p.config, p.platform, p.config.VerifyChecksums == config.VerifyFull)
		if err != nil {
			logger.Error("environment not ready", "error", err)
			return nil, err
		}
		br := transcriber.NewBinaryRunner(paths, p.config, logger)
		if opts.Verbose {
			br.Stderr = p.progress
		}
		runner = br
	}

	normalizer := &audio.Normalizer{
		SampleRate: p.config.SampleRate,
		Channels:   p.config.Channels,
		Converter:  p.converter,
		Logger:     logger,
	}
	buf, err := normalizer.Normalize(ctx, audio.Source{Path: path, Format: format})
	if err != nil {
		logger.Error("normalization failed", "error", err)
		return nil, err
	}
	p.progressf(opts, "Normalized to %d Hz, %d channel(s), %s\n", buf.SampleRate, buf.Channels, buf.Duration())

	dispatcher := &transcriber.Dispatcher{
		Runner:   runner,
		Player:   p.player,
		Progress: p.progress,
		Logger:   logger,
	}
	res, err := dispatcher.Transcribe(ctx, buf, opts)
	if err != nil {
		logger.Error("transcription failed", "error", err)
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) progressf(opts transcriber.Options, format string, args ...any) {
	if opts.Verbose {
		fmt.Fprintf(p.progress, format, args...)
	}
}
