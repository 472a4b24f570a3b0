package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/gruf/go-ffmpreg/ffmpreg"
	"codeberg.org/gruf/go-ffmpreg/wasm"
	"github.com/abhishekbhakat/liqui-speak/internal/core/config"
	"github.com/abhishekbhakat/liqui-speak/internal/core/errdefs"
	"github.com/tetratelabs/wazero"
)

// Compile-time interface implementation checks.
var (
	_ Converter = (*ExecConverter)(nil)
	_ Converter = (*WASMConverter)(nil)
	_ Converter = (*AutoConverter)(nil)
)

// Converter transcodes an input file into a 16-bit PCM WAV at the target
// rate and channel count.
type Converter interface {
	Convert(ctx context.Context, in, out string) error
	Name() string
}

// maxStderr bounds how much converter output is kept for error messages.
const maxStderr = 8 << 10

// ffmpegArgs builds the shared argument list for both ffmpeg flavours.
func ffmpegArgs(in, out string, sampleRate, channels int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-i", in,
		"-vn",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-c:a", "pcm_s16le",
		"-y",
		out,
	}
}

// ExecConverter runs the system ffmpeg binary.
type ExecConverter struct {
	// Path to ffmpeg. Empty means look it up on PATH at conversion time.
	Path       string
	SampleRate int
	Channels   int
}

func (c *ExecConverter) Name() string { return "ffmpeg" }

func (c *ExecConverter) Convert(ctx context.Context, in, out string) error {
	bin := c.Path
	if bin == "" {
		var err error
		if bin, err = exec.LookPath("ffmpeg"); err != nil {
			return errdefs.Conversion("ffmpeg", err,
				"install ffmpeg or set LIQUI_SPEAK_CONVERTER=wasm")
		}
	}

	stderr := &TailBuffer{Max: maxStderr}
	cmd := exec.CommandContext(ctx, bin, ffmpegArgs(in, out, c.SampleRate, c.Channels)...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errdefs.Conversion("ffmpeg", fmt.Errorf("%w: %v: %s", errdefs.ErrConversion, err, stderr.String()),
			"the input may be corrupt or use a codec ffmpeg cannot read")
	}
	return nil
}

// WASMConverter runs ffmpeg compiled to WebAssembly under wazero. It needs no
// system dependency but is slower than the native binary.
type WASMConverter struct {
	SampleRate int
	Channels   int
}

func (c *WASMConverter) Name() string { return "ffmpeg-wasm" }

func (c *WASMConverter) Convert(ctx context.Context, in, out string) error {
	absInput, err := filepath.Abs(in)
	if err != nil {
		return errdefs.Conversion("ffmpeg-wasm", err, "")
	}
	absOutput, err := filepath.Abs(out)
	if err != nil {
		return errdefs.Conversion("ffmpeg-wasm", err, "")
	}

	inputDir := filepath.Dir(absInput)
	outputDir := filepath.Dir(absOutput)

	stderr := &TailBuffer{Max: maxStderr}
	args := wasm.Args{
		Stderr: stderr,
		Stdout: io.Discard,
		Args:   ffmpegArgs(absInput, absOutput, c.SampleRate, c.Channels),
		Config: func(cfg wazero.ModuleConfig) wazero.ModuleConfig {
			return cfg.WithFSConfig(wazero.NewFSConfig().
				WithDirMount(inputDir, inputDir).
				WithDirMount(outputDir, outputDir))
		},
	}

	rc, err := ffmpreg.Ffmpeg(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errdefs.Conversion("ffmpeg-wasm", fmt.Errorf("%w: %v", errdefs.ErrConversion, err), "")
	}
	if rc != 0 {
		return errdefs.Conversion("ffmpeg-wasm",
			fmt.Errorf("%w: exited with code %d: %s", errdefs.ErrConversion, rc, stderr.String()),
			"the input may be corrupt or use an unsupported codec")
	}
	return nil
}

// AutoConverter prefers the system ffmpeg and falls back to the WASM build.
type AutoConverter struct {
	SampleRate int
	Channels   int
	Logger     *slog.Logger

	lookPath func(string) (string, error)
}

func (c *AutoConverter) Name() string { return "auto" }

func (c *AutoConverter) Convert(ctx context.Context, in, out string) error {
	lookPath := c.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	var conv Converter
	if bin, err := lookPath("ffmpeg"); err == nil {
		conv = &ExecConverter{Path: bin, SampleRate: c.SampleRate, Channels: c.Channels}
	} else {
		conv = &WASMConverter{SampleRate: c.SampleRate, Channels: c.Channels}
	}
	if c.Logger != nil {
		c.Logger.Debug("converting audio", "converter", conv.Name(), "input", filepath.Base(in))
	}
	return conv.Convert(ctx, in, out)
}

// NewConverter returns the converter selected by name (see config.Converter*).
func NewConverter(name string, sampleRate, channels int, logger *slog.Logger) (Converter, error) {
	switch strings.ToLower(name) {
	case "", config.ConverterAuto:
		return &AutoConverter{SampleRate: sampleRate, Channels: channels, Logger: logger}, nil
	case config.ConverterFFmpeg:
		return &ExecConverter{SampleRate: sampleRate, Channels: channels}, nil
	case config.ConverterWASM:
		return &WASMConverter{SampleRate: sampleRate, Channels: channels}, nil
	}
	return nil, fmt.Errorf("unknown converter %q", name)
}

// TailBuffer keeps the last Max bytes written to it. Subprocess stderr is
// captured with it so error messages stay bounded.
type TailBuffer struct {
	Max int
	buf bytes.Buffer
}

func (b *TailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > b.Max {
		p = p[len(p)-b.Max:]
	}
	if over := b.buf.Len() + len(p) - b.Max; over > 0 {
		b.buf.Next(over)
	}
	b.buf.Write(p)
	return n, nil
}

// String returns the kept bytes without surrounding whitespace.
func (b *TailBuffer) String() string {
	return strings.TrimSpace(b.buf.String())
}
