package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/abhishekbhakat/liqui-speak/internal/core/errdefs"
)

// Normalizer turns a detected Source into a Buffer at a fixed sample rate
// and channel count.
type Normalizer struct {
	SampleRate int
	Channels   int
	Converter  Converter
	// TempDir is where conversion intermediates are created. Empty uses os.TempDir.
	TempDir string
	Logger  *slog.Logger
}

// Normalize decodes src and converts it to the normalizer's rate and channel
// count. Conversion intermediates are removed before it returns.
func (n *Normalizer) Normalize(ctx context.Context, src Source) (*Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := n.logger()

	var (
		buf *Buffer
		err error
	)
	switch {
	case src.Format.Native():
		buf, err = decodeNative(src.Path, src.Format)
		if err != nil {
			logger.Debug("native decode failed, trying converter",
				"format", src.Format.String(), "error", err)
			var convErr error
			buf, convErr = n.convert(ctx, src)
			if convErr != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if errors.Is(err, errNeedsConversion) {
					return nil, convErr
				}
				return nil, errdefs.Format("decode "+src.Format.String(),
					fmt.Errorf("%w: %v (converter: %v)", errdefs.ErrUnsupportedFormat, err, convErr),
					"the file may be truncated or corrupt")
			}
		}
	case src.Format.Convertible():
		buf, err = n.convert(ctx, src)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errdefs.Format("normalize",
			&errdefs.UnsupportedFormatError{Format: src.Format.String(), Reason: "unrecognized container"}, "")
	}

	if buf.Frames() == 0 {
		return nil, errdefs.Format("normalize",
			&errdefs.UnsupportedFormatError{Format: src.Format.String(), Reason: "no audio samples"},
			"the file decodes to silence of zero length")
	}

	in := buf
	buf = Resample(Remix(buf, n.Channels), n.SampleRate)
	logger.Debug("audio normalized",
		"format", src.Format.String(),
		"source_rate", in.SampleRate,
		"source_channels", in.Channels,
		"rate", buf.SampleRate,
		"channels", buf.Channels,
		"duration", buf.Duration())
	return buf, nil
}

// convert runs the converter into a scoped temporary directory and decodes the result.
func (n *Normalizer) convert(ctx context.Context, src Source) (*Buffer, error) {
	if n.Converter == nil {
		return nil, errdefs.Conversion("convert", fmt.Errorf("%w: no converter configured", errdefs.ErrConversion), "")
	}

	tmpDir, err := os.MkdirTemp(n.TempDir, "liqui-speak-convert-*")
	if err != nil {
		return nil, errdefs.Conversion("convert", err, "")
	}
	defer os.RemoveAll(tmpDir)

	out := filepath.Join(tmpDir, "converted.wav")
	if err := n.Converter.Convert(ctx, src.Path, out); err != nil {
		return nil, err
	}

	buf, err := decodeWAV(out)
	if err != nil {
		return nil, errdefs.Conversion("convert", fmt.Errorf("%w: reading converter output: %v", errdefs.ErrConversion, err), "")
	}
	return buf, nil
}

func (n *Normalizer) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.New(slog.DiscardHandler)
}
