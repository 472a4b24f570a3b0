// Package liquispeak transcribes audio files with a locally provisioned
// LFM2-Audio model. Run `liqui-speak config` once before calling Transcribe.
package liquispeak

import (
	"context"

	"github.com/abhishekbhakat/liqui-speak/internal/core/config"
	"github.com/abhishekbhakat/liqui-speak/internal/core/errdefs"
	"github.com/abhishekbhakat/liqui-speak/internal/core/logging"
	"github.com/abhishekbhakat/liqui-speak/internal/core/pipeline"
	"github.com/abhishekbhakat/liqui-speak/internal/core/transcriber"
)

// Errors returned by Transcribe. Match them with errors.Is.
var (
	ErrNotProvisioned      = errdefs.ErrNotProvisioned
	ErrUnsupportedPlatform = errdefs.ErrUnsupportedPlatform
	ErrInputNotFound       = errdefs.ErrInputNotFound
	ErrUnknownFormat       = errdefs.ErrUnknownFormat
	ErrUnsupportedFormat   = errdefs.ErrUnsupportedFormat
	ErrConversion          = errdefs.ErrConversion
	ErrInference           = errdefs.ErrInference
	ErrEmptyResult         = errdefs.ErrEmptyResult
)

// Options adjust a single transcription.
type Options struct {
	PlayAudio bool
	CleanText bool
	// Verbose writes records to the log file under the configuration directory.
	Verbose bool
}

// Transcribe returns the transcription of the audio file at path using the
// configuration from ~/.liqui_speak and the environment.
func Transcribe(ctx context.Context, path string) (string, error) {
	return TranscribeWithOptions(ctx, path, Options{})
}

// TranscribeWithOptions is Transcribe with explicit options.
func TranscribeWithOptions(ctx context.Context, path string, opts Options) (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", errdefs.Setup("load config", err, "")
	}

	logger := logging.Discard()
	if opts.Verbose {
		logger = logging.FromConfig(cfg, false, nil)
	}
	defer logger.Close()

	p, err := pipeline.New(cfg, pipeline.WithLogger(logger.Logger))
	if err != nil {
		return "", err
	}
	res, err := p.Process(ctx, path, transcriber.Options{
		PlayAudio: opts.PlayAudio,
		CleanText: opts.CleanText,
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
