// Package transcriber feeds normalized audio to the inference runner and
// assembles the text.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/abhishekbhakat/liqui-speak/internal/core/audio"
	"github.com/abhishekbhakat/liqui-speak/internal/core/errdefs"
	"golang.org/x/sync/errgroup"
)

// Options control one transcription.
type Options struct {
	PlayAudio bool
	CleanText bool
	Verbose   bool
	// ChunkDuration and Overlap are in seconds. A zero ChunkDuration
	// transcribes the whole buffer in one run.
	ChunkDuration float64
	Overlap       float64
}

// Result is the outcome of a transcription.
type Result struct {
	Text     string        // Final text, cleaned when requested
	RawText  string        // Text as produced by the runner
	Duration time.Duration // Audio duration
	Elapsed  time.Duration
	Chunks   int
}

// Dispatcher writes the buffer to a temporary WAV file, runs the runner on it
// and optionally plays the audio at the same time.
type Dispatcher struct {
	Runner Runner
	Player audio.Player
	// TempDir is where the WAV handed to the runner is written. Empty uses os.TempDir.
	TempDir string
	// Progress receives verbose status lines. Nil discards them.
	Progress io.Writer
	Logger   *slog.Logger
}

// Transcribe returns when inference finishes. Playback, if requested, is
// stopped at that point; its failures are logged and never fail the call.
func (d *Dispatcher) Transcribe(ctx context.Context, buf *audio.Buffer, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if buf == nil || buf.Frames() == 0 {
		return nil, errdefs.Format("transcribe", errors.New("no audio samples"), "")
	}
	logger := d.logger()
	start := time.Now()

	tmp, err := os.MkdirTemp(d.TempDir, "liqui-speak-transcribe-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	var (
		g        errgroup.Group
		raw      string
		chunks   int
		inferErr error
	)
	playCtx, stopPlayback := context.WithCancel(ctx)
	defer stopPlayback()

	if opts.PlayAudio && d.Player != nil {
		d.progressf(opts, "Playing audio (%s)\n", buf.Duration().Round(100*time.Millisecond))
		g.Go(func() error {
			if err := d.Player.Play(playCtx, buf); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("playback failed", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer stopPlayback()
		raw, chunks, inferErr = d.infer(ctx, tmp, buf, opts)
		return nil
	})
	_ = g.Wait()

	if inferErr != nil {
		return nil, inferErr
	}
	if raw == "" {
		return nil, errdefs.Inference("transcribe", errdefs.ErrEmptyResult,
			"the runner produced no text; check that the audio contains speech")
	}

	res := &Result{
		Text:     raw,
		RawText:  raw,
		Duration: buf.Duration(),
		Elapsed:  time.Since(start),
		Chunks:   chunks,
	}
	if opts.CleanText {
		res.Text = CleanText(raw)
		d.progressf(opts, "Cleaned transcription\n")
	}
	logger.Info("transcription complete",
		"audio", res.Duration, "elapsed", res.Elapsed, "chunks", chunks, "chars", len(res.Text))
	return res, nil
}

func (d *Dispatcher) infer(ctx context.Context, tmp string, buf *audio.Buffer, opts Options) (string, int, error) {
	windows := splitWindows(buf.Frames(), buf.SampleRate, opts.ChunkDuration, opts.Overlap)
	parts := make([]string, 0, len(windows))
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return "", 0, err
		}
		chunk := buf
		if len(windows) > 1 {
			chunk = buf.Slice(w.start, w.end)
			d.progressf(opts, "Transcribing chunk %d/%d (%s)\n", i+1, len(windows), chunk.Duration().Round(100*time.Millisecond))
		} else {
			d.progressf(opts, "Transcribing %s of audio with %s\n", buf.Duration().Round(100*time.Millisecond), d.Runner.Name())
		}

		wavPath := filepath.Join(tmp, fmt.Sprintf("chunk-%03d.wav", i))
		if err := audio.WriteWAV(wavPath, chunk); err != nil {
			return "", 0, fmt.Errorf("failed to write audio for the runner: %w", err)
		}
		text, err := d.Runner.Run(ctx, wavPath)
		os.Remove(wavPath)
		if err != nil {
			return "", 0, err
		}
		d.logger().Debug("chunk transcribed", "index", i, "start_frame", w.start, "end_frame", w.end, "chars", len(text))
		parts = append(parts, text)
	}
	return mergeTranscripts(parts), len(windows), nil
}

func (d *Dispatcher) progressf(opts Options, format string, args ...any) {
	if opts.Verbose && d.Progress != nil {
		fmt.Fprintf(d.Progress, format, args...)
	}
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.New(slog.DiscardHandler)
}
