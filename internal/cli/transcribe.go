package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/abhishekbhakat/liqui-speak/internal/core/config"
	"github.com/abhishekbhakat/liqui-speak/internal/core/errdefs"
	"github.com/abhishekbhakat/liqui-speak/internal/core/logging"
	"github.com/abhishekbhakat/liqui-speak/internal/core/pipeline"
	"github.com/abhishekbhakat/liqui-speak/internal/core/transcriber"
	"github.com/spf13/cobra"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <audio-file>",
	Short: "Transcribe an audio file",
	Long: `Transcribe an audio file and print the text to stdout.

Supported formats: wav, flac, ogg, aiff, mp3, m4a, aac, alac, wma.
Formats that cannot be decoded in-process are converted with ffmpeg, or with
the embedded WebAssembly build when ffmpeg is not installed.`,
	Example: `  liqui-speak transcribe memo.m4a
  liqui-speak transcribe interview.mp3 --clean-text --play-audio`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTranscribe(cmd, args[0])
	},
}

func init() {
	addTranscribeFlags(transcribeCmd)
	rootCmd.AddCommand(transcribeCmd)
}

func runTranscribe(cmd *cobra.Command, path string) error {
	// The input is checked before anything under the home directory is touched.
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errdefs.Format("transcribe", fmt.Errorf("%w: %s", errdefs.ErrInputNotFound, path),
				"check the path and try again")
		}
		return errdefs.Format("transcribe", err, "")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cmd, cfg)
	defer logger.Close()

	stderr := cmd.ErrOrStderr()
	p, err := pipeline.New(cfg,
		pipeline.WithLogger(logger.Logger),
		pipeline.WithProgress(stderr))
	if err != nil {
		return err
	}

	res, err := p.Process(cmd.Context(), path, transcriber.Options{
		PlayAudio: playAudio,
		CleanText: cleanText,
		Verbose:   verbose,
	})
	if err != nil {
		return err
	}

	logger.Info("transcription complete",
		slog.Duration("audio", res.Duration),
		slog.Duration("elapsed", res.Elapsed),
		slog.Int("chunks", res.Chunks))
	if verbose {
		fmt.Fprintf(stderr, "Transcribed %s of audio in %s\n", res.Duration.Round(10*time.Millisecond), res.Elapsed.Round(10*time.Millisecond))
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Text)
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errdefs.Setup("load config", err,
			"fix the value in ~/.liqui_speak/config.yml or the LIQUI_SPEAK_ environment variables")
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *logging.Logger {
	return logging.FromConfig(cfg, verbose, cmd.ErrOrStderr())
}
