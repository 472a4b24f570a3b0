package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/abhishekbhakat/liqui-speak/internal/core/errdefs"
	"github.com/abhishekbhakat/liqui-speak/internal/core/version"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitSetup       = 3
	ExitTranscribe  = 4
	ExitInterrupted = 130
)

const usageHint = "run `liqui-speak --help` for usage"

var (
	playAudio bool
	cleanText bool
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "liqui-speak [audio-file]",
	Short: "Transcribe audio files locally with LFM2-Audio",
	Long: `Transcribe audio files locally with the LFM2-Audio model.

Run 'liqui-speak config' once to download the model and the runner for this
platform, then pass an audio file to transcribe it. The transcription is
written to stdout; progress and errors go to stderr.`,
	Version:       version.Version,
	Args:          usageArgs(cobra.MaximumNArgs(1)),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runTranscribe(cmd, args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show progress and debug logs on stderr")
	addTranscribeFlags(rootCmd)
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return errdefs.Usage(cmd.Name(), err, usageHint)
	})
}

// usageArgs classifies positional argument errors as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return errdefs.Usage(cmd.Name(), err, usageHint)
		}
		return nil
	}
}

func addTranscribeFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&playAudio, "play-audio", false, "play the audio while it is transcribed")
	cmd.Flags().BoolVar(&cleanText, "clean-text", false, "remove filler words and tidy punctuation")
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	resetFlags()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	code := exitCode(ctx, err)
	if err != nil && code != ExitInterrupted {
		printError(stderr, err)
	}
	if code == ExitInterrupted {
		fmt.Fprintln(stderr, "Interrupted")
	}
	return code
}

// resetFlags restores flag variables between runs in the same process.
func resetFlags() {
	playAudio, cleanText, verbose = false, false, false
	force, installDeps = false, false
	fullCheck, checkUpdate = false, false
}

func exitCode(ctx context.Context, err error) int {
	if err == nil {
		return ExitOK
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	switch errdefs.KindOf(err) {
	case errdefs.KindUsage:
		return ExitUsage
	case errdefs.KindSetup:
		return ExitSetup
	case errdefs.KindFormat, errdefs.KindConversion, errdefs.KindInference:
		return ExitTranscribe
	}
	return ExitFailure
}

func printError(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold)
	yellow := color.New(color.FgYellow)

	red.Fprint(w, "Error: ")
	fmt.Fprintln(w, err)
	if hint := errdefs.HintOf(err); hint != "" {
		yellow.Fprint(w, "Hint: ")
		fmt.Fprintln(w, hint)
	}
}
