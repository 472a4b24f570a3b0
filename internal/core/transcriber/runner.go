package transcriber

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/abhishekbhakat/liqui-speak/internal/core/audio"
	"github.com/abhishekbhakat/liqui-speak/internal/core/config"
	"github.com/abhishekbhakat/liqui-speak/internal/core/errdefs"
	"github.com/abhishekbhakat/liqui-speak/internal/core/provision"
)

const stderrTailSize = 4 << 10

// Runner turns one canonical WAV file into text.
type Runner interface {
	Run(ctx context.Context, wavPath string) (string, error)
	Name() string
}

var _ Runner = (*BinaryRunner)(nil)

// BinaryRunner runs the llama-lfm2-audio binary once per file.
type BinaryRunner struct {
	Paths        provision.Paths
	SystemPrompt string
	// Timeout bounds a single run. Zero means no limit beyond ctx.
	Timeout time.Duration
	// Stderr receives the binary's stderr as it is produced, if set.
	Stderr io.Writer
	Logger *slog.Logger
}

// NewBinaryRunner returns a runner for the provisioned paths using the prompt
// and timeout from cfg.
func NewBinaryRunner(paths provision.Paths, cfg *config.Config, logger *slog.Logger) *BinaryRunner {
	return &BinaryRunner{
		Paths:        paths,
		SystemPrompt: cfg.SystemPrompt,
		Timeout:      cfg.Timeout(),
		Logger:       logger,
	}
}

func (r *BinaryRunner) Name() string { return provision.BinaryName }

// Args returns the command line for wavPath, without the binary itself.
func (r *BinaryRunner) Args(wavPath string) []string {
	prompt := r.SystemPrompt
	if prompt == "" {
		prompt = config.DefaultSystemPrompt
	}
	return []string{
		"-m", r.Paths.Model,
		"--mmproj", r.Paths.MMProj,
		"-mv", r.Paths.AudioDecoder,
		"-sys", prompt,
		"--audio", wavPath,
	}
}

// Run executes the binary and returns the transcription lines from stdout
// with loader and timing noise removed. The result may be empty.
func (r *BinaryRunner) Run(ctx context.Context, wavPath string) (string, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.Paths.Binary, r.Args(wavPath)...)
	cmd.WaitDelay = 2 * time.Second

	tail := &audio.TailBuffer{Max: stderrTailSize}
	if r.Stderr != nil {
		cmd.Stderr = io.MultiWriter(tail, r.Stderr)
	} else {
		cmd.Stderr = tail
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	start := time.Now()
	logger.Debug("starting inference", "binary", r.Paths.Binary, "audio", wavPath, "timeout", r.Timeout)
	if err := cmd.Start(); err != nil {
		return "", errdefs.Inference("start "+provision.BinaryName,
			fmt.Errorf("%w: %v", errdefs.ErrInference, err), "run `liqui-speak config` to reinstall the runner")
	}

	text, scanErr := ParseOutput(stdout)
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()
	elapsed := time.Since(start)

	switch {
	case ctx.Err() != nil:
		return "", ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		logger.Error("inference timed out", "timeout", r.Timeout, "stderr", tail.String())
		return "", errdefs.Inference(provision.BinaryName,
			fmt.Errorf("%w: timed out after %s", errdefs.ErrInference, r.Timeout),
			"raise LIQUI_SPEAK_TRANSCRIPTION_TIMEOUT or enable chunking with LIQUI_SPEAK_CHUNK_DURATION")
	case waitErr != nil:
		logger.Error("inference failed", "error", waitErr, "stderr", tail.String())
		msg := waitErr.Error()
		if t := tail.String(); t != "" {
			msg += ": " + t
		}
		return "", errdefs.Inference(provision.BinaryName,
			fmt.Errorf("%w: %s", errdefs.ErrInference, msg), "run with --verbose to see the runner output")
	case scanErr != nil:
		return "", errdefs.Inference(provision.BinaryName,
			fmt.Errorf("%w: reading output: %v", errdefs.ErrInference, scanErr), "")
	}

	logger.Info("inference finished", "elapsed", elapsed, "chars", len(text))
	return text, nil
}

var (
	loaderNoise = []string{"loading", "model", "load_gguf", "loaded", "gguf", "encoding", "slice"}
	timingNoise = regexp.MustCompile(`\d\s*ms\b|tokens|speed`)
)

// isNoise reports whether a stdout line is loader or timing output rather
// than transcribed text.
func isNoise(line string) bool {
	lower := strings.ToLower(line)
	for _, w := range loaderNoise {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return timingNoise.MatchString(line)
}

// ParseOutput reads runner stdout and joins the text lines with single spaces.
func ParseOutput(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var parts []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || isNoise(line) {
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " "), scanner.Err()
}
