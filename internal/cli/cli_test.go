package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/abhishekbhakat/liqui-speak/internal/core/audio"
	"github.com/abhishekbhakat/liqui-speak/internal/core/config"
	"github.com/abhishekbhakat/liqui-speak/internal/core/downloader"
	"github.com/abhishekbhakat/liqui-speak/internal/core/errdefs"
	"github.com/abhishekbhakat/liqui-speak/internal/core/provision"
)

// isolate points the application home at a fresh, not yet existing directory.
func isolate(t *testing.T) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("LIQUI_SPEAK_HOME", home)
	for _, key := range []string{"MODEL_DIR", "SAMPLE_RATE", "CHANNELS", "CONVERTER", "VERIFY_CHECKSUMS", "LOG_LEVEL"} {
		t.Setenv("LIQUI_SPEAK_"+key, "")
	}
	return home
}

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestExitCode(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want int
	}{
		{"success", context.Background(), nil, ExitOK},
		{"usage", context.Background(), errdefs.Usage("root", errors.New("bad flag"), ""), ExitUsage},
		{"setup", context.Background(), errdefs.Setup("verify", errdefs.ErrNotProvisioned, ""), ExitSetup},
		{"format", context.Background(), errdefs.Format("detect", errdefs.ErrUnknownFormat, ""), ExitTranscribe},
		{"conversion", context.Background(), errdefs.Conversion("ffmpeg", errdefs.ErrConversion, ""), ExitTranscribe},
		{"inference", context.Background(), errdefs.Inference("run", errdefs.ErrInference, ""), ExitTranscribe},
		{"empty result", context.Background(), errdefs.Inference("transcribe", errdefs.ErrEmptyResult, ""), ExitTranscribe},
		{"wrapped", context.Background(), fmt.Errorf("outer: %w", errdefs.Setup("x", errdefs.ErrStorage, "")), ExitSetup},
		{"plain", context.Background(), errors.New("boom"), ExitFailure},
		{"interrupted", cancelled, fmt.Errorf("running: %w", context.Canceled), ExitInterrupted},
		{"canceled without signal", context.Background(), context.Canceled, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.ctx, tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUsageErrors(t *testing.T) {
	home := isolate(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--bogus"}},
		{"too many files", []string{"a.wav", "b.wav"}},
		{"transcribe without file", []string{"transcribe"}},
		{"config with argument", []string{"config", "extra"}},
		{"unknown config flag", []string{"config", "--fast"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(t, tt.args...)
			if code != ExitUsage {
				t.Errorf("exit code = %d, want %d (stderr: %s)", code, ExitUsage, stderr)
			}
			if !strings.Contains(stderr, "Error:") {
				t.Errorf("stderr = %q", stderr)
			}
		})
	}
	if _, err := os.Stat(home); !os.IsNotExist(err) {
		t.Error("usage errors must not create the home directory")
	}
}

func TestMissingInput(t *testing.T) {
	tests := []struct {
		name string
		args func(path string) []string
	}{
		{"root", func(path string) []string { return []string{path} }},
		{"transcribe", func(path string) []string { return []string{"transcribe", path, "--clean-text"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := isolate(t)
			missing := filepath.Join(t.TempDir(), "missing.m4a")

			code, stdout, stderr := runCLI(t, tt.args(missing)...)
			if code != ExitTranscribe {
				t.Errorf("exit code = %d, want %d", code, ExitTranscribe)
			}
			if stdout != "" {
				t.Errorf("stdout = %q, want empty", stdout)
			}
			if !strings.Contains(stderr, errdefs.ErrInputNotFound.Error()) || !strings.Contains(stderr, "Hint:") {
				t.Errorf("stderr = %q", stderr)
			}
			if _, err := os.Stat(home); !os.IsNotExist(err) {
				t.Error("home directory must not be created")
			}
		})
	}
}

func TestTranscribeNotProvisioned(t *testing.T) {
	if _, err := provision.Current(); err != nil {
		t.Skip("platform not supported")
	}
	isolate(t)
	input := filepath.Join(t.TempDir(), "note.wav")
	if err := os.WriteFile(input, []byte("RIFF\x24\x00\x00\x00WAVEfmt "), 0o644); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := runCLI(t, input)
	if code != ExitSetup {
		t.Errorf("exit code = %d, want %d (stderr: %s)", code, ExitSetup, stderr)
	}
	if stdout != "" {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.Contains(stderr, "liqui-speak config") {
		t.Errorf("stderr missing provisioning hint: %q", stderr)
	}
}

// installFakeModel provisions home with placeholder weights and a shell
// script standing in for the inference binary.
func installFakeModel(t *testing.T, home, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake runner is a shell script")
	}
	pl, err := provision.Current()
	if err != nil {
		t.Skip("platform not supported")
	}

	cfg := config.Default(home)
	m := provision.NewManifest(cfg.Repo, pl)
	files := []struct {
		rel  string
		kind provision.AssetKind
		body string
		mode os.FileMode
	}{
		{provision.ModelFile, provision.KindModel, "weights", 0o644},
		{provision.MMProjFile, provision.KindModel, "projector", 0o644},
		{provision.AudioDecoderFile, provision.KindModel, "decoder", 0o644},
		{path.Join("runners", string(pl), "bin", provision.BinaryName), provision.KindRunner, "#!/bin/sh\n" + script, 0o755},
	}
	for _, f := range files {
		full := filepath.Join(cfg.ModelDir, filepath.FromSlash(f.rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(f.body), f.mode); err != nil {
			t.Fatal(err)
		}
		sum, _, err := downloader.HashFile(full)
		if err != nil {
			t.Fatal(err)
		}
		if err := m.Record(cfg.ModelDir, f.rel, f.kind, sum, ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.Save(cfg.ModelDir); err != nil {
		t.Fatal(err)
	}
}

func writeTone(t *testing.T) string {
	t.Helper()
	rate := 16000
	b := &audio.Buffer{Samples: make([]float32, rate/2), SampleRate: rate, Channels: 1}
	for i := range b.Samples {
		b.Samples[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	p := filepath.Join(t.TempDir(), "memo.wav")
	if err := audio.WriteWAV(p, b); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestTranscribeEndToEnd(t *testing.T) {
	tests := []struct {
		name string
		args func(input string) []string
		want string
	}{
		{"root", func(input string) []string { return []string{input} }, "So um the meeting moved to Friday."},
		{"transcribe", func(input string) []string { return []string{"transcribe", input} }, "So um the meeting moved to Friday."},
		{"clean text", func(input string) []string { return []string{input, "--clean-text"} }, "So the meeting moved to Friday."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := isolate(t)
			installFakeModel(t, home, `echo "loading model" >&2
echo "So um the meeting moved to Friday."
echo "decode: 12 ms"
`)

			code, stdout, stderr := runCLI(t, tt.args(writeTone(t))...)
			if code != ExitOK {
				t.Fatalf("exit code = %d, stderr: %s", code, stderr)
			}
			if got := strings.TrimSpace(stdout); got != tt.want {
				t.Errorf("stdout = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusNotProvisioned(t *testing.T) {
	if _, err := provision.Current(); err != nil {
		t.Skip("platform not supported")
	}
	isolate(t)

	code, stdout, _ := runCLI(t, "status")
	if code != ExitSetup {
		t.Errorf("exit code = %d, want %d", code, ExitSetup)
	}
	if !strings.Contains(stdout, "Manifest:        none") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestVersion(t *testing.T) {
	code, stdout, _ := runCLI(t, "version")
	if code != ExitOK {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.HasPrefix(stdout, "liqui-speak v") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestVersionCheck(t *testing.T) {
	orig := latestRelease
	t.Cleanup(func() { latestRelease = orig })

	tests := []struct {
		name   string
		latest string
		newer  bool
		err    error
		code   int
		want   string
	}{
		{"newer", "9.9.9", true, nil, ExitOK, "Update available: v9.9.9"},
		{"current", "0.0.1", false, nil, ExitOK, "Up to date"},
		{"no releases", "", false, nil, ExitOK, "No releases published yet"},
		{"network", "", false, errors.New("offline"), ExitFailure, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			latestRelease = func(context.Context) (string, bool, error) { return tt.latest, tt.newer, tt.err }
			code, stdout, _ := runCLI(t, "version", "--check")
			if code != tt.code {
				t.Errorf("exit code = %d, want %d", code, tt.code)
			}
			if !strings.Contains(stdout, tt.want) {
				t.Errorf("stdout = %q, want %q", stdout, tt.want)
			}
		})
	}

	called := false
	latestRelease = func(context.Context) (string, bool, error) { called = true; return "", false, nil }
	runCLI(t, "version")
	if called {
		t.Error("version without --check must not contact GitHub")
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, &provision.Report{
		Platform: provision.PlatformUbuntuX64,
		ModelDir: "/models",
		Assets: []provision.AssetReport{
			{Name: "model", Description: "LFM2-Audio 1.5B language model (Q8_0)", Action: provision.ActionPresent, Size: 1 << 30},
			{Name: "runner", Description: "llama-lfm2-audio runner for ubuntu-x64", Action: provision.ActionDownloaded, Size: 1 << 20},
		},
		Hints: []string{"install ffmpeg"},
	})
	out := buf.String()
	for _, want := range []string{"LFM2-Audio 1.5B language model", "runner for ubuntu-x64", "downloaded", "Hint: install ffmpeg", "Ready for ubuntu-x64"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestNoArgsShowsHelp(t *testing.T) {
	code, stdout, _ := runCLI(t)
	if code != ExitOK {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout, "liqui-speak [audio-file]") {
		t.Errorf("help output = %q", stdout)
	}
}

func TestFlagsResetBetweenRuns(t *testing.T) {
	isolate(t)
	missing := filepath.Join(t.TempDir(), "missing.wav")
	runCLI(t, missing, "--play-audio", "--clean-text")
	if !playAudio || !cleanText {
		t.Fatal("flags not parsed")
	}
	runCLI(t, missing)
	if playAudio || cleanText {
		t.Error("flags leaked into the next run")
	}
}
