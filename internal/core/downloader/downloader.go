package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/abhishekbhakat/liqui-speak/internal/core/errdefs"
	"github.com/abhishekbhakat/liqui-speak/internal/core/version"
	"github.com/cenkalti/backoff/v4"
)

// DefaultUserAgent is the User-Agent header sent with every request.
var DefaultUserAgent = "liqui-speak/" + version.Version

const (
	DefaultMaxAttempts     = 4
	DefaultInitialInterval = time.Second
	DefaultMaxInterval     = 30 * time.Second
)

// Request describes one file to fetch.
type Request struct {
	URL  string
	Dest string
	// Label is shown in progress output. Defaults to the base name of Dest.
	Label string
	// ExpectedSHA256 is verified when non-empty.
	ExpectedSHA256 string
	// Size is a hint for progress when the server omits Content-Length.
	Size int64
}

// Result describes a completed download.
type Result struct {
	Path     string
	SHA256   string
	Size     int64
	Attempts int
	// ServerDigest is the sha256 the server advertised, if any.
	ServerDigest string
}

// Downloader fetches files over HTTP with retries, streaming SHA-256 and an
// atomic rename into place.
type Downloader struct {
	client          *http.Client
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	progress        Progress
	logger          *slog.Logger
}

type Option func(*Downloader)

func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) { d.client = c }
}

func WithMaxAttempts(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithBackoff(initial, max time.Duration) Option {
	return func(d *Downloader) {
		d.initialInterval = initial
		d.maxInterval = max
	}
}

func WithProgress(p Progress) Option {
	return func(d *Downloader) {
		if p != nil {
			d.progress = p
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) {
		if l != nil {
			d.logger = l
		}
	}
}

func New(opts ...Option) *Downloader {
	d := &Downloader{
		client: &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
		},
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: DefaultInitialInterval,
		maxInterval:     DefaultMaxInterval,
		progress:        NopProgress{},
		logger:          slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// StatusError is a non-200 HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Permanent reports whether retrying cannot help. Client errors are
// permanent except request timeout and rate limiting.
func (e *StatusError) Permanent() bool {
	if e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests {
		return false
	}
	return e.Code >= 400 && e.Code < 500
}

// Fetch downloads req.URL to req.Dest. The body is written to Dest+".part"
// and renamed only after the checksum has been verified.
func (d *Downloader) Fetch(ctx context.Context, req Request) (*Result, error) {
	label := req.Label
	if label == "" {
		label = filepath.Base(req.Dest)
	}
	op := "download " + label

	if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		return nil, classify(op, err, 0)
	}

	part := req.Dest + ".part"
	defer os.Remove(part)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initialInterval
	b.MaxInterval = d.maxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.maxAttempts-1)), ctx)

	var (
		res      *Result
		attempts int
	)
	err := backoff.RetryNotify(func() error {
		attempts++
		r, err := d.fetchOnce(ctx, req, part, label)
		if err != nil {
			return err
		}
		res = r
		return nil
	}, policy, func(err error, wait time.Duration) {
		d.logger.Warn("download attempt failed",
			"file", label, "attempt", attempts, "retry_in", wait, "error", err)
	})
	if err == nil {
		err = os.Rename(part, req.Dest)
	}
	d.progress.Finish(label, err)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.logger.Error("download failed", "file", label, "attempts", attempts, "error", err)
		return nil, classify(op, err, attempts)
	}

	res.Path = req.Dest
	res.Attempts = attempts
	d.logger.Info("download complete",
		"file", label, "bytes", res.Size, "sha256", res.SHA256, "attempts", attempts)
	return res, nil
}

func (d *Downloader) fetchOnce(ctx context.Context, req Request, part, label string) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	httpReq.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		serr := &StatusError{Code: resp.StatusCode, URL: req.URL}
		if serr.Permanent() {
			return nil, backoff.Permanent(serr)
		}
		return nil, serr
	}

	total := resp.ContentLength
	if total <= 0 {
		total = req.Size
	}
	d.progress.Start(label, total)

	file, err := os.Create(part)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	hasher := sha256.New()
	counter := &progressWriter{progress: d.progress, label: label}
	n, copyErr := io.Copy(io.MultiWriter(file, hasher, counter), resp.Body)
	closeErr := file.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("download interrupted after %d bytes: %w", n, err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return nil, fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	digest := serverDigest(resp)
	for _, want := range []string{req.ExpectedSHA256, digest} {
		if want != "" && !strings.EqualFold(want, sum) {
			return nil, fmt.Errorf("%w: %s: got %s, want %s", errdefs.ErrIntegrity, label, sum, want)
		}
	}

	return &Result{SHA256: sum, Size: n, ServerDigest: digest}, nil
}

// serverDigest returns the sha256 advertised by the server for the final
// response or any redirect that led to it. Hugging Face sends it as
// X-Linked-Etag on the redirect and as ETag for LFS blobs.
func serverDigest(resp *http.Response) string {
	for r := resp; r != nil; {
		for _, key := range []string{"X-Linked-Etag", "ETag"} {
			if d := parseDigest(r.Header.Get(key)); d != "" {
				return d
			}
		}
		if r.Request == nil {
			break
		}
		r = r.Request.Response
	}
	return ""
}

func parseDigest(v string) string {
	v = strings.TrimPrefix(strings.TrimSpace(v), "W/")
	v = strings.Trim(v, `"`)
	v = strings.TrimPrefix(v, "sha256:")
	if len(v) != sha256.Size*2 {
		return ""
	}
	if _, err := hex.DecodeString(v); err != nil {
		return ""
	}
	return strings.ToLower(v)
}

func classify(op string, err error, attempts int) error {
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return errdefs.Setup(op, fmt.Errorf("%w: %v", errdefs.ErrStorage, err),
			"free up disk space or set LIQUI_SPEAK_MODEL_DIR to a larger volume")
	case errors.Is(err, errdefs.ErrIntegrity):
		return errdefs.Setup(op, err, "the download was corrupted in transit; run `liqui-speak config` again")
	case attempts == 0:
		return errdefs.Setup(op, fmt.Errorf("%w: %v", errdefs.ErrDownload, err), "check permissions on the model directory")
	}
	return errdefs.Setup(op, fmt.Errorf("%w after %d attempt(s): %v", errdefs.ErrDownload, attempts, err),
		"check your network connection and try again")
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// FormatBytes renders a byte count for user-facing messages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		return "??:??"
	}
	d = d.Round(time.Second)
	m := d / time.Minute
	s := (d % time.Minute) / time.Second
	if m > 60 {
		h := m / 60
		m = m % 60
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
