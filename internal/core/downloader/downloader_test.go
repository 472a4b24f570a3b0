package downloader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abhishekbhakat/liqui-speak/internal/core/errdefs"
)

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newTestDownloader(opts ...Option) *Downloader {
	base := []Option{WithBackoff(time.Millisecond, 5*time.Millisecond)}
	return New(append(base, opts...)...)
}

func TestFetchSuccess(t *testing.T) {
	payload := bytes.Repeat([]byte("gguf"), 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "liqui-speak/") {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Write(payload)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "nested", "model.gguf")
	res, err := newTestDownloader().Fetch(context.Background(), Request{URL: srv.URL, Dest: dest})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if res.SHA256 != sha(payload) || res.Size != int64(len(payload)) || res.Attempts != 1 {
		t.Errorf("result = %+v", res)
	}
	got, err := os.ReadFile(dest)
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("dest content mismatch (err %v)", err)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Errorf(".part file left behind")
	}
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	res, err := newTestDownloader().Fetch(context.Background(), Request{URL: srv.URL, Dest: filepath.Join(t.TempDir(), "f")})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "f")
	_, err := newTestDownloader(WithMaxAttempts(3)).Fetch(context.Background(), Request{URL: srv.URL, Dest: dest})
	if !errors.Is(err, errdefs.ErrDownload) {
		t.Fatalf("error = %v, want ErrDownload", err)
	}
	if errdefs.KindOf(err) != errdefs.KindSetup {
		t.Errorf("KindOf() = %v, want setup", errdefs.KindOf(err))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("dest must not exist after a failed download")
	}
}

func TestFetchClientErrorIsPermanent(t *testing.T) {
	tests := []struct {
		code      int
		wantCalls int32
	}{
		{http.StatusNotFound, 1},
		{http.StatusUnauthorized, 1},
		{http.StatusTooManyRequests, 2},
		{http.StatusRequestTimeout, 2},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			_, err := newTestDownloader(WithMaxAttempts(2)).Fetch(context.Background(),
				Request{URL: srv.URL, Dest: filepath.Join(t.TempDir(), "f")})
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("server saw %d requests, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestFetchVerifiesExpectedChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tampered"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "f")
	_, err := newTestDownloader(WithMaxAttempts(1)).Fetch(context.Background(), Request{
		URL:            srv.URL,
		Dest:           dest,
		ExpectedSHA256: sha([]byte("original")),
	})
	if !errors.Is(err, errdefs.ErrIntegrity) {
		t.Fatalf("error = %v, want ErrIntegrity", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("a file failing verification must not be renamed into place")
	}
}

func TestFetchUsesServerDigestAcrossRedirect(t *testing.T) {
	payload := []byte("weights")
	mux := http.NewServeMux()
	mux.HandleFunc("/resolve/model.gguf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Linked-Etag", `"`+sha(payload)+`"`)
		http.Redirect(w, r, "/blob/model.gguf", http.StatusFound)
	})
	mux.HandleFunc("/blob/model.gguf", func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := newTestDownloader().Fetch(context.Background(),
		Request{URL: srv.URL + "/resolve/model.gguf", Dest: filepath.Join(t.TempDir(), "model.gguf")})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if res.ServerDigest != sha(payload) {
		t.Errorf("ServerDigest = %q", res.ServerDigest)
	}
}

func TestFetchServerDigestMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"`+sha([]byte("something else"))+`"`)
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	_, err := newTestDownloader(WithMaxAttempts(2)).Fetch(context.Background(),
		Request{URL: srv.URL, Dest: filepath.Join(t.TempDir(), "f")})
	if !errors.Is(err, errdefs.ErrIntegrity) {
		t.Fatalf("error = %v, want ErrIntegrity", err)
	}
}

func TestFetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestDownloader().Fetch(ctx, Request{URL: srv.URL, Dest: filepath.Join(t.TempDir(), "f")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestParseDigest(t *testing.T) {
	hexSum := sha([]byte("x"))
	tests := []struct {
		in   string
		want string
	}{
		{`"` + hexSum + `"`, hexSum},
		{`W/"` + hexSum + `"`, hexSum},
		{"sha256:" + strings.ToUpper(hexSum), hexSum},
		{`"0123456789abcdef0123456789abcdef01234567"`, ""},
		{`"` + strings.Repeat("z", 64) + `"`, ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := parseDigest(tt.in); got != tt.want {
			t.Errorf("parseDigest(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPlainDisplay(t *testing.T) {
	payload := bytes.Repeat([]byte{1}, 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	var out bytes.Buffer
	display := NewDisplay(&out, false)
	_, err := newTestDownloader(WithProgress(display)).Fetch(context.Background(),
		Request{URL: srv.URL, Dest: filepath.Join(t.TempDir(), "f"), Label: "decoder.gguf"})
	display.Close()
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if !strings.Contains(out.String(), "Downloading decoder.gguf") || !strings.Contains(out.String(), "✓ decoder.gguf: 100%") {
		t.Errorf("unexpected progress output:\n%s", out.String())
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	os.WriteFile(path, []byte("abc"), 0o644)
	sum, n, err := HashFile(path)
	if err != nil || n != 3 || sum != sha([]byte("abc")) {
		t.Errorf("HashFile() = %q, %d, %v", sum, n, err)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{1536, "1.5 KB"},
		{1 << 30, "1.0 GB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
