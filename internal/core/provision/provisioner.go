// Package provision downloads and verifies the model weights and the
// inference runner.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/abhishekbhakat/liqui-speak/internal/core/config"
	"github.com/abhishekbhakat/liqui-speak/internal/core/downloader"
	"github.com/abhishekbhakat/liqui-speak/internal/core/errdefs"
	"golang.org/x/sync/errgroup"
)

const maxParallelDownloads = 2

const provisionHint = "run `liqui-speak config` to download the model and runner"

// Options control one EnsureReady run.
type Options struct {
	Verbose     bool
	Force       bool
	InstallDeps bool
}

// Action is what EnsureReady did with an asset.
type Action string

const (
	ActionPresent      Action = "present"
	ActionDownloaded   Action = "downloaded"
	ActionRedownloaded Action = "redownloaded"
)

// AssetReport describes the outcome for one catalog asset.
type AssetReport struct {
	Name        string
	Description string
	Path        string
	Action      Action
	Size        int64
}

// Report summarises an EnsureReady run.
type Report struct {
	Platform Platform
	ModelDir string
	Assets   []AssetReport
	Deps     DepsStatus
	Hints    []string
	Elapsed  time.Duration
}

// Downloaded reports whether any asset was fetched.
func (r *Report) Downloaded() bool {
	for _, a := range r.Assets {
		if a.Action != ActionPresent {
			return true
		}
	}
	return false
}

// Provisioner brings the model directory to the state described by the
// catalog for one platform.
type Provisioner struct {
	cfg      *config.Config
	platform Platform
	out      io.Writer
	logger   *slog.Logger
	deps     *DepChecker
	free     FreeSpaceFunc
	dlOpts   []downloader.Option
	display  func(io.Writer) downloader.Display
}

type Option func(*Provisioner)

// WithPlatform overrides the platform of the running binary.
func WithPlatform(pl Platform) Option {
	return func(p *Provisioner) { p.platform = pl }
}

// WithOutput sets where progress and step messages go. Defaults to stderr.
func WithOutput(w io.Writer) Option {
	return func(p *Provisioner) { p.out = w }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Provisioner) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithDepChecker(c *DepChecker) Option {
	return func(p *Provisioner) { p.deps = c }
}

func WithFreeSpace(f FreeSpaceFunc) Option {
	return func(p *Provisioner) { p.free = f }
}

// WithDownloaderOptions passes extra options to every downloader the
// provisioner creates.
func WithDownloaderOptions(opts ...downloader.Option) Option {
	return func(p *Provisioner) { p.dlOpts = append(p.dlOpts, opts...) }
}

// WithDisplay overrides how download progress is rendered.
func WithDisplay(f func(io.Writer) downloader.Display) Option {
	return func(p *Provisioner) { p.display = f }
}

// New returns a Provisioner for cfg. The platform defaults to the running one
// and an unsupported platform is an error.
func New(cfg *config.Config, opts ...Option) (*Provisioner, error) {
	p := &Provisioner{
		cfg:     cfg,
		out:     os.Stderr,
		logger:  slog.New(slog.DiscardHandler),
		deps:    NewDepChecker(),
		free:    FreeSpace,
		display: defaultDisplay,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.platform == "" {
		pl, err := Current()
		if err != nil {
			return nil, err
		}
		p.platform = pl
	}
	return p, nil
}

func defaultDisplay(w io.Writer) downloader.Display {
	f, ok := w.(*os.File)
	return downloader.NewDisplay(w, ok && downloader.IsTerminal(f))
}

type pendingAsset struct {
	asset  Asset
	action Action
}

type fetched struct {
	files []string // relative to the model dir
	sums  []string
}

// EnsureReady checks system dependencies, downloads missing or corrupt assets,
// installs the runner and writes the manifest. When every asset matches the
// manifest it returns without any network traffic.
func (p *Provisioner) EnsureReady(ctx context.Context, opts Options) (*Report, error) {
	start := time.Now()
	dir := p.cfg.ModelDir
	report := &Report{Platform: p.platform, ModelDir: dir}

	p.printf("Checking system dependencies...\n")
	report.Deps = p.deps.CheckSystemDeps(ctx, opts.InstallDeps)
	if report.Deps.Hint != "" {
		report.Hints = append(report.Hints, report.Deps.Hint)
	}
	p.logger.Info("system dependencies checked",
		"ffmpeg", report.Deps.FFmpeg,
		"package_manager", report.Deps.PackageManager,
		"installed", report.Deps.Installed)
	if opts.Verbose && report.Deps.FFmpeg != "" {
		p.printf("  ffmpeg: %s\n", report.Deps.FFmpeg)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errdefs.Setup("create model directory", err, "check permissions on "+dir)
	}

	p.printf("Verifying model files in %s...\n", dir)
	old := p.loadManifest(dir)
	next := NewManifest(p.cfg.Repo, p.platform)
	pending, err := p.plan(ctx, old, next, opts, report)
	if err != nil {
		return nil, err
	}

	if len(pending) == 0 {
		if old == nil || !sameAssets(old, next) {
			if err := next.Save(dir); err != nil {
				return nil, errdefs.Setup("write manifest", err, "check permissions on "+dir)
			}
		}
		report.Elapsed = time.Since(start)
		p.logger.Info("environment already provisioned", "model_dir", dir, "platform", p.platform)
		return report, nil
	}

	var need uint64
	for _, item := range pending {
		need += uint64(item.asset.Size)
	}
	if err := checkStorage(p.free, dir, need); err != nil {
		return nil, err
	}

	// Pending files are about to change. The manifest keeps only the entries
	// verified above, so a failed run does not lose them.
	if err := checkpoint(dir, next); err != nil {
		return nil, errdefs.Setup("write manifest", err, "check permissions on "+dir)
	}

	p.printf("Downloading %d file(s) from %s...\n", len(pending), p.cfg.Repo)
	results, err := p.download(ctx, pending)
	if err != nil {
		return nil, err
	}

	for i, item := range pending {
		url := URL(p.cfg.HubURL, p.cfg.Repo, item.asset.Path)
		for j, rel := range results[i].files {
			if err := next.Record(dir, rel, item.asset.Kind, results[i].sums[j], url); err != nil {
				return nil, errdefs.Setup("record "+rel, err, "re-run `liqui-speak config --force`")
			}
		}
	}
	if err := next.Save(dir); err != nil {
		return nil, errdefs.Setup("write manifest", err, "check permissions on "+dir)
	}

	report.Elapsed = time.Since(start)
	p.logger.Info("environment provisioned",
		"model_dir", dir, "platform", p.platform, "downloaded", len(pending), "elapsed", report.Elapsed)
	return report, nil
}

func (p *Provisioner) loadManifest(dir string) *Manifest {
	m, err := LoadManifest(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		p.logger.Warn("ignoring unreadable manifest", "error", err)
		return nil
	case m.Repo != p.cfg.Repo:
		p.logger.Info("manifest is for another repository", "manifest_repo", m.Repo, "repo", p.cfg.Repo)
		return nil
	}
	return m
}

// plan decides which catalog assets must be fetched. Assets kept as present
// are recorded into next.
func (p *Provisioner) plan(ctx context.Context, old, next *Manifest, opts Options, report *Report) ([]pendingAsset, error) {
	dir := p.cfg.ModelDir
	var pending []pendingAsset
	for _, asset := range Catalog(p.platform) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var (
			present bool
			existed bool
			err     error
		)
		if asset.Kind == KindRunner {
			present, existed, err = p.runnerPresent(old, next, opts.Force)
		} else {
			present, existed, err = p.modelPresent(old, next, asset, opts.Force)
		}
		if err != nil {
			return nil, errdefs.Setup("verify "+asset.Path, err, "check permissions on "+dir)
		}

		action := ActionPresent
		switch {
		case present:
		case existed:
			action = ActionRedownloaded
		default:
			action = ActionDownloaded
		}
		report.Assets = append(report.Assets, AssetReport{
			Name:        asset.Name,
			Description: asset.Description,
			Path:        asset.Path,
			Action:      action,
			Size:        asset.Size,
		})
		p.logger.Debug("asset planned", "asset", asset.Path, "action", action)
		if opts.Verbose {
			p.printf("  %-14s %s\n", asset.Name, action)
		}
		if !present {
			pending = append(pending, pendingAsset{asset: asset, action: action})
		}
	}
	return pending, nil
}

// modelPresent reports whether a weight file exists and hashes to its
// manifest entry.
func (p *Provisioner) modelPresent(old, next *Manifest, asset Asset, force bool) (present, existed bool, err error) {
	full := filepath.Join(p.cfg.ModelDir, filepath.FromSlash(asset.Path))
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, false, nil
		}
		return false, false, err
	}
	if force || old == nil {
		return false, true, nil
	}
	entry, ok := old.Assets[asset.Path]
	if !ok {
		return false, true, nil
	}
	sum, _, err := downloader.HashFile(full)
	if err != nil {
		return false, true, err
	}
	if !strings.EqualFold(sum, entry.SHA256) || (asset.SHA256 != "" && !strings.EqualFold(sum, asset.SHA256)) {
		p.logger.Warn("checksum mismatch, will download again", "asset", asset.Path)
		return false, true, nil
	}
	return true, true, next.Record(p.cfg.ModelDir, asset.Path, asset.Kind, sum, entry.SourceURL)
}

// runnerPresent reports whether every recorded runner file for this platform
// is on disk with its recorded digest.
func (p *Provisioner) runnerPresent(old, next *Manifest, force bool) (present, existed bool, err error) {
	binRel := runnerRel(p.platform, path.Join("bin", BinaryName))
	binFull := filepath.Join(p.cfg.ModelDir, filepath.FromSlash(binRel))
	if _, err := os.Stat(binFull); err == nil {
		existed = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, false, err
	}
	if force || old == nil || old.Platform != p.platform || !existed {
		return false, existed, nil
	}
	if _, ok := old.Assets[binRel]; !ok {
		return false, true, nil
	}

	files := old.RunnerFiles()
	sums := make([]string, len(files))
	for i, rel := range files {
		sum, _, err := downloader.HashFile(filepath.Join(p.cfg.ModelDir, filepath.FromSlash(rel)))
		if errors.Is(err, fs.ErrNotExist) {
			return false, true, nil
		}
		if err != nil {
			return false, true, err
		}
		if !strings.EqualFold(sum, old.Assets[rel].SHA256) {
			p.logger.Warn("runner file changed, will download again", "file", rel)
			return false, true, nil
		}
		sums[i] = sum
	}
	for i, rel := range files {
		if err := next.Record(p.cfg.ModelDir, rel, KindRunner, sums[i], old.Assets[rel].SourceURL); err != nil {
			return false, true, err
		}
	}
	return true, true, nil
}

func (p *Provisioner) download(ctx context.Context, pending []pendingAsset) ([]fetched, error) {
	display := p.display(p.out)
	dlOpts := append([]downloader.Option{
		downloader.WithLogger(p.logger),
		downloader.WithProgress(display),
	}, p.dlOpts...)
	dl := downloader.New(dlOpts...)

	results := make([]fetched, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDownloads)
	for i, item := range pending {
		g.Go(func() error {
			r, err := p.fetch(gctx, dl, item.asset)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	err := g.Wait()
	display.Close()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return results, nil
}

func (p *Provisioner) fetch(ctx context.Context, dl *downloader.Downloader, asset Asset) (fetched, error) {
	dir := p.cfg.ModelDir
	dest := filepath.Join(dir, filepath.FromSlash(asset.Path))
	res, err := dl.Fetch(ctx, downloader.Request{
		URL:            URL(p.cfg.HubURL, p.cfg.Repo, asset.Path),
		Dest:           dest,
		Label:          path.Base(asset.Path),
		ExpectedSHA256: asset.SHA256,
		Size:           asset.Size,
	})
	if err != nil {
		return fetched{}, err
	}
	if asset.Kind != KindRunner {
		return fetched{files: []string{asset.Path}, sums: []string{res.SHA256}}, nil
	}

	files, err := installRunner(dest, RunnerDir(dir, p.platform))
	if err != nil {
		return fetched{}, errdefs.Setup("install runner", err, "re-run `liqui-speak config --force`")
	}
	var out fetched
	for _, f := range files {
		rel := runnerRel(p.platform, f)
		sum, _, err := downloader.HashFile(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return fetched{}, errdefs.Setup("install runner", err, "")
		}
		out.files = append(out.files, rel)
		out.sums = append(out.sums, sum)
	}
	p.logger.Info("runner installed", "platform", p.platform, "files", len(files))
	return out, nil
}

func (p *Provisioner) printf(format string, args ...any) {
	fmt.Fprintf(p.out, format, args...)
}

func runnerRel(pl Platform, file string) string {
	return path.Join("runners", string(pl), file)
}

// checkpoint writes m, or removes the manifest when nothing in dir is verified.
func checkpoint(dir string, m *Manifest) error {
	if len(m.Assets) == 0 {
		return RemoveManifest(dir)
	}
	return m.Save(dir)
}

func sameAssets(a, b *Manifest) bool {
	if a.Platform != b.Platform || len(a.Assets) != len(b.Assets) {
		return false
	}
	for rel, ea := range a.Assets {
		eb, ok := b.Assets[rel]
		if !ok || ea.SHA256 != eb.SHA256 || ea.Size != eb.Size || !ea.ModTime.Equal(eb.ModTime) {
			return false
		}
	}
	return true
}

// Verify checks the model directory against its manifest before a
// transcription. Quick mode compares size and modification time; full mode
// also hashes every file.
func Verify(cfg *config.Config, pl Platform, full bool) (Paths, error) {
	notReady := func(format string, args ...any) (Paths, error) {
		return Paths{}, errdefs.Setup("verify environment",
			fmt.Errorf("%w: %s", errdefs.ErrNotProvisioned, fmt.Sprintf(format, args...)), provisionHint)
	}

	m, err := LoadManifest(cfg.ModelDir)
	if errors.Is(err, fs.ErrNotExist) {
		return notReady("no manifest in %s", cfg.ModelDir)
	}
	if err != nil {
		return notReady("%v", err)
	}
	if m.Platform != pl {
		return notReady("provisioned for %s, running on %s", m.Platform, pl)
	}
	if m.Repo != cfg.Repo {
		return notReady("provisioned from %s, configured for %s", m.Repo, cfg.Repo)
	}

	required := []string{ModelFile, MMProjFile, AudioDecoderFile, runnerRel(pl, path.Join("bin", BinaryName))}
	for _, rel := range required {
		if _, ok := m.Assets[rel]; !ok {
			return notReady("%s is not in the manifest", rel)
		}
	}
	if problems := m.Check(cfg.ModelDir, full); len(problems) > 0 {
		return notReady("%s", problems[0])
	}
	return ResolvePaths(cfg.ModelDir, pl), nil
}
