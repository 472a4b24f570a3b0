package provision

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/abhishekbhakat/liqui-speak/internal/core/downloader"
)

const (
	ManifestFile   = "manifest.json"
	manifestSchema = 1
)

// Entry records one file on disk.
type Entry struct {
	Kind      AssetKind `json:"kind"`
	SHA256    string    `json:"sha256"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mod_time"`
	SourceURL string    `json:"source_url,omitempty"`
}

// Manifest lists every provisioned file. It is written only after all of them
// are on disk and verified, so its presence means the directory is complete.
type Manifest struct {
	Schema    int              `json:"schema"`
	Repo      string           `json:"repo"`
	Platform  Platform         `json:"platform"`
	UpdatedAt time.Time        `json:"updated_at"`
	Assets    map[string]Entry `json:"assets"`
}

// NewManifest returns an empty manifest for repo on platform p.
func NewManifest(repo string, p Platform) *Manifest {
	return &Manifest{Schema: manifestSchema, Repo: repo, Platform: p, Assets: make(map[string]Entry)}
}

// LoadManifest reads dir/manifest.json. A missing file returns an error
// matching fs.ErrNotExist.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ManifestFile, err)
	}
	if m.Schema != manifestSchema {
		return nil, fmt.Errorf("%s: unsupported schema %d", ManifestFile, m.Schema)
	}
	if m.Assets == nil {
		m.Assets = make(map[string]Entry)
	}
	return &m, nil
}

// Save writes the manifest atomically.
func (m *Manifest) Save(dir string) error {
	m.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	target := filepath.Join(dir, ManifestFile)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// RemoveManifest deletes dir/manifest.json if it exists.
func RemoveManifest(dir string) error {
	err := os.Remove(filepath.Join(dir, ManifestFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Record stats dir/rel and stores it with the given digest.
func (m *Manifest) Record(dir, rel string, kind AssetKind, sum, sourceURL string) error {
	info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		return err
	}
	m.Assets[rel] = Entry{
		Kind:      kind,
		SHA256:    sum,
		Size:      info.Size(),
		ModTime:   info.ModTime().UTC(),
		SourceURL: sourceURL,
	}
	return nil
}

// Paths returns the recorded paths in sorted order.
func (m *Manifest) Paths() []string {
	out := make([]string, 0, len(m.Assets))
	for rel := range m.Assets {
		out = append(out, rel)
	}
	sort.Strings(out)
	return out
}

// RunnerFiles returns the recorded runner files for the manifest's platform.
func (m *Manifest) RunnerFiles() []string {
	var out []string
	for _, rel := range m.Paths() {
		if m.Assets[rel].Kind == KindRunner {
			out = append(out, rel)
		}
	}
	return out
}

// Problem is one way the directory disagrees with the manifest.
type Problem struct {
	Path   string
	Reason string
}

func (p Problem) String() string {
	return p.Path + ": " + p.Reason
}

// Check compares every recorded file with the disk. Quick mode looks at size
// and modification time; full mode also hashes the content.
func (m *Manifest) Check(dir string, full bool) []Problem {
	var problems []Problem
	for _, rel := range m.Paths() {
		if reason := checkEntry(dir, rel, m.Assets[rel], full); reason != "" {
			problems = append(problems, Problem{Path: rel, Reason: reason})
		}
	}
	return problems
}

func checkEntry(dir, rel string, e Entry, full bool) string {
	path := filepath.Join(dir, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "missing"
		}
		return err.Error()
	}
	if info.Size() != e.Size {
		return fmt.Sprintf("size %d, recorded %d", info.Size(), e.Size)
	}
	if !info.ModTime().Equal(e.ModTime) {
		return "modified since provisioning"
	}
	if !full {
		return ""
	}
	sum, _, err := downloader.HashFile(path)
	if err != nil {
		return err.Error()
	}
	if !strings.EqualFold(sum, e.SHA256) {
		return "checksum mismatch"
	}
	return ""
}
