package provision

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// AssetKind groups catalog entries and manifest records.
type AssetKind string

const (
	KindModel  AssetKind = "model"
	KindRunner AssetKind = "runner"
)

// Asset is one file fetched from the model repository.
type Asset struct {
	Name string // Short name used in progress output and reports
	Kind AssetKind
	// Path is relative to the model directory, with forward slashes. It is
	// also the path inside the repository.
	Path string
	// Size is approximate and only feeds the free-space check.
	Size int64
	// SHA256 is verified after download when set.
	SHA256      string
	Description string
}

// Model weight files. All three are required by the runner.
const (
	ModelFile        = "LFM2-Audio-1.5B-Q8_0.gguf"
	MMProjFile       = "mmproj-audioencoder-LFM2-Audio-1.5B-Q8_0.gguf"
	AudioDecoderFile = "audiodecoder-LFM2-Audio-1.5B-Q8_0.gguf"
)

// ModelAssets lists the model weights in download order.
var ModelAssets = []Asset{
	{
		Name:        "model",
		Kind:        KindModel,
		Path:        ModelFile,
		Size:        1_250_000_000,
		Description: "LFM2-Audio 1.5B language model (Q8_0)",
	},
	{
		Name:        "mmproj",
		Kind:        KindModel,
		Path:        MMProjFile,
		Size:        430_000_000,
		Description: "Audio encoder projector (Q8_0)",
	},
	{
		Name:        "audiodecoder",
		Kind:        KindModel,
		Path:        AudioDecoderFile,
		Size:        190_000_000,
		Description: "Audio decoder (Q8_0)",
	},
}

// RunnerAsset returns the runner archive for p.
func RunnerAsset(p Platform) Asset {
	return Asset{
		Name:        "runner",
		Kind:        KindRunner,
		Path:        path.Join("runners", string(p), fmt.Sprintf("lfm2-audio-%s.zip", p)),
		Size:        60_000_000,
		Description: "llama-lfm2-audio runner for " + string(p),
	}
}

// Catalog returns every asset needed on p.
func Catalog(p Platform) []Asset {
	assets := make([]Asset, 0, len(ModelAssets)+1)
	assets = append(assets, ModelAssets...)
	return append(assets, RunnerAsset(p))
}

// URL returns the download URL of a repository file on a Hugging Face style hub.
func URL(hub, repo, file string) string {
	return strings.TrimSuffix(hub, "/") + "/" + strings.Trim(repo, "/") + "/resolve/main/" + file
}

// RunnerDir is the directory the runner archive unpacks into.
func RunnerDir(modelDir string, p Platform) string {
	return filepath.Join(modelDir, "runners", string(p))
}

// Paths are the absolute locations handed to the runner.
type Paths struct {
	Model        string
	MMProj       string
	AudioDecoder string
	Binary       string
}

// ResolvePaths returns the asset locations under modelDir for p.
func ResolvePaths(modelDir string, p Platform) Paths {
	return Paths{
		Model:        filepath.Join(modelDir, ModelFile),
		MMProj:       filepath.Join(modelDir, MMProjFile),
		AudioDecoder: filepath.Join(modelDir, AudioDecoderFile),
		Binary:       filepath.Join(RunnerDir(modelDir, p), "bin", BinaryName),
	}
}
