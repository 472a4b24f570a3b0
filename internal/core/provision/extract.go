package provision

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// installRunner unpacks the runner archive into runnerDir, copies the
// directory holding the binary into runnerDir/bin and deletes the archive.
// It returns the installed files relative to runnerDir.
func installRunner(archive, runnerDir string) ([]string, error) {
	staging, err := os.MkdirTemp(runnerDir, ".extract-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := extractZip(archive, staging); err != nil {
		return nil, err
	}

	srcDir, err := findBinaryDir(staging)
	if err != nil {
		return nil, err
	}

	binDir := filepath.Join(runnerDir, "bin")
	if err := os.RemoveAll(binDir); err != nil {
		return nil, fmt.Errorf("failed to clear %s: %w", binDir, err)
	}
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", binDir, err)
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, err
	}
	var installed []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		dst := filepath.Join(binDir, e.Name())
		if err := copyFile(filepath.Join(srcDir, e.Name()), dst); err != nil {
			return nil, err
		}
		installed = append(installed, filepath.ToSlash(filepath.Join("bin", e.Name())))
	}

	if err := os.Chmod(filepath.Join(binDir, BinaryName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to mark runner executable: %w", err)
	}
	if err := os.Remove(archive); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove runner archive: %w", err)
	}
	return installed, nil
}

// extractZip unpacks archive into target, rejecting entries that would land
// outside target.
func extractZip(archive, target string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	root := filepath.Clean(target) + string(os.PathSeparator)
	for _, file := range r.File {
		destPath := filepath.Join(target, filepath.FromSlash(file.Name))
		if !strings.HasPrefix(destPath, root) {
			return fmt.Errorf("zip entry %q escapes the extraction directory", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}
		if !file.Mode().IsRegular() {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return fmt.Errorf("failed to create parent directory: %w", err)
		}
		if err := extractFile(file, destPath); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(file *zip.File, destPath string) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open file in zip: %w", err)
	}
	defer src.Close()

	mode := file.Mode().Perm() | 0o600
	dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to extract %s: %w", file.Name, err)
	}
	return dst.Close()
}

// findBinaryDir returns the shallowest directory under root containing the
// runner binary.
func findBinaryDir(root string) (string, error) {
	var found string
	depth := -1
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != BinaryName {
			return nil
		}
		n := strings.Count(path, string(os.PathSeparator))
		if depth < 0 || n < depth {
			found, depth = filepath.Dir(path), n
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%s not found in runner archive", BinaryName)
	}
	return found, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", filepath.Base(src), err)
	}
	return out.Close()
}
