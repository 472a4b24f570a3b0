package provision

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/abhishekbhakat/liqui-speak/internal/core/downloader"
	"github.com/abhishekbhakat/liqui-speak/internal/core/errdefs"
	"github.com/shirou/gopsutil/v3/disk"
)

// StorageError reports too little free space for the pending downloads.
type StorageError struct {
	Path string
	Need uint64
	Free uint64
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s has %s free, %s needed",
		e.Path, downloader.FormatBytes(int64(e.Free)), downloader.FormatBytes(int64(e.Need)))
}

func (e *StorageError) Is(target error) bool {
	return target == errdefs.ErrStorage
}

// FreeSpaceFunc returns the bytes available to the current user at path.
type FreeSpaceFunc func(path string) (uint64, error)

// FreeSpace queries the filesystem holding path, or its nearest existing
// ancestor when path has not been created yet.
func FreeSpace(path string) (uint64, error) {
	dir, err := existingAncestor(path)
	if err != nil {
		return 0, err
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to query disk usage of %s: %w", dir, err)
	}
	return usage.Free, nil
}

func existingAncestor(path string) (string, error) {
	dir, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing ancestor of %s", path)
		}
		dir = parent
	}
}

func checkStorage(free FreeSpaceFunc, dir string, need uint64) error {
	if need == 0 {
		return nil
	}
	avail, err := free(dir)
	if err != nil {
		return errdefs.Setup("check storage", err, "")
	}
	if avail < need {
		return errdefs.Setup("check storage", &StorageError{Path: dir, Need: need, Free: avail},
			"free up disk space or set LIQUI_SPEAK_MODEL_DIR to a larger volume")
	}
	return nil
}
