package provision

import (
	"fmt"
	"runtime"

	"github.com/abhishekbhakat/liqui-speak/internal/core/errdefs"
)

// BinaryName is the inference runner shipped in the platform archive.
const BinaryName = "llama-lfm2-audio"

// Platform identifies a runner build.
type Platform string

const (
	PlatformMacOSARM64  Platform = "macos-arm64"
	PlatformUbuntuX64   Platform = "ubuntu-x64"
	PlatformUbuntuARM64 Platform = "ubuntu-arm64"
)

// UnsupportedPlatformError is returned for OS/arch pairs with no runner build.
type UnsupportedPlatformError struct {
	GOOS   string
	GOARCH string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("no runner build for %s/%s", e.GOOS, e.GOARCH)
}

func (e *UnsupportedPlatformError) Is(target error) bool {
	return target == errdefs.ErrUnsupportedPlatform
}

// ResolvePlatform maps a GOOS/GOARCH pair to a runner platform.
func ResolvePlatform(goos, goarch string) (Platform, error) {
	switch {
	case goos == "darwin" && goarch == "arm64":
		return PlatformMacOSARM64, nil
	case goos == "linux" && goarch == "amd64":
		return PlatformUbuntuX64, nil
	case goos == "linux" && goarch == "arm64":
		return PlatformUbuntuARM64, nil
	}
	return "", errdefs.Setup("resolve platform", &UnsupportedPlatformError{GOOS: goos, GOARCH: goarch},
		"supported platforms are macOS on Apple Silicon and Linux on x86_64 or arm64")
}

// Current resolves the platform of the running binary.
func Current() (Platform, error) {
	return ResolvePlatform(runtime.GOOS, runtime.GOARCH)
}

func (p Platform) String() string { return string(p) }
