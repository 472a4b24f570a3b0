package provision

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// packageManager describes how to install ffmpeg with one package manager.
type packageManager struct {
	Name    string
	Install []string
	// Privileged managers need root; the command is printed, never run.
	Privileged bool
}

// Probe order matters: brew is preferred on Linux too when present.
var packageManagers = []packageManager{
	{Name: "brew", Install: []string{"brew", "install", "ffmpeg"}},
	{Name: "apt-get", Install: []string{"sudo", "apt-get", "install", "-y", "ffmpeg"}, Privileged: true},
	{Name: "dnf", Install: []string{"sudo", "dnf", "install", "-y", "ffmpeg"}, Privileged: true},
	{Name: "yum", Install: []string{"sudo", "yum", "install", "-y", "ffmpeg"}, Privileged: true},
	{Name: "pacman", Install: []string{"sudo", "pacman", "-S", "--noconfirm", "ffmpeg"}, Privileged: true},
	{Name: "choco", Install: []string{"choco", "install", "ffmpeg", "-y"}, Privileged: true},
	{Name: "scoop", Install: []string{"scoop", "install", "ffmpeg"}},
}

// DepsStatus is the outcome of the system dependency check.
type DepsStatus struct {
	FFmpeg         string // Path to ffmpeg, empty when absent
	PackageManager string
	InstallCommand string
	Installed      bool
	Hint           string
}

// DepChecker looks for ffmpeg and, if asked, installs it. ffmpeg is optional:
// conversion falls back to the embedded WASM build.
type DepChecker struct {
	LookPath func(string) (string, error)
	Run      func(ctx context.Context, name string, args ...string) error
}

// NewDepChecker returns a checker using the real PATH.
func NewDepChecker() *DepChecker {
	return &DepChecker{
		LookPath: exec.LookPath,
		Run: func(ctx context.Context, name string, args ...string) error {
			out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
			}
			return nil
		},
	}
}

// CheckSystemDeps reports on ffmpeg. With install set, it runs the install
// command for package managers that need no privilege elevation.
func (c *DepChecker) CheckSystemDeps(ctx context.Context, install bool) DepsStatus {
	var status DepsStatus
	if path, err := c.LookPath("ffmpeg"); err == nil {
		status.FFmpeg = path
		return status
	}

	pm, ok := c.detectPackageManager()
	if !ok {
		status.Hint = "ffmpeg not found and no package manager detected; install ffmpeg from https://ffmpeg.org for faster conversion (the embedded converter is used meanwhile)"
		return status
	}
	status.PackageManager = pm.Name
	status.InstallCommand = strings.Join(pm.Install, " ")

	if !install || pm.Privileged {
		status.Hint = fmt.Sprintf("ffmpeg not found; install it with: %s (the embedded converter is used meanwhile)", status.InstallCommand)
		return status
	}

	if err := c.Run(ctx, pm.Install[0], pm.Install[1:]...); err != nil {
		status.Hint = fmt.Sprintf("installing ffmpeg failed (%v); run %s yourself", err, status.InstallCommand)
		return status
	}
	if path, err := c.LookPath("ffmpeg"); err == nil {
		status.FFmpeg = path
	}
	status.Installed = true
	return status
}

func (c *DepChecker) detectPackageManager() (packageManager, bool) {
	for _, pm := range packageManagers {
		if _, err := c.LookPath(pm.Name); err == nil {
			return pm, true
		}
	}
	return packageManager{}, false
}
