package updater

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/abhishekbhakat/liqui-speak/internal/core/version"
	"github.com/creativeprojects/go-selfupdate"
)

const (
	repoOwner = "abhishekbhakat"
	repoName  = "liqui-speak"
)

func newUpdater() (*selfupdate.Updater, error) {
	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, err
	}
	return selfupdate.NewUpdater(selfupdate.Config{
		Source: source,
	})
}

// currentVersion strips the optional 'v' prefix for comparison.
func currentVersion() string {
	return strings.TrimPrefix(version.Version, "v")
}

// CheckUpdate returns the latest released version and whether it is newer
// than the running binary. latest is empty when the repository has no
// releases.
func CheckUpdate(ctx context.Context) (latest string, newer bool, err error) {
	updater, err := newUpdater()
	if err != nil {
		return "", false, err
	}

	release, found, err := updater.DetectLatest(ctx, selfupdate.NewRepositorySlug(repoOwner, repoName))
	if err != nil {
		return "", false, fmt.Errorf("failed to check for updates: %w", err)
	}
	if !found {
		return "", false, nil
	}
	return release.Version(), release.GreaterThan(currentVersion()), nil
}

// Update replaces the running executable with the latest release.
func Update(ctx context.Context, w io.Writer) error {
	updater, err := newUpdater()
	if err != nil {
		return err
	}

	latest, found, err := updater.DetectLatest(ctx, selfupdate.NewRepositorySlug(repoOwner, repoName))
	if err != nil {
		return fmt.Errorf("failed to check for updates: %w", err)
	}
	if !found {
		return fmt.Errorf("no releases found for %s/%s", repoOwner, repoName)
	}

	current := currentVersion()
	if latest.LessOrEqual(current) {
		fmt.Fprintf(w, "Already up to date (v%s)\n", current)
		return nil
	}

	fmt.Fprintf(w, "Updating from v%s to %s...\n", current, latest.Version())

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	if err := updater.UpdateTo(ctx, latest, exe); err != nil {
		return fmt.Errorf("failed to update: %w", err)
	}

	fmt.Fprintf(w, "Successfully updated to %s\n", latest.Version())
	return nil
}
