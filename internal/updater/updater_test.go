package updater

import (
	"testing"

	"github.com/abhishekbhakat/liqui-speak/internal/core/version"
)

func TestCurrentVersion(t *testing.T) {
	orig := version.Version
	t.Cleanup(func() { version.Version = orig })

	for _, v := range []string{"v1.2.3", "1.2.3"} {
		version.Version = v
		if got := currentVersion(); got != "1.2.3" {
			t.Errorf("currentVersion() with %q = %q", v, got)
		}
	}
}
