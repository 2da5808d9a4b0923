package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	t.Cleanup(func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	})

	t.Run("defaults", func(t *testing.T) {
		Version, Commit, BuildTime = "dev", "unknown", "unknown"
		got := String()
		for _, want := range []string{"dev", "(unknown)", "built unknown"} {
			if !strings.Contains(got, want) {
				t.Errorf("String() = %q, should contain %q", got, want)
			}
		}
	})

	t.Run("custom values", func(t *testing.T) {
		Version, Commit, BuildTime = "1.2.3", "abc1234", "2026-01-15T10:00:00Z"
		want := "1.2.3 (abc1234) built 2026-01-15T10:00:00Z"
		if got := String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	})
}
