// Package version carries build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime/debug"
)

// Build metadata, set with -ldflags "-X github.com/Sumatoshi-tech/marathon/pkg/version.Version=...".
var (
	Version = "dev"
	Commit  = "<unknown>"
	Date    = "<unknown>"
)

// vcsRevisionKey is the build setting holding the commit hash.
const vcsRevisionKey = "vcs.revision"

// InitBinaryVersion fills Commit from the embedded VCS stamp when it was not
// injected at link time.
func InitBinaryVersion() {
	if Commit != "<unknown>" {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		if setting.Key == vcsRevisionKey && setting.Value != "" {
			Commit = setting.Value
		}
	}
}

// String formats the version line printed by the CLI.
func String() string {
	return fmt.Sprintf("marathon %s (commit: %s, built: %s)", Version, Commit, Date)
}
