// Package version exposes build information for startup logging.
package version

import (
	"fmt"
	"runtime/debug"
)

var (
	// Version can be overridden by ldflags at build time.
	Version = "dev"
	// CommitHash is the git commit hash, filled from build info when not
	// set via ldflags.
	CommitHash = ""
)

// GetInfo returns "version (shorthash)" for logs and the startup banner.
func GetInfo() string {
	if CommitHash == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				if setting.Key == "vcs.revision" {
					CommitHash = setting.Value
				}
			}
		}
	}

	res := Version
	if CommitHash != "" {
		shortHash := CommitHash
		if len(shortHash) > 7 {
			shortHash = shortHash[:7]
		}
		res += fmt.Sprintf(" (%s)", shortHash)
	}
	return res
}
