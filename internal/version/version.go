package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags
var (
	// Version is the semantic version, injected at build time
	Version = "dev"

	// GitCommit is the git commit hash, injected at build time
	GitCommit = "unknown"

	// BuildDate is the build date, injected at build time
	BuildDate = "unknown"

	// GoVersion is the Go version used to build
	GoVersion = runtime.Version()
)

// Info returns the short version string.
func Info() string {
	return Version
}

// Full returns the version with commit and build metadata.
func Full() string {
	info := Info()
	if GitCommit != "" && GitCommit != "unknown" {
		short := GitCommit
		if len(short) > 7 {
			short = short[:7]
		}
		info += fmt.Sprintf(" (%s)", short)
	}
	if BuildDate != "" && BuildDate != "unknown" {
		info += fmt.Sprintf(" built %s", BuildDate)
	}
	return info
}

// UserAgent returns a user agent string for HTTP clients.
func UserAgent() string {
	return fmt.Sprintf("parley/%s", Info())
}
