// Package version exposes the build identifiers reported by /healthz and
// the startup log line.
package version

// These are overridden at build time via -ldflags; the defaults mark a
// local development build.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)
