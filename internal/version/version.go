// Package version holds build-time identifiers, overridden via -ldflags at
// release build time.
package version

var (
	Version = "dev"
	Commit  = "unknown"
)
