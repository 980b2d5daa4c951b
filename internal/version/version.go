// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/groupshare/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/groupshare/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

import "runtime"

// Build-time variables (set via ldflags)
var (
	// Version is the semantic version (e.g., "1.0.0")
	Version = "dev"

	// Commit is the git commit hash (short form)
	Commit = "unknown"
)

// Product is the client name reported to the realtime service.
const Product = "groupshare"

// String returns a formatted version string.
func String() string {
	return Version + " (" + Commit + ")"
}

// UserAgent returns the User-Agent sent on the WebSocket upgrade request,
// e.g. "groupshare/1.0.0 (abc1234; linux/amd64)".
func UserAgent() string {
	return Product + "/" + Version + " (" + Commit + "; " + runtime.GOOS + "/" + runtime.GOARCH + ")"
}
