// Package version carries the build identity injected via -ldflags.
package version

import "fmt"

// Injected at build time via -ldflags, e.g.
//
//	go build -ldflags "-X github.com/astrid/sdssfit/internal/version.Version=v0.3.0 \
//	  -X github.com/astrid/sdssfit/internal/version.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/astrid/sdssfit/internal/version.Date=$(date -u +%Y-%m-%d)"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the full version line printed by `sdssfit version`.
func String() string {
	return fmt.Sprintf("sdssfit %s (commit %s, built %s)", Version, Commit, Date)
}
