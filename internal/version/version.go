// Package version holds build metadata stamped in with -ldflags -X.
package version

import "fmt"

// Overridden at link time, e.g.
// -X github.com/banshee-data/bundle.evolution/internal/version.Version=v0.3.0
var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build metadata for the bundles -version flag.
func String() string {
	return fmt.Sprintf("bundles %s (%s, built %s)", Version, GitSHA, BuildTime)
}
