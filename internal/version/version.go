// Package version holds build information stamped with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/handeye/internal/version.Version=v0.3.0"
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build information on one line.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s/%s)", Version, GitSHA, BuildTime, runtime.GOOS, runtime.GOARCH)
}
