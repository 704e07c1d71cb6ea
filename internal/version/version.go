// Package version holds build information injected at link time.
package version

// Version and BuildTime are set via ldflags during the build.
var (
	Version   = "dev"
	BuildTime = "unknown"
)
