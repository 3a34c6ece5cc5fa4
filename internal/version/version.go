// Package version holds build metadata injected with -ldflags.
package version

// Set at build time:
//
//	-ldflags "-X github.com/sydlexius/alldbs/internal/version.Version=v1.2.3 -X github.com/sydlexius/alldbs/internal/version.Commit=abc123"
var (
	Version = "dev"
	Commit  = "unknown"
)
