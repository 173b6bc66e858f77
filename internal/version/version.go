package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build info for -version flags and run metadata.
func String(cmd string) string {
	return fmt.Sprintf("%s %s (git %s, built %s)", cmd, Version, GitSHA, BuildTime)
}
