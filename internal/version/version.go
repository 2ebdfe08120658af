// Package version carries build metadata set with -ldflags -X.
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String is the one-line banner printed by -version and logged at startup.
func String() string {
	return fmt.Sprintf("cryptomaster %s (%s, built %s)", Version, GitSHA, BuildTime)
}
