// Package buildinfo carries build identification injected at link time.
package buildinfo

// Set via -ldflags "-X orion/internal/buildinfo.Version=..." and friends.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns the most specific identifier available, for window
// titles and log banners.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	return "dev"
}
