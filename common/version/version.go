// Package version exposes the build metadata stamped into the Tsumiki
// binaries at link time.
package version

var (
	// Version is the semantic version, injected with -ldflags.
	Version = "v0.0.0-dev"

	// GitCommit is the commit the binary was built from.
	GitCommit = "unknown"

	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// Info renders the metadata as a single banner-friendly line.
func Info() string {
	return Version + " (" + GitCommit + ") built at " + BuildTime
}
