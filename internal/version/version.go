// Package version carries build metadata stamped in with -ldflags.
package version

var (
	// Version is the release identifier.
	Version = "dev"
	// GitSHA is the source revision the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the full build identity.
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
