package build

import "runtime"

// Version returns the semantic version of this build. Commit and CommitHash
// are meant to be set via -ldflags "-X" at build time; both are empty for a
// plain `go build`.
func Version() string {
	return "0.1.0"
}

// Commit is set via -ldflags "-X github.com/roasbeef/rpcore/internal/build.Commit=..."
// during release builds.
var Commit string

// CommitHash is set the same way Commit is, as a fallback for builds that
// only have the raw VCS hash available.
var CommitHash string

// GoVersion is the Go toolchain version used to build this binary.
var GoVersion = runtime.Version()
