package workdir

import "context"

// Manager owns the local side of a checkout: the build directory the VCS tool
// runs in and the folders it materializes there.
//
// Paths handed to Exists, Remove and Ensure are expected to come from Resolve.
type Manager interface {
	// Resolve maps a configured path (relative to the build directory, or
	// absolute) to an absolute, cleaned path.
	Resolve(rel string) (string, error)

	// Exists reports whether path is an existing directory.
	Exists(ctx context.Context, path string) (bool, error)

	// Remove deletes path recursively. Removing a missing path is a no-op.
	Remove(ctx context.Context, path string) error

	// Ensure creates path and its parents if missing.
	Ensure(ctx context.Context, path string) error
}
