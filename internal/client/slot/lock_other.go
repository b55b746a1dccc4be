//go:build !unix

package slot

import "os"

// lockedPath always reports false where advisory locks are unavailable.
func lockedPath(path string) bool {
	return false
}

// lockPath creates the file without holding an OS lock.
func lockPath(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
}
