package slot

import (
	"os"
	"path/filepath"
)

// ClientLockFile sits in the slots root and is held by the running client.
const ClientLockFile = "client.lock"

// Locked reports whether some process holds the slot's lock file. A held
// lock means a worker from an earlier run may still be using the directory.
func Locked(dir string) bool {
	return lockedPath(filepath.Join(dir, LockFile))
}

// Lock takes the slot lock for the calling process. The worker library
// calls it at startup; the lock is released when the file is closed.
func Lock(dir string) (*os.File, error) {
	return lockPath(filepath.Join(dir, LockFile))
}

// ClientLocked reports whether a client is running on the slots under root.
func ClientLocked(root string) bool {
	return lockedPath(filepath.Join(root, ClientLockFile))
}

// LockClient marks root as owned by the calling client. It fails while
// another client holds it.
func LockClient(root string) (*os.File, error) {
	return lockPath(filepath.Join(root, ClientLockFile))
}
