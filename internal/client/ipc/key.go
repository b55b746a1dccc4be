package ipc

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
)

// DefaultSalt is mixed into every segment name unless configured otherwise.
const DefaultSalt = "voltask"

const segmentPrefix = "voltask_"

// DeriveSegmentName returns a stable shared-memory name for a slot directory.
// The name is an FNV-1a 64 hash of the absolute slot path and salt.
func DeriveSegmentName(slotDir, salt string) string {
	abs, err := filepath.Abs(slotDir)
	if err != nil {
		abs = filepath.Clean(slotDir)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(abs))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(salt))
	return fmt.Sprintf("%s%016x", segmentPrefix, h.Sum64())
}

// DefaultShmDir returns /dev/shm when it is usable, otherwise the OS temp dir.
func DefaultShmDir() string {
	if st, err := os.Stat("/dev/shm"); err == nil && st.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// SegmentPath joins the shm dir and the derived name for slotDir.
func SegmentPath(shmDir, slotDir, salt string) string {
	if shmDir == "" {
		shmDir = DefaultShmDir()
	}
	return filepath.Join(shmDir, DeriveSegmentName(slotDir, salt))
}
