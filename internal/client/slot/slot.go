// Package slot manages the numbered working directories workers run in.
package slot

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"voltask/pkg/errors"
)

// Files a slot directory may contain.
const (
	StdoutFile       = "stdout.txt"
	StderrFile       = "stderr.txt"
	LockFile         = "boinc_lockfile"
	FinishCalledFile = "boinc_finish_called"
	// UploadFilePrefix marks upload-file-request files written by the worker.
	UploadFilePrefix  = "boinc_ufr_"
	TemporaryExitFile = "boinc_temporary_exit"
)

// Dir returns the directory for slot n under root.
func Dir(root string, n int) string {
	return filepath.Join(root, strconv.Itoa(n))
}

// Prepare makes sure the slot directory exists. With wipe set, any content
// left from an earlier run is removed first.
func Prepare(dir string, wipe bool) error {
	if wipe {
		if err := Clean(dir); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, errors.SlotPrepareFailed, "create slot dir %s", dir)
	}
	return nil
}

// Clean removes everything inside dir but keeps dir itself.
func Clean(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, errors.SlotCleanupFailed, "read slot dir %s", dir)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return errors.Wrapf(err, errors.SlotCleanupFailed, "remove %s", e.Name())
		}
	}
	return nil
}

// FinishCalled reports whether the worker wrote its completion marker.
func FinishCalled(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FinishCalledFile))
	return err == nil
}

// TemporaryExit reports whether the worker asked to be restarted later
// rather than counted as a premature exit.
func TemporaryExit(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, TemporaryExitFile))
	return err == nil
}

// RemoveMarkers deletes completion markers left by a previous run.
func RemoveMarkers(dir string) {
	_ = os.Remove(filepath.Join(dir, FinishCalledFile))
	_ = os.Remove(filepath.Join(dir, TemporaryExitFile))
}

// UploadFileRequests lists the file names the worker has asked to upload.
func UploadFileRequests(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, errors.SlotPrepareFailed, "read slot dir %s", dir)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), UploadFilePrefix) {
			continue
		}
		names = append(names, strings.TrimPrefix(e.Name(), UploadFilePrefix))
	}
	return names, nil
}

// RemoveUploadFileRequest deletes the marker for name once it has been handled.
func RemoveUploadFileRequest(dir, name string) error {
	err := os.Remove(filepath.Join(dir, UploadFilePrefix+name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
