//go:build !unix

package ipc

import (
	"os"

	"voltask/pkg/errors"
)

func mapFile(f *os.File, size int) ([]byte, error) {
	return nil, errors.Newf(errors.SharedMemFailed, "shared memory segments are not supported on this platform")
}

func unmap(mem []byte) error {
	return nil
}
