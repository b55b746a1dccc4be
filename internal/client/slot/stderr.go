package slot

import (
	"io"
	"os"
	"path/filepath"
)

// ReadStderr returns at most maxBytes of the worker's stderr. When the file
// is larger the tail is kept, since the last lines usually explain a failure.
func ReadStderr(dir string, maxBytes int64) string {
	return readTail(filepath.Join(dir, StderrFile), maxBytes)
}

func readTail(path string, maxBytes int64) string {
	if path == "" || maxBytes <= 0 {
		return ""
	}
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return ""
	}
	if size := info.Size(); size > maxBytes {
		if _, err := file.Seek(size-maxBytes, io.SeekStart); err != nil {
			return ""
		}
	}
	data, err := io.ReadAll(io.LimitReader(file, maxBytes))
	if err != nil {
		return ""
	}
	return string(data)
}
