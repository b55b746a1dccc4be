package slot

import (
	"io/fs"
	"os"
	"path/filepath"

	"voltask/pkg/errors"
)

// DiskUsage sums the sizes of regular files below dir. Files that vanish
// during the walk are skipped.
func DiskUsage(dir string) (float64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, errors.DiskUsageFailed, "walk %s", dir)
	}
	return float64(total), nil
}
