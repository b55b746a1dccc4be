package slot

import (
	"archive/tar"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"voltask/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

// ArchivedFiles are copied out of a slot before it is cleaned.
var ArchivedFiles = []string{"init_data.xml", StdoutFile, StderrFile}

// Archive writes the slot's output files into a zstd-compressed tar under
// archiveDir and returns its path. Missing files are skipped.
func Archive(dir, archiveDir, name string, now time.Time) (string, error) {
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", errors.Wrapf(err, errors.SlotCleanupFailed, "create archive dir")
	}
	target := filepath.Join(archiveDir, fmt.Sprintf("%s-%d.tar.zst", name, now.Unix()))
	tmp := target + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return "", errors.Wrapf(err, errors.SlotCleanupFailed, "create archive")
	}

	if err := writeArchive(out, dir); err != nil {
		out.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return "", errors.Wrapf(err, errors.SlotCleanupFailed, "close archive")
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", errors.Wrapf(err, errors.SlotCleanupFailed, "rename archive")
	}
	return target, nil
}

func writeArchive(w io.Writer, dir string) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return errors.Wrapf(err, errors.SlotCleanupFailed, "create zstd writer failed")
	}
	tw := tar.NewWriter(zw)
	for _, name := range ArchivedFiles {
		if err := addFile(tw, dir, name); err != nil {
			tw.Close()
			zw.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return errors.Wrapf(err, errors.SlotCleanupFailed, "close tar")
	}
	if err := zw.Close(); err != nil {
		return errors.Wrapf(err, errors.SlotCleanupFailed, "close zstd")
	}
	return nil
}

func addFile(tw *tar.Writer, dir, name string) error {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, errors.SlotCleanupFailed, "open %s", name)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, errors.SlotCleanupFailed, "stat %s", name)
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return errors.Wrapf(err, errors.SlotCleanupFailed, "tar header %s", name)
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.Wrapf(err, errors.SlotCleanupFailed, "write tar header")
	}
	if _, err := io.CopyN(tw, f, hdr.Size); err != nil {
		return errors.Wrapf(err, errors.SlotCleanupFailed, "write tar entry")
	}
	return nil
}

// ArchiveEntry is one file stored in an archive.
type ArchiveEntry struct {
	Name string
	Size int64
	Data []byte
}

// ReadArchive decodes an archive written by Archive.
func ReadArchive(path string) ([]ArchiveEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.NotFound, "open archive")
	}
	defer file.Close()

	zstdReader, err := zstd.NewReader(file)
	if err != nil {
		return nil, errors.Wrapf(err, errors.InvalidFormat, "create zstd reader failed")
	}
	defer zstdReader.Close()

	var entries []ArchiveEntry
	tr := tar.NewReader(zstdReader)
	for {
		hdr, err := tr.Next()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, errors.InvalidFormat, "read tar entry failed")
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, errors.Wrapf(err, errors.InvalidFormat, "read tar data failed")
		}
		entries = append(entries, ArchiveEntry{Name: hdr.Name, Size: hdr.Size, Data: data})
	}
	return entries, nil
}
