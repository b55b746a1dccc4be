//go:build linux

package procinfo

import (
	"os"

	"github.com/prometheus/procfs"
)

// USER_HZ on every Linux platform procfs supports.
const userHZ = 100

type procfsSource struct {
	fs       procfs.FS
	pageSize int
}

// DefaultSource reads /proc.
func DefaultSource() Source {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return errSource{err: err}
	}
	return &procfsSource{fs: fs, pageSize: os.Getpagesize()}
}

// NewProcfsSource reads a procfs mounted at mountPoint.
func NewProcfsSource(mountPoint string) (Source, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, err
	}
	return &procfsSource{fs: fs, pageSize: os.Getpagesize()}, nil
}

func (s *procfsSource) Processes() ([]ProcInfo, error) {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return nil, err
	}
	out := make([]ProcInfo, 0, len(procs))
	for _, p := range procs {
		st, err := p.Stat()
		if err != nil {
			// exited between listing and reading
			continue
		}
		out = append(out, ProcInfo{
			PID:            st.PID,
			PPID:           st.PPID,
			UserTime:       float64(st.UTime) / userHZ,
			KernelTime:     float64(st.STime) / userHZ,
			WorkingSetSize: float64(st.ResidentMemory()),
			PageFaults:     uint64(st.MinFlt) + uint64(st.MajFlt),
		})
	}
	return out, nil
}

type errSource struct{ err error }

func (e errSource) Processes() ([]ProcInfo, error) { return nil, e.err }
