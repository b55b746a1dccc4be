// Package procinfo reads the host process table and folds child process
// usage into the footprint of the worker that spawned them.
package procinfo

import (
	"time"
)

// ProcInfo is one process as seen in a snapshot.
type ProcInfo struct {
	PID  int
	PPID int

	// CPU time in seconds.
	UserTime   float64
	KernelTime float64

	// Working set in bytes, instantaneous and smoothed across snapshots.
	WorkingSetSize         float64
	WorkingSetSizeSmoothed float64

	PageFaults    uint64
	PageFaultRate float64 // faults per second since the previous snapshot

	// IsManaged is set for processes inside a managed worker tree.
	IsManaged bool
}

// CPUTime is user plus kernel time.
func (p ProcInfo) CPUTime() float64 {
	return p.UserTime + p.KernelTime
}

// Source lists the processes currently on the host.
type Source interface {
	Processes() ([]ProcInfo, error)
}

// Snapshot is the process table at one instant.
type Snapshot struct {
	Taken time.Time
	Procs map[int]*ProcInfo
}

// Builder turns successive reads of a Source into snapshots, carrying the
// smoothed working set and page-fault rate forward.
type Builder struct {
	src  Source
	prev *Snapshot
}

// NewBuilder returns a Builder over src. A nil src uses the platform default.
func NewBuilder(src Source) *Builder {
	if src == nil {
		src = DefaultSource()
	}
	return &Builder{src: src}
}

// Take reads the process table and derives smoothed values from the last snapshot.
func (b *Builder) Take(now time.Time) (*Snapshot, error) {
	procs, err := b.src.Processes()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Taken: now, Procs: make(map[int]*ProcInfo, len(procs))}
	for i := range procs {
		p := procs[i]
		p.WorkingSetSizeSmoothed = p.WorkingSetSize
		if b.prev != nil {
			if old, ok := b.prev.Procs[p.PID]; ok {
				p.WorkingSetSizeSmoothed = 0.5*old.WorkingSetSizeSmoothed + 0.5*p.WorkingSetSize
				dt := now.Sub(b.prev.Taken).Seconds()
				if dt > 0 && p.PageFaults >= old.PageFaults {
					p.PageFaultRate = float64(p.PageFaults-old.PageFaults) / dt
				}
			}
		}
		snap.Procs[p.PID] = &p
	}
	b.prev = snap
	return snap, nil
}

// Get returns the record for pid.
func (s *Snapshot) Get(pid int) (*ProcInfo, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.Procs[pid]
	return p, ok
}

// Aggregate sums pid and all of its descendants into one record keyed by pid,
// and marks every process in the tree as managed. ok is false when pid is
// not in the snapshot.
func (s *Snapshot) Aggregate(pid int) (ProcInfo, bool) {
	root, ok := s.Get(pid)
	if !ok {
		return ProcInfo{}, false
	}

	children := make(map[int][]int, len(s.Procs))
	for _, p := range s.Procs {
		if p.PID != p.PPID {
			children[p.PPID] = append(children[p.PPID], p.PID)
		}
	}

	total := ProcInfo{PID: root.PID, PPID: root.PPID, IsManaged: true}
	seen := map[int]bool{}
	stack := []int{pid}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		p := s.Procs[cur]
		p.IsManaged = true
		total.UserTime += p.UserTime
		total.KernelTime += p.KernelTime
		total.WorkingSetSize += p.WorkingSetSize
		total.WorkingSetSizeSmoothed += p.WorkingSetSizeSmoothed
		total.PageFaults += p.PageFaults
		total.PageFaultRate += p.PageFaultRate
		stack = append(stack, children[cur]...)
	}
	return total, true
}

// Unmanaged sums usage of every process not marked managed. Call it after
// Aggregate has run for all workers.
func (s *Snapshot) Unmanaged() ProcInfo {
	var total ProcInfo
	for _, p := range s.Procs {
		if p.IsManaged {
			continue
		}
		total.UserTime += p.UserTime
		total.KernelTime += p.KernelTime
		total.WorkingSetSize += p.WorkingSetSize
	}
	return total
}

// StaticSource returns a fixed process list. Used by tests and by the
// slotctl inspect command when reading from a dump.
type StaticSource []ProcInfo

func (s StaticSource) Processes() ([]ProcInfo, error) {
	out := make([]ProcInfo, len(s))
	copy(out, s)
	return out, nil
}
