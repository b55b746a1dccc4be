package task

import (
	"context"
	"sort"
	"sync"
	"time"

	"voltask/internal/client/procinfo"
	"voltask/internal/client/slot"
	"voltask/pkg/errors"
	"voltask/pkg/utils/logger"

	"go.uber.org/zap"
)

// TaskSet owns the running tasks and the slot numbers they occupy.
//
// Lock order is Task.mu before TaskSet.mu. TaskSet methods copy the task
// list under their own lock and release it before calling into tasks.
type TaskSet struct {
	mu    sync.Mutex
	env   *Env
	tasks []*Task
	slots map[int]*Task
	procs *procinfo.Builder
	// last process snapshot, reused by Poll for memory limits
	snap *procinfo.Snapshot
}

// NewTaskSet creates an empty set. src feeds resource snapshots; nil uses
// the platform process table.
func NewTaskSet(env *Env, src procinfo.Source) *TaskSet {
	if env == nil {
		env = &Env{}
	}
	return &TaskSet{
		env:   env.withDefaults(),
		slots: make(map[int]*Task),
		procs: procinfo.NewBuilder(src),
	}
}

// Env returns the shared environment with defaults applied.
func (ts *TaskSet) Env() *Env { return ts.env }

// NewTask creates a task for job and adds it to the set.
func (ts *TaskSet) NewTask(job Job) (*Task, error) {
	t := New(job, ts.env)
	if err := ts.Add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Add inserts t. Result names must be unique within the set.
func (ts *TaskSet) Add(t *Task) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, existing := range ts.tasks {
		if existing == t || existing.ResultName() == t.ResultName() {
			return errors.Newf(errors.TaskExists, "task %s already exists", t.ResultName())
		}
	}
	t.alloc = ts
	ts.tasks = append(ts.tasks, t)
	return nil
}

// Tasks returns a copy of the task list.
func (ts *TaskSet) Tasks() []*Task {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]*Task, len(ts.tasks))
	copy(out, ts.tasks)
	return out
}

// Lookup finds a task by result name.
func (ts *TaskSet) Lookup(resultName string) (*Task, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, t := range ts.tasks {
		if t.ResultName() == resultName {
			return t, true
		}
	}
	return nil, false
}

// IsSlotInUse reports whether slot n is held by a task in the set.
func (ts *TaskSet) IsSlotInUse(n int) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.slots[n]
	return ok
}

// GetFreeSlot returns the lowest slot not held by any task and not locked
// by a leftover worker. It reserves nothing.
func (ts *TaskSet) GetFreeSlot() (int, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.freeSlotLocked()
}

func (ts *TaskSet) freeSlotLocked() (int, error) {
	max := ts.env.Config.MaxSlots
	for n := 0; max == 0 || n < max; n++ {
		if _, used := ts.slots[n]; used {
			continue
		}
		if slot.Locked(slot.Dir(ts.env.Config.SlotsDir, n)) {
			continue
		}
		return n, nil
	}
	return -1, errors.Newf(errors.NoFreeSlot, "all %d slots are in use", max)
}

func (ts *TaskSet) allocateSlot(t *Task) (int, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	n, err := ts.freeSlotLocked()
	if err != nil {
		return -1, err
	}
	ts.slots[n] = t
	return n, nil
}

// Poll advances every task by one cycle, applies the resource limits using
// the most recent process snapshot and reports whether any task changed in a
// way the scheduler should look at.
func (ts *TaskSet) Poll(now time.Time) bool {
	start := time.Now()
	changed := false
	counts := make(map[TaskState]int)
	snap := ts.lastSnapshot()
	for _, t := range ts.Tasks() {
		if t.poll(now) {
			changed = true
		}
		if t.CheckResourceLimits(snap) {
			changed = true
		}
		counts[t.State()]++
	}
	ts.env.Metrics.TasksByState(counts)
	ts.env.Metrics.PollDuration(time.Since(start))
	return changed
}

// TakeProcessSnapshot reads the process table. The result is kept for the
// memory checks done by Poll.
func (ts *TaskSet) TakeProcessSnapshot(now time.Time) (*procinfo.Snapshot, error) {
	snap, err := ts.procs.Take(now)
	if err != nil {
		return nil, err
	}
	ts.setSnapshot(snap)
	return snap, nil
}

func (ts *TaskSet) lastSnapshot() *procinfo.Snapshot {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.snap
}

func (ts *TaskSet) setSnapshot(snap *procinfo.Snapshot) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.snap = snap
}

// CheckResourceLimits applies disk, memory and CPU ceilings to every task.
// A non-nil snap also replaces the snapshot Poll uses. It returns true if
// any task was aborted.
func (ts *TaskSet) CheckResourceLimits(snap *procinfo.Snapshot) bool {
	if snap != nil {
		ts.setSnapshot(snap)
	}
	aborted := false
	for _, t := range ts.Tasks() {
		if t.CheckResourceLimits(snap) {
			aborted = true
		}
	}
	return aborted
}

// SendHeartbeats writes a heartbeat to every executing worker.
func (ts *TaskSet) SendHeartbeats() {
	maxWSS := ts.env.Host.MNBytes
	for _, t := range ts.Tasks() {
		t.sendHeartbeat(maxWSS)
	}
}

// SuspendAll suspends every executing task.
func (ts *TaskSet) SuspendAll() error {
	var firstErr error
	for _, t := range ts.Tasks() {
		if err := t.Suspend(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// UnsuspendAll resumes every suspended task.
func (ts *TaskSet) UnsuspendAll() error {
	var firstErr error
	for _, t := range ts.Tasks() {
		if err := t.Unsuspend(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (ts *TaskSet) matching(project *Project) []*Task {
	all := ts.Tasks()
	if project == nil {
		return all
	}
	out := all[:0]
	for _, t := range all {
		if p := t.Project(); p == project || (p != nil && p.URL == project.URL) {
			out = append(out, t)
		}
	}
	return out
}

// ExitTasks asks every task of project (all tasks if nil) to quit.
func (ts *TaskSet) ExitTasks(project *Project) {
	for _, t := range ts.matching(project) {
		if err := t.RequestExit(); err != nil {
			logger.Warn(t.ctx, "failed to request exit", zap.Error(err))
		}
	}
}

// KillTasks kills the workers of project (all if nil). The tasks stay
// runnable.
func (ts *TaskSet) KillTasks(project *Project) {
	for _, t := range ts.matching(project) {
		if err := t.KillTask(true); err != nil {
			logger.Warn(t.ctx, "failed to kill task", zap.Error(err))
		}
	}
}

// AbortProject aborts every task of project.
func (ts *TaskSet) AbortProject(project *Project) {
	for _, t := range ts.matching(project) {
		if err := t.AbortTask(ReasonAbortedByClient); err != nil {
			logger.Warn(t.ctx, "failed to abort task", zap.Error(err))
		}
	}
}

// WaitForExit polls until no task of project has a live process, the
// timeout passes or ctx is done. It returns true if all exited.
func (ts *TaskSet) WaitForExit(ctx context.Context, timeout time.Duration, project *Project) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(ts.env.Config.WaitPollInterval)
	defer ticker.Stop()
	for {
		ts.Poll(ts.env.Now())
		if ts.allExited(project) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (ts *TaskSet) allExited(project *Project) bool {
	for _, t := range ts.matching(project) {
		if t.ProcessRunning() {
			return false
		}
	}
	return true
}

// Shutdown asks every worker to quit, waits the quit grace period, then
// kills what is left and waits for those exits too.
func (ts *TaskSet) Shutdown(ctx context.Context) bool {
	ts.ExitTasks(nil)
	if ts.WaitForExit(ctx, ts.env.Config.QuitGracePeriod, nil) {
		return true
	}
	logger.Warn(ctx, "workers still running after quit grace period, killing")
	ts.KillTasks(nil)
	return ts.WaitForExit(ctx, ts.env.Config.AbortGracePeriod, nil)
}

// Remove deletes a task that has no live process and frees its slot.
func (ts *TaskSet) Remove(t *Task) error {
	if err := t.cleanup(); err != nil {
		return err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for i, existing := range ts.tasks {
		if existing == t {
			ts.tasks = append(ts.tasks[:i], ts.tasks[i+1:]...)
			break
		}
	}
	for n, holder := range ts.slots {
		if holder == t {
			delete(ts.slots, n)
		}
	}
	return nil
}

// ReapFinished removes every exited or aborted task and returns them.
func (ts *TaskSet) ReapFinished() []*Task {
	var reaped []*Task
	for _, t := range ts.Tasks() {
		if !t.finished() {
			continue
		}
		if err := ts.Remove(t); err != nil {
			logger.Warn(t.ctx, "failed to reap task", zap.Error(err))
			continue
		}
		reaped = append(reaped, t)
	}
	return reaped
}

// Snapshots returns a snapshot of every task ordered by slot, then name.
func (ts *TaskSet) Snapshots() []TaskSnapshot {
	tasks := ts.Tasks()
	out := make([]TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Slot != out[j].Slot {
			return out[i].Slot < out[j].Slot
		}
		return out[i].ResultName < out[j].ResultName
	})
	return out
}
