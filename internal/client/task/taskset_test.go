package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"voltask/internal/client/process"
	"voltask/internal/client/procinfo"
	"voltask/internal/client/slot"
	"voltask/pkg/errors"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotsAreUniqueAndFreedOnReap(t *testing.T) {
	h := newHarness(t, nil)
	var tasks []*Task
	var procs []*fakeProc
	for _, name := range []string{"r0", "r1", "r2"} {
		tk, p := h.started(t, testJob(name))
		tasks = append(tasks, tk)
		procs = append(procs, p)
	}
	seen := map[int]bool{}
	for _, tk := range tasks {
		assert.False(t, seen[tk.Slot()], "slot %d handed out twice", tk.Slot())
		seen[tk.Slot()] = true
		assert.True(t, h.set.IsSlotInUse(tk.Slot()))
	}

	n, err := h.set.GetFreeSlot()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	writeMarker(t, tasks[1].SlotDir(), slot.FinishCalledFile)
	procs[1].exit(process.ExitStatus{Code: 0})
	h.poll()
	require.Equal(t, StateExited, tasks[1].State())

	n, err = h.set.GetFreeSlot()
	require.NoError(t, err)
	assert.Equal(t, 3, n, "slot stays reserved until the task is reaped")

	reaped := h.set.ReapFinished()
	require.Len(t, reaped, 1)
	assert.Equal(t, "r1", reaped[0].ResultName())
	assert.False(t, h.set.IsSlotInUse(1))

	n, err = h.set.GetFreeSlot()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := h.set.Lookup("r1")
	assert.False(t, ok)
}

func TestMaxSlots(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxSlots = 1 })
	h.started(t, testJob("r0"))

	tk, err := h.set.NewTask(testJob("r1"))
	require.NoError(t, err)
	err = tk.ResumeOrStart()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NoFreeSlot))
	assert.Equal(t, StateUninitialized, tk.State(), "no side effects without a slot")
	assert.Equal(t, -1, tk.Slot())
	assert.Equal(t, 0, tk.Snapshot().CouldntStartCount)
}

func TestAdd_RejectsDuplicateResult(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.set.NewTask(testJob("r0"))
	require.NoError(t, err)
	_, err = h.set.NewTask(testJob("r0"))
	assert.True(t, errors.Is(err, errors.TaskExists))
}

func TestRemove_RunningTaskFails(t *testing.T) {
	h := newHarness(t, nil)
	tk, _ := h.started(t, testJob("r0"))
	err := h.set.Remove(tk)
	assert.True(t, errors.Is(err, errors.InvalidTaskState))
	assert.Len(t, h.set.Tasks(), 1)
}

func TestWaitForExit(t *testing.T) {
	h := newHarness(t, nil)
	other := &Project{URL: "https://other.example.org/"}
	_, p0 := h.started(t, testJob("r0"))
	job := testJob("r1")
	job.Project = other
	_, p1 := h.started(t, job)

	h.set.ExitTasks(testProject)
	p0.exit(process.ExitStatus{Code: 0})

	ctx := context.Background()
	assert.True(t, h.set.WaitForExit(ctx, time.Second, testProject))
	assert.False(t, h.set.WaitForExit(ctx, 20*time.Millisecond, nil), "other project still running")

	p1.exit(process.ExitStatus{Code: 0})
	assert.True(t, h.set.WaitForExit(ctx, time.Second, nil))
}

func TestWaitForExit_ContextCancelled(t *testing.T) {
	h := newHarness(t, nil)
	h.started(t, testJob("r0"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, h.set.WaitForExit(ctx, time.Minute, nil))
}

func TestShutdown_KillsStragglers(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.QuitGracePeriod = 20 * time.Millisecond
		c.AbortGracePeriod = time.Second
	})
	tk, proc := h.started(t, testJob("r0"))

	assert.True(t, h.set.Shutdown(context.Background()))
	assert.Equal(t, 1, proc.terminations())
	assert.Equal(t, StateUninitialized, tk.State(), "shutdown leaves tasks restartable")
	assert.Equal(t, ExitKilled, tk.ExitClass())
}

func TestAbortProject(t *testing.T) {
	h := newHarness(t, nil)
	tk, _ := h.started(t, testJob("r0"))
	idle, err := h.set.NewTask(testJob("r1"))
	require.NoError(t, err)

	h.set.AbortProject(testProject)
	assert.Equal(t, StateAborted, tk.State())
	assert.Equal(t, StateAborted, idle.State())
	assert.Equal(t, ReasonAbortedByClient, tk.AbortReason())
}

func TestSuspendAllAndUnsuspendAll(t *testing.T) {
	h := newHarness(t, nil)
	a, _ := h.started(t, testJob("r0"))
	b, _ := h.started(t, testJob("r1"))

	require.NoError(t, h.set.SuspendAll())
	assert.Equal(t, StateSuspended, a.State())
	assert.Equal(t, StateSuspended, b.State())

	require.NoError(t, h.set.UnsuspendAll())
	assert.Equal(t, StateExecuting, a.State())
	assert.Equal(t, StateExecuting, b.State())
}

func TestPollRecordsStateGauge(t *testing.T) {
	h := newHarness(t, nil)
	h.started(t, testJob("r0"))
	h.started(t, testJob("r1"))
	_, err := h.set.NewTask(testJob("r2"))
	require.NoError(t, err)

	h.poll()
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.tasks.WithLabelValues(StateExecuting.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.tasks.WithLabelValues(StateUninitialized.String())))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.tasks.WithLabelValues(StateAborted.String())))
}

func TestSnapshotsOrderedBySlot(t *testing.T) {
	h := newHarness(t, nil)
	h.started(t, testJob("b"))
	h.started(t, testJob("a"))

	snaps := h.set.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "b", snaps[0].ResultName)
	assert.Equal(t, 0, snaps[0].Slot)
	assert.Equal(t, "a", snaps[1].ResultName)
	assert.NotEmpty(t, snaps[1].ID)
	assert.NotZero(t, snaps[1].PID)
}

func TestPollEnforcesDiskLimit(t *testing.T) {
	h := newHarness(t, nil)
	job := testJob("r0")
	job.WU.RscDiskBound = 100
	tk, _ := h.started(t, job)
	require.NoError(t, os.WriteFile(filepath.Join(tk.SlotDir(), "out.dat"), make([]byte, 4096), 0o644))

	assert.True(t, h.poll())
	assert.Equal(t, StateAborted, tk.State())
	assert.Equal(t, ReasonDiskLimit, tk.AbortReason())

	h.poll()
	h.poll()
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.aborts.WithLabelValues("sim", ReasonDiskLimit.String())))
}

func TestPollUsesLastProcessSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	job := testJob("r0")
	job.WU.RscMemoryBound = 1e6
	tk, proc := h.started(t, job)

	h.poll()
	require.Equal(t, StateExecuting, tk.State(), "no snapshot yet")

	h.set.procs = procinfo.NewBuilder(procinfo.StaticSource{
		{PID: proc.pid, PPID: 1, WorkingSetSize: 2e6},
	})
	_, err := h.set.TakeProcessSnapshot(h.clock.Now())
	require.NoError(t, err)

	h.poll()
	assert.Equal(t, StateAborted, tk.State())
	assert.Equal(t, ReasonMemoryLimit, tk.AbortReason())
}
