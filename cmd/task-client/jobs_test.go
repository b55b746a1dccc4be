package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"voltask/internal/client/process"
	"voltask/internal/client/procinfo"
	"voltask/internal/client/slot"
	"voltask/internal/client/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instantProc struct {
	mu     sync.Mutex
	dir    string
	status *process.ExitStatus
}

func (p *instantProc) Start(spec process.Spec) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dir = spec.Dir
	return nil
}

func (p *instantProc) Pid() int        { return 9000 }
func (p *instantProc) Stop() error     { return nil }
func (p *instantProc) Continue() error { return nil }

func (p *instantProc) Terminate() error {
	p.finish(process.ExitStatus{Signaled: true, Signal: 9})
	return nil
}

func (p *instantProc) Exited() (process.ExitStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == nil {
		return process.ExitStatus{}, false
	}
	return *p.status, true
}

func (p *instantProc) finish(st process.ExitStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = &st
}

func TestDriver_RunsJobsWithinLimit(t *testing.T) {
	var mu sync.Mutex
	var procs []*instantProc
	tc := task.DefaultConfig()
	tc.SlotsDir = t.TempDir()
	tc.ShmDir = t.TempDir()
	tc.QuitGracePeriod = 20 * time.Millisecond
	tc.WaitPollInterval = 5 * time.Millisecond
	set := task.NewTaskSet(&task.Env{
		Config: &tc,
		NewProcess: func() process.Handle {
			mu.Lock()
			defer mu.Unlock()
			p := &instantProc{}
			procs = append(procs, p)
			return p
		},
	}, procinfo.StaticSource(nil))

	cfg := &AppConfig{
		Loop:     LoopConfig{MaxRunning: 2},
		Projects: []task.Project{{Name: "sim", URL: "https://sim.example.org/"}},
	}
	for _, name := range []string{"a", "b", "c"} {
		cfg.Jobs = append(cfg.Jobs, JobConfig{
			Project: "sim",
			App:     task.AppVersion{AppName: "sim", Executable: "/opt/sim/worker"},
			Result:  task.Result{Name: name},
		})
	}
	drv := newDriver(set, cfg)
	ctx := context.Background()

	drv.schedule(ctx, time.Now())
	assert.Equal(t, 2, drv.running())
	assert.Len(t, drv.pending, 1)

	a, ok := set.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, "https://sim.example.org/", a.Project().URL)
	require.NoError(t, os.WriteFile(filepath.Join(a.SlotDir(), slot.FinishCalledFile), []byte("0\n"), 0o644))
	procs[0].finish(process.ExitStatus{Code: 0})

	set.Poll(time.Now())
	drv.reap(ctx)
	assert.Equal(t, 1, drv.finished)
	drv.schedule(ctx, time.Now())
	assert.Equal(t, 2, drv.running())
	assert.Empty(t, drv.pending)

	c, ok := set.Lookup("c")
	require.True(t, ok)
	assert.Equal(t, 0, c.Slot(), "freed slot is reused")
	assert.False(t, drv.idle())

	assert.True(t, set.Shutdown(ctx))
	for _, tk := range set.Tasks() {
		require.NoError(t, tk.AbortTask(task.ReasonAbortedByClient))
	}
	drv.reap(ctx)
	assert.True(t, drv.idle())
}
