package task

import (
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"voltask/internal/client/process"
	"voltask/internal/client/procinfo"

	"github.com/stretchr/testify/require"
)

type fakeProc struct {
	mu       sync.Mutex
	pid      int
	spec     process.Spec
	startErr error
	status   *process.ExitStatus
	stops    int
	conts    int
	terms    int
}

func (p *fakeProc) Start(spec process.Spec) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.spec = spec
	return nil
}

func (p *fakeProc) Pid() int { return p.pid }

func (p *fakeProc) Exited() (process.ExitStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == nil {
		return process.ExitStatus{}, false
	}
	return *p.status, true
}

func (p *fakeProc) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terms++
	if p.status == nil {
		p.status = &process.ExitStatus{Signaled: true, Signal: int(syscall.SIGKILL)}
	}
	return nil
}

func (p *fakeProc) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakeProc) Continue() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conts++
	return nil
}

func (p *fakeProc) exit(st process.ExitStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = &st
}

func (p *fakeProc) terminations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terms
}

type fakeLauncher struct {
	mu       sync.Mutex
	procs    []*fakeProc
	nextPid  int
	startErr error
}

func (l *fakeLauncher) New() process.Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextPid++
	p := &fakeProc{pid: l.nextPid, startErr: l.startErr}
	l.procs = append(l.procs, p)
	return p
}

func (l *fakeLauncher) last() *fakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}

func (l *fakeLauncher) setStartErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startErr = err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type harness struct {
	set      *TaskSet
	launcher *fakeLauncher
	clock    *fakeClock
	metrics  *PrometheusMetricsCollector
	cfg      *Config
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.SlotsDir = filepath.Join(root, "slots")
	cfg.ShmDir = filepath.Join(root, "shm")
	cfg.WaitPollInterval = 5 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, os.MkdirAll(cfg.ShmDir, 0o755))

	h := &harness{
		launcher: &fakeLauncher{nextPid: 4000},
		clock:    newFakeClock(),
		metrics:  NewPrometheusMetricsCollector("test"),
		cfg:      &cfg,
	}
	h.set = NewTaskSet(&Env{
		Config:     &cfg,
		NewProcess: h.launcher.New,
		Now:        h.clock.Now,
		Metrics:    h.metrics,
	}, procinfo.StaticSource(nil))
	return h
}

var testProject = &Project{URL: "https://sim.example.org/", Name: "sim"}

func testJob(name string) Job {
	return Job{
		Project: testProject,
		App: AppVersion{
			AppName:    "sim",
			Version:    710,
			Executable: "/opt/sim/sim_worker",
			CmdLine:    "--mode fast",
			Flops:      1e9,
		},
		WU: WorkUnit{
			Name:          "wu_" + name,
			CommandLine:   `--input "in put.dat"`,
			RscFpopsEst:   1e12,
			RscFpopsBound: 1e13,
		},
		Result: Result{Name: name},
	}
}

// started adds a task for name and starts it.
func (h *harness) started(t *testing.T, job Job) (*Task, *fakeProc) {
	t.Helper()
	tk, err := h.set.NewTask(job)
	require.NoError(t, err)
	require.NoError(t, tk.ResumeOrStart())
	return tk, h.launcher.last()
}

func (h *harness) poll() bool {
	return h.set.Poll(h.clock.Now())
}

func writeMarker(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("0\n"), 0o644))
}
