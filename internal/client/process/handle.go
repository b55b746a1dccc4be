// Package process wraps the OS process of one worker behind a small,
// platform-neutral handle.
package process

import (
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"voltask/pkg/errors"
)

// Spec describes how to launch a worker.
type Spec struct {
	Path string
	Args []string
	Dir  string
	Env  []string

	// StdoutPath and StderrPath are opened for append; empty discards.
	StdoutPath string
	StderrPath string
}

// ExitStatus is the decoded termination of a process.
type ExitStatus struct {
	Code     int
	Signaled bool
	Signal   int
	CPUTime  float64 // user + system seconds as reported by wait
	Err      error   // wait failure that is not an exit status
}

// Success reports a zero exit code with no signal.
func (s ExitStatus) Success() bool {
	return !s.Signaled && s.Code == 0 && s.Err == nil
}

func (s ExitStatus) String() string {
	if s.Signaled {
		return fmt.Sprintf("signal %d", s.Signal)
	}
	return fmt.Sprintf("exit %d", s.Code)
}

// Handle controls one OS process. Exited never blocks.
type Handle interface {
	Start(spec Spec) error
	Pid() int
	Exited() (ExitStatus, bool)
	// Terminate forcibly kills the process and its group. It does not wait.
	Terminate() error
	Stop() error
	Continue() error
}

// Factory creates handles. Tasks receive one so tests can substitute fakes.
type Factory func() Handle

// New returns the handle for the current platform.
func New() Handle {
	return &execHandle{}
}

type execHandle struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	done   chan ExitStatus
	status *ExitStatus
}

func (h *execHandle) Start(spec Spec) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd != nil {
		return errors.Newf(errors.InvalidTaskState, "process already started")
	}
	if spec.Path == "" {
		return errors.New(errors.ExecutableNotFound)
	}

	stdout, err := openOutput(spec.StdoutPath)
	if err != nil {
		return errors.Wrapf(err, errors.ProcessStartFailed, "open stdout")
	}
	stderr, err := openOutput(spec.StderrPath)
	if err != nil {
		closeOutput(stdout)
		return errors.Wrapf(err, errors.ProcessStartFailed, "open stderr")
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.SysProcAttr = sysProcAttr()
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}

	err = cmd.Start()
	// the child holds its own descriptors now
	closeOutput(stdout)
	closeOutput(stderr)
	if err != nil {
		code := errors.ProcessStartFailed
		if stderrors.Is(err, exec.ErrNotFound) || stderrors.Is(err, os.ErrNotExist) {
			code = errors.ExecutableNotFound
		}
		return errors.Wrapf(err, code, "start %s", spec.Path)
	}

	h.cmd = cmd
	h.done = make(chan ExitStatus, 1)
	go func(cmd *exec.Cmd, done chan<- ExitStatus) {
		waitErr := cmd.Wait()
		done <- decodeExit(cmd.ProcessState, waitErr)
	}(cmd, h.done)
	return nil
}

func (h *execHandle) Pid() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) Exited() (ExitStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status != nil {
		return *h.status, true
	}
	if h.done == nil {
		return ExitStatus{}, false
	}
	select {
	case st := <-h.done:
		h.status = &st
		return st, true
	default:
		return ExitStatus{}, false
	}
}

func (h *execHandle) running() (*os.Process, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cmd == nil || h.cmd.Process == nil || h.status != nil {
		return nil, errors.New(errors.ProcessNotRunning)
	}
	return h.cmd.Process, nil
}

func openOutput(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
}

func closeOutput(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}

func cpuSeconds(state *os.ProcessState) float64 {
	if state == nil {
		return 0
	}
	return (state.UserTime() + state.SystemTime()).Seconds()
}
