//go:build unix

package process

import (
	stderrors "errors"
	"os"
	"os/exec"
	"syscall"

	"voltask/pkg/errors"

	"golang.org/x/sys/unix"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// Terminate sends SIGKILL to the whole process group.
func (h *execHandle) Terminate() error {
	return h.signalGroup(unix.SIGKILL, errors.ProcessKillFailed)
}

// Stop sends SIGSTOP to the process group.
func (h *execHandle) Stop() error {
	return h.signalGroup(unix.SIGSTOP, errors.ProcessSignalFailed)
}

// Continue sends SIGCONT to the process group.
func (h *execHandle) Continue() error {
	return h.signalGroup(unix.SIGCONT, errors.ProcessSignalFailed)
}

func (h *execHandle) signalGroup(sig unix.Signal, code errors.ErrorCode) error {
	p, err := h.running()
	if err != nil {
		return err
	}
	if p.Pid <= 0 {
		return errors.New(errors.ProcessNotRunning)
	}
	if err := unix.Kill(-p.Pid, sig); err != nil {
		if stderrors.Is(err, unix.ESRCH) {
			return errors.Wrap(err, errors.ProcessNotRunning)
		}
		return errors.Wrapf(err, code, "signal %s to group %d", unix.SignalName(sig), p.Pid)
	}
	return nil
}

func decodeExit(state *os.ProcessState, waitErr error) ExitStatus {
	st := ExitStatus{CPUTime: cpuSeconds(state)}
	if state == nil {
		st.Code = -1
		st.Err = waitErr
		return st
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		switch {
		case ws.Signaled():
			st.Signaled = true
			st.Signal = int(ws.Signal())
			st.Code = -1
		case ws.Exited():
			st.Code = ws.ExitStatus()
		default:
			st.Code = state.ExitCode()
		}
		return st
	}
	st.Code = state.ExitCode()
	var exitErr *exec.ExitError
	if waitErr != nil && !stderrors.As(waitErr, &exitErr) {
		st.Err = waitErr
	}
	return st
}
