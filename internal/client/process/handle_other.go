//go:build !unix

package process

import (
	stderrors "errors"
	"os"
	"os/exec"
	"syscall"

	"voltask/pkg/errors"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// Terminate kills the process. Descendants are not reached on this platform.
func (h *execHandle) Terminate() error {
	p, err := h.running()
	if err != nil {
		return err
	}
	if err := p.Kill(); err != nil {
		if stderrors.Is(err, os.ErrProcessDone) {
			return errors.Wrap(err, errors.ProcessNotRunning)
		}
		return errors.Wrap(err, errors.ProcessKillFailed)
	}
	return nil
}

// Stop is not available; callers fall back to the control channel.
func (h *execHandle) Stop() error {
	return errors.Newf(errors.ProcessSignalFailed, "stop is not supported on this platform")
}

// Continue is not available; callers fall back to the control channel.
func (h *execHandle) Continue() error {
	return errors.Newf(errors.ProcessSignalFailed, "continue is not supported on this platform")
}

func decodeExit(state *os.ProcessState, waitErr error) ExitStatus {
	st := ExitStatus{CPUTime: cpuSeconds(state)}
	if state == nil {
		st.Code = -1
		st.Err = waitErr
		return st
	}
	st.Code = state.ExitCode()
	var exitErr *exec.ExitError
	if waitErr != nil && !stderrors.As(waitErr, &exitErr) {
		st.Err = waitErr
	}
	return st
}
