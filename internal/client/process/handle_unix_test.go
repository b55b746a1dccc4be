//go:build unix

package process

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"voltask/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func waitExit(t *testing.T, h Handle) ExitStatus {
	t.Helper()
	var st ExitStatus
	require.Eventually(t, func() bool {
		var ok bool
		st, ok = h.Exited()
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	return st
}

func TestHandle_ExitCodeAndOutput(t *testing.T) {
	dir := t.TempDir()
	h := New()
	require.NoError(t, h.Start(Spec{
		Path:       "/bin/sh",
		Args:       []string{"-c", "echo out; echo err >&2; pwd; exit 3"},
		Dir:        dir,
		StdoutPath: filepath.Join(dir, "stdout.txt"),
		StderrPath: filepath.Join(dir, "stderr.txt"),
	}))
	assert.Greater(t, h.Pid(), 0)

	st := waitExit(t, h)
	assert.Equal(t, 3, st.Code)
	assert.False(t, st.Signaled)
	assert.False(t, st.Success())

	out, err := os.ReadFile(filepath.Join(dir, "stdout.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(out), "out\n")
	assert.Contains(t, string(out), dir)
	errOut, err := os.ReadFile(filepath.Join(dir, "stderr.txt"))
	require.NoError(t, err)
	assert.Equal(t, "err\n", string(errOut))

	again, ok := h.Exited()
	require.True(t, ok)
	assert.Equal(t, st, again)
}

func TestHandle_TerminateKillsGroup(t *testing.T) {
	h := New()
	require.NoError(t, h.Start(Spec{Path: "/bin/sh", Args: []string{"-c", "sleep 30 & wait"}}))

	_, exited := h.Exited()
	assert.False(t, exited)

	require.NoError(t, h.Terminate())
	st := waitExit(t, h)
	assert.True(t, st.Signaled)
	assert.Equal(t, int(unix.SIGKILL), st.Signal)

	err := h.Terminate()
	assert.True(t, errors.Is(err, errors.ProcessNotRunning))
}

func TestHandle_StopContinue(t *testing.T) {
	h := New()
	require.NoError(t, h.Start(Spec{Path: "/bin/sh", Args: []string{"-c", "sleep 0.3"}}))
	require.NoError(t, h.Stop())
	time.Sleep(500 * time.Millisecond)
	_, exited := h.Exited()
	assert.False(t, exited, "stopped process must not finish")

	require.NoError(t, h.Continue())
	st := waitExit(t, h)
	assert.True(t, st.Success())
}

func TestHandle_MissingExecutable(t *testing.T) {
	h := New()
	err := h.Start(Spec{Path: filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ExecutableNotFound))
	assert.Equal(t, 0, h.Pid())
	_, exited := h.Exited()
	assert.False(t, exited)
}

func TestHandle_StartTwice(t *testing.T) {
	h := New()
	require.NoError(t, h.Start(Spec{Path: "/bin/sh", Args: []string{"-c", "exit 0"}}))
	assert.Error(t, h.Start(Spec{Path: "/bin/sh"}))
	waitExit(t, h)
}
