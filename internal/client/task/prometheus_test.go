package task

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetricsCollector(t *testing.T) {
	pmc := NewPrometheusMetricsCollector("")

	pmc.TaskStateTransition("sim", StateUninitialized, StateExecuting)
	pmc.TaskStateTransition("sim", StateUninitialized, StateExecuting)
	pmc.TaskStartFailed("sim")
	pmc.TaskExited("sim", ExitPremature)
	pmc.TaskAborted("sim", ReasonMemoryLimit)
	pmc.TaskRestartScheduled("sim", 12*time.Second)
	pmc.TasksByState(map[TaskState]int{StateExecuting: 3})
	pmc.PollDuration(2 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(pmc.stateTransitions.WithLabelValues("sim", "UNINITIALIZED", "EXECUTING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.startFailures.WithLabelValues("sim")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.exits.WithLabelValues("sim", ExitPremature.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(pmc.aborts.WithLabelValues("sim", "memory_limit_exceeded")))
	assert.Equal(t, 3.0, testutil.ToFloat64(pmc.tasks.WithLabelValues("EXECUTING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pmc.tasks.WithLabelValues("SUSPENDED")))

	rec := httptest.NewRecorder()
	pmc.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "voltask_task_restart_backoff_seconds_count"))
	assert.True(t, strings.Contains(string(body), "voltask_poll_duration_seconds_bucket"))
}
