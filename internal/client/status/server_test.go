package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"voltask/internal/client/procinfo"
	"voltask/internal/client/task"
	"voltask/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
	TraceID string           `json:"trace_id"`
}

func newTestSet(t *testing.T, names ...string) *task.TaskSet {
	t.Helper()
	cfg := task.DefaultConfig()
	cfg.SlotsDir = t.TempDir()
	cfg.ShmDir = t.TempDir()
	set := task.NewTaskSet(&task.Env{Config: &cfg}, procinfo.StaticSource(nil))
	for _, n := range names {
		_, err := set.NewTask(task.Job{
			Project: &task.Project{URL: "https://sim.example.org/"},
			App:     task.AppVersion{AppName: "sim", Executable: "/bin/true", Flops: 1e9},
			WU:      task.WorkUnit{Name: "wu_" + n, RscFpopsEst: 1e12},
			Result:  task.Result{Name: n},
		})
		require.NoError(t, err)
	}
	return set
}

func do(t *testing.T, h http.Handler, path string, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestListTasks(t *testing.T) {
	router := NewRouter(newTestSet(t, "r1", "r2"), nil)

	w, env := do(t, router, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, errors.Success, env.Code)

	var list struct {
		Tasks []map[string]any `json:"tasks"`
		Total int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 2, list.Total)
	require.Len(t, list.Tasks, 2)
	assert.Equal(t, "r1", list.Tasks[0]["result_name"])
	assert.Equal(t, 1000.0, list.Tasks[0]["est_cpu_time_remaining"])
}

func TestGetTask(t *testing.T) {
	router := NewRouter(newTestSet(t, "r1"), nil)

	w, env := do(t, router, "/api/v1/tasks/r1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &raw))
	assert.Equal(t, "r1", raw["result_name"])
	assert.Equal(t, "UNINITIALIZED", raw["state"])
	assert.Equal(t, "https://sim.example.org/", raw["project_url"])
}

func TestGetTask_NotFound(t *testing.T) {
	router := NewRouter(newTestSet(t), nil)

	w, env := do(t, router, "/api/v1/tasks/missing", map[string]string{traceIDHeader: "trace-1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errors.TaskNotFound, env.Code)
	assert.Equal(t, "trace-1", env.TraceID)
	assert.Equal(t, "trace-1", w.Header().Get(traceIDHeader))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestHealthAndMetrics(t *testing.T) {
	pmc := task.NewPrometheusMetricsCollector("voltask")
	pmc.TaskStartFailed("sim")
	router := NewRouter(newTestSet(t, "r1"), pmc.Handler())

	w, env := do(t, router, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, HealthResponse{Status: "ok", Tasks: 1}, health)
	assert.NotEmpty(t, env.TraceID, "trace id generated when absent")

	w, _ = do(t, router, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `voltask_task_start_failures_total{app="sim"} 1`)
}

func TestMetricsRouteAbsentWithoutHandler(t *testing.T) {
	router := NewRouter(newTestSet(t), nil)
	w, _ := do(t, router, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, defaultAddr, cfg.Addr)
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, newTestSet(t), nil)
	assert.Equal(t, "127.0.0.1:0", srv.Addr)
	assert.Equal(t, defaultWriteTimeout, srv.WriteTimeout)
}
