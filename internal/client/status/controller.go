package status

import (
	"voltask/internal/client/task"
	"voltask/pkg/errors"
	"voltask/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Tasks is the read side of a task set.
type Tasks interface {
	Snapshots() []task.TaskSnapshot
	Lookup(resultName string) (*task.Task, bool)
}

// ListTasksResponse is returned by the task list endpoint.
type ListTasksResponse struct {
	Tasks []task.TaskSnapshot `json:"tasks"`
	Total int                 `json:"total"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Tasks  int    `json:"tasks"`
}

// TaskController serves task snapshots.
type TaskController struct {
	tasks Tasks
}

// NewTaskController creates a new TaskController.
func NewTaskController(tasks Tasks) *TaskController {
	return &TaskController{tasks: tasks}
}

// List handles the task list query.
func (h *TaskController) List(c *gin.Context) {
	snaps := h.tasks.Snapshots()
	response.Success(c, ListTasksResponse{Tasks: snaps, Total: len(snaps)})
}

// Get handles a single task query by result name.
func (h *TaskController) Get(c *gin.Context) {
	name := c.Param("result")
	if name == "" {
		response.BadRequest(c, "Invalid result name")
		return
	}
	t, ok := h.tasks.Lookup(name)
	if !ok {
		response.Error(c, errors.Newf(errors.TaskNotFound, "task %s not found", name))
		return
	}
	response.Success(c, t.Snapshot())
}

// Health reports liveness and the number of tasks.
func (h *TaskController) Health(c *gin.Context) {
	response.Success(c, HealthResponse{Status: "ok", Tasks: len(h.tasks.Snapshots())})
}
