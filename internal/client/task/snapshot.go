package task

import (
	"time"

	"voltask/internal/client/ipc"
)

// TaskSnapshot is a point-in-time copy of a task for reporting.
type TaskSnapshot struct {
	ID             string         `json:"id"`
	ResultName     string         `json:"result_name"`
	WUName         string         `json:"wu_name"`
	ProjectURL     string         `json:"project_url,omitempty"`
	AppName        string         `json:"app_name"`
	AppVersion     int            `json:"app_version"`
	Slot           int            `json:"slot"`
	State          TaskState      `json:"state"`
	SchedulerState SchedulerState `json:"scheduler_state"`
	PID            int            `json:"pid,omitempty"`

	CurrentCPUTime     float64   `json:"current_cpu_time"`
	CheckpointCPUTime  float64   `json:"checkpoint_cpu_time"`
	CheckpointWallTime time.Time `json:"checkpoint_wall_time,omitempty"`
	ElapsedTime        float64   `json:"elapsed_time"`
	FractionDone       float64   `json:"fraction_done"`
	EstTimeRemaining   float64   `json:"est_cpu_time_remaining"`

	WorkingSetSize         float64 `json:"working_set_size"`
	WorkingSetSizeSmoothed float64 `json:"working_set_size_smoothed"`
	PageFaultRate          float64 `json:"page_fault_rate"`
	DiskUsage              float64 `json:"disk_usage"`

	PrematureExitCount int       `json:"premature_exit_count"`
	CouldntStartCount  int       `json:"couldnt_start_count"`
	RestartNotBefore   time.Time `json:"restart_not_before,omitempty"`

	ExitClass   ExitClass   `json:"exit_class"`
	ExitCode    int         `json:"exit_code"`
	ExitSignal  int         `json:"exit_signal,omitempty"`
	AbortReason AbortReason `json:"abort_reason"`
	ErrorCode   int         `json:"error_code,omitempty"`
	Failed      bool        `json:"failed"`
	LastError   string      `json:"last_error,omitempty"`
	Stderr      string      `json:"stderr,omitempty"`
	ArchivePath string      `json:"archive_path,omitempty"`

	GraphicsMode       ipc.GraphicsMode `json:"graphics_mode,omitempty"`
	TrickleUpPending   bool             `json:"trickle_up_pending"`
	UploadFilesPending int              `json:"upload_files_pending"`
	LastStatusAt       time.Time        `json:"last_status_at,omitempty"`
}

// Snapshot copies the task's reportable fields.
func (t *Task) Snapshot() TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.env.Now()
	s := TaskSnapshot{
		ID:                     t.id,
		ResultName:             t.job.Result.Name,
		WUName:                 t.job.WU.Name,
		AppName:                t.job.App.AppName,
		AppVersion:             t.job.App.Version,
		Slot:                   t.slot,
		State:                  t.state,
		SchedulerState:         t.schedulerState,
		CurrentCPUTime:         t.currentCPUTime,
		CheckpointCPUTime:      t.checkpointCPUTime,
		CheckpointWallTime:     t.checkpointWallTime,
		ElapsedTime:            t.elapsedLocked(now).Seconds(),
		FractionDone:           t.fractionDone,
		EstTimeRemaining:       t.estLocked(),
		WorkingSetSize:         t.workingSetSize,
		WorkingSetSizeSmoothed: t.workingSetSizeSmoothed,
		PageFaultRate:          t.pageFaultRate,
		DiskUsage:              t.diskUsage,
		PrematureExitCount:     t.prematureExitCount,
		CouldntStartCount:      t.couldntStartCount,
		RestartNotBefore:       t.restartNotBefore,
		ExitClass:              t.exitClass,
		ExitCode:               t.lastExit.Code,
		ExitSignal:             t.lastExit.Signal,
		AbortReason:            t.abortReason,
		Failed:                 t.failed,
		LastError:              t.lastError,
		Stderr:                 t.stderr,
		ArchivePath:            t.archivePath,
		GraphicsMode:           t.graphicsMode,
		TrickleUpPending:       t.trickleUpPending,
		UploadFilesPending:     len(t.uploadFiles),
		LastStatusAt:           t.lastStatusAt,
	}
	if t.job.Project != nil {
		s.ProjectURL = t.job.Project.URL
	}
	if t.running {
		s.PID = t.pid
	}
	if t.abortReason != ReasonNone {
		s.ErrorCode = int(t.abortReason.Code())
	}
	return s
}
