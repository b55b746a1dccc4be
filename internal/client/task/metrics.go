package task

import "time"

// MetricsCollector receives task lifecycle events.
type MetricsCollector interface {
	// TaskStateTransition records a change of task state
	TaskStateTransition(app string, from, to TaskState)

	// TaskStartFailed records a failed process launch
	TaskStartFailed(app string)

	// TaskExited records a classified process exit
	TaskExited(app string, class ExitClass)

	// TaskAborted records a client-side abort
	TaskAborted(app string, reason AbortReason)

	// TaskRestartScheduled records the backoff before an automatic restart
	TaskRestartScheduled(app string, delay time.Duration)

	// TasksByState records how many tasks are in each state
	TasksByState(counts map[TaskState]int)

	// PollDuration records how long one poll pass took
	PollDuration(d time.Duration)
}

type noopMetricsCollector struct{}

func (noopMetricsCollector) TaskStateTransition(app string, from, to TaskState)   {}
func (noopMetricsCollector) TaskStartFailed(app string)                           {}
func (noopMetricsCollector) TaskExited(app string, class ExitClass)               {}
func (noopMetricsCollector) TaskAborted(app string, reason AbortReason)           {}
func (noopMetricsCollector) TaskRestartScheduled(app string, delay time.Duration) {}
func (noopMetricsCollector) TasksByState(counts map[TaskState]int)                {}
func (noopMetricsCollector) PollDuration(d time.Duration)                         {}

// NewNoopMetricsCollector returns a collector that drops everything.
func NewNoopMetricsCollector() MetricsCollector {
	return noopMetricsCollector{}
}
