package task

import "voltask/pkg/errors"

// TaskState is the lifecycle state of a Task.
type TaskState int

const (
	StateUninitialized TaskState = iota
	StateExecuting
	StateSuspended
	StateExited
	StateCouldntStart
	StateAborted
)

func (s TaskState) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateExecuting:
		return "EXECUTING"
	case StateSuspended:
		return "SUSPENDED"
	case StateExited:
		return "EXITED"
	case StateCouldntStart:
		return "COULDNT_START"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON snapshots.
func (s TaskState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Runnable reports whether the scheduler may still run a task in this state.
func (s TaskState) Runnable() bool {
	return s == StateUninitialized || s == StateExecuting || s == StateSuspended
}

// SchedulerState is owned by the external scheduler and never changed by
// process events.
type SchedulerState int

const (
	SchedulerUninitialized SchedulerState = iota
	SchedulerPreempted
	SchedulerScheduled
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerPreempted:
		return "PREEMPTED"
	case SchedulerScheduled:
		return "SCHEDULED"
	default:
		return "UNINITIALIZED"
	}
}

func (s SchedulerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ExitClass classifies how a worker process ended.
type ExitClass int

const (
	ExitNone ExitClass = iota
	ExitNormal
	ExitNonzero
	ExitSignaled
	ExitPremature
	ExitQuit
	ExitAborted
	ExitTemporary
	ExitKilled
)

func (c ExitClass) String() string {
	switch c {
	case ExitNormal:
		return "normal"
	case ExitNonzero:
		return "nonzero_exit"
	case ExitSignaled:
		return "signaled"
	case ExitPremature:
		return "premature"
	case ExitQuit:
		return "quit"
	case ExitAborted:
		return "aborted"
	case ExitTemporary:
		return "temporary"
	case ExitKilled:
		return "killed"
	default:
		return "none"
	}
}

func (c ExitClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// AbortReason records why the client ended a task.
type AbortReason int

const (
	ReasonNone AbortReason = iota
	ReasonDiskLimit
	ReasonMemoryLimit
	ReasonCPULimit
	ReasonAbortedByClient
	ReasonTooManyExits
	ReasonUnresponsive
	ReasonKilled
	ReasonCouldntStart
)

func (r AbortReason) String() string {
	switch r {
	case ReasonDiskLimit:
		return "disk_limit_exceeded"
	case ReasonMemoryLimit:
		return "memory_limit_exceeded"
	case ReasonCPULimit:
		return "cpu_limit_exceeded"
	case ReasonAbortedByClient:
		return "aborted_by_client"
	case ReasonTooManyExits:
		return "too_many_premature_exits"
	case ReasonUnresponsive:
		return "unresponsive"
	case ReasonKilled:
		return "killed"
	case ReasonCouldntStart:
		return "couldnt_start"
	default:
		return "none"
	}
}

func (r AbortReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Code maps the reason onto the error taxonomy used in reports.
func (r AbortReason) Code() errors.ErrorCode {
	switch r {
	case ReasonDiskLimit:
		return errors.DiskLimitExceeded
	case ReasonMemoryLimit:
		return errors.MemoryLimitExceeded
	case ReasonCPULimit:
		return errors.CPULimitExceeded
	case ReasonTooManyExits:
		return errors.TooManyExits
	case ReasonUnresponsive:
		return errors.UnresponsiveWorker
	case ReasonCouldntStart:
		return errors.ProcessStartFailed
	case ReasonNone:
		return errors.Success
	default:
		return errors.ProcessKillFailed
	}
}
