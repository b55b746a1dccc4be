package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 20000-20999: Slot directory errors
// 21000-21999: Process lifecycle errors
// 22000-22999: Shared-memory IPC errors
// 23000-23999: Resource limit violations
// 24000-24999: Init data errors
// 25000-25999: Task state errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Slot Errors (20000-20999) ==========

	NoFreeSlot        ErrorCode = 20000
	SlotPrepareFailed ErrorCode = 20001
	SlotLocked        ErrorCode = 20002
	SlotCleanupFailed ErrorCode = 20003
	DiskUsageFailed   ErrorCode = 20004

	// ========== Process Errors (21000-21999) ==========

	ProcessStartFailed  ErrorCode = 21000
	ProcessKillFailed   ErrorCode = 21001
	ProcessSignalFailed ErrorCode = 21002
	ProcessNotRunning   ErrorCode = 21003
	PrematureExit       ErrorCode = 21004
	TooManyExits        ErrorCode = 21005
	UnresponsiveWorker  ErrorCode = 21006
	ExecutableNotFound  ErrorCode = 21007

	// ========== IPC Errors (22000-22999) ==========

	SharedMemFailed     ErrorCode = 22000
	MessageTooLarge     ErrorCode = 22001
	ChannelFull         ErrorCode = 22002
	MalformedMessage    ErrorCode = 22003
	SegmentNotAttached  ErrorCode = 22004
	InvalidChannelIndex ErrorCode = 22005

	// ========== Resource Limit Errors (23000-23999) ==========

	DiskLimitExceeded   ErrorCode = 23000
	MemoryLimitExceeded ErrorCode = 23001
	CPULimitExceeded    ErrorCode = 23002

	// ========== Init Data Errors (24000-24999) ==========

	InitDataWriteFailed ErrorCode = 24000
	InitDataReadFailed  ErrorCode = 24001

	// ========== Task State Errors (25000-25999) ==========

	InvalidTaskState ErrorCode = 25000
	TaskNotFound     ErrorCode = 25001
	TaskExists       ErrorCode = 25002
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Operation timeout",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Slot
	NoFreeSlot:        "No free slot available",
	SlotPrepareFailed: "Failed to prepare slot directory",
	SlotLocked:        "Slot directory is locked by another process",
	SlotCleanupFailed: "Failed to clean up slot directory",
	DiskUsageFailed:   "Failed to measure slot disk usage",

	// Process
	ProcessStartFailed:  "Failed to start worker process",
	ProcessKillFailed:   "Failed to kill worker process",
	ProcessSignalFailed: "Failed to signal worker process",
	ProcessNotRunning:   "Worker process is not running",
	PrematureExit:       "Worker exited before reporting completion",
	TooManyExits:        "Worker exited prematurely too many times",
	UnresponsiveWorker:  "Worker is not consuming control messages",
	ExecutableNotFound:  "Worker executable not found",

	// IPC
	SharedMemFailed:     "Shared memory operation failed",
	MessageTooLarge:     "Message exceeds channel capacity",
	ChannelFull:         "Channel already holds an unread message",
	MalformedMessage:    "Malformed IPC message",
	SegmentNotAttached:  "Shared memory segment is not attached",
	InvalidChannelIndex: "Invalid channel index",

	// Resource limits
	DiskLimitExceeded:   "Disk usage limit exceeded",
	MemoryLimitExceeded: "Memory usage limit exceeded",
	CPULimitExceeded:    "CPU time limit exceeded",

	// Init data
	InitDataWriteFailed: "Failed to write init data file",
	InitDataReadFailed:  "Failed to read init data file",

	// Task state
	InvalidTaskState: "Operation not allowed in current task state",
	TaskNotFound:     "Task not found",
	TaskExists:       "Task already exists",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == TaskNotFound:
		return 404
	case c == TaskExists, c == InvalidTaskState:
		return 409
	case c == ServiceUnavailable, c == NoFreeSlot:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
