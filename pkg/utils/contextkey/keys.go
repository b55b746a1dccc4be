package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	// ResultName tags log lines emitted on behalf of one task.
	ResultName key = "result_name"
	Slot       key = "slot"
)
