package logger

// Standard field names for consistent structured logging across conveyor.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldInvocationID = "invocation_id"
	FieldJobName      = "job_name"
	FieldInstance     = "instance"
	FieldWorkerID     = "worker_id"
	FieldSource       = "source"

	// Lifecycle
	FieldStatus       = "status"
	FieldResult       = "result"
	FieldVersion      = "version"
	FieldDequeueCount = "dequeue_count"

	// Timing
	FieldDurationMS    = "duration_ms"
	FieldNextVisibleAt = "next_visible_at"
	FieldWaitPeriod    = "wait_period"

	// Errors
	FieldError = "error"

	// Artifacts
	FieldLogURL  = "log_url"
	FieldBlobKey = "blob_key"

	// Counts
	FieldCount = "count"
)
