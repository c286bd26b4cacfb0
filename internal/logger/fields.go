package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldComponent = "component"
	FieldRowIndex  = "row_index"
	FieldIP        = "ip"
)

// Metric fields, attached to single entries for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldStatus     = "status"
	FieldSize       = "size"
)
