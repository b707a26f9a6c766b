package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldEventID   = "event_id"
	FieldSessionID = "session_id"
	FieldUploadID  = "upload_id"

	// Process fields
	FieldComponent = "component"
	FieldPlatform  = "platform"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldStatus   = "status"
	FieldActivity = "activity"

	// Transfer fields
	FieldBytesUploaded = "bytes_uploaded"
	FieldFileSize      = "file_size"
	FieldRetryCount    = "retry_count"

	// Path fields
	FieldPath      = "path"
	FieldDirectory = "directory"
)
