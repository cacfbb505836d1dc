package core

// Error codes for domain errors.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeUnidentified       = "unidentified_connection"
	ErrCodeMissingTarget      = "missing_target"
	ErrCodeRoleMismatch       = "role_mismatch"
	ErrCodePersistenceFailure = "persistence_failure"
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}
