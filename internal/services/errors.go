package services

import "errors"

// Code is the stable, client-visible error code for a failed namespace or
// blob operation. Invariant violations are never retried; storage codes
// are retried at the blob layer before they surface here.
type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeNameConflict       Code = "name_conflict"
	CodeCycleDetected      Code = "cycle_detected"
	CodeDepthExceeded      Code = "depth_exceeded"
	CodeNotInTrash         Code = "not_in_trash"
	CodeDenied             Code = "denied"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeTimeout            Code = "timeout"
	CodeInvalidArgument    Code = "invalid_argument"
)

type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func E(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf extracts the taxonomy code from err, or empty if err is not a
// service error.
func CodeOf(err error) Code {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return ""
}
