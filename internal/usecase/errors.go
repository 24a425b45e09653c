package usecase

import "fmt"

type ErrorCode string

const (
	ErrorValidation          ErrorCode = "VALIDATION_ERROR"
	ErrorEmptyAnswer         ErrorCode = "EMPTY_ANSWER"
	ErrorAuth                ErrorCode = "AUTH_ERROR"
	ErrorRateLimited         ErrorCode = "RATE_LIMITED"
	ErrorTransport           ErrorCode = "TRANSPORT_ERROR"
	ErrorProviderServer      ErrorCode = "PROVIDER_SERVER_ERROR"
	ErrorRequestRejected     ErrorCode = "REQUEST_REJECTED"
	ErrorProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrorInternal            ErrorCode = "INTERNAL_ERROR"
)

// Error is the only error type returned by FollowupService.Answer and SpotIssues.
// Message is safe to show to callers; Err is for logs only.
type Error struct {
	Code    ErrorCode
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("usecase: %s (%s): %s: %v", e.Code, e.Reason, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason, message string, err error) *Error {
	return &Error{Code: code, Reason: reason, Message: message, Err: err}
}
