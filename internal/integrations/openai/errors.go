package openai

import "fmt"

// ErrorKind is the closed set of failure categories the client reports.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindAuthentication
	KindRateLimit
	KindConnection
	KindStatus
	KindBadRequest
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindRateLimit:
		return "rate_limit"
	case KindConnection:
		return "connection"
	case KindStatus:
		return "status"
	case KindBadRequest:
		return "bad_request"
	default:
		return "other"
	}
}

// ProviderError is returned by Client.Chat for every failure.
// StatusCode is zero when no HTTP response was received.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("openai: %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("openai: %s error: %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ProviderError) HTTPStatusCode() int {
	return e.StatusCode
}

func newProviderError(kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Err: err}
}
