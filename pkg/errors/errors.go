package errors

import (
	"errors"
)

type Code string

const (
	CodeInvalidCredentials Code = "invalid_credentials"
	CodeBackendRejected    Code = "backend_rejected"
	CodeNetworkUnavailable Code = "network_unavailable"
	CodeProviderDenied     Code = "provider_denied"
	CodeUnauthenticated    Code = "unauthenticated"
	CodeSuperseded         Code = "superseded"
)

const (
	CodeUnknown            Code = "unknown"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeNotImplemented     Code = "not_implemented"
)

var (
	ErrMissingExchanger = errors.New("dashauth: credential exchanger is required")
	ErrMissingStore     = errors.New("dashauth: credential store is required")
	ErrMissingBridge    = errors.New("dashauth: identity provider bridge is not configured")
)

// Error is the coded error returned across package boundaries. Status carries
// the backend HTTP status when the failure came from a non-2xx response.
type Error struct {
	Code    Code
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Message != "" {
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func WithStatus(code Code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost *Error in the chain, or CodeUnknown
// for uncoded errors. A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	var typed *Error
	if !errors.As(err, &typed) || typed == nil {
		return CodeUnknown
	}
	return typed.Code
}

func IsInternalCode(err error) bool {
	return IsCode(err, CodeUnknown) || IsCode(err, CodeStorageUnavailable) || IsCode(err, CodeNotImplemented)
}
