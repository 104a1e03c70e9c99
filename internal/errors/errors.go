package errors

import "net/http"

type ErrorCode string

const (
	CodeUnauthorized     ErrorCode = "unauthorized"
	CodeBadRequest       ErrorCode = "bad_request"
	CodeNotFound         ErrorCode = "not_found"
	CodeDuplicate        ErrorCode = "duplicate"
	CodeForwardingFailed ErrorCode = "forwarding_failed"
	CodeUnavailable      ErrorCode = "unavailable"
	CodeInternal         ErrorCode = "internal_error"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func New(code ErrorCode, message string, err error) ServiceError {
	return ServiceError{Code: code, Message: message, Err: err}
}

func (se ServiceError) Error() string {
	return se.Message
}

func (se ServiceError) Unwrap() error {
	return se.Err
}

// HTTPStatus is the response status the error is reported with.
func (se ServiceError) HTTPStatus() int {
	switch se.Code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeDuplicate:
		return http.StatusConflict
	case CodeForwardingFailed:
		return http.StatusBadGateway
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
