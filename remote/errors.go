package remote

import (
	"encoding/json"
	"errors"
	"fmt"

	httpclient "github.com/koofr/go-httpclient"

	"github.com/rclone/vault/fserrors"
)

// ApiErrorCode is the fixed set of error codes the server returns
type ApiErrorCode string

// Known api error codes
const (
	ApiErrorCodeNotFound                ApiErrorCode = "NotFound"
	ApiErrorCodeAlreadyExists           ApiErrorCode = "AlreadyExists"
	ApiErrorCodeConflict                ApiErrorCode = "Conflict"
	ApiErrorCodeNotDir                  ApiErrorCode = "NotDir"
	ApiErrorCodeNotFile                 ApiErrorCode = "NotFile"
	ApiErrorCodeInvalidPath             ApiErrorCode = "InvalidPath"
	ApiErrorCodeMoveIntoSelf            ApiErrorCode = "MoveIntoSelf"
	ApiErrorCodeCopyIntoSelf            ApiErrorCode = "CopyIntoSelf"
	ApiErrorCodeVaultReposAlreadyExists ApiErrorCode = "VaultReposAlreadyExists"
	ApiErrorCodeVaultReposMaxTotalLimit ApiErrorCode = "VaultReposMaxTotalLimitExceeded"
	ApiErrorCodeOther                   ApiErrorCode = "Other"
)

// ApiError is a structured error response from the server
type ApiError struct {
	Code       ApiErrorCode    `json:"code"`
	Message    string          `json:"message"`
	RequestId  string          `json:"requestId,omitempty"`
	Extra      json.RawMessage `json:"extra,omitempty"`
	StatusCode int             `json:"-"`
}

// Error implements the error interface
func (e *ApiError) Error() string {
	return fmt.Sprintf("api error %s: %s", e.Code, e.Message)
}

// HttpError is a transport level error without a structured body
type HttpError struct {
	// IsRequestError is true when the request never produced a
	// response (network failure), false when the response could
	// not be interpreted.
	IsRequestError bool
	Message        string
	StatusCode     int
	cause          error
}

// Error implements the error interface
func (e *HttpError) Error() string {
	if e.IsRequestError {
		return fmt.Sprintf("http request error: %s", e.Message)
	}
	return fmt.Sprintf("http response error: %s", e.Message)
}

// Unwrap returns the underlying error
func (e *HttpError) Unwrap() error {
	return e.cause
}

// ErrUnauthenticated is returned when no usable credentials exist
var ErrUnauthenticated = errors.New("not authenticated")

// IsApiErrorCode reports whether err is an ApiError with the given
// code.
func IsApiErrorCode(err error, code ApiErrorCode) bool {
	var apiErr *ApiError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// translateError converts a go-httpclient error into an ApiError or
// HttpError. Server error bodies which are not valid JSON surface as
// HttpError.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	switch err := err.(type) {
	case httpclient.InvalidStatusError:
		var apiErr ApiError
		if jsonErr := json.Unmarshal([]byte(err.Content), &apiErr); jsonErr == nil && apiErr.Code != "" {
			apiErr.StatusCode = err.Got
			if fserrors.ShouldRetryHTTP(err.Got) {
				return fserrors.RetryError(&apiErr)
			}
			return &apiErr
		}
		httpErr := &HttpError{
			Message:    fmt.Sprintf("unexpected status %d", err.Got),
			StatusCode: err.Got,
			cause:      err,
		}
		if fserrors.ShouldRetryHTTP(err.Got) {
			return fserrors.RetryError(httpErr)
		}
		return httpErr
	}
	requestErr := &HttpError{
		IsRequestError: true,
		Message:        err.Error(),
		cause:          err,
	}
	if fserrors.ShouldRetry(err) {
		return fserrors.RetryError(requestErr)
	}
	return requestErr
}
