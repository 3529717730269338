// Package fserrors provides errors and error handling for the
// transfer engine and the remote client, in particular the
// classification of errors into retriable and fatal.
package fserrors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Retrier is an optional interface for error as to whether the
// operation should be retried at a high level.
//
// This should be returned from Update or Put methods as required
type Retrier interface {
	error
	Retry() bool
}

// retryError is a type of error
type retryError string

// Error interface
func (r retryError) Error() string {
	return string(r)
}

// Retry interface
func (r retryError) Retry() bool {
	return true
}

// Check interface
var _ Retrier = retryError("")

// RetryErrorf makes an error which indicates it would like to be retried
func RetryErrorf(format string, a ...interface{}) error {
	return retryError(fmt.Sprintf(format, a...))
}

// wrappedRetryError is an error wrapped so it will satisfy the
// Retrier interface and return true
type wrappedRetryError struct {
	error
}

// Retry interface
func (err wrappedRetryError) Retry() bool {
	return true
}

// Check interface
var _ Retrier = wrappedRetryError{error(nil)}

// RetryError makes an error which indicates it would like to be retried
func RetryError(err error) error {
	if err == nil {
		err = errors.New("needs retry")
	}
	return wrappedRetryError{err}
}

func (err wrappedRetryError) Unwrap() error {
	return err.error
}

// walk calls f on err and every error it wraps, through both Unwrap
// and Cause chains, stopping early when f returns true.
func walk(err error, f func(error) bool) {
	for prev := error(nil); err != prev && err != nil; {
		prev = err
		if f(err) {
			return
		}
		if u, ok := err.(interface{ Unwrap() error }); ok {
			if next := u.Unwrap(); next != nil {
				err = next
				continue
			}
		}
		if c, ok := err.(interface{ Cause() error }); ok {
			if next := c.Cause(); next != nil {
				err = next
			}
		}
	}
}

// IsRetryError returns true if err conforms to the Retrier interface
// and calling the Retry method returns true.
func IsRetryError(err error) (isRetry bool) {
	walk(err, func(err error) bool {
		if r, ok := err.(Retrier); ok {
			isRetry = r.Retry()
			return true
		}
		return false
	})
	return
}

// Fataler is an optional interface for error as to whether the
// operation should cause the entire operation to finish immediately.
type Fataler interface {
	error
	Fatal() bool
}

// wrappedFatalError is an error wrapped so it will satisfy the
// Fataler interface and return true
type wrappedFatalError struct {
	error
}

// Fatal interface
func (err wrappedFatalError) Fatal() bool {
	return true
}

// Check interface
var _ Fataler = wrappedFatalError{error(nil)}

// FatalError makes an error which indicates it is a fatal error and
// the sync should stop.
func FatalError(err error) error {
	if err == nil {
		err = errors.New("fatal error")
	}
	return wrappedFatalError{err}
}

func (err wrappedFatalError) Unwrap() error {
	return err.error
}

// IsFatalError returns true if err conforms to the Fataler interface
// and calling the Fatal method returns true.
func IsFatalError(err error) (isFatal bool) {
	walk(err, func(err error) bool {
		if f, ok := err.(Fataler); ok {
			isFatal = f.Fatal()
			return true
		}
		return false
	})
	return
}

// NoRetrier is an optional interface for error as to whether the
// operation should not be retried at a high level.
type NoRetrier interface {
	error
	NoRetry() bool
}

// wrappedNoRetryError is an error wrapped so it will satisfy the
// NoRetrier interface and return true
type wrappedNoRetryError struct {
	error
}

// NoRetry interface
func (err wrappedNoRetryError) NoRetry() bool {
	return true
}

// Check interface
var _ NoRetrier = wrappedNoRetryError{error(nil)}

// NoRetryError makes an error which indicates the sync shouldn't be
// retried.
func NoRetryError(err error) error {
	return wrappedNoRetryError{err}
}

func (err wrappedNoRetryError) Unwrap() error {
	return err.error
}

// IsNoRetryError returns true if err conforms to the NoRetrier
// interface and calling the NoRetry method returns true.
func IsNoRetryError(err error) (isNoRetry bool) {
	walk(err, func(err error) bool {
		if n, ok := err.(NoRetrier); ok {
			isNoRetry = n.NoRetry()
			return true
		}
		return false
	})
	return
}

// Cause is a souped up errors.Unwrap which finds the underlying cause
// of the error walking both Unwrap and Cause chains. It also returns
// whether any error in the chain declared itself retriable via the
// net.Error Temporary/Timeout conventions.
func Cause(cause error) (retriable bool, err error) {
	err = cause
	for prev := error(nil); err != prev && err != nil; {
		prev = err
		if t, ok := err.(interface{ Timeout() bool }); ok && t.Timeout() {
			retriable = true
		}
		if t, ok := err.(interface{ Temporary() bool }); ok && t.Temporary() {
			retriable = true
		}
		if u, ok := err.(interface{ Unwrap() error }); ok {
			if next := u.Unwrap(); next != nil {
				err = next
				continue
			}
		}
		if c, ok := err.(interface{ Cause() error }); ok {
			if next := c.Cause(); next != nil {
				err = next
				continue
			}
		}
	}
	if err == nil {
		err = cause
	}
	return retriable, err
}

// retriableErrorStrings is a list of phrases which when we find it
// in an error, we know it is a networking error which should be
// retried.
var retriableErrorStrings = []string{
	"use of closed network connection",
	"unexpected EOF reading trailer",
	"transport connection broken",
	"http: ContentLength=",
	"server closed idle connection",
	"connection reset by peer",
	"broken pipe",
	"no route to host",
	"i/o timeout",
}

// Errors which indicate networking errors which should be retried
var retriableErrors = []error{
	io.EOF,
	io.ErrUnexpectedEOF,
}

// ShouldRetry looks at an error and tries to work out if retrying the
// operation that caused it would be a good idea. It returns true if
// the error implies it should be retried.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	// If error has been marked to NoRetry, don't retry
	if IsNoRetryError(err) {
		return false
	}

	// Context errors are never retried
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Find root cause if available
	retriable, err := Cause(err)
	if retriable {
		return true
	}

	// Check if it is a retriable error
	for _, retriableErr := range retriableErrors {
		if err == retriableErr {
			return true
		}
	}

	// Check error strings (yuch!) too
	errString := err.Error()
	for _, phrase := range retriableErrorStrings {
		if strings.Contains(errString, phrase) {
			return true
		}
	}

	return false
}

// retryErrorCodes is a slice of HTTP status codes which indicate the
// request should be retried.
var retryErrorCodes = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// ShouldRetryHTTP returns a boolean as to whether this statusCode
// deserves to be retried.
func ShouldRetryHTTP(statusCode int) bool {
	for _, e := range retryErrorCodes {
		if statusCode == e {
			return true
		}
	}
	return false
}

// ContextError checks to see if ctx is in error.
//
// If it is in error then it overwrites *perr with the context error
// if *perr was nil and returns true.
//
// Otherwise it returns false.
func ContextError(ctx context.Context, perr *error) bool {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if *perr == nil {
			*perr = ctxErr
		}
		return true
	}
	return false
}
