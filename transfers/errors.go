// Package transfers is the bounded, cancelable, retriable upload and
// download scheduler with progress accounting.
package transfers

import "errors"

// Errors returned by the transfers service
var (
	ErrAborted          = errors.New("aborted")
	ErrAlreadyExists    = errors.New("file already exists")
	ErrTransferNotFound = errors.New("transfer not found")
	ErrNotOpenable      = errors.New("transfer is not openable")
	ErrNotRetriable     = errors.New("transfer is not retriable")
)
