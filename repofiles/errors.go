// Package repofiles derives the decrypted projection of the remote
// file tree through each unlocked repo's cipher. The projection has
// no ground truth of its own - it is rebuilt from the remote files
// state and the ciphers.
package repofiles

import (
	"errors"
	"fmt"
)

// Errors returned by the repo files service
var (
	ErrFileNotFound  = errors.New("file not found")
	ErrFilesEmpty    = errors.New("no files given")
	ErrAlreadyExists = errors.New("file already exists")
	ErrNotADir       = errors.New("not a directory")
	ErrNotAFile      = errors.New("not a file")
)

// InvalidNameError is a decrypted name which is not usable as a path
// segment. The original name is preserved verbatim.
type InvalidNameError struct {
	Name string
}

// Error implements the error interface
func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid name: %q", e.Name)
}

// EncryptedHashMismatchError means the tags were bound to a
// different ciphertext than the one on the remote - the file was
// overwritten without updating the tags.
type EncryptedHashMismatchError struct {
	Expected string
	Actual   string
}

// Error implements the error interface
func (e *EncryptedHashMismatchError) Error() string {
	return fmt.Sprintf("encrypted hash mismatch: expected %s got %s", e.Expected, e.Actual)
}
