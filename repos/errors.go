// Package repos manages the vault repos: loading, creation, lock and
// unlock, auto-lock and repo configs.
package repos

import "errors"

// Errors returned by the repos service
var (
	ErrRepoNotFound    = errors.New("repo not found")
	ErrRepoLocked      = errors.New("repo is locked")
	ErrRepoUnlocked    = errors.New("repo is already unlocked")
	ErrInvalidPassword = errors.New("invalid password")
)
