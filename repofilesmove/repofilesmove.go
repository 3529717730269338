// Package repofilesmove implements the move/copy picker flow over
// repo files.
package repofilesmove

import (
	"context"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/repofiles"
)

// Mode says whether the picked files are moved or copied
type Mode int

// Modes
const (
	ModeMove Mode = iota
	ModeCopy
)

// Service moves and copies repo files to a picked destination
type Service struct {
	repoFiles *repofiles.Service
}

// NewService creates a repo files move Service
func NewService(repoFiles *repofiles.Service) *Service {
	return &Service{repoFiles: repoFiles}
}

// MoveFiles moves or copies files into the destination directory,
// keeping each file's name. The first error stops the batch.
func (s *Service) MoveFiles(ctx context.Context, repoId vault.RepoId, paths []vault.EncryptedPath, toParentPath vault.EncryptedPath, mode Mode) error {
	if len(paths) == 0 {
		return repofiles.ErrFilesEmpty
	}
	for _, path := range paths {
		name, ok := vault.EncryptedPathName(path)
		if !ok {
			continue
		}
		toPath := vault.EncryptedPathJoinName(toParentPath, name)
		if toPath == path {
			continue
		}
		var err error
		if mode == ModeCopy {
			err = s.repoFiles.CopyFile(ctx, repoId, path, toPath)
		} else {
			err = s.repoFiles.MoveFile(ctx, repoId, path, toPath)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
