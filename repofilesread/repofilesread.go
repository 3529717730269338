// Package repofilesread opens decrypted readers over repo files,
// with random access by plaintext offset through the content
// cipher's seek support.
package repofilesread

import (
	"context"
	"errors"
	"io"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/repofiles"
	"github.com/rclone/vault/repos"
	"github.com/rclone/vault/store"
	"github.com/rclone/vault/transfers"
)

// Errors returned by the repo files read service
var (
	ErrNotAFile    = errors.New("not a file")
	ErrNameInvalid = errors.New("file name could not be decrypted")
)

// Service opens repo files for reading
type Service struct {
	remote    *remote.Remote
	repoFiles *repofiles.Service
	repos     *repos.Service
	store     *store.Store
}

// NewService creates a repo files read Service
func NewService(rem *remote.Remote, repoFiles *repofiles.Service, reposService *repos.Service, st *store.Store) *Service {
	return &Service{
		remote:    rem,
		repoFiles: repoFiles,
		repos:     reposService,
		store:     st,
	}
}

// openRange opens the remote ciphertext at a byte range. Used by the
// decrypter to reopen the stream when seeking.
func (s *Service) openRange(mountId vault.MountId, remotePath vault.RemotePath) func(ctx context.Context, offset, limit int64) (io.ReadCloser, error) {
	return func(ctx context.Context, offset, limit int64) (io.ReadCloser, error) {
		var span *remote.FileSpan
		if offset != 0 || limit >= 0 {
			span = &remote.FileSpan{Start: offset, End: -1}
			if limit >= 0 {
				span.End = offset + limit - 1
			}
		}
		reader, err := s.remote.GetFileReader(ctx, mountId, remotePath, span)
		if err != nil {
			return nil, err
		}
		return reader.Reader, nil
	}
}

// GetFileReader returns a provider which opens the decrypted file
// when the transfer engine is ready for it.
func (s *Service) GetFileReader(repoId vault.RepoId, encryptedPath vault.EncryptedPath) (*FileReaderProvider, error) {
	file, err := s.repoFiles.GetFile(repoId, encryptedPath)
	if err != nil {
		return nil, err
	}
	if file.Type != store.FileTypeFile {
		return nil, ErrNotAFile
	}
	if file.Name.Error != nil {
		return nil, ErrNameInvalid
	}
	return &FileReaderProvider{
		service: s,
		repoId:  repoId,
		path:    encryptedPath,
		name:    file.Name.Decrypted,
	}, nil
}

// ReadFileAt opens a decrypted reader starting at a plaintext offset
// with an optional limit (-1 for the rest of the file).
func (s *Service) ReadFileAt(ctx context.Context, repoId vault.RepoId, encryptedPath vault.EncryptedPath, offset, limit int64) (io.ReadCloser, error) {
	c, err := s.repos.GetCipher(repoId)
	if err != nil {
		return nil, err
	}
	mountId, remotePath, err := s.repoFiles.GetRepoMountPath(repoId, encryptedPath)
	if err != nil {
		return nil, err
	}
	if err := s.repos.TouchRepo(repoId); err != nil {
		return nil, err
	}
	return c.DecryptDataSeek(ctx, s.openRange(mountId, remotePath), offset, limit)
}

// FileReaderProvider implements the transfer engine's reader
// provider over one repo file.
type FileReaderProvider struct {
	service *Service
	repoId  vault.RepoId
	path    vault.EncryptedPath
	name    vault.DecryptedName
}

// Name returns the decrypted file name
func (p *FileReaderProvider) Name() vault.DecryptedName {
	return p.name
}

// Reader opens the decrypted file from the start
func (p *FileReaderProvider) Reader(ctx context.Context) (*transfers.RepoFileReader, error) {
	s := p.service

	file, err := s.repoFiles.GetFile(p.repoId, p.path)
	if err != nil {
		return nil, err
	}
	if file.Name.Error != nil {
		return nil, ErrNameInvalid
	}

	reader, err := s.ReadFileAt(ctx, p.repoId, p.path, 0, -1)
	if err != nil {
		return nil, err
	}

	size := store.SizeInfo{Kind: store.SizeUnknown}
	if file.Size.Error == nil && file.Type == store.FileTypeFile {
		size = store.SizeInfo{Kind: store.SizeExact, Size: file.Size.Size}
	}

	localHash := ""
	if file.Tags.Error == nil {
		localHash = file.Tags.Hash
	}

	return &transfers.RepoFileReader{
		Name:        file.Name.Decrypted,
		Size:        size,
		ContentType: file.ContentType,
		UniqueName:  file.UniqueName,
		RepoId:      p.repoId,
		Path:        p.path,
		RemoteHash:  file.RemoteHash,
		LocalHash:   localHash,
		Reader:      reader,
	}, nil
}

// check interfaces
var _ transfers.RepoFileReaderProvider = (*FileReaderProvider)(nil)
