package repofiles

import (
	"context"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/remotefiles"
	"github.com/rclone/vault/repos"
	"github.com/rclone/vault/store"
)

// Service exposes the decrypted file operations of unlocked repos
// and keeps the projection reactive to remote file and repo
// mutations.
type Service struct {
	remoteFiles *remotefiles.Service
	repos       *repos.Service
	store       *store.Store

	remoteFilesSubscription uint32
	reposSubscription       uint32
}

// NewService creates a repo files Service and registers the mutation
// subscriptions that keep the projection consistent inside the same
// critical section as the base state changes.
func NewService(remoteFiles *remotefiles.Service, reposService *repos.Service, st *store.Store) *Service {
	s := &Service{
		remoteFiles: remoteFiles,
		repos:       reposService,
		store:       st,
	}
	s.remoteFilesSubscription = st.SubscribeMutation(
		[]store.MutationEvent{store.MutationEventRemoteFiles},
		func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
			HandleRemoteFilesMutation(state, notify, mutationState, mutationNotify)
		})
	s.reposSubscription = st.SubscribeMutation(
		[]store.MutationEvent{store.MutationEventRepos},
		func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
			HandleReposMutation(state, notify, mutationState, mutationNotify)
		})
	return s
}

// Stop removes the mutation subscriptions
func (s *Service) Stop() {
	s.store.UnsubscribeMutation(s.remoteFilesSubscription)
	s.store.UnsubscribeMutation(s.reposSubscription)
}

// GetRepoMountPath resolves an in-repo encrypted path to its mount
// and full remote path.
func (s *Service) GetRepoMountPath(repoId vault.RepoId, encryptedPath vault.EncryptedPath) (vault.MountId, vault.RemotePath, error) {
	var mountId vault.MountId
	var remotePath vault.RemotePath
	var err error
	s.store.WithState(func(state *store.State) {
		repo, selectErr := repos.SelectRepo(state, repoId)
		if selectErr != nil {
			err = selectErr
			return
		}
		mountId = repo.MountId
		remotePath = vault.RemotePathJoin(repo.Path, vault.RemotePath(encryptedPath))
	})
	return mountId, remotePath, err
}

// EncryptPath encrypts a plaintext in-repo path with the repo's
// cipher.
func (s *Service) EncryptPath(repoId vault.RepoId, path vault.DecryptedPath) (vault.EncryptedPath, error) {
	c, err := s.repos.GetCipher(repoId)
	if err != nil {
		return "", err
	}
	return vault.EncryptedPath(c.EncryptPath(string(path))), nil
}

// LoadFiles lists a repo directory. The decrypted projection follows
// through the remote files mutation.
func (s *Service) LoadFiles(ctx context.Context, repoId vault.RepoId, encryptedPath vault.EncryptedPath) error {
	mountId, remotePath, err := s.GetRepoMountPath(repoId, encryptedPath)
	if err != nil {
		return err
	}
	if err := s.repos.TouchRepo(repoId); err != nil {
		return err
	}
	return s.remoteFiles.LoadFiles(ctx, mountId, remotePath)
}

// LoadFile refreshes the info of a single repo file.
func (s *Service) LoadFile(ctx context.Context, repoId vault.RepoId, encryptedPath vault.EncryptedPath) error {
	mountId, remotePath, err := s.GetRepoMountPath(repoId, encryptedPath)
	if err != nil {
		return err
	}
	return s.remoteFiles.LoadFile(ctx, mountId, remotePath)
}

// GetFile returns the repo file at an encrypted path.
func (s *Service) GetFile(repoId vault.RepoId, encryptedPath vault.EncryptedPath) (*store.RepoFile, error) {
	var file *store.RepoFile
	s.store.WithState(func(state *store.State) {
		file = SelectFile(state, GetFileId(repoId, encryptedPath))
		if file == nil {
			file = SelectFile(state, GetErrorFileId(repoId, encryptedPath))
		}
	})
	if file == nil {
		return nil, ErrFileNotFound
	}
	return file, nil
}

// CreateDir creates a directory with an encrypted name inside a
// repo.
func (s *Service) CreateDir(ctx context.Context, repoId vault.RepoId, parentPath vault.EncryptedPath, name vault.DecryptedName) (vault.EncryptedPath, error) {
	if !vault.ValidName(string(name)) {
		return "", &InvalidNameError{Name: string(name)}
	}
	c, err := s.repos.GetCipher(repoId)
	if err != nil {
		return "", err
	}
	encryptedName := vault.EncryptedName(c.EncryptFilename(string(name)))

	mountId, remoteParentPath, err := s.GetRepoMountPath(repoId, parentPath)
	if err != nil {
		return "", err
	}
	if err := s.repos.TouchRepo(repoId); err != nil {
		return "", err
	}
	if err := s.remoteFiles.CreateDir(ctx, mountId, remoteParentPath, vault.RemoteName(encryptedName)); err != nil {
		return "", err
	}
	return vault.EncryptedPathJoinName(parentPath, encryptedName), nil
}

// DeleteFile deletes a repo file or directory.
func (s *Service) DeleteFile(ctx context.Context, repoId vault.RepoId, encryptedPath vault.EncryptedPath) error {
	mountId, remotePath, err := s.GetRepoMountPath(repoId, encryptedPath)
	if err != nil {
		return err
	}
	if err := s.repos.TouchRepo(repoId); err != nil {
		return err
	}
	return s.remoteFiles.DeleteFile(ctx, mountId, remotePath, nil)
}

// DeleteFiles deletes a batch of repo files. The first error stops
// the batch.
func (s *Service) DeleteFiles(ctx context.Context, repoId vault.RepoId, encryptedPaths []vault.EncryptedPath) error {
	if len(encryptedPaths) == 0 {
		return ErrFilesEmpty
	}
	for _, encryptedPath := range encryptedPaths {
		if err := s.DeleteFile(ctx, repoId, encryptedPath); err != nil {
			return err
		}
	}
	return nil
}

// MoveFile moves a repo file within the repo.
func (s *Service) MoveFile(ctx context.Context, repoId vault.RepoId, encryptedPath, toEncryptedPath vault.EncryptedPath) error {
	mountId, remotePath, err := s.GetRepoMountPath(repoId, encryptedPath)
	if err != nil {
		return err
	}
	_, toRemotePath, err := s.GetRepoMountPath(repoId, toEncryptedPath)
	if err != nil {
		return err
	}
	if err := s.repos.TouchRepo(repoId); err != nil {
		return err
	}
	return s.remoteFiles.MoveFile(ctx, mountId, remotePath, mountId, toRemotePath, nil)
}

// CopyFile copies a repo file within the repo.
func (s *Service) CopyFile(ctx context.Context, repoId vault.RepoId, encryptedPath, toEncryptedPath vault.EncryptedPath) error {
	mountId, remotePath, err := s.GetRepoMountPath(repoId, encryptedPath)
	if err != nil {
		return err
	}
	_, toRemotePath, err := s.GetRepoMountPath(repoId, toEncryptedPath)
	if err != nil {
		return err
	}
	if err := s.repos.TouchRepo(repoId); err != nil {
		return err
	}
	return s.remoteFiles.CopyFile(ctx, mountId, remotePath, mountId, toRemotePath)
}

// EnsureDir makes sure the repo directory exists, creating it when
// the remote reports it missing. A NotFound while checking is fine -
// the directory may not exist yet.
func (s *Service) EnsureDir(ctx context.Context, repoId vault.RepoId, encryptedPath vault.EncryptedPath) error {
	if encryptedPath == "/" {
		return nil
	}
	mountId, remotePath, err := s.GetRepoMountPath(repoId, encryptedPath)
	if err != nil {
		return err
	}
	err = s.remoteFiles.LoadFile(ctx, mountId, remotePath)
	if err == nil {
		return nil
	}
	if !remote.IsApiErrorCode(err, remote.ApiErrorCodeNotFound) {
		return err
	}
	parentPath, ok := vault.EncryptedPathParent(encryptedPath)
	if !ok {
		return nil
	}
	if err := s.EnsureDir(ctx, repoId, parentPath); err != nil {
		return err
	}
	name, _ := vault.EncryptedPathName(encryptedPath)
	mountId, remoteParentPath, err := s.GetRepoMountPath(repoId, parentPath)
	if err != nil {
		return err
	}
	err = s.remoteFiles.CreateDir(ctx, mountId, remoteParentPath, vault.RemoteName(name))
	if err != nil && !remote.IsApiErrorCode(err, remote.ApiErrorCodeAlreadyExists) {
		return err
	}
	return nil
}
