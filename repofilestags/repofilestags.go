// Package repofilestags maintains the encrypted per-file tags which
// bind a plaintext content hash to a specific remote ciphertext.
package repofilestags

import (
	"context"
	"encoding/hex"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/repofiles"
	"github.com/rclone/vault/repos"
	"github.com/rclone/vault/store"
)

// Service updates repo file tags on the remote and mirrors them
// locally.
type Service struct {
	remote    *remote.Remote
	repoFiles *repofiles.Service
	repos     *repos.Service
	store     *store.Store
}

// NewService creates a repo files tags Service
func NewService(rem *remote.Remote, repoFiles *repofiles.Service, reposService *repos.Service, st *store.Store) *Service {
	return &Service{
		remote:    rem,
		repoFiles: repoFiles,
		repos:     reposService,
		store:     st,
	}
}

// SetTags loads the current tags of a file, applies update and
// persists the result, guarded against a concurrent content change
// by the remote hash.
func (s *Service) SetTags(ctx context.Context, repoId vault.RepoId, path vault.EncryptedPath, update func(file *store.RepoFile, tags *repofiles.FileTags) error) error {
	c, err := s.repos.GetCipher(repoId)
	if err != nil {
		return err
	}

	file, err := s.repoFiles.GetFile(repoId, path)
	if err != nil {
		return err
	}

	tags := &repofiles.FileTags{Unknown: map[string]string{}}
	if file.Tags.Error == nil {
		if file.Tags.EncryptedHash != "" {
			if decoded, err := hex.DecodeString(file.Tags.EncryptedHash); err == nil {
				tags.EncryptedHash = decoded
			}
		}
		if file.Tags.Hash != "" {
			if decoded, err := hex.DecodeString(file.Tags.Hash); err == nil {
				tags.Hash = decoded
			}
		}
		for key, value := range file.Tags.Unknown {
			tags.Unknown[key] = value
		}
	}

	if err := update(file, tags); err != nil {
		return err
	}

	encrypted, err := tags.Encrypt(c)
	if err != nil {
		return err
	}

	mountId, remotePath, err := s.repoFiles.GetRepoMountPath(repoId, path)
	if err != nil {
		return err
	}

	conditions := remote.FilesTagsConditions{}
	if file.RemoteHash != "" {
		hash := file.RemoteHash
		conditions.IfHash = &hash
	}

	err = s.remote.SetFileTags(ctx, mountId, remotePath, remote.FilesTagsSet{
		Tags:       map[string][]string{repofiles.RemoteFileTagsKey: {encrypted}},
		Conditions: conditions,
	})
	if err != nil {
		return err
	}

	// mirror the tags locally and re-decrypt the projection around
	// the file
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		remoteFile, ok := state.RemoteFiles.Files[vault.NewRemoteFileId(mountId, remotePath)]
		if !ok {
			return
		}
		notify(store.EventRemoteFiles)
		remoteFile.Tags = map[string][]string{repofiles.RemoteFileTagsKey: {encrypted}}
		mutationState.RemoteFiles.CreatedFiles = append(mutationState.RemoteFiles.CreatedFiles,
			store.RemoteFileEntry{MountId: mountId, Path: remotePath})
		mutationNotify(store.MutationEventRemoteFiles, state, mutationState)
	})

	return nil
}

// SetHash binds the plaintext md5 of a file to its current remote
// ciphertext hash. Used by uploads and opportunistically by
// downloads.
func (s *Service) SetHash(ctx context.Context, repoId vault.RepoId, path vault.EncryptedPath, hash []byte, remoteHash string) error {
	encryptedHash, err := hex.DecodeString(remoteHash)
	if err != nil {
		return err
	}
	return s.SetTags(ctx, repoId, path, func(file *store.RepoFile, tags *repofiles.FileTags) error {
		tags.Hash = hash
		tags.EncryptedHash = encryptedHash
		return nil
	})
}
