package remotefiles

import (
	"context"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/store"
)

// Service loads the remote tree and applies the optimistic mutations
// after each remote call.
type Service struct {
	remote *remote.Remote
	store  *store.Store
}

// NewService creates a remote files Service
func NewService(rem *remote.Remote, st *store.Store) *Service {
	return &Service{
		remote: rem,
		store:  st,
	}
}

// LoadPlaces fetches all mounts and caches them
func (s *Service) LoadPlaces(ctx context.Context) error {
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		notify(store.EventMounts)
		state.Mounts.Status = store.StatusLoading
	})
	mounts, err := s.remote.GetPlaces(ctx)
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		notify(store.EventMounts)
		if err != nil {
			state.Mounts.Status = store.StatusError
			return
		}
		PlacesLoaded(state, mounts)
	})
	return err
}

// LoadMount fetches one mount. The id may be the literal "primary".
func (s *Service) LoadMount(ctx context.Context, mountId string) (*store.Mount, error) {
	mount, err := s.remote.GetMount(ctx, mountId)
	if err != nil {
		return nil, err
	}
	var loaded *store.Mount
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		notify(store.EventMounts)
		MountLoaded(state, *mount)
		loaded = state.Mounts.Mounts[vault.MountId(mount.Id)]
	})
	return loaded, nil
}

// LoadFiles lists a directory and replaces its subtree root in the
// state.
func (s *Service) LoadFiles(ctx context.Context, mountId vault.MountId, path vault.RemotePath) error {
	bundle, err := s.remote.GetBundle(ctx, mountId, path)
	if err != nil {
		return err
	}
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		BundleLoaded(state, notify, mutationState, mutationNotify, mountId, path, bundle)
	})
	return nil
}

// LoadFile fetches the info of a single file and merges it
func (s *Service) LoadFile(ctx context.Context, mountId vault.MountId, path vault.RemotePath) error {
	file, err := s.remote.GetFileInfo(ctx, mountId, path)
	if err != nil {
		return err
	}
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		FileLoaded(state, notify, mutationState, mutationNotify, mountId, path, *file)
	})
	return nil
}

// CreateDir creates a directory and records it locally
func (s *Service) CreateDir(ctx context.Context, mountId vault.MountId, parentPath vault.RemotePath, name vault.RemoteName) error {
	if err := s.remote.CreateDir(ctx, mountId, parentPath, name); err != nil {
		return err
	}
	path := vault.RemotePathJoinName(parentPath, name)
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		DirCreated(state, notify, mutationState, mutationNotify, mountId, path)
	})
	return nil
}

// DeleteFile deletes a file and removes its subtree locally
func (s *Service) DeleteFile(ctx context.Context, mountId vault.MountId, path vault.RemotePath, conditions *remote.DeleteConditions) error {
	if err := s.remote.DeleteFile(ctx, mountId, path, conditions); err != nil {
		return err
	}
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		FileRemoved(state, notify, mutationState, mutationNotify, mountId, path)
	})
	return nil
}

// RenameFile renames a file in place and moves its subtree locally
func (s *Service) RenameFile(ctx context.Context, mountId vault.MountId, path vault.RemotePath, newName vault.RemoteName) error {
	if err := s.remote.RenameFile(ctx, mountId, path, newName); err != nil {
		return err
	}
	parentPath, ok := vault.RemotePathParent(path)
	if !ok {
		return nil
	}
	newPath := vault.RemotePathJoinName(parentPath, newName)
	return s.afterMove(ctx, mountId, path, newPath)
}

// CopyFile copies a file and records the destination locally
func (s *Service) CopyFile(ctx context.Context, mountId vault.MountId, path vault.RemotePath, toMountId vault.MountId, toPath vault.RemotePath) error {
	if err := s.remote.CopyFile(ctx, mountId, path, toMountId, toPath); err != nil {
		return err
	}
	file, err := s.remote.GetFileInfo(ctx, toMountId, toPath)
	if err != nil {
		// the copy itself worked; the destination shows up with
		// the next listing or event
		return nil
	}
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		FileCopied(state, notify, mutationState, mutationNotify, toMountId, toPath, *file)
	})
	return nil
}

// MoveFile moves a file and rewrites its subtree locally
func (s *Service) MoveFile(ctx context.Context, mountId vault.MountId, path vault.RemotePath, toMountId vault.MountId, toPath vault.RemotePath, conditions *remote.MoveFileConditions) error {
	if err := s.remote.MoveFile(ctx, mountId, path, toMountId, toPath, conditions); err != nil {
		return err
	}
	if mountId != toMountId {
		// cross mount moves show up as a removal here and a
		// creation on the other mount
		s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
			FileRemoved(state, notify, mutationState, mutationNotify, mountId, path)
		})
		return nil
	}
	return s.afterMove(ctx, mountId, path, toPath)
}

// afterMove refreshes the moved file's info and applies the move
// mutation.
func (s *Service) afterMove(ctx context.Context, mountId vault.MountId, oldPath, newPath vault.RemotePath) error {
	file, err := s.remote.GetFileInfo(ctx, mountId, newPath)
	if err != nil {
		// apply a removal so the stale entry does not linger
		s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
			FileRemoved(state, notify, mutationState, mutationNotify, mountId, oldPath)
		})
		return nil
	}
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		FileMoved(state, notify, mutationState, mutationNotify, mountId, oldPath, newPath, *file)
	})
	return nil
}
