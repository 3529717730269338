// Package repofilesdetails tracks detail views of single repo files.
// A details view follows its file when a mutation moves it.
package repofilesdetails

import (
	"context"
	"sync"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/relativetime"
	"github.com/rclone/vault/repofiles"
	"github.com/rclone/vault/store"
)

// Details is one open file detail view
type Details struct {
	Id     uint32
	RepoId vault.RepoId
	Path   vault.EncryptedPath
}

// Service manages repo file details views
type Service struct {
	repoFiles *repofiles.Service
	store     *store.Store
	runtime   vault.Runtime

	mu      sync.Mutex
	details map[uint32]*Details

	subscription uint32
}

// NewService creates a repo files details Service. It follows moved
// files within the same mutation that moved them.
func NewService(repoFiles *repofiles.Service, st *store.Store, runtime vault.Runtime) *Service {
	s := &Service{
		repoFiles: repoFiles,
		store:     st,
		runtime:   runtime,
		details:   make(map[uint32]*Details),
	}
	s.subscription = st.SubscribeMutation(
		[]store.MutationEvent{store.MutationEventRepoFiles},
		func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, _ store.MutationNotifyFunc) {
			s.handleRepoFilesMutation(notify, mutationState)
		})
	return s
}

// Stop removes the mutation subscription
func (s *Service) Stop() {
	s.store.UnsubscribeMutation(s.subscription)
}

// handleRepoFilesMutation retargets detail views of moved files
func (s *Service) handleRepoFilesMutation(notify store.NotifyFunc, mutationState *store.MutationState) {
	if len(mutationState.RepoFiles.MovedFiles) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, moved := range mutationState.RepoFiles.MovedFiles {
		for _, details := range s.details {
			if details.RepoId == moved.RepoId && details.Path == moved.OldPath {
				details.Path = moved.NewPath
				changed = true
			}
		}
	}
	if changed {
		notify(store.EventRepoFilesDetails)
	}
}

// Create opens a details view of a repo file and loads its info
func (s *Service) Create(ctx context.Context, repoId vault.RepoId, path vault.EncryptedPath) (uint32, error) {
	details := &Details{
		Id:     store.NextId(),
		RepoId: repoId,
		Path:   path,
	}
	s.mu.Lock()
	s.details[details.Id] = details
	s.mu.Unlock()

	if err := s.repoFiles.LoadFile(ctx, repoId, path); err != nil {
		s.Destroy(details.Id)
		return 0, err
	}
	return details.Id, nil
}

// Destroy closes a details view
func (s *Service) Destroy(detailsId uint32) {
	s.mu.Lock()
	delete(s.details, detailsId)
	s.mu.Unlock()
}

// File returns the current file of a details view
func (s *Service) File(detailsId uint32) (*store.RepoFile, error) {
	s.mu.Lock()
	details, ok := s.details[detailsId]
	s.mu.Unlock()
	if !ok {
		return nil, repofiles.ErrFileNotFound
	}
	return s.repoFiles.GetFile(details.RepoId, details.Path)
}

// FileInfo is the display info of a details view
type FileInfo struct {
	File *store.RepoFile
	// ModifiedRelative is the modification time as a relative
	// phrase, "" when the file has none.
	ModifiedRelative string
}

// Info returns the current file of a details view together with its
// display fields.
func (s *Service) Info(detailsId uint32) (*FileInfo, error) {
	file, err := s.File(detailsId)
	if err != nil {
		return nil, err
	}
	info := &FileInfo{File: file}
	if file.Modified != nil {
		info.ModifiedRelative = relativetime.Diff(s.runtime.NowMs(), *file.Modified)
	}
	return info, nil
}
