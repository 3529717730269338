// Package repofilesbrowsers tracks browser instances over repo
// directories. A browser reads the live projection, so event stream
// updates show up without polling.
package repofilesbrowsers

import (
	"context"
	"sync"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/eventstream"
	"github.com/rclone/vault/repofiles"
	"github.com/rclone/vault/store"
)

// Browser is one open directory view
type Browser struct {
	Id     uint32
	RepoId vault.RepoId
	Path   vault.EncryptedPath

	subscription *eventstream.MountSubscription
	selection    map[vault.RepoFileId]bool
}

// Service manages repo file browsers
type Service struct {
	repoFiles   *repofiles.Service
	eventstream *eventstream.Service
	store       *store.Store

	mu       sync.Mutex
	browsers map[uint32]*Browser
}

// NewService creates a repo files browsers Service. The eventstream
// service may be nil when live updates are not wanted.
func NewService(repoFiles *repofiles.Service, es *eventstream.Service, st *store.Store) *Service {
	return &Service{
		repoFiles:   repoFiles,
		eventstream: es,
		store:       st,
		browsers:    make(map[uint32]*Browser),
	}
}

// Create opens a browser over a repo directory and loads it. The
// browser subscribes to remote events for its subtree.
func (s *Service) Create(ctx context.Context, repoId vault.RepoId, path vault.EncryptedPath) (uint32, error) {
	browser := &Browser{
		Id:        store.NextId(),
		RepoId:    repoId,
		Path:      path,
		selection: make(map[vault.RepoFileId]bool),
	}

	if s.eventstream != nil {
		mountId, remotePath, err := s.repoFiles.GetRepoMountPath(repoId, path)
		if err != nil {
			return 0, err
		}
		browser.subscription = s.eventstream.Subscribe(mountId, remotePath)
	}

	s.mu.Lock()
	s.browsers[browser.Id] = browser
	s.mu.Unlock()

	if err := s.repoFiles.LoadFiles(ctx, repoId, path); err != nil {
		s.Destroy(browser.Id)
		return 0, err
	}

	return browser.Id, nil
}

// Destroy closes a browser and its event subscription
func (s *Service) Destroy(browserId uint32) {
	s.mu.Lock()
	browser, ok := s.browsers[browserId]
	delete(s.browsers, browserId)
	s.mu.Unlock()
	if ok && browser.subscription != nil {
		browser.subscription.Close()
	}
}

// get returns a browser by id
func (s *Service) get(browserId uint32) *Browser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browsers[browserId]
}

// Items returns the current sorted listing of a browser
func (s *Service) Items(browserId uint32) []*store.RepoFile {
	browser := s.get(browserId)
	if browser == nil {
		return nil
	}
	var items []*store.RepoFile
	s.store.WithState(func(state *store.State) {
		items = repofiles.SelectChildren(state, repofiles.GetFileId(browser.RepoId, browser.Path))
	})
	return items
}

// Reload refreshes the browser's directory from the remote
func (s *Service) Reload(ctx context.Context, browserId uint32) error {
	browser := s.get(browserId)
	if browser == nil {
		return repofiles.ErrFileNotFound
	}
	return s.repoFiles.LoadFiles(ctx, browser.RepoId, browser.Path)
}

// Select toggles an item in the browser selection
func (s *Service) Select(browserId uint32, fileId vault.RepoFileId, selected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	browser, ok := s.browsers[browserId]
	if !ok {
		return
	}
	if selected {
		browser.selection[fileId] = true
	} else {
		delete(browser.selection, fileId)
	}
}

// Selection returns the selected items of a browser
func (s *Service) Selection(browserId uint32) []vault.RepoFileId {
	s.mu.Lock()
	defer s.mu.Unlock()
	browser, ok := s.browsers[browserId]
	if !ok {
		return nil
	}
	selection := make([]vault.RepoFileId, 0, len(browser.selection))
	for fileId := range browser.selection {
		selection = append(selection, fileId)
	}
	return selection
}
