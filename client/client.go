// Package client wires the vault services together into the exported
// service surface.
package client

import (
	"context"
	"net/http"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/dialogs"
	"github.com/rclone/vault/eventstream"
	"github.com/rclone/vault/localcache"
	"github.com/rclone/vault/oauth2"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/remotefiles"
	"github.com/rclone/vault/repofiles"
	"github.com/rclone/vault/repofilesbrowsers"
	"github.com/rclone/vault/repofilesdetails"
	"github.com/rclone/vault/repofilesmove"
	"github.com/rclone/vault/repofilesread"
	"github.com/rclone/vault/repofilestags"
	"github.com/rclone/vault/repos"
	"github.com/rclone/vault/secstorage"
	"github.com/rclone/vault/store"
	"github.com/rclone/vault/transfers"
)

// Client is one vault client instance. Service fields are stable;
// they are created once and freely shared.
type Client struct {
	Config *vault.Config
	Store  *store.Store

	// LocalCache is the content-addressed object store persistent
	// downloads land in, under <data_dir>/objects.
	LocalCache *localcache.Cache

	OAuth2            *oauth2.Service
	Remote            *remote.Remote
	Dialogs           *dialogs.Service
	RemoteFiles       *remotefiles.Service
	Eventstream       *eventstream.Service
	Repos             *repos.Service
	RepoFiles         *repofiles.Service
	RepoFilesTags     *repofilestags.Service
	RepoFilesBrowsers *repofilesbrowsers.Service
	RepoFilesDetails  *repofilesdetails.Service
	RepoFilesMove     *repofilesmove.Service
	RepoFilesRead     *repofilesread.Service
	Transfers         *transfers.Service
}

// Options are the platform capabilities of a Client
type Options struct {
	Config        *vault.Config
	HTTPClient    *http.Client
	SecureStorage secstorage.SecureStorage
	Runtime       vault.Runtime
	// Auth overrides the oauth2 service as the authorization
	// source. Used by tests and pre-baked tokens.
	Auth remote.AuthProvider
	// Dialer overrides the event stream transport.
	Dialer eventstream.Dialer
}

// New creates a fully wired Client
func New(options Options) (*Client, error) {
	cfg := options.Config
	if cfg == nil {
		defaultCfg := vault.DefaultConfig
		cfg = &defaultCfg
	}
	runtime := options.Runtime
	if runtime == nil {
		runtime = vault.RealRuntime()
	}
	storage := options.SecureStorage
	if storage == nil {
		storage = secstorage.NewMemorySecureStorage()
	}
	dialer := options.Dialer
	if dialer == nil {
		dialer = eventstream.WebSocketDialer
	}

	st := store.New()
	secureStorage := secstorage.NewService(storage)

	cache, err := localcache.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	oauth2Service := oauth2.NewService(cfg.OAuth2, secureStorage, runtime)
	auth := options.Auth
	if auth == nil {
		auth = oauth2Service
	}

	rem, err := remote.New(cfg.BaseURL, options.HTTPClient, auth)
	if err != nil {
		return nil, err
	}

	dialogsService := dialogs.NewService(st)
	remoteFiles := remotefiles.NewService(rem, st)
	reposService := repos.NewService(rem, remoteFiles, secureStorage, st, runtime)
	repoFiles := repofiles.NewService(remoteFiles, reposService, st)
	repoTags := repofilestags.NewService(rem, repoFiles, reposService, st)
	eventstreamService := eventstream.NewService(eventstreamURL(cfg.BaseURL), dialer, auth, st, runtime, cfg.Eventstream)
	transfersService := transfers.NewService(rem, repoFiles, repoTags, reposService, st, runtime, cfg.Transfers)
	repoFilesRead := repofilesread.NewService(rem, repoFiles, reposService, st)
	browsers := repofilesbrowsers.NewService(repoFiles, eventstreamService, st)
	details := repofilesdetails.NewService(repoFiles, st, runtime)
	move := repofilesmove.NewService(repoFiles)

	return &Client{
		Config:            cfg,
		Store:             st,
		LocalCache:        cache,
		OAuth2:            oauth2Service,
		Remote:            rem,
		Dialogs:           dialogsService,
		RemoteFiles:       remoteFiles,
		Eventstream:       eventstreamService,
		Repos:             reposService,
		RepoFiles:         repoFiles,
		RepoFilesTags:     repoTags,
		RepoFilesBrowsers: browsers,
		RepoFilesDetails:  details,
		RepoFilesMove:     move,
		RepoFilesRead:     repoFilesRead,
		Transfers:         transfersService,
	}, nil
}

// Start loads the base state and starts the background loops
func (c *Client) Start(ctx context.Context) error {
	if err := c.RemoteFiles.LoadPlaces(ctx); err != nil {
		return err
	}
	if err := c.Repos.LoadRepos(ctx); err != nil {
		return err
	}
	c.Repos.StartAutoLock(ctx)
	c.Eventstream.Connect(ctx)
	return nil
}

// eventstreamURL derives the websocket endpoint from the api base
// url.
func eventstreamURL(baseURL string) string {
	url := baseURL
	switch {
	case len(url) > 8 && url[:8] == "https://":
		url = "wss://" + url[8:]
	case len(url) > 7 && url[:7] == "http://":
		url = "ws://" + url[7:]
	}
	return url + "/events"
}
