// Package oauth2 manages the access and refresh tokens of the vault
// client. Tokens are persisted in the secure storage; the login flow
// itself is a platform collaborator.
package oauth2

import (
	"context"
	"errors"
	"fmt"
	"sync"

	xoauth2 "golang.org/x/oauth2"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/lib/random"
	"github.com/rclone/vault/secstorage"
)

// Secure storage keys
const (
	TokenStorageKey = "vaultOAuth2Token"
	StateStorageKey = "vaultOAuth2State"
)

// Errors returned by the oauth2 service
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrInvalidGrant     = errors.New("invalid grant")
	ErrInvalidState     = errors.New("invalid oauth2 state")
)

// Token is the persisted token triple
type Token struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// Service exchanges, refreshes and persists oauth2 tokens and hands
// out the Authorization header value for remote requests.
type Service struct {
	config        *xoauth2.Config
	secureStorage *secstorage.Service
	runtime       vault.Runtime

	mu    sync.Mutex
	token *Token
}

// NewService creates an oauth2 Service
func NewService(cfg vault.OAuth2Config, secureStorage *secstorage.Service, runtime vault.Runtime) *Service {
	return &Service{
		config: &xoauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"public", "private"},
			Endpoint: xoauth2.Endpoint{
				AuthURL:  cfg.AuthBaseURL + "/oauth2/auth",
				TokenURL: cfg.AuthBaseURL + "/oauth2/token",
			},
		},
		secureStorage: secureStorage,
		runtime:       runtime,
	}
}

// Load reads the persisted token. Returns false when there is none.
func (s *Service) Load() (bool, error) {
	var token Token
	ok, err := s.secureStorage.Get(TokenStorageKey, &token)
	if err != nil || !ok {
		return false, err
	}
	s.mu.Lock()
	s.token = &token
	s.mu.Unlock()
	return true, nil
}

// IsAuthenticated reports whether a token is loaded
func (s *Service) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != nil
}

// AuthURL starts an authorization flow: it generates and persists a
// fresh random state and returns the URL to send the user to.
func (s *Service) AuthURL() (string, error) {
	state, err := random.Password(128)
	if err != nil {
		return "", err
	}
	if err := s.secureStorage.Set(StateStorageKey, state); err != nil {
		return "", err
	}
	return s.config.AuthCodeURL(state), nil
}

// Exchange finishes an authorization flow: it verifies the state,
// exchanges the code and persists the token.
func (s *Service) Exchange(ctx context.Context, code, state string) error {
	var storedState string
	ok, err := s.secureStorage.Get(StateStorageKey, &storedState)
	if err != nil {
		return err
	}
	if !ok || storedState == "" || storedState != state {
		return ErrInvalidState
	}
	if err := s.secureStorage.Remove(StateStorageKey); err != nil {
		return err
	}

	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("oauth2 exchange failed: %w", err)
	}
	return s.setToken(token)
}

// Logout drops the persisted token
func (s *Service) Logout() error {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
	return s.secureStorage.Remove(TokenStorageKey)
}

func (s *Service) setToken(token *xoauth2.Token) error {
	stored := &Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry.UnixMilli(),
	}
	s.mu.Lock()
	s.token = stored
	s.mu.Unlock()
	return s.secureStorage.Set(TokenStorageKey, stored)
}

// refresh exchanges the refresh token for a fresh access token
func (s *Service) refresh(ctx context.Context, refreshToken string) error {
	source := s.config.TokenSource(ctx, &xoauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		var retrieveErr *xoauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
			_ = s.Logout()
			return ErrInvalidGrant
		}
		return fmt.Errorf("oauth2 refresh failed: %w", err)
	}
	return s.setToken(token)
}

// GetAuthorization returns the Authorization header value, refreshing
// the access token when it is expired or when the caller forces it.
func (s *Service) GetAuthorization(ctx context.Context, forceRefresh bool) (string, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	if token == nil {
		return "", ErrNotAuthenticated
	}

	// refresh one minute before the expiry
	expired := token.ExpiresAt-60_000 <= s.runtime.NowMs()

	if forceRefresh || expired {
		if token.RefreshToken == "" {
			return "", ErrNotAuthenticated
		}
		if err := s.refresh(ctx, token.RefreshToken); err != nil {
			return "", err
		}
		s.mu.Lock()
		token = s.token
		s.mu.Unlock()
		if token == nil {
			return "", ErrNotAuthenticated
		}
	}

	return "Bearer " + token.AccessToken, nil
}
