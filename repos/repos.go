package repos

import (
	"context"
	"time"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/cipher"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/remotefiles"
	"github.com/rclone/vault/secstorage"
	"github.com/rclone/vault/store"
)

// AutoLocksStorageKey is the secure storage key the explicit
// auto-lock policies are persisted under.
const AutoLocksStorageKey = "vaultRepoAutoLocks"

// DefaultDirNames are the plaintext names of the directories created
// in a fresh repo.
var DefaultDirNames = []vault.DecryptedName{
	"My private documents",
	"My private pictures",
	"My private videos",
}

// UnlockMode says whether an unlock should install the cipher or just
// verify the password.
type UnlockMode int

// Unlock modes
const (
	UnlockModeUnlock UnlockMode = iota
	UnlockModeVerify
)

// Service manages the repos
type Service struct {
	remote        *remote.Remote
	remoteFiles   *remotefiles.Service
	secureStorage *secstorage.Service
	store         *store.Store
	runtime       vault.Runtime
}

// NewService creates a repos Service
func NewService(rem *remote.Remote, remoteFiles *remotefiles.Service, secureStorage *secstorage.Service, st *store.Store, runtime vault.Runtime) *Service {
	return &Service{
		remote:        rem,
		remoteFiles:   remoteFiles,
		secureStorage: secureStorage,
		store:         st,
		runtime:       runtime,
	}
}

// GetAutoLocks loads the persisted auto-lock policies
func (s *Service) GetAutoLocks() (map[vault.RepoId]store.RepoAutoLock, error) {
	autoLocks := make(map[vault.RepoId]store.RepoAutoLock)
	_, err := s.secureStorage.Get(AutoLocksStorageKey, &autoLocks)
	if err != nil {
		return nil, err
	}
	return autoLocks, nil
}

// LoadRepos fetches the repos from the remote
func (s *Service) LoadRepos(ctx context.Context) error {
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		ReposLoading(state, notify)
	})

	bundle, err := s.remote.GetVaultRepos(ctx)
	if err != nil {
		s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
			notify(store.EventRepos)
			state.Repos.Status = store.StatusError
		})
		return err
	}

	autoLocks, err := s.GetAutoLocks()
	if err != nil {
		vault.Errorf(nil, "repos: failed to load auto locks: %v", err)
		autoLocks = nil
	}

	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		ReposLoaded(state, notify, mutationState, mutationNotify, bundle.Repos, autoLocks)
		for _, mount := range bundle.Mounts {
			remotefiles.MountLoaded(state, mount)
		}
	})
	return nil
}

// BuildCipher derives the cipher for a repo from a password and
// verifies it against the repo's password validator.
func (s *Service) BuildCipher(repoId vault.RepoId, password string) (*cipher.Cipher, error) {
	var salt *string
	var validator, validatorEncrypted string
	var selectErr error
	s.store.WithState(func(state *store.State) {
		repo, err := SelectRepo(state, repoId)
		if err != nil {
			selectErr = err
			return
		}
		salt = repo.Salt
		validator = repo.PasswordValidator
		validatorEncrypted = repo.PasswordValidatorEncrypted
	})
	if selectErr != nil {
		return nil, selectErr
	}

	saltStr := ""
	if salt != nil {
		saltStr = *salt
	}
	c, err := cipher.New(password, saltStr)
	if err != nil {
		return nil, err
	}

	if !CheckPasswordValidator(c, validator, validatorEncrypted) {
		return nil, ErrInvalidPassword
	}

	return c, nil
}

// UnlockRepo verifies the password and, in unlock mode, installs the
// cipher on the repo which cascades to the repo files projection.
func (s *Service) UnlockRepo(repoId vault.RepoId, password string, mode UnlockMode) error {
	if mode == UnlockModeVerify {
		_, err := s.BuildCipher(repoId, password)
		return err
	}

	var checkErr error
	s.store.Mutate(func(state *store.State, _ store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		checkErr = CheckUnlockRepo(state, repoId)
	})
	if checkErr != nil {
		return checkErr
	}

	c, err := s.BuildCipher(repoId, password)
	if err != nil {
		return err
	}

	now := s.runtime.NowMs()

	var unlockErr error
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		unlockErr = UnlockRepo(state, notify, mutationState, mutationNotify, repoId, c, now)
	})
	return unlockErr
}

// LockRepo drops the repo's cipher, which invalidates every repo
// file of that repo.
func (s *Service) LockRepo(repoId vault.RepoId) error {
	var err error
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		err = LockRepo(state, notify, mutationState, mutationNotify, repoId)
	})
	return err
}

// CreateRepoResult is the result of CreateRepo
type CreateRepoResult struct {
	RepoId vault.RepoId
	Config RepoConfig
}

// CreateRepo creates the remote directory (tolerating an existing
// one), generates and encrypts a password validator, creates the
// remote repo record and seeds the default directories with
// encrypted names.
func (s *Service) CreateRepo(ctx context.Context, mountId vault.MountId, path vault.RemotePath, password string, salt *string) (*CreateRepoResult, error) {
	alreadyExists := false
	parentPath, parentOk := vault.RemotePathParent(path)
	name, nameOk := vault.RemotePathName(path)
	if parentOk && nameOk {
		err := s.remote.CreateDir(ctx, mountId, parentPath, name)
		if err != nil {
			if remote.IsApiErrorCode(err, remote.ApiErrorCodeAlreadyExists) {
				alreadyExists = true
			} else {
				return nil, err
			}
		}
	}

	saltStr := ""
	if salt != nil {
		saltStr = *salt
	}
	c, err := cipher.New(password, saltStr)
	if err != nil {
		return nil, err
	}

	validator, validatorEncrypted, err := GeneratePasswordValidator(c)
	if err != nil {
		return nil, err
	}

	repo, err := s.remote.CreateVaultRepo(ctx, remote.VaultRepoCreate{
		MountId:                    string(mountId),
		Path:                       string(path),
		Salt:                       salt,
		PasswordValidator:          validator,
		PasswordValidatorEncrypted: validatorEncrypted,
	})
	if err != nil {
		return nil, err
	}

	if !alreadyExists {
		for _, dirName := range DefaultDirNames {
			encryptedName := vault.RemoteName(c.EncryptFilename(string(dirName)))
			if err := s.remoteFiles.CreateDir(ctx, mountId, path, encryptedName); err != nil {
				return nil, err
			}
		}
	}

	var config RepoConfig
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		RepoCreated(state, notify, mutationState, mutationNotify, *repo)
		if stateRepo, err := SelectRepo(state, vault.RepoId(repo.Id)); err == nil {
			config = s.generateRepoConfig(stateRepo, password)
		}
	})

	return &CreateRepoResult{RepoId: vault.RepoId(repo.Id), Config: config}, nil
}

// RemoveRepo verifies the password then removes the repo record.
func (s *Service) RemoveRepo(ctx context.Context, repoId vault.RepoId, password string) error {
	if _, err := s.BuildCipher(repoId, password); err != nil {
		return err
	}

	err := s.remote.RemoveVaultRepo(ctx, string(repoId))
	if err != nil && !remote.IsApiErrorCode(err, remote.ApiErrorCodeNotFound) {
		return err
	}

	var removeErr error
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		removeErr = RepoRemoved(state, notify, mutationState, mutationNotify, repoId)
	})
	if removeErr != nil {
		return removeErr
	}
	if err != nil {
		// remote already forgot the repo
		return ErrRepoNotFound
	}
	return nil
}

// TouchRepo records repo activity for the auto-lock timer
func (s *Service) TouchRepo(repoId vault.RepoId) error {
	now := s.runtime.NowMs()
	var err error
	s.store.Mutate(func(state *store.State, _ store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		err = TouchRepo(state, repoId, now)
	})
	return err
}

// SetAutoLock updates and persists the auto-lock policy of a repo
func (s *Service) SetAutoLock(repoId vault.RepoId, autoLock store.RepoAutoLock) error {
	var err error
	var autoLocks map[vault.RepoId]store.RepoAutoLock
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		err = SetAutoLock(state, notify, repoId, autoLock)
		if err == nil {
			autoLocks = SelectAutoLocks(state)
		}
	})
	if err != nil {
		return err
	}
	return s.secureStorage.Set(AutoLocksStorageKey, autoLocks)
}

// SetDefaultAutoLock updates the default auto-lock policy
func (s *Service) SetDefaultAutoLock(autoLock store.RepoAutoLock) {
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		SetDefaultAutoLock(state, notify, autoLock)
	})
}

// GetCipher returns the cipher of an unlocked repo
func (s *Service) GetCipher(repoId vault.RepoId) (*cipher.Cipher, error) {
	var c *cipher.Cipher
	var err error
	s.store.WithState(func(state *store.State) {
		c, err = SelectCipher(state, repoId)
	})
	return c, err
}

// GetRepoConfig verifies the password and returns the repo config
// including the generated crypt config text.
func (s *Service) GetRepoConfig(repoId vault.RepoId, password string) (*RepoConfig, error) {
	if err := s.UnlockRepo(repoId, password, UnlockModeVerify); err != nil {
		return nil, err
	}
	var config RepoConfig
	var err error
	s.store.WithState(func(state *store.State) {
		repo, selectErr := SelectRepo(state, repoId)
		if selectErr != nil {
			err = selectErr
			return
		}
		config = s.generateRepoConfig(repo, password)
	})
	if err != nil {
		return nil, err
	}
	return &config, nil
}

func (s *Service) generateRepoConfig(repo *store.Repo, password string) RepoConfig {
	return RepoConfig{
		Name:     string(repo.Name),
		Path:     string(repo.Path),
		Password: password,
		Salt:     repo.Salt,
		Config:   generateConfigText(string(repo.Name), string(repo.Path), password, repo.Salt),
	}
}

// LockRepoOnAppHidden locks every unlocked repo whose policy asks
// for it when the app goes to the background.
func (s *Service) LockRepoOnAppHidden() {
	var toLock []vault.RepoId
	s.store.WithState(func(state *store.State) {
		for id, repo := range state.Repos.Repos {
			if repo.State == store.RepoUnlocked && repo.AutoLock.OnAppHidden {
				toLock = append(toLock, id)
			}
		}
	})
	for _, id := range toLock {
		if err := s.LockRepo(id); err != nil {
			vault.Errorf(nil, "repos: failed to lock repo %s: %v", id, err)
		}
	}
}

// autoLockTick locks every unlocked repo whose inactivity exceeded
// its policy.
func (s *Service) autoLockTick() {
	now := s.runtime.NowMs()
	var toLock []vault.RepoId
	s.store.WithState(func(state *store.State) {
		for id, repo := range state.Repos.Repos {
			if repo.State != store.RepoUnlocked || repo.AutoLock.After <= 0 {
				continue
			}
			if now-repo.LastActivityMs >= repo.AutoLock.After.Milliseconds() {
				toLock = append(toLock, id)
			}
		}
	})
	for _, id := range toLock {
		vault.Debugf(nil, "repos: auto locking repo %s", id)
		if err := s.LockRepo(id); err != nil {
			vault.Errorf(nil, "repos: failed to auto lock repo %s: %v", id, err)
		}
	}
}

// StartAutoLock runs the periodic auto-lock check until ctx is done.
func (s *Service) StartAutoLock(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.autoLockTick()
			}
		}
	}()
}
