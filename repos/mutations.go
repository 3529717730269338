package repos

import (
	vault "github.com/rclone/vault"
	"github.com/rclone/vault/cipher"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/store"
)

// vaultRepoToRepo converts a remote repo record into a state entry,
// locked.
func vaultRepoToRepo(repo remote.VaultRepo) *store.Repo {
	path := vault.RemotePath(repo.Path)
	name, ok := vault.RemotePathName(path)
	if !ok {
		name = vault.RemoteName(repo.Name)
	}
	return &store.Repo{
		Id:                         vault.RepoId(repo.Id),
		Name:                       name,
		MountId:                    vault.MountId(repo.MountId),
		Path:                       path,
		Salt:                       repo.Salt,
		PasswordValidator:          repo.PasswordValidator,
		PasswordValidatorEncrypted: repo.PasswordValidatorEncrypted,
		Added:                      repo.Added,
		State:                      store.RepoLocked,
	}
}

// indexRepo registers a repo in the lookup structures
func indexRepo(state *store.State, repo *store.Repo) {
	state.Repos.RepoIdsByRemoteFileId[repo.RemoteFileId()] = repo.Id
	tree, ok := state.Repos.MountRepoTrees[repo.MountId]
	if !ok {
		tree = store.NewRepoTree()
		state.Repos.MountRepoTrees[repo.MountId] = tree
	}
	tree.Set(repo.Path, repo.Id)
}

// unindexRepo removes a repo from the lookup structures
func unindexRepo(state *store.State, repo *store.Repo) {
	delete(state.Repos.RepoIdsByRemoteFileId, repo.RemoteFileId())
	if tree, ok := state.Repos.MountRepoTrees[repo.MountId]; ok {
		tree.Remove(repo.Path)
	}
}

// ReposLoading marks the repos as loading
func ReposLoading(state *store.State, notify store.NotifyFunc) {
	notify(store.EventRepos)
	if state.Repos.Status == store.StatusInitial {
		state.Repos.Status = store.StatusLoading
	}
}

// ReposLoaded replaces the repos from the remote listing. Repos that
// are already unlocked keep their cipher if they still exist.
func ReposLoaded(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc, repos []remote.VaultRepo, autoLocks map[vault.RepoId]store.RepoAutoLock) {
	notify(store.EventRepos)

	oldRepos := state.Repos.Repos
	state.Repos.Repos = make(map[vault.RepoId]*store.Repo, len(repos))
	state.Repos.RepoIdsByRemoteFileId = make(map[vault.RemoteFileId]vault.RepoId, len(repos))
	state.Repos.MountRepoTrees = make(map[vault.MountId]*store.RepoTree)

	var removedRepos []vault.RepoId

	for _, vaultRepo := range repos {
		repo := vaultRepoToRepo(vaultRepo)
		if autoLock, ok := autoLocks[repo.Id]; ok {
			repo.AutoLock = autoLock
		} else {
			repo.AutoLock = state.Repos.DefaultAutoLock
		}
		if old, ok := oldRepos[repo.Id]; ok && old.State == store.RepoUnlocked {
			repo.State = store.RepoUnlocked
			repo.Cipher = old.Cipher
			repo.LastActivityMs = old.LastActivityMs
		}
		state.Repos.Repos[repo.Id] = repo
		indexRepo(state, repo)
	}

	for id := range oldRepos {
		if _, ok := state.Repos.Repos[id]; !ok {
			removedRepos = append(removedRepos, id)
		}
	}

	state.Repos.Status = store.StatusLoaded

	if len(removedRepos) > 0 {
		mutationState.Repos.RemovedRepos = append(mutationState.Repos.RemovedRepos, removedRepos...)
		mutationNotify(store.MutationEventRepos, state, mutationState)
	}
}

// RepoCreated inserts a freshly created repo
func RepoCreated(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc, vaultRepo remote.VaultRepo) {
	notify(store.EventRepos)

	repo := vaultRepoToRepo(vaultRepo)
	repo.AutoLock = state.Repos.DefaultAutoLock
	state.Repos.Repos[repo.Id] = repo
	indexRepo(state, repo)

	mutationNotify(store.MutationEventRepos, state, mutationState)
}

// RepoRemoved removes a repo and cascades to the derived state
func RepoRemoved(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc, repoId vault.RepoId) error {
	repo, ok := state.Repos.Repos[repoId]
	if !ok {
		return ErrRepoNotFound
	}

	notify(store.EventRepos)

	unindexRepo(state, repo)
	delete(state.Repos.Repos, repoId)

	mutationState.Repos.RemovedRepos = append(mutationState.Repos.RemovedRepos, repoId)
	mutationNotify(store.MutationEventRepos, state, mutationState)

	return nil
}

// CheckUnlockRepo verifies a repo exists and is locked
func CheckUnlockRepo(state *store.State, repoId vault.RepoId) error {
	repo, ok := state.Repos.Repos[repoId]
	if !ok {
		return ErrRepoNotFound
	}
	if repo.State == store.RepoUnlocked {
		return ErrRepoUnlocked
	}
	return nil
}

// UnlockRepo installs the cipher on a repo and cascades to the repo
// files projection.
func UnlockRepo(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc, repoId vault.RepoId, c *cipher.Cipher, nowMs int64) error {
	repo, ok := state.Repos.Repos[repoId]
	if !ok {
		return ErrRepoNotFound
	}

	notify(store.EventRepos)

	repo.State = store.RepoUnlocked
	repo.Cipher = c
	repo.LastActivityMs = nowMs

	mutationState.Repos.UnlockedRepos = append(mutationState.Repos.UnlockedRepos, repoId)
	mutationNotify(store.MutationEventRepos, state, mutationState)

	return nil
}

// LockRepo drops the cipher of a repo and cascades to the repo files
// projection.
func LockRepo(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc, repoId vault.RepoId) error {
	repo, ok := state.Repos.Repos[repoId]
	if !ok {
		return ErrRepoNotFound
	}
	if repo.State == store.RepoLocked {
		return ErrRepoLocked
	}

	notify(store.EventRepos)

	repo.State = store.RepoLocked
	repo.Cipher = nil

	mutationState.Repos.LockedRepos = append(mutationState.Repos.LockedRepos, repoId)
	mutationNotify(store.MutationEventRepos, state, mutationState)

	return nil
}

// TouchRepo records activity on a repo for the auto-lock timer
func TouchRepo(state *store.State, repoId vault.RepoId, nowMs int64) error {
	repo, ok := state.Repos.Repos[repoId]
	if !ok {
		return ErrRepoNotFound
	}
	if repo.State == store.RepoUnlocked {
		repo.LastActivityMs = nowMs
	}
	return nil
}

// SetAutoLock updates the auto-lock policy of a repo
func SetAutoLock(state *store.State, notify store.NotifyFunc, repoId vault.RepoId, autoLock store.RepoAutoLock) error {
	repo, ok := state.Repos.Repos[repoId]
	if !ok {
		return ErrRepoNotFound
	}
	notify(store.EventRepos)
	repo.AutoLock = autoLock
	return nil
}

// SetDefaultAutoLock updates the default auto-lock policy for repos
// without one of their own.
func SetDefaultAutoLock(state *store.State, notify store.NotifyFunc, autoLock store.RepoAutoLock) {
	notify(store.EventRepos)
	state.Repos.DefaultAutoLock = autoLock
}
