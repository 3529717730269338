package repos

import (
	vault "github.com/rclone/vault"
	"github.com/rclone/vault/cipher"
	"github.com/rclone/vault/store"
)

// SelectRepo returns the repo with the given id
func SelectRepo(state *store.State, repoId vault.RepoId) (*store.Repo, error) {
	repo, ok := state.Repos.Repos[repoId]
	if !ok {
		return nil, ErrRepoNotFound
	}
	return repo, nil
}

// SelectCipher returns the cipher of an unlocked repo
func SelectCipher(state *store.State, repoId vault.RepoId) (*cipher.Cipher, error) {
	repo, err := SelectRepo(state, repoId)
	if err != nil {
		return nil, err
	}
	if repo.State != store.RepoUnlocked || repo.Cipher == nil {
		return nil, ErrRepoLocked
	}
	return repo.Cipher, nil
}

// SelectAutoLocks collects the explicit auto-lock policies for
// persistence.
func SelectAutoLocks(state *store.State) map[vault.RepoId]store.RepoAutoLock {
	autoLocks := make(map[vault.RepoId]store.RepoAutoLock, len(state.Repos.Repos))
	for id, repo := range state.Repos.Repos {
		autoLocks[id] = repo.AutoLock
	}
	return autoLocks
}

// SelectRepoTreePairs resolves a remote path to all repos whose
// prefix covers it.
func SelectRepoTreePairs(state *store.State, mountId vault.MountId, path vault.RemotePath) []store.RepoTreePair {
	tree, ok := state.Repos.MountRepoTrees[mountId]
	if !ok {
		return nil
	}
	return tree.Get(path)
}
