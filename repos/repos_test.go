package repos

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/cipher"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/store"
)

func TestPasswordValidator(t *testing.T) {
	c, err := cipher.New("password", "")
	require.NoError(t, err)

	validator, encrypted, err := GeneratePasswordValidator(c)
	require.NoError(t, err)
	assert.Len(t, validator, 16)
	assert.NotEmpty(t, encrypted)

	assert.True(t, CheckPasswordValidator(c, validator, encrypted))

	// wrong password fails the check
	wrong, err := cipher.New("other", "")
	require.NoError(t, err)
	assert.False(t, CheckPasswordValidator(wrong, validator, encrypted))

	// garbage encrypted value fails the check
	assert.False(t, CheckPasswordValidator(c, validator, "not base64!"))
	assert.False(t, CheckPasswordValidator(c, validator, "aGVsbG8="))
}

func TestUnlockLockMutations(t *testing.T) {
	st := store.New()
	c, err := cipher.New("", "")
	require.NoError(t, err)

	st.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		RepoCreated(state, notify, mutationState, mutationNotify, remote.VaultRepo{
			Id: "r1", Name: "Vault", MountId: "m1", Path: "/Vault",
		})
	})

	var unlocked []vault.RepoId
	st.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		require.NoError(t, UnlockRepo(state, notify, mutationState, mutationNotify, "r1", c, 1000))
		unlocked = mutationState.Repos.UnlockedRepos
	})
	assert.Equal(t, []vault.RepoId{"r1"}, unlocked)

	st.WithState(func(state *store.State) {
		repo, err := SelectRepo(state, "r1")
		require.NoError(t, err)
		assert.Equal(t, store.RepoUnlocked, repo.State)
		assert.Equal(t, int64(1000), repo.LastActivityMs)

		gotCipher, err := SelectCipher(state, "r1")
		require.NoError(t, err)
		assert.Equal(t, c, gotCipher)
	})

	// unlocking an unlocked repo is rejected
	st.Mutate(func(state *store.State, _ store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		assert.Equal(t, ErrRepoUnlocked, CheckUnlockRepo(state, "r1"))
	})

	var locked []vault.RepoId
	st.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		require.NoError(t, LockRepo(state, notify, mutationState, mutationNotify, "r1"))
		locked = mutationState.Repos.LockedRepos
	})
	assert.Equal(t, []vault.RepoId{"r1"}, locked)

	st.WithState(func(state *store.State) {
		repo, err := SelectRepo(state, "r1")
		require.NoError(t, err)
		assert.Equal(t, store.RepoLocked, repo.State)
		assert.Nil(t, repo.Cipher)

		_, err = SelectCipher(state, "r1")
		assert.Equal(t, ErrRepoLocked, err)
	})

	st.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		assert.Equal(t, ErrRepoLocked, LockRepo(state, notify, mutationState, mutationNotify, "r1"))
		assert.Equal(t, ErrRepoNotFound, LockRepo(state, notify, mutationState, mutationNotify, "missing"))
	})
}

func TestRepoTreeIndexing(t *testing.T) {
	st := store.New()

	st.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		RepoCreated(state, notify, mutationState, mutationNotify, remote.VaultRepo{
			Id: "r1", Name: "Vault", MountId: "m1", Path: "/My safe box",
		})
	})

	st.WithState(func(state *store.State) {
		pairs := SelectRepoTreePairs(state, "m1", "/My safe box/sub")
		require.Len(t, pairs, 1)
		assert.Equal(t, vault.RepoId("r1"), pairs[0].RepoId)
		assert.Equal(t, vault.EncryptedPath("/sub"), pairs[0].Path)
	})

	st.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		require.NoError(t, RepoRemoved(state, notify, mutationState, mutationNotify, "r1"))
	})

	st.WithState(func(state *store.State) {
		assert.Empty(t, SelectRepoTreePairs(state, "m1", "/My safe box/sub"))
	})
}

func TestGenerateConfigText(t *testing.T) {
	salt := "pepper"
	config := generateConfigText("My safe box", "/My safe box", "secret", &salt)

	assert.True(t, strings.HasPrefix(config, "[my-safe-box]\n"), config)
	assert.Contains(t, config, "type = crypt\n")
	assert.Contains(t, config, "remote = koofr:/My safe box\n")
	assert.Contains(t, config, "password = ")
	assert.Contains(t, config, "password2 = ")
	// secrets are obscured, never plain
	assert.NotContains(t, config, "secret")
	assert.NotContains(t, config, "pepper")

	config = generateConfigText("", "/x", "secret", nil)
	assert.True(t, strings.HasPrefix(config, "[vault]\n"), config)
	assert.NotContains(t, config, "password2")
}

func TestSlugify(t *testing.T) {
	for _, test := range []struct {
		in   string
		want string
	}{
		{"My safe box", "my-safe-box"},
		{"Vault", "vault"},
		{"a  b", "a-b"},
		{"éclair 9", "clair-9"},
		{"--", ""},
	} {
		assert.Equal(t, test.want, slugify(test.in), test.in)
	}
}
