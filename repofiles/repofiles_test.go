package repofiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/cipher"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/remotefiles"
	"github.com/rclone/vault/repos"
	"github.com/rclone/vault/store"
)

// fixture is a store with the projection handlers subscribed and one
// repo at m1:/Vault.
type fixture struct {
	store  *store.Store
	cipher *cipher.Cipher
	repoId vault.RepoId
}

func newFixture(t *testing.T) *fixture {
	st := store.New()

	st.SubscribeMutation([]store.MutationEvent{store.MutationEventRemoteFiles},
		func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
			HandleRemoteFilesMutation(state, notify, mutationState, mutationNotify)
		})
	st.SubscribeMutation([]store.MutationEvent{store.MutationEventRepos},
		func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
			HandleReposMutation(state, notify, mutationState, mutationNotify)
		})

	c, err := cipher.New("", "")
	require.NoError(t, err)

	st.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		repos.RepoCreated(state, notify, mutationState, mutationNotify, remote.VaultRepo{
			Id:      "r1",
			Name:    "Vault",
			MountId: "m1",
			Path:    "/Vault",
		})
	})

	return &fixture{store: st, cipher: c, repoId: "r1"}
}

func (f *fixture) encryptName(name string) string {
	return f.cipher.EncryptFilename(name)
}

func (f *fixture) loadBundle(path vault.RemotePath, bundle *remote.Bundle) {
	f.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		remotefiles.BundleLoaded(state, notify, mutationState, mutationNotify, "m1", path, bundle)
	})
}

func (f *fixture) unlock(t *testing.T) {
	f.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		require.NoError(t, repos.UnlockRepo(state, notify, mutationState, mutationNotify, f.repoId, f.cipher, 1000))
	})
}

func (f *fixture) lock(t *testing.T) {
	f.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		require.NoError(t, repos.LockRepo(state, notify, mutationState, mutationNotify, f.repoId))
	})
}

func dirFile(name string) remote.FilesFile {
	return remote.FilesFile{Name: name, Type: remote.FileTypeDir}
}

func contentFile(name string, size int64) remote.FilesFile {
	return remote.FilesFile{Name: name, Type: remote.FileTypeFile, Size: size, Modified: 1, Hash: "aa"}
}

func TestProjectionAfterUnlockAndLoad(t *testing.T) {
	f := newFixture(t)
	c := f.cipher

	f.unlock(t)

	f.loadBundle("/Vault", &remote.Bundle{
		File: dirFile("Vault"),
		Files: []remote.FilesFile{
			contentFile(f.encryptName("b.txt"), c.EncryptedSize(4)),
			dirFile(f.encryptName("Docs")),
			contentFile(f.encryptName("A.txt"), c.EncryptedSize(10)),
		},
	})

	f.store.WithState(func(state *store.State) {
		root := SelectFile(state, GetFileId(f.repoId, "/"))
		require.NotNil(t, root)
		assert.Equal(t, store.FileTypeDir, root.Type)

		children := SelectChildren(state, GetFileId(f.repoId, "/"))
		require.Len(t, children, 3)
		// dir first, then files by decrypted lowercase name
		assert.Equal(t, vault.DecryptedName("Docs"), children[0].Name.Decrypted)
		assert.Equal(t, vault.DecryptedName("A.txt"), children[1].Name.Decrypted)
		assert.Equal(t, vault.DecryptedName("b.txt"), children[2].Name.Decrypted)

		// decrypted sizes
		assert.Equal(t, int64(10), children[1].Size.Size)
		require.NoError(t, children[1].Size.Error)
		assert.Equal(t, int64(4), children[2].Size.Size)

		// decrypted paths
		assert.Equal(t, vault.DecryptedPath("/A.txt"), children[1].Path.Decrypted)
		assert.Equal(t, "txt", children[1].Ext)

		assert.True(t, SelectIsLoaded(state, f.repoId, "/"))
	})
}

func TestProjectionPopulatedOnUnlock(t *testing.T) {
	f := newFixture(t)

	// the tree is loaded while the repo is still locked
	f.loadBundle("/Vault", &remote.Bundle{
		File:  dirFile("Vault"),
		Files: []remote.FilesFile{contentFile(f.encryptName("file.txt"), f.cipher.EncryptedSize(4))},
	})

	f.store.WithState(func(state *store.State) {
		assert.Nil(t, SelectFile(state, GetFileId(f.repoId, "/")))
	})

	// unlocking populates the decrypted tree from the loaded remote
	// state
	f.unlock(t)

	f.store.WithState(func(state *store.State) {
		require.NotNil(t, SelectFile(state, GetFileId(f.repoId, "/")))
		children := SelectChildren(state, GetFileId(f.repoId, "/"))
		require.Len(t, children, 1)
		assert.Equal(t, vault.DecryptedName("file.txt"), children[0].Name.Decrypted)
	})
}

func TestLockPurgesProjection(t *testing.T) {
	f := newFixture(t)
	f.unlock(t)
	f.loadBundle("/Vault", &remote.Bundle{
		File:  dirFile("Vault"),
		Files: []remote.FilesFile{contentFile(f.encryptName("file.txt"), f.cipher.EncryptedSize(4))},
	})

	f.lock(t)

	f.store.WithState(func(state *store.State) {
		for id := range state.RepoFiles.Files {
			assert.Fail(t, "repo files must be purged", "found %s", id)
		}
		assert.Empty(t, state.RepoFiles.Children)
		assert.Empty(t, state.RepoFiles.LoadedRoots)
	})
}

func TestDecryptErrorFileKeepsListing(t *testing.T) {
	f := newFixture(t)
	f.unlock(t)

	// a foreign tool wrote a plaintext name into the repo
	f.loadBundle("/Vault", &remote.Bundle{
		File: dirFile("Vault"),
		Files: []remote.FilesFile{
			contentFile("Plain.txt", 100),
			contentFile(f.encryptName("ok.txt"), f.cipher.EncryptedSize(4)),
		},
	})

	f.store.WithState(func(state *store.State) {
		children := SelectChildren(state, GetFileId(f.repoId, "/"))
		require.Len(t, children, 2)

		bad := SelectFile(state, GetErrorFileId(f.repoId, "/Plain.txt"))
		require.NotNil(t, bad)
		assert.Error(t, bad.Name.Error)
		assert.Equal(t, vault.EncryptedName("Plain.txt"), bad.Name.Encrypted)
		assert.Equal(t, vault.RepoFileId("err:r1:/Plain.txt"), bad.Id)

		// the healthy sibling is unaffected
		ok := SelectFile(state, GetFileId(f.repoId, vault.EncryptedPath("/"+f.encryptName("ok.txt"))))
		require.NotNil(t, ok)
		assert.Equal(t, vault.DecryptedName("ok.txt"), ok.Name.Decrypted)
	})
}

func TestMoveWithinRepoProducesMovedEntry(t *testing.T) {
	f := newFixture(t)
	f.unlock(t)

	xName := f.encryptName("x.txt")
	f.loadBundle("/Vault", &remote.Bundle{
		File: dirFile("Vault"),
		Files: []remote.FilesFile{
			contentFile(xName, f.cipher.EncryptedSize(4)),
			dirFile(f.encryptName("dir")),
		},
	})

	oldRemotePath := vault.RemotePath("/Vault/" + xName)
	newRemotePath := vault.RemotePath("/Vault/" + f.encryptName("dir") + "/" + xName)

	var moved []store.RepoFileMovedEntry
	f.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		remotefiles.FileMoved(state, notify, mutationState, mutationNotify, "m1", oldRemotePath, newRemotePath,
			contentFile(xName, f.cipher.EncryptedSize(4)))
		moved = mutationState.RepoFiles.MovedFiles
	})

	require.Len(t, moved, 1)
	assert.Equal(t, f.repoId, moved[0].RepoId)
	assert.Equal(t, vault.EncryptedPath("/"+xName), moved[0].OldPath)
	assert.Equal(t, vault.EncryptedPath("/"+f.encryptName("dir")+"/"+xName), moved[0].NewPath)
}

func TestRemovedRemoteFileProducesRemovedEntry(t *testing.T) {
	f := newFixture(t)
	f.unlock(t)

	name := f.encryptName("x.txt")
	f.loadBundle("/Vault", &remote.Bundle{
		File:  dirFile("Vault"),
		Files: []remote.FilesFile{contentFile(name, f.cipher.EncryptedSize(4))},
	})

	var removed []store.RepoFileEntry
	f.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		remotefiles.FileRemoved(state, notify, mutationState, mutationNotify, "m1", vault.RemotePath("/Vault/"+name))
		removed = mutationState.RepoFiles.RemovedFiles
	})

	require.Len(t, removed, 1)
	assert.Equal(t, vault.EncryptedPath("/"+name), removed[0].Path)

	f.store.WithState(func(state *store.State) {
		assert.Empty(t, SelectChildren(state, GetFileId(f.repoId, "/")))
	})
}

func TestSelectUnusedName(t *testing.T) {
	f := newFixture(t)
	f.unlock(t)

	f.loadBundle("/Vault", &remote.Bundle{
		File: dirFile("Vault"),
		Files: []remote.FilesFile{
			contentFile(f.encryptName("file.txt"), f.cipher.EncryptedSize(4)),
			contentFile(f.encryptName("file (1).txt"), f.cipher.EncryptedSize(4)),
		},
	})

	f.store.WithState(func(state *store.State) {
		assert.Equal(t, vault.DecryptedName("other.txt"),
			SelectUnusedName(state, f.repoId, "/", "other.txt"))
		assert.Equal(t, vault.DecryptedName("file (2).txt"),
			SelectUnusedName(state, f.repoId, "/", "file.txt"))
	})
}

func TestFileTagsRoundTrip(t *testing.T) {
	c, err := cipher.New("", "")
	require.NoError(t, err)

	tags := &FileTags{
		EncryptedHash: []byte{1, 2, 3},
		Hash:          []byte{4, 5, 6},
		Unknown:       map[string]string{"k1": "v1"},
	}
	encrypted, err := tags.Encrypt(c)
	require.NoError(t, err)

	decrypted, err := DecryptFileTags(c, encrypted)
	require.NoError(t, err)
	assert.Equal(t, tags, decrypted)
}
