package remotefiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/store"
)

func mutate(s *store.Store, f func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc)) {
	s.Mutate(f)
}

func dirFile(name string) remote.FilesFile {
	return remote.FilesFile{Name: name, Type: remote.FileTypeDir}
}

func plainFile(name string, size int64) remote.FilesFile {
	return remote.FilesFile{Name: name, Type: remote.FileTypeFile, Size: size, Modified: 1, Hash: "abc"}
}

func loadBundle(s *store.Store, mountId vault.MountId, path vault.RemotePath, bundle *remote.Bundle) {
	mutate(s, func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		BundleLoaded(state, notify, mutationState, mutationNotify, mountId, path, bundle)
	})
}

func TestBundleLoadedSortsChildren(t *testing.T) {
	s := store.New()

	loadBundle(s, "m1", "/", &remote.Bundle{
		File: dirFile(""),
		Files: []remote.FilesFile{
			plainFile("b.txt", 10),
			dirFile("Z"),
			plainFile("A.txt", 10),
			dirFile("a"),
		},
	})

	s.WithState(func(state *store.State) {
		children := SelectChildren(state, vault.NewRemoteFileId("m1", "/"))
		require.Len(t, children, 4)
		// dirs first, then files, both by lowercase name
		assert.Equal(t, vault.RemoteName("a"), children[0].Name)
		assert.Equal(t, vault.RemoteName("Z"), children[1].Name)
		assert.Equal(t, vault.RemoteName("A.txt"), children[2].Name)
		assert.Equal(t, vault.RemoteName("b.txt"), children[3].Name)

		assert.True(t, SelectIsLoaded(state, "m1", "/"))
	})
}

func TestFileCreatedLinksParent(t *testing.T) {
	s := store.New()

	loadBundle(s, "m1", "/", &remote.Bundle{File: dirFile(""), Files: []remote.FilesFile{}})

	var created []store.RemoteFileEntry
	mutate(s, func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		FileCreated(state, notify, mutationState, mutationNotify, "m1", "/file.txt", plainFile("file.txt", 4))
		created = mutationState.RemoteFiles.CreatedFiles
	})

	assert.Equal(t, []store.RemoteFileEntry{{MountId: "m1", Path: "/file.txt"}}, created)

	s.WithState(func(state *store.State) {
		children := SelectChildren(state, vault.NewRemoteFileId("m1", "/"))
		require.Len(t, children, 1)
		assert.Equal(t, vault.RemotePath("/file.txt"), children[0].Path)
	})
}

func TestFileCreatedUnloadedParentStaysUnlinked(t *testing.T) {
	s := store.New()

	// parent /dir has no children list - the child must not create
	// an orphan children entry
	mutate(s, func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		FileCreated(state, notify, mutationState, mutationNotify, "m1", "/dir/file.txt", plainFile("file.txt", 4))
	})

	s.WithState(func(state *store.State) {
		assert.NotNil(t, SelectFile(state, vault.NewRemoteFileId("m1", "/dir/file.txt")))
		_, hasChildren := state.RemoteFiles.Children[vault.NewRemoteFileId("m1", "/dir")]
		assert.False(t, hasChildren)
	})
}

func TestFileRemovedCleansSubtree(t *testing.T) {
	s := store.New()

	loadBundle(s, "m1", "/", &remote.Bundle{File: dirFile(""), Files: []remote.FilesFile{dirFile("d")}})
	loadBundle(s, "m1", "/d", &remote.Bundle{File: dirFile("d"), Files: []remote.FilesFile{plainFile("x.txt", 1)}})

	mutate(s, func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		FileRemoved(state, notify, mutationState, mutationNotify, "m1", "/d")
	})

	s.WithState(func(state *store.State) {
		assert.Nil(t, SelectFile(state, vault.NewRemoteFileId("m1", "/d")))
		assert.Nil(t, SelectFile(state, vault.NewRemoteFileId("m1", "/d/x.txt")))
		assert.Empty(t, SelectChildren(state, vault.NewRemoteFileId("m1", "/")))
		assert.False(t, SelectIsLoaded(state, "m1", "/d"))
	})
}

func TestFileMovedRewritesSubtree(t *testing.T) {
	s := store.New()

	loadBundle(s, "m1", "/", &remote.Bundle{File: dirFile(""), Files: []remote.FilesFile{dirFile("a"), dirFile("b")}})
	loadBundle(s, "m1", "/a", &remote.Bundle{File: dirFile("a"), Files: []remote.FilesFile{dirFile("sub")}})
	loadBundle(s, "m1", "/a/sub", &remote.Bundle{File: dirFile("sub"), Files: []remote.FilesFile{plainFile("x.txt", 1)}})

	var moved []store.RemoteFileMovedEntry
	mutate(s, func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		FileMoved(state, notify, mutationState, mutationNotify, "m1", "/a", "/b/a2", dirFile("a2"))
		moved = mutationState.RemoteFiles.MovedFiles
	})

	assert.Equal(t, []store.RemoteFileMovedEntry{{MountId: "m1", OldPath: "/a", NewPath: "/b/a2"}}, moved)

	s.WithState(func(state *store.State) {
		// every descendant's id and path follows the new prefix
		assert.Nil(t, SelectFile(state, vault.NewRemoteFileId("m1", "/a")))
		assert.Nil(t, SelectFile(state, vault.NewRemoteFileId("m1", "/a/sub")))
		assert.Nil(t, SelectFile(state, vault.NewRemoteFileId("m1", "/a/sub/x.txt")))

		sub := SelectFile(state, vault.NewRemoteFileId("m1", "/b/a2/sub"))
		require.NotNil(t, sub)
		assert.Equal(t, vault.RemotePath("/b/a2/sub"), sub.Path)

		x := SelectFile(state, vault.NewRemoteFileId("m1", "/b/a2/sub/x.txt"))
		require.NotNil(t, x)
		assert.Equal(t, vault.RemotePath("/b/a2/sub/x.txt"), x.Path)

		// the children lists are re-derived, not emptied
		children := SelectChildren(state, vault.NewRemoteFileId("m1", "/b/a2"))
		require.Len(t, children, 1)
		assert.Equal(t, vault.RemoteFileId("m1:/b/a2/sub"), children[0].Id)

		subChildren := SelectChildren(state, vault.NewRemoteFileId("m1", "/b/a2/sub"))
		require.Len(t, subChildren, 1)
		assert.Equal(t, vault.RemoteFileId("m1:/b/a2/sub/x.txt"), subChildren[0].Id)

		// loaded roots moved too
		assert.True(t, SelectIsLoaded(state, "m1", "/b/a2/sub"))
	})
}

func TestUniqueIdStable(t *testing.T) {
	size := int64(4)
	modified := int64(100)
	a := UniqueId("m1", "/file.txt", &size, &modified, "hash")
	b := UniqueId("m1", "/file.txt", &size, &modified, "hash")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	c := UniqueId("m1", "/file.txt", &size, &modified, "other")
	assert.NotEqual(t, a, c)
}
