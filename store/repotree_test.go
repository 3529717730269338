package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	vault "github.com/rclone/vault"
)

func pairs(t *RepoTree, path vault.RemotePath) []RepoTreePair {
	return t.Get(path)
}

func TestRepoTree(t *testing.T) {
	tree := NewRepoTree()

	assert.Empty(t, pairs(tree, "/"))
	assert.Empty(t, pairs(tree, "/d1"))
	assert.Empty(t, pairs(tree, "/D1"))

	tree.Set("/", "r1")
	assert.Equal(t, []RepoTreePair{{RepoId: "r1", Path: "/"}}, pairs(tree, "/"))
	assert.Equal(t, []RepoTreePair{{RepoId: "r1", Path: "/d1"}}, pairs(tree, "/d1"))
	assert.Equal(t, []RepoTreePair{{RepoId: "r1", Path: "/D1"}}, pairs(tree, "/D1"))

	tree.Set("/D1", "r2")
	assert.Equal(t, []RepoTreePair{
		{RepoId: "r1", Path: "/d1"},
		{RepoId: "r2", Path: "/"},
	}, pairs(tree, "/d1"))
	assert.Equal(t, []RepoTreePair{
		{RepoId: "r1", Path: "/d1/d11"},
		{RepoId: "r2", Path: "/d11"},
	}, pairs(tree, "/d1/d11"))
	assert.Equal(t, []RepoTreePair{
		{RepoId: "r1", Path: "/D1/D11"},
		{RepoId: "r2", Path: "/D11"},
	}, pairs(tree, "/D1/D11"))
	assert.Equal(t, []RepoTreePair{{RepoId: "r1", Path: "/D2"}}, pairs(tree, "/D2"))

	repoId, ok := tree.Remove("/")
	assert.True(t, ok)
	assert.Equal(t, vault.RepoId("r1"), repoId)
	assert.Empty(t, pairs(tree, "/"))
	assert.Equal(t, []RepoTreePair{{RepoId: "r2", Path: "/"}}, pairs(tree, "/d1"))
	assert.Equal(t, []RepoTreePair{{RepoId: "r2", Path: "/D11"}}, pairs(tree, "/D1/D11"))
	assert.Empty(t, pairs(tree, "/D2"))

	repoId, ok = tree.Remove("/D1")
	assert.True(t, ok)
	assert.Equal(t, vault.RepoId("r2"), repoId)
	assert.Empty(t, pairs(tree, "/d1"))
	assert.Empty(t, pairs(tree, "/d1/d11"))

	_, ok = tree.Remove("/missing")
	assert.False(t, ok)
}

func TestRepoTreeChild(t *testing.T) {
	tree := NewRepoTree()

	tree.Set("/path/to/r1", "r1")
	assert.Empty(t, pairs(tree, "/"))
	assert.Empty(t, pairs(tree, "/path"))
	assert.Empty(t, pairs(tree, "/path/to"))
	assert.Equal(t, []RepoTreePair{{RepoId: "r1", Path: "/"}}, pairs(tree, "/path/to/r1"))
	assert.Equal(t, []RepoTreePair{{RepoId: "r1", Path: "/d1"}}, pairs(tree, "/Path/to/r1/d1"))
	assert.Equal(t, []RepoTreePair{{RepoId: "r1", Path: "/D1"}}, pairs(tree, "/Path/to/r1/D1"))
}

func TestPathKeyTail(t *testing.T) {
	key, tail := pathKeyTail("/FOO")
	assert.Equal(t, "foo", key)
	assert.Equal(t, "/", tail)

	key, tail = pathKeyTail("/FOO/Bar")
	assert.Equal(t, "foo", key)
	assert.Equal(t, "/Bar", tail)
}
