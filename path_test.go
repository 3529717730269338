package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidName(t *testing.T) {
	for _, test := range []struct {
		in   string
		want bool
	}{
		{"file.txt", true},
		{"My private documents", true},
		{"夢", true},
		{"", false},
		{".", false},
		{"..", false},
		{"a/b", false},
		{"a\x00b", false},
		{"a\nb", false},
		{"a\rb", false},
	} {
		assert.Equal(t, test.want, ValidName(test.in), test.in)
	}
}

func TestNormalizeRemotePath(t *testing.T) {
	for _, test := range []struct {
		in   string
		want string
		ok   bool
	}{
		{"/", "/", true},
		{"/a/b", "/a/b", true},
		{"/a/b/", "/a/b", true},
		{"/a//b", "/a/b", true},
		{"a/b", "", false},
		{"", "", false},
	} {
		got, ok := NormalizeRemotePath(RemotePath(test.in))
		assert.Equal(t, test.ok, ok, test.in)
		if ok {
			assert.Equal(t, RemotePath(test.want), got, test.in)
		}
	}
}

func TestRemotePathHelpers(t *testing.T) {
	parent, ok := RemotePathParent("/a/b")
	assert.True(t, ok)
	assert.Equal(t, RemotePath("/a"), parent)

	parent, ok = RemotePathParent("/a")
	assert.True(t, ok)
	assert.Equal(t, RemotePath("/"), parent)

	_, ok = RemotePathParent("/")
	assert.False(t, ok)

	name, ok := RemotePathName("/a/b")
	assert.True(t, ok)
	assert.Equal(t, RemoteName("b"), name)

	_, ok = RemotePathName("/")
	assert.False(t, ok)

	assert.Equal(t, RemotePath("/a/b"), RemotePathJoinName("/a", "b"))
	assert.Equal(t, RemotePath("/b"), RemotePathJoinName("/", "b"))
	assert.Equal(t, RemotePath("/a/b/c"), RemotePathJoin("/a", "/b/c"))
	assert.Equal(t, RemotePath("/a"), RemotePathJoin("/a", "/"))
	assert.Equal(t, RemotePath("/b/c"), RemotePathJoin("/", "/b/c"))
}

func TestRemotePathRelativeTo(t *testing.T) {
	rel, ok := RemotePathRelativeTo("/Vault/a/b", "/Vault")
	assert.True(t, ok)
	assert.Equal(t, RemotePath("/a/b"), rel)

	rel, ok = RemotePathRelativeTo("/VAULT/a", "/vault")
	assert.True(t, ok)
	assert.Equal(t, RemotePath("/a"), rel)

	rel, ok = RemotePathRelativeTo("/Vault", "/Vault")
	assert.True(t, ok)
	assert.Equal(t, RemotePath("/"), rel)

	_, ok = RemotePathRelativeTo("/Vaulted/a", "/Vault")
	assert.False(t, ok)

	rel, ok = RemotePathRelativeTo("/anything", "/")
	assert.True(t, ok)
	assert.Equal(t, RemotePath("/anything"), rel)
}

func TestNameExt(t *testing.T) {
	assert.Equal(t, "txt", NameExt("file.txt"))
	assert.Equal(t, "gz", NameExt("archive.tar.gz"))
	assert.Equal(t, "", NameExt("file"))
	assert.Equal(t, "", NameExt("file."))
	assert.Equal(t, "txt", NameExt("FILE.TXT"))
}

func TestPathSplit(t *testing.T) {
	assert.Nil(t, PathSplit("/"))
	assert.Equal(t, []string{"a", "b"}, PathSplit("/a/b"))
}
