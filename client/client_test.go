package client

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/cipher"
	"github.com/rclone/vault/fakeremote"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/repofiles"
	"github.com/rclone/vault/repofilesmove"
	"github.com/rclone/vault/repos"
	"github.com/rclone/vault/store"
	"github.com/rclone/vault/transfers"
)

func newTestClient(t *testing.T, fake *fakeremote.FakeRemote) *Client {
	cfg := vault.DefaultConfig
	cfg.BaseURL = fake.URL()
	cfg.DataDir = t.TempDir()
	cfg.Transfers.RetryInitialDelay = 10 * time.Millisecond
	cfg.Transfers.RetryMaxDelay = 50 * time.Millisecond

	c, err := New(Options{
		Config: &cfg,
		Auth:   &remote.StaticAuthProvider{Authorization: "Bearer test-token"},
	})
	require.NoError(t, err)
	return c
}

func createAndUnlock(t *testing.T, c *Client) vault.RepoId {
	ctx := context.Background()
	result, err := c.Repos.CreateRepo(ctx, "m1", "/My safe box", "password", nil)
	require.NoError(t, err)
	require.NoError(t, c.Repos.UnlockRepo(result.RepoId, "password", repos.UnlockModeUnlock))
	return result.RepoId
}

func listRootNames(t *testing.T, c *Client, repoId vault.RepoId) []string {
	require.NoError(t, c.RepoFiles.LoadFiles(context.Background(), repoId, "/"))
	var names []string
	c.Store.WithState(func(state *store.State) {
		for _, file := range repofiles.SelectChildren(state, repofiles.GetFileId(repoId, "/")) {
			if file.Name.Error == nil {
				names = append(names, string(file.Name.Decrypted))
			} else {
				names = append(names, "<"+string(file.Name.Encrypted)+">")
			}
		}
	})
	return names
}

func TestCreateRepoAndList(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)

	repoId := createAndUnlock(t, c)

	names := listRootNames(t, c, repoId)
	sort.Strings(names)
	assert.Equal(t, []string{
		"My private documents",
		"My private pictures",
		"My private videos",
	}, names)

	// wrong password is rejected without installing a cipher
	err := c.Repos.UnlockRepo(repoId, "wrong", repos.UnlockModeVerify)
	assert.Equal(t, repos.ErrInvalidPassword, err)
}

func TestCreateRepoAlreadyExists(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)

	_, err := c.Repos.CreateRepo(context.Background(), "m1", "/My safe box", "password", nil)
	require.NoError(t, err)

	_, err = c.Repos.CreateRepo(context.Background(), "m1", "/My safe box", "password", nil)
	assert.True(t, remote.IsApiErrorCode(err, remote.ApiErrorCodeVaultReposAlreadyExists))
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)
	ctx := context.Background()

	repoId := createAndUnlock(t, c)

	result, err := c.Transfers.Upload(ctx, repoId, "/", "file.txt", &transfers.BytesUploadable{Bytes: []byte("test")})
	require.NoError(t, err)
	assert.Equal(t, vault.DecryptedName("file.txt"), result.Name)

	// the remote only ever sees ciphertext
	encryptedContent, ok := fake.GetContent("m1", "/My safe box/"+string(result.RemoteFile.Name))
	require.True(t, ok)
	assert.NotContains(t, string(encryptedContent), "test")
	assert.Equal(t, "RCLONE\x00\x00", string(encryptedContent[:8]))

	// the repo file carries the ciphertext hash and the decrypted
	// plaintext hash in its tags
	var file *store.RepoFile
	c.Store.WithState(func(state *store.State) {
		file = repofiles.SelectFile(state, repofiles.GetFileId(repoId, result.Path))
	})
	require.NotNil(t, file)
	assert.Len(t, file.RemoteHash, 32)
	require.NoError(t, file.Tags.Error)
	sum := md5.Sum([]byte("test"))
	assert.Equal(t, hex.EncodeToString(sum[:]), file.Tags.Hash)
	assert.Equal(t, file.RemoteHash, file.Tags.EncryptedHash)
	assert.Equal(t, int64(4), file.Size.Size)

	// download decrypts back to the plaintext
	provider, err := c.RepoFilesRead.GetFileReader(repoId, result.Path)
	require.NoError(t, err)
	_, reader, err := c.Transfers.DownloadReader(ctx, provider)
	require.NoError(t, err)
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	assert.Equal(t, []byte("test"), content)

	// the download reader transfer removed itself on close
	c.Store.WithState(func(state *store.State) {
		assert.Empty(t, state.Transfers.Transfers)
	})
}

func TestUploadAutorename(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)
	ctx := context.Background()

	repoId := createAndUnlock(t, c)

	first, err := c.Transfers.Upload(ctx, repoId, "/", "file.txt", &transfers.BytesUploadable{Bytes: []byte("one")})
	require.NoError(t, err)
	assert.Equal(t, vault.DecryptedName("file.txt"), first.Name)

	second, err := c.Transfers.Upload(ctx, repoId, "/", "file.txt", &transfers.BytesUploadable{Bytes: []byte("two")})
	require.NoError(t, err)
	assert.Equal(t, vault.DecryptedName("file (1).txt"), second.Name)
	assert.NotEqual(t, first.Path, second.Path)
}

func TestForeignOverwriteBreaksTagsBinding(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)
	ctx := context.Background()

	repoId := createAndUnlock(t, c)

	result, err := c.Transfers.Upload(ctx, repoId, "/", "file.txt", &transfers.BytesUploadable{Bytes: []byte("test")})
	require.NoError(t, err)

	// a foreign tool overwrites the ciphertext without touching the
	// tags - the stored encrypted hash no longer matches the remote
	// hash
	repoCipher, err := c.Repos.GetCipher(repoId)
	require.NoError(t, err)
	newContent, err := repoCipher.EncryptBytes([]byte("test1"))
	require.NoError(t, err)

	remotePath := "/My safe box/" + string(result.RemoteFile.Name)
	oldTags := fake.GetTags("m1", remotePath)
	require.NotEmpty(t, oldTags)
	fake.SetFile("m1", remotePath, newContent)
	fake.SetTags("m1", remotePath, oldTags)

	require.NoError(t, c.RepoFiles.LoadFiles(ctx, repoId, "/"))

	file, err := c.RepoFiles.GetFile(repoId, result.Path)
	require.NoError(t, err)
	var mismatch *repofiles.EncryptedHashMismatchError
	require.ErrorAs(t, file.Tags.Error, &mismatch)
	assert.NotEqual(t, mismatch.Expected, mismatch.Actual)
}

func TestForeignPlaintextName(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)

	repoId := createAndUnlock(t, c)

	// a foreign tool wrote an unencrypted name into the repo
	fake.SetFile("m1", "/My safe box/Plain.txt", []byte("raw"))

	names := listRootNames(t, c, repoId)
	assert.Contains(t, names, "<Plain.txt>")

	c.Store.WithState(func(state *store.State) {
		file := repofiles.SelectFile(state, repofiles.GetErrorFileId(repoId, "/Plain.txt"))
		require.NotNil(t, file)
		assert.Equal(t, vault.RepoFileId("err:"+string(repoId)+":/Plain.txt"), file.Id)
		assert.Error(t, file.Name.Error)
	})
}

func TestLockInvalidatesFiles(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)

	repoId := createAndUnlock(t, c)
	require.NotEmpty(t, listRootNames(t, c, repoId))

	require.NoError(t, c.Repos.LockRepo(repoId))

	c.Store.WithState(func(state *store.State) {
		assert.Empty(t, state.RepoFiles.Files)
	})
}

// blockingUploadable blocks its reader until released
type blockingUploadable struct {
	release chan struct{}
	size    int64
}

func (u *blockingUploadable) Size(ctx context.Context) (store.SizeInfo, error) {
	return store.SizeInfo{Kind: store.SizeExact, Size: u.size}, nil
}

func (u *blockingUploadable) Reader(ctx context.Context) (io.ReadCloser, store.SizeInfo, error) {
	size, _ := u.Size(ctx)
	return io.NopCloser(&blockingReader{release: u.release, data: make([]byte, u.size)}), size, nil
}

type blockingReader struct {
	release chan struct{}
	data    []byte
	offset  int
}

func (r *blockingReader) Read(p []byte) (int, error) {
	<-r.release
	if r.offset >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.offset:])
	r.offset += n
	return n, nil
}

func TestUploadConcurrencyCap(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()

	cfg := vault.DefaultConfig
	cfg.BaseURL = fake.URL()
	cfg.DataDir = t.TempDir()
	cfg.Transfers.UploadConcurrency = 2
	c, err := New(Options{
		Config: &cfg,
		Auth:   &remote.StaticAuthProvider{Authorization: "Bearer test-token"},
	})
	require.NoError(t, err)

	repoId := createAndUnlock(t, c)

	release := make(chan struct{})

	results := make(chan error, 4)
	names := []vault.DecryptedName{"a.bin", "b.bin", "c.bin", "d.bin"}
	for _, name := range names {
		name := name
		go func() {
			_, err := c.Transfers.Upload(context.Background(), repoId, "/", name, &blockingUploadable{release: release, size: 8})
			results <- err
		}()
	}

	// at most two uploads occupy a slot at any time
	assert.Eventually(t, func() bool {
		count := 0
		c.Store.WithState(func(state *store.State) {
			count = state.Transfers.TransferringUploadsCount
		})
		return count == 2
	}, 5*time.Second, 10*time.Millisecond)

	c.Store.WithState(func(state *store.State) {
		assert.LessOrEqual(t, state.Transfers.TransferringUploadsCount, 2)
		assert.Equal(t, 4, state.Transfers.TotalCount)
	})

	// unblock everything and drain - reads from a closed channel
	// proceed immediately
	close(release)

	for i := 0; i < 4; i++ {
		select {
		case err := <-results:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for uploads")
		}
	}
}

func TestUploadAbort(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)

	repoId := createAndUnlock(t, c)

	release := make(chan struct{})
	defer close(release)

	done := make(chan error, 1)
	go func() {
		_, err := c.Transfers.Upload(context.Background(), repoId, "/", "big.bin", &blockingUploadable{release: release, size: 1024})
		done <- err
	}()

	// wait until the upload is in flight
	var transferId uint32
	require.Eventually(t, func() bool {
		found := false
		c.Store.WithState(func(state *store.State) {
			for id, transfer := range state.Transfers.Transfers {
				if transfer.State == store.TransferTransferring || transfer.State == store.TransferProcessing {
					transferId = id
					found = true
				}
			}
		})
		return found
	}, 5*time.Second, 10*time.Millisecond)

	c.Transfers.Abort(transferId)

	select {
	case err := <-done:
		assert.Equal(t, transfers.ErrAborted, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for abort")
	}

	// an aborted transfer is removed, not retried
	c.Store.WithState(func(state *store.State) {
		assert.Empty(t, state.Transfers.Transfers)
	})
}

func TestReadFileAtOffset(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)
	ctx := context.Background()

	repoId := createAndUnlock(t, c)

	data := []byte("0123456789abcdef")
	result, err := c.Transfers.Upload(ctx, repoId, "/", "data.bin", &transfers.BytesUploadable{Bytes: data})
	require.NoError(t, err)

	reader, err := c.RepoFilesRead.ReadFileAt(ctx, repoId, result.Path, 4, -1)
	require.NoError(t, err)
	out, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	assert.Equal(t, data[4:], out)

	reader, err = c.RepoFilesRead.ReadFileAt(ctx, repoId, result.Path, 4, 8)
	require.NoError(t, err)
	out, err = io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())
	assert.Equal(t, data[4:12], out)
}

func TestGetRepoConfig(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)

	repoId := createAndUnlock(t, c)

	config, err := c.Repos.GetRepoConfig(repoId, "password")
	require.NoError(t, err)
	assert.Contains(t, config.Config, "type = crypt")
	assert.Equal(t, "password", config.Password)

	_, err = c.Repos.GetRepoConfig(repoId, "wrong")
	assert.Equal(t, repos.ErrInvalidPassword, err)
}

func TestRemoveRepo(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)

	repoId := createAndUnlock(t, c)

	assert.Equal(t, repos.ErrInvalidPassword, c.Repos.RemoveRepo(context.Background(), repoId, "wrong"))
	require.NoError(t, c.Repos.RemoveRepo(context.Background(), repoId, "password"))

	c.Store.WithState(func(state *store.State) {
		assert.Empty(t, state.Repos.Repos)
		assert.Empty(t, state.RepoFiles.Files)
	})
}

func TestDownloadToDownloadable(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)
	ctx := context.Background()

	repoId := createAndUnlock(t, c)

	result, err := c.Transfers.Upload(ctx, repoId, "/", "file.txt", &transfers.BytesUploadable{Bytes: []byte("test")})
	require.NoError(t, err)

	provider, err := c.RepoFilesRead.GetFileReader(repoId, result.Path)
	require.NoError(t, err)

	downloadable := &bufferDownloadable{}
	require.NoError(t, c.Transfers.Download(ctx, provider, downloadable, false))
	assert.Equal(t, "test", downloadable.buf.String())
	assert.True(t, downloadable.done)
}

type bufferDownloadable struct {
	buf  bytes.Buffer
	done bool
}

func (d *bufferDownloadable) Exists(ctx context.Context, name vault.DecryptedName, uniqueName string) (bool, error) {
	return false, nil
}

func (d *bufferDownloadable) Writer(ctx context.Context, name vault.DecryptedName, size store.SizeInfo, contentType string, uniqueName string) (io.WriteCloser, error) {
	return nopWriteCloser{&d.buf}, nil
}

func (d *bufferDownloadable) Done(ctx context.Context, err error) error {
	d.done = true
	return nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func TestDownloadToLocalCache(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)
	ctx := context.Background()

	repoId := createAndUnlock(t, c)

	result, err := c.Transfers.Upload(ctx, repoId, "/", "file.txt", &transfers.BytesUploadable{Bytes: []byte("test")})
	require.NoError(t, err)

	file, err := c.RepoFiles.GetFile(repoId, result.Path)
	require.NoError(t, err)

	// a persistent download lands in the object cache
	provider, err := c.RepoFilesRead.GetFileReader(repoId, result.Path)
	require.NoError(t, err)
	require.NoError(t, c.Transfers.Download(ctx, provider, c.LocalCache.NewDownloadable(), true))

	assert.True(t, c.LocalCache.Exists(file.UniqueName))
	cached, ok, err := c.LocalCache.Open(file.UniqueName)
	require.NoError(t, err)
	require.True(t, ok)
	content, err := io.ReadAll(cached)
	require.NoError(t, err)
	require.NoError(t, cached.Close())
	assert.Equal(t, []byte("test"), content)

	// the transfer stays Done until cleared
	c.Store.WithState(func(state *store.State) {
		assert.Equal(t, 1, state.Transfers.DoneCount)
	})
	c.Transfers.ClearDone()
	c.Store.WithState(func(state *store.State) {
		assert.Empty(t, state.Transfers.Transfers)
	})

	// a repeated download of unchanged content is detected up front
	provider, err = c.RepoFilesRead.GetFileReader(repoId, result.Path)
	require.NoError(t, err)
	require.NoError(t, c.Transfers.Download(ctx, provider, c.LocalCache.NewDownloadable(), true))
	assert.True(t, c.LocalCache.Exists(file.UniqueName))
}

func TestVerifyMode(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)

	result, err := c.Repos.CreateRepo(context.Background(), "m1", "/My safe box", "password", nil)
	require.NoError(t, err)

	// verify does not install the cipher
	require.NoError(t, c.Repos.UnlockRepo(result.RepoId, "password", repos.UnlockModeVerify))
	c.Store.WithState(func(state *store.State) {
		repo := state.Repos.Repos[result.RepoId]
		assert.Equal(t, store.RepoLocked, repo.State)
		assert.Nil(t, repo.Cipher)
	})
}

func TestBrowsersAndDetails(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)
	ctx := context.Background()

	repoId := createAndUnlock(t, c)

	result, err := c.Transfers.Upload(ctx, repoId, "/", "file.txt", &transfers.BytesUploadable{Bytes: []byte("test")})
	require.NoError(t, err)

	// the browser lists the live projection without eventstream
	browserId, err := c.RepoFilesBrowsers.Create(ctx, repoId, "/")
	require.NoError(t, err)
	defer c.RepoFilesBrowsers.Destroy(browserId)

	items := c.RepoFilesBrowsers.Items(browserId)
	require.Len(t, items, 4)
	// dirs first, the file last
	assert.Equal(t, vault.DecryptedName("file.txt"), items[3].Name.Decrypted)

	// details follow the file through a move
	detailsId, err := c.RepoFilesDetails.Create(ctx, repoId, result.Path)
	require.NoError(t, err)
	defer c.RepoFilesDetails.Destroy(detailsId)

	docsPath, err := c.RepoFiles.EncryptPath(repoId, "/My private documents")
	require.NoError(t, err)
	name, _ := vault.EncryptedPathName(result.Path)
	newPath := vault.EncryptedPathJoinName(docsPath, name)

	require.NoError(t, c.RepoFilesMove.MoveFiles(ctx, repoId, []vault.EncryptedPath{result.Path}, docsPath, repofilesmove.ModeMove))

	file, err := c.RepoFilesDetails.File(detailsId)
	require.NoError(t, err)
	assert.Equal(t, newPath, file.EncryptedPath)
	assert.Equal(t, vault.DecryptedName("file.txt"), file.Name.Decrypted)

	// the info carries the modification time as a relative phrase
	info, err := c.RepoFilesDetails.Info(detailsId)
	require.NoError(t, err)
	assert.Equal(t, "a few seconds ago", info.ModifiedRelative)
}

func TestCreateDirWithPlaintextName(t *testing.T) {
	fake := fakeremote.New()
	defer fake.Close()
	c := newTestClient(t, fake)
	ctx := context.Background()

	repoId := createAndUnlock(t, c)

	path, err := c.RepoFiles.CreateDir(ctx, repoId, "/", "New folder")
	require.NoError(t, err)

	file, err := c.RepoFiles.GetFile(repoId, path)
	require.NoError(t, err)
	assert.Equal(t, store.FileTypeDir, file.Type)
	assert.Equal(t, vault.DecryptedName("New folder"), file.Name.Decrypted)

	// invalid names are rejected before any remote call
	_, err = c.RepoFiles.CreateDir(ctx, repoId, "/", "a/b")
	assert.Error(t, err)
	_, err = c.RepoFiles.CreateDir(ctx, repoId, "/", "..")
	assert.Error(t, err)
}

func TestSaltChangesCipher(t *testing.T) {
	a, err := cipher.New("password", "salt-a")
	require.NoError(t, err)
	b, err := cipher.New("password", "salt-b")
	require.NoError(t, err)
	assert.NotEqual(t, a.EncryptFilename("x"), b.EncryptFilename("x"))
}
