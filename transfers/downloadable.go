package transfers

import (
	"context"
	"io"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/store"
)

// Downloadable receives the plaintext content of a download. Exists
// lets a previous materialization of the same content be detected by
// its unique name.
type Downloadable interface {
	// Exists reports whether this content was already produced. A
	// true result finishes the download with ErrAlreadyExists.
	Exists(ctx context.Context, name vault.DecryptedName, uniqueName string) (bool, error)
	// Writer opens the destination. It receives the final name, the
	// declared size, the content type and the unique name.
	Writer(ctx context.Context, name vault.DecryptedName, size store.SizeInfo, contentType string, uniqueName string) (io.WriteCloser, error)
	// Done is called exactly once with the final result.
	Done(ctx context.Context, err error) error
}

// RepoFileReader is an open decrypted repo file
type RepoFileReader struct {
	Name        vault.DecryptedName
	Size        store.SizeInfo
	ContentType string
	UniqueName  string
	RepoId      vault.RepoId
	Path        vault.EncryptedPath
	RemoteHash  string
	// LocalHash is the plaintext md5 from the file tags if known
	LocalHash string
	Reader    io.ReadCloser
}

// Close closes the underlying reader
func (r *RepoFileReader) Close() error {
	return r.Reader.Close()
}

// RepoFileReaderProvider opens a repo file for reading when the
// transfer engine is ready for it.
type RepoFileReaderProvider interface {
	Name() vault.DecryptedName
	Reader(ctx context.Context) (*RepoFileReader, error)
}
