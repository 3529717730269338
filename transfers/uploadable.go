package transfers

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/rclone/vault/store"
)

// Uploadable supplies the plaintext content of an upload. Size and
// Reader may both suspend.
type Uploadable interface {
	// Size returns the size of the content if it is known up front.
	Size(ctx context.Context) (store.SizeInfo, error)
	// Reader opens the content for reading together with the best
	// known size.
	Reader(ctx context.Context) (io.ReadCloser, store.SizeInfo, error)
}

// BytesUploadable is an Uploadable over an in-memory buffer
type BytesUploadable struct {
	Bytes []byte
}

// Size implements Uploadable
func (u *BytesUploadable) Size(ctx context.Context) (store.SizeInfo, error) {
	return store.SizeInfo{Kind: store.SizeExact, Size: int64(len(u.Bytes))}, nil
}

// Reader implements Uploadable
func (u *BytesUploadable) Reader(ctx context.Context) (io.ReadCloser, store.SizeInfo, error) {
	size, _ := u.Size(ctx)
	return io.NopCloser(bytes.NewReader(u.Bytes)), size, nil
}

// FileUploadable is an Uploadable over a local file
type FileUploadable struct {
	Path string
}

// Size implements Uploadable
func (u *FileUploadable) Size(ctx context.Context) (store.SizeInfo, error) {
	info, err := os.Stat(u.Path)
	if err != nil {
		return store.SizeInfo{Kind: store.SizeUnknown}, err
	}
	return store.SizeInfo{Kind: store.SizeExact, Size: info.Size()}, nil
}

// Reader implements Uploadable
func (u *FileUploadable) Reader(ctx context.Context) (io.ReadCloser, store.SizeInfo, error) {
	size, err := u.Size(ctx)
	if err != nil {
		return nil, size, err
	}
	f, err := os.Open(u.Path)
	if err != nil {
		return nil, size, err
	}
	return f, size, nil
}
