package localcache

import (
	"context"
	"io"
	"os"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/store"
	"github.com/rclone/vault/transfers"
)

// Downloadable stores a download as a local object keyed by the
// file's unique name, so a repeated download of unchanged content is
// detected up front.
type Downloadable struct {
	cache *Cache

	object string
	file   *os.File

	// UniqueName and Name are filled in by the transfer engine
	UniqueName string
	Name       vault.DecryptedName
}

// NewDownloadable creates a Downloadable over the cache
func (c *Cache) NewDownloadable() *Downloadable {
	return &Downloadable{cache: c}
}

// Exists implements transfers.Downloadable
func (d *Downloadable) Exists(ctx context.Context, name vault.DecryptedName, uniqueName string) (bool, error) {
	return d.cache.Exists(uniqueName), nil
}

// Writer implements transfers.Downloadable
func (d *Downloadable) Writer(ctx context.Context, name vault.DecryptedName, size store.SizeInfo, contentType string, uniqueName string) (io.WriteCloser, error) {
	object, f, err := d.cache.Create()
	if err != nil {
		return nil, err
	}
	d.object = object
	d.file = f
	d.Name = name
	d.UniqueName = uniqueName
	return f, nil
}

// Done implements transfers.Downloadable
func (d *Downloadable) Done(ctx context.Context, err error) error {
	if d.file == nil {
		return nil
	}
	if err != nil {
		_ = os.Remove(d.cache.objectPath(d.object))
		d.cache.Cleanup()
		return nil
	}
	d.cache.Commit(d.UniqueName, d.object)
	return nil
}

// check interfaces
var _ transfers.Downloadable = (*Downloadable)(nil)
