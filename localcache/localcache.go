// Package localcache is the content-addressed local object store
// under <data dir>/objects. One uuid-named file holds one stored
// blob; references are counted by filesystem entry and orphans are
// removed opportunistically.
package localcache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	vault "github.com/rclone/vault"
)

// objectsDirName is where blobs live under the data dir
const objectsDirName = "objects"

// Cache is the local object store
type Cache struct {
	dir string

	mu sync.Mutex
	// refs maps a unique name to its object file name
	refs map[string]string
}

// New creates the object store under dataDir
func New(dataDir string) (*Cache, error) {
	dir := filepath.Join(dataDir, objectsDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create objects dir: %w", err)
	}
	return &Cache{
		dir:  dir,
		refs: make(map[string]string),
	}, nil
}

// objectPath returns the path of an object file
func (c *Cache) objectPath(object string) string {
	return filepath.Join(c.dir, object)
}

// Create opens a fresh object file for writing and returns its
// object name together with the open file.
func (c *Cache) Create() (string, *os.File, error) {
	object := uuid.NewString()
	f, err := os.OpenFile(c.objectPath(object), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create object: %w", err)
	}
	return object, f, nil
}

// Commit binds a written object to a unique name, releasing any
// object previously bound to it.
func (c *Cache) Commit(uniqueName, object string) {
	c.mu.Lock()
	previous, hadPrevious := c.refs[uniqueName]
	c.refs[uniqueName] = object
	c.mu.Unlock()
	if hadPrevious && previous != object {
		_ = os.Remove(c.objectPath(previous))
	}
}

// Open opens the object bound to a unique name
func (c *Cache) Open(uniqueName string) (*os.File, bool, error) {
	c.mu.Lock()
	object, ok := c.refs[uniqueName]
	c.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	f, err := os.Open(c.objectPath(object))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return f, true, nil
}

// Exists reports whether a unique name has a stored object
func (c *Cache) Exists(uniqueName string) bool {
	c.mu.Lock()
	object, ok := c.refs[uniqueName]
	c.mu.Unlock()
	if !ok {
		return false
	}
	if _, err := os.Stat(c.objectPath(object)); err != nil {
		return false
	}
	return true
}

// Remove drops the binding of a unique name and deletes its object
func (c *Cache) Remove(uniqueName string) {
	c.mu.Lock()
	object, ok := c.refs[uniqueName]
	delete(c.refs, uniqueName)
	c.mu.Unlock()
	if ok {
		_ = os.Remove(c.objectPath(object))
	}
}

// Cleanup deletes every object file which no unique name references
// any more. Called opportunistically after mutations that remove
// references.
func (c *Cache) Cleanup() {
	c.mu.Lock()
	referenced := make(map[string]bool, len(c.refs))
	for _, object := range c.refs {
		referenced[object] = true
	}
	c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		vault.Errorf(nil, "localcache: cleanup read failed: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || referenced[entry.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			vault.Errorf(nil, "localcache: cleanup remove failed: %v", err)
		}
	}
}
