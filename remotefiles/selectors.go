// Package remotefiles maintains the authoritative mirror of the
// remote file tree the client has touched.
package remotefiles

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/store"
)

// UniqueId derives the content identity of a remote file from its
// location and metadata.
func UniqueId(mountId vault.MountId, pathLower vault.RemotePathLower, size *int64, modified *int64, hash string) string {
	sizePart := ""
	if size != nil {
		sizePart = fmt.Sprintf("%d", *size)
	}
	modifiedPart := ""
	if modified != nil {
		modifiedPart = fmt.Sprintf("%d", *modified)
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s:%s:%s", mountId, pathLower, sizePart, modifiedPart, hash)))
	return hex.EncodeToString(sum[:])
}

// SelectFile returns the remote file with the given id
func SelectFile(state *store.State, fileId vault.RemoteFileId) *store.RemoteFile {
	return state.RemoteFiles.Files[fileId]
}

// SelectChildren returns the sorted direct children of a file
func SelectChildren(state *store.State, fileId vault.RemoteFileId) []*store.RemoteFile {
	childrenIds, ok := state.RemoteFiles.Children[fileId]
	if !ok {
		return nil
	}
	children := make([]*store.RemoteFile, 0, len(childrenIds))
	for _, childId := range childrenIds {
		if child, ok := state.RemoteFiles.Files[childId]; ok {
			children = append(children, child)
		}
	}
	return children
}

// SelectIsLoaded reports whether the subtree root at (mountId, path)
// has been listed.
func SelectIsLoaded(state *store.State, mountId vault.MountId, path vault.RemotePath) bool {
	return state.RemoteFiles.LoadedRoots[vault.NewRemoteFileId(mountId, path)]
}

// sortKey orders children dir-first then by lowercase name
func sortKey(file *store.RemoteFile) string {
	typeKey := "1"
	if file.Type == store.FileTypeDir {
		typeKey = "0"
	}
	return typeKey + string(file.NameLower)
}

// sortChildren re-sorts the children list of a file in place
func sortChildren(state *store.State, fileId vault.RemoteFileId) {
	childrenIds, ok := state.RemoteFiles.Children[fileId]
	if !ok {
		return
	}
	sort.SliceStable(childrenIds, func(i, j int) bool {
		a := state.RemoteFiles.Files[childrenIds[i]]
		b := state.RemoteFiles.Files[childrenIds[j]]
		if a == nil || b == nil {
			return a != nil
		}
		return sortKey(a) < sortKey(b)
	})
}
