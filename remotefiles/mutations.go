package remotefiles

import (
	vault "github.com/rclone/vault"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/store"
)

// FilesFileToRemoteFile converts a server file model into a state
// entry at the given path.
func FilesFileToRemoteFile(mountId vault.MountId, path vault.RemotePath, file remote.FilesFile) *store.RemoteFile {
	name := vault.RemoteName(file.Name)
	var size, modified *int64
	if file.Type == remote.FileTypeFile {
		s := file.Size
		m := file.Modified
		size, modified = &s, &m
	}
	return &store.RemoteFile{
		Id:        vault.NewRemoteFileId(mountId, path),
		MountId:   mountId,
		Path:      path,
		Name:      name,
		NameLower: name.Lower(),
		Type:      store.FileType(file.Type),
		Size:      size,
		Modified:  modified,
		Hash:      file.Hash,
		Tags:      file.Tags,
		UniqueId:  UniqueId(mountId, path.Lower(), size, modified, file.Hash),
	}
}

// dirToRemoteFile makes a bare directory entry for a path we only
// know exists.
func dirToRemoteFile(mountId vault.MountId, path vault.RemotePath) *store.RemoteFile {
	name, _ := vault.RemotePathName(path)
	return &store.RemoteFile{
		Id:        vault.NewRemoteFileId(mountId, path),
		MountId:   mountId,
		Path:      path,
		Name:      name,
		NameLower: name.Lower(),
		Type:      store.FileTypeDir,
		UniqueId:  UniqueId(mountId, path.Lower(), nil, nil, ""),
	}
}

// MountLoaded caches a mount
func MountLoaded(state *store.State, mount remote.Mount) {
	state.Mounts.Mounts[vault.MountId(mount.Id)] = &store.Mount{
		Id:        vault.MountId(mount.Id),
		Name:      mount.Name,
		Type:      mount.Type,
		Origin:    mount.Origin,
		Online:    mount.Online,
		IsPrimary: mount.IsPrimary,
	}
}

// PlacesLoaded replaces the cached mounts
func PlacesLoaded(state *store.State, mounts []remote.Mount) {
	state.Mounts.Mounts = make(map[vault.MountId]*store.Mount, len(mounts))
	for _, mount := range mounts {
		MountLoaded(state, mount)
	}
	state.Mounts.Status = store.StatusLoaded
}

// BundleLoaded replaces the file at path with the server's
// representation and overwrites its children with the returned
// entries.
func BundleLoaded(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc, mountId vault.MountId, path vault.RemotePath, bundle *remote.Bundle) {
	notify(store.EventRemoteFiles)

	rootFileId := vault.NewRemoteFileId(mountId, path)

	state.RemoteFiles.Files[rootFileId] = FilesFileToRemoteFile(mountId, path, bundle.File)

	if bundle.Files != nil {
		children := make([]vault.RemoteFileId, 0, len(bundle.Files))
		for _, file := range bundle.Files {
			filePath := vault.RemotePathJoinName(path, vault.RemoteName(file.Name))
			fileId := vault.NewRemoteFileId(mountId, filePath)
			state.RemoteFiles.Files[fileId] = FilesFileToRemoteFile(mountId, filePath, file)
			children = append(children, fileId)
		}
		state.RemoteFiles.Children[rootFileId] = children
		sortChildren(state, rootFileId)
	}

	state.RemoteFiles.LoadedRoots[rootFileId] = true

	mutationState.RemoteFiles.LoadedRoots = append(mutationState.RemoteFiles.LoadedRoots,
		store.RemoteFileEntry{MountId: mountId, Path: path})

	mutationNotify(store.MutationEventRemoteFiles, state, mutationState)
}

// FileLoaded merges the info of a single file
func FileLoaded(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc, mountId vault.MountId, path vault.RemotePath, file remote.FilesFile) {
	notify(store.EventRemoteFiles)

	fileId := vault.NewRemoteFileId(mountId, path)

	state.RemoteFiles.Files[fileId] = FilesFileToRemoteFile(mountId, path, file)

	if parentPath, ok := vault.RemotePathParent(path); ok {
		addChild(state, vault.NewRemoteFileId(mountId, parentPath), fileId)
	}

	state.RemoteFiles.LoadedRoots[fileId] = true

	mutationState.RemoteFiles.LoadedRoots = append(mutationState.RemoteFiles.LoadedRoots,
		store.RemoteFileEntry{MountId: mountId, Path: path})

	mutationNotify(store.MutationEventRemoteFiles, state, mutationState)
}

// addChild links a child into a parent's children if the parent is
// present. A missing parent means the directory is not loaded - the
// child is inserted but stays unlinked to prevent orphan lists.
func addChild(state *store.State, parentId vault.RemoteFileId, childId vault.RemoteFileId) {
	children, ok := state.RemoteFiles.Children[parentId]
	if !ok {
		return
	}
	for _, id := range children {
		if id == childId {
			return
		}
	}
	state.RemoteFiles.Children[parentId] = append(children, childId)
	sortChildren(state, parentId)
}

// removeChild unlinks a child from a parent's children
func removeChild(state *store.State, parentId vault.RemoteFileId, childId vault.RemoteFileId) {
	children, ok := state.RemoteFiles.Children[parentId]
	if !ok {
		return
	}
	for i, id := range children {
		if id == childId {
			state.RemoteFiles.Children[parentId] = append(children[:i], children[i+1:]...)
			return
		}
	}
}

// DirCreated inserts a bare directory entry
func DirCreated(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc, mountId vault.MountId, path vault.RemotePath) {
	notify(store.EventRemoteFiles)

	fileId := vault.NewRemoteFileId(mountId, path)

	state.RemoteFiles.Files[fileId] = dirToRemoteFile(mountId, path)

	if parentPath, ok := vault.RemotePathParent(path); ok {
		addChild(state, vault.NewRemoteFileId(mountId, parentPath), fileId)
	}

	mutationState.RemoteFiles.CreatedFiles = append(mutationState.RemoteFiles.CreatedFiles,
		store.RemoteFileEntry{MountId: mountId, Path: path})

	mutationNotify(store.MutationEventRemoteFiles, state, mutationState)
}

// FileCreated inserts a file entry from a server model
func FileCreated(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc, mountId vault.MountId, path vault.RemotePath, file remote.FilesFile) {
	notify(store.EventRemoteFiles)

	fileId := vault.NewRemoteFileId(mountId, path)

	state.RemoteFiles.Files[fileId] = FilesFileToRemoteFile(mountId, path, file)

	if parentPath, ok := vault.RemotePathParent(path); ok {
		addChild(state, vault.NewRemoteFileId(mountId, parentPath), fileId)
	}

	mutationState.RemoteFiles.CreatedFiles = append(mutationState.RemoteFiles.CreatedFiles,
		store.RemoteFileEntry{MountId: mountId, Path: path})

	mutationNotify(store.MutationEventRemoteFiles, state, mutationState)
}

// FileRemoved removes a file entry and its whole subtree
func FileRemoved(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc, mountId vault.MountId, path vault.RemotePath) {
	notify(store.EventRemoteFiles)

	fileId := vault.NewRemoteFileId(mountId, path)

	if parentPath, ok := vault.RemotePathParent(path); ok {
		removeChild(state, vault.NewRemoteFileId(mountId, parentPath), fileId)
	}

	CleanupFile(state, fileId)

	mutationState.RemoteFiles.RemovedFiles = append(mutationState.RemoteFiles.RemovedFiles,
		store.RemoteFileEntry{MountId: mountId, Path: path})

	mutationNotify(store.MutationEventRemoteFiles, state, mutationState)
}

// CleanupFile removes a file, its children list, every descendant
// and every descendant children list.
func CleanupFile(state *store.State, fileId vault.RemoteFileId) {
	delete(state.RemoteFiles.Files, fileId)
	delete(state.RemoteFiles.Children, fileId)
	delete(state.RemoteFiles.LoadedRoots, fileId)

	prefix := string(fileId)
	if prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}

	for id := range state.RemoteFiles.Files {
		if len(id) > len(prefix) && string(id)[:len(prefix)] == prefix {
			delete(state.RemoteFiles.Files, id)
		}
	}
	for id := range state.RemoteFiles.Children {
		if len(id) > len(prefix) && string(id)[:len(prefix)] == prefix {
			delete(state.RemoteFiles.Children, id)
		}
	}
	for id := range state.RemoteFiles.LoadedRoots {
		if len(id) > len(prefix) && string(id)[:len(prefix)] == prefix {
			delete(state.RemoteFiles.LoadedRoots, id)
		}
	}
}

// FileCopied inserts the copy destination entry
func FileCopied(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc, mountId vault.MountId, newPath vault.RemotePath, newFile remote.FilesFile) {
	notify(store.EventRemoteFiles)

	newParentPath, ok := vault.RemotePathParent(newPath)
	if !ok {
		return
	}

	newFileId := vault.NewRemoteFileId(mountId, newPath)

	state.RemoteFiles.Files[newFileId] = FilesFileToRemoteFile(mountId, newPath, newFile)

	addChild(state, vault.NewRemoteFileId(mountId, newParentPath), newFileId)

	mutationState.RemoteFiles.CreatedFiles = append(mutationState.RemoteFiles.CreatedFiles,
		store.RemoteFileEntry{MountId: mountId, Path: newPath})

	mutationNotify(store.MutationEventRemoteFiles, state, mutationState)
}

// FileMoved renames an entry and rewrites every descendant's id and
// path to the new prefix. Ids are path-derived so subscribers must
// re-resolve after this.
func FileMoved(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc, mountId vault.MountId, oldPath, newPath vault.RemotePath, newFile remote.FilesFile) {
	notify(store.EventRemoteFiles)

	oldParentPath, ok := vault.RemotePathParent(oldPath)
	if !ok {
		return
	}
	newParentPath, ok := vault.RemotePathParent(newPath)
	if !ok {
		return
	}

	oldFileId := vault.NewRemoteFileId(mountId, oldPath)
	newFileId := vault.NewRemoteFileId(mountId, newPath)

	if _, ok := state.RemoteFiles.Files[oldFileId]; ok {
		delete(state.RemoteFiles.Files, oldFileId)
		moveFileTree(state, oldFileId, newFileId, newPath)
	}

	state.RemoteFiles.Files[newFileId] = FilesFileToRemoteFile(mountId, newPath, newFile)

	removeChild(state, vault.NewRemoteFileId(mountId, oldParentPath), oldFileId)
	addChild(state, vault.NewRemoteFileId(mountId, newParentPath), newFileId)

	mutationState.RemoteFiles.MovedFiles = append(mutationState.RemoteFiles.MovedFiles,
		store.RemoteFileMovedEntry{MountId: mountId, OldPath: oldPath, NewPath: newPath})

	mutationNotify(store.MutationEventRemoteFiles, state, mutationState)
}

// moveFileTree rewrites the children of a moved directory to the new
// prefix, recursively. The children list is rebuilt under the new id
// with the rewritten child ids.
func moveFileTree(state *store.State, oldFileId, newFileId vault.RemoteFileId, newPath vault.RemotePath) {
	if state.RemoteFiles.LoadedRoots[oldFileId] {
		delete(state.RemoteFiles.LoadedRoots, oldFileId)
		state.RemoteFiles.LoadedRoots[newFileId] = true
	}

	oldChildrenIds, ok := state.RemoteFiles.Children[oldFileId]
	if !ok {
		return
	}
	delete(state.RemoteFiles.Children, oldFileId)

	newChildrenIds := make([]vault.RemoteFileId, 0, len(oldChildrenIds))

	for _, oldChildId := range oldChildrenIds {
		child, ok := state.RemoteFiles.Files[oldChildId]
		if !ok {
			continue
		}
		delete(state.RemoteFiles.Files, oldChildId)

		newChildPath := vault.RemotePathJoinName(newPath, child.Name)
		newChildId := vault.NewRemoteFileId(child.MountId, newChildPath)

		moveFileTree(state, oldChildId, newChildId, newChildPath)

		child.Id = newChildId
		child.Path = newChildPath
		child.UniqueId = UniqueId(child.MountId, newChildPath.Lower(), child.Size, child.Modified, child.Hash)

		state.RemoteFiles.Files[newChildId] = child
		newChildrenIds = append(newChildrenIds, newChildId)
	}

	state.RemoteFiles.Children[newFileId] = newChildrenIds
}
