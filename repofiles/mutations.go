package repofiles

import (
	"strings"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/cipher"
	"github.com/rclone/vault/filetypes"
	"github.com/rclone/vault/store"
)

// getRootFile materializes the root repo file over the repo's remote
// directory.
func getRootFile(repoId vault.RepoId, remoteFile *store.RemoteFile) *store.RepoFile {
	return &store.RepoFile{
		Id:            GetFileId(repoId, "/"),
		RepoId:        repoId,
		MountId:       remoteFile.MountId,
		RemotePath:    remoteFile.Path,
		EncryptedPath: "/",
		Name:          store.RepoFileName{},
		Path:          store.RepoFilePath{Decrypted: "/"},
		Category:      filetypes.CategoryFolder,
		Type:          store.FileTypeDir,
		UniqueName:    GetFileUniqueName(remoteFile.UniqueId, ""),
	}
}

// decryptFile decrypts one remote file into a repo file under the
// given parent. A failing name never aborts the caller's listing -
// the error is carried on the file.
func decryptFile(repoId vault.RepoId, encryptedParentPath vault.EncryptedPath, parentPath store.RepoFilePath, remoteFile *store.RemoteFile, c *cipher.Cipher) *store.RepoFile {
	encryptedName := vault.EncryptedName(remoteFile.Name)
	encryptedPath := vault.EncryptedPathJoinName(encryptedParentPath, encryptedName)

	var name store.RepoFileName
	decryptedName, err := c.DecryptFilename(string(remoteFile.Name))
	switch {
	case err != nil:
		name = store.RepoFileName{Encrypted: encryptedName, Error: err}
	case !vault.ValidName(decryptedName):
		name = store.RepoFileName{Encrypted: encryptedName, Error: &InvalidNameError{Name: decryptedName}}
	default:
		decrypted := vault.DecryptedName(decryptedName)
		name = store.RepoFileName{
			Decrypted:      decrypted,
			DecryptedLower: decrypted.Lower(),
			Encrypted:      encryptedName,
		}
	}

	id := GetFileId(repoId, encryptedPath)
	if name.Error != nil {
		id = GetErrorFileId(repoId, encryptedPath)
	}

	var path store.RepoFilePath
	switch {
	case parentPath.Error != nil:
		path = store.RepoFilePath{Encrypted: encryptedPath, Error: parentPath.Error}
	case name.Error != nil:
		path = store.RepoFilePath{Encrypted: encryptedPath, Error: name.Error}
	default:
		path = store.RepoFilePath{
			Decrypted: vault.DecryptedPathJoinName(parentPath.Decrypted, name.Decrypted),
			Encrypted: encryptedPath,
		}
	}

	var size store.RepoFileSize
	if remoteFile.Type == store.FileTypeFile && remoteFile.Size != nil {
		decryptedSize, err := c.DecryptedSize(*remoteFile.Size)
		size = store.RepoFileSize{Size: decryptedSize, EncryptedSize: *remoteFile.Size, Error: err}
	}

	var ext, contentType string
	category := filetypes.CategoryFolder
	if remoteFile.Type == store.FileTypeFile {
		if name.Error == nil {
			ext, contentType, category = GetFileExtContentTypeCategory(string(name.DecryptedLower))
		} else {
			category = filetypes.CategoryGeneric
		}
	}

	var tags store.RepoFileTags
	if remoteFile.Type == store.FileTypeFile && len(remoteFile.Tags) > 0 {
		tags = decryptRemoteTags(c, remoteFile.Tags, remoteFile.Hash)
	}

	return &store.RepoFile{
		Id:            id,
		RepoId:        repoId,
		MountId:       remoteFile.MountId,
		RemotePath:    remoteFile.Path,
		EncryptedPath: encryptedPath,
		Name:          name,
		Path:          path,
		Ext:           ext,
		ContentType:   contentType,
		Category:      category,
		Type:          remoteFile.Type,
		Size:          size,
		Modified:      remoteFile.Modified,
		UniqueName:    GetFileUniqueName(remoteFile.UniqueId, ext),
		RemoteHash:    remoteFile.Hash,
		Tags:          tags,
	}
}

// DecryptFiles runs the decryption pipeline for one directory of one
// repo: materialize the root, decrypt every loaded child, sort
// dir-first by decrypted lowercase name and mirror the loaded flag.
func DecryptFiles(state *store.State, mountId vault.MountId, remotePath vault.RemotePath, repoId vault.RepoId, encryptedPath vault.EncryptedPath, c *cipher.Cipher) {
	rootRemoteFileId := vault.NewRemoteFileId(mountId, remotePath)

	rootRemoteFile, ok := state.RemoteFiles.Files[rootRemoteFileId]
	if !ok {
		delete(state.RepoFiles.Files, GetFileId(repoId, encryptedPath))
		delete(state.RepoFiles.Files, GetErrorFileId(repoId, encryptedPath))
		return
	}

	var rootRepoFile *store.RepoFile
	if encryptedPath == "/" {
		rootRepoFile = getRootFile(repoId, rootRemoteFile)
	} else {
		encryptedParentPath, _ := vault.EncryptedPathParent(encryptedPath)
		parentPath := decryptPath(c, encryptedParentPath)
		rootRepoFile = decryptFile(repoId, encryptedParentPath, parentPath, rootRemoteFile, c)
	}
	rootRepoFileId := rootRepoFile.Id
	state.RepoFiles.Files[rootRepoFileId] = rootRepoFile

	if remoteChildrenIds, ok := state.RemoteFiles.Children[rootRemoteFileId]; ok {
		path := decryptPath(c, encryptedPath)

		children := make([]vault.RepoFileId, 0, len(remoteChildrenIds))
		childrenSet := make(map[vault.RepoFileId]bool, len(remoteChildrenIds))

		for _, remoteChildId := range remoteChildrenIds {
			remoteChild, ok := state.RemoteFiles.Files[remoteChildId]
			if !ok {
				continue
			}
			repoChild := decryptFile(repoId, encryptedPath, path, remoteChild, c)
			children = append(children, repoChild.Id)
			childrenSet[repoChild.Id] = true
			state.RepoFiles.Files[repoChild.Id] = repoChild
		}

		// drop files that disappeared from the listing
		for _, oldChildId := range state.RepoFiles.Children[rootRepoFileId] {
			if !childrenSet[oldChildId] {
				CleanupFile(state, oldChildId)
			}
		}

		state.RepoFiles.Children[rootRepoFileId] = children
		sortChildren(state, rootRepoFileId)
	}

	if state.RemoteFiles.LoadedRoots[rootRemoteFileId] {
		state.RepoFiles.LoadedRoots[rootRepoFileId] = true
	}
}

// decryptPath decrypts an in-repo path into a RepoFilePath
func decryptPath(c *cipher.Cipher, encryptedPath vault.EncryptedPath) store.RepoFilePath {
	decrypted, err := c.DecryptPath(string(encryptedPath))
	if err != nil {
		return store.RepoFilePath{Encrypted: encryptedPath, Error: err}
	}
	return store.RepoFilePath{Decrypted: vault.DecryptedPath(decrypted), Encrypted: encryptedPath}
}

// CleanupFile removes a repo file and its whole subtree
func CleanupFile(state *store.State, fileId vault.RepoFileId) {
	delete(state.RepoFiles.Files, fileId)
	delete(state.RepoFiles.Children, fileId)
	delete(state.RepoFiles.LoadedRoots, fileId)

	prefix := string(fileId)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	for id := range state.RepoFiles.Files {
		if strings.HasPrefix(string(id), prefix) {
			delete(state.RepoFiles.Files, id)
		}
	}
	for id := range state.RepoFiles.Children {
		if strings.HasPrefix(string(id), prefix) {
			delete(state.RepoFiles.Children, id)
		}
	}
	for id := range state.RepoFiles.LoadedRoots {
		if strings.HasPrefix(string(id), prefix) {
			delete(state.RepoFiles.LoadedRoots, id)
		}
	}
}

// decryptTarget is one (remote dir, repo dir) pair to re-run the
// pipeline for.
type decryptTarget struct {
	mountId       vault.MountId
	remotePath    vault.RemotePath
	repoId        vault.RepoId
	encryptedPath vault.EncryptedPath
}

// remoteFilesToRepoFiles maps remote paths through the repo trees to
// every repo whose prefix covers them.
func remoteFilesToRepoFiles(state *store.State, entries []store.RemoteFileEntry) []decryptTarget {
	var targets []decryptTarget
	for _, entry := range entries {
		tree, ok := state.Repos.MountRepoTrees[entry.MountId]
		if !ok {
			continue
		}
		for _, pair := range tree.Get(entry.Path) {
			targets = append(targets, decryptTarget{
				mountId:       entry.MountId,
				remotePath:    entry.Path,
				repoId:        pair.RepoId,
				encryptedPath: pair.Path,
			})
		}
	}
	return targets
}

// repoCipher returns the cipher of a repo if it is unlocked
func repoCipher(state *store.State, repoId vault.RepoId) *cipher.Cipher {
	repo, ok := state.Repos.Repos[repoId]
	if !ok || repo.State != store.RepoUnlocked {
		return nil
	}
	return repo.Cipher
}

// parentEntries maps entries to their parent directories
func parentEntries(entries []store.RemoteFileEntry) []store.RemoteFileEntry {
	var parents []store.RemoteFileEntry
	for _, entry := range entries {
		if parentPath, ok := vault.RemotePathParent(entry.Path); ok {
			parents = append(parents, store.RemoteFileEntry{MountId: entry.MountId, Path: parentPath})
		}
	}
	return parents
}

// HandleRemoteFilesMutation rebuilds the projection around every
// remote file the mutate touched and translates removed and moved
// remote files to repo file deltas.
func HandleRemoteFilesMutation(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
	remoteFiles := &mutationState.RemoteFiles

	var entries []store.RemoteFileEntry
	entries = append(entries, remoteFiles.LoadedRoots...)
	entries = append(entries, remoteFiles.CreatedFiles...)
	entries = append(entries, parentEntries(remoteFiles.CreatedFiles)...)
	entries = append(entries, remoteFiles.RemovedFiles...)
	entries = append(entries, parentEntries(remoteFiles.RemovedFiles)...)
	for _, moved := range remoteFiles.MovedFiles {
		entries = append(entries, store.RemoteFileEntry{MountId: moved.MountId, Path: moved.OldPath})
		entries = append(entries, store.RemoteFileEntry{MountId: moved.MountId, Path: moved.NewPath})
	}
	entries = append(entries, parentEntries(movedEntries(remoteFiles.MovedFiles, false))...)
	entries = append(entries, parentEntries(movedEntries(remoteFiles.MovedFiles, true))...)

	seen := make(map[decryptTarget]bool)
	repoFilesDirty := false

	for _, target := range remoteFilesToRepoFiles(state, entries) {
		if seen[target] {
			continue
		}
		seen[target] = true
		if c := repoCipher(state, target.repoId); c != nil {
			DecryptFiles(state, target.mountId, target.remotePath, target.repoId, target.encryptedPath, c)
			repoFilesDirty = true
		}
	}

	if repoFilesDirty {
		notify(store.EventRepoFiles)
	}

	for _, target := range remoteFilesToRepoFiles(state, remoteFiles.RemovedFiles) {
		mutationState.RepoFiles.RemovedFiles = append(mutationState.RepoFiles.RemovedFiles,
			store.RepoFileEntry{RepoId: target.repoId, Path: target.encryptedPath})
		repoFilesDirty = true
	}

	for _, moved := range remoteFiles.MovedFiles {
		tree, ok := state.Repos.MountRepoTrees[moved.MountId]
		if !ok {
			continue
		}
		fromPairs := tree.Get(moved.OldPath)
		toPairs := tree.Get(moved.NewPath)
		// a move only stays a move when source and destination fall
		// inside the same repo - anything else is a removal plus a
		// creation
		for _, from := range fromPairs {
			for _, to := range toPairs {
				if from.RepoId == to.RepoId {
					mutationState.RepoFiles.MovedFiles = append(mutationState.RepoFiles.MovedFiles,
						store.RepoFileMovedEntry{RepoId: from.RepoId, OldPath: from.Path, NewPath: to.Path})
					repoFilesDirty = true
				}
			}
		}
	}

	if repoFilesDirty {
		mutationNotify(store.MutationEventRepoFiles, state, mutationState)
	}
}

// movedEntries projects moved file entries to their old or new paths
func movedEntries(moved []store.RemoteFileMovedEntry, newPath bool) []store.RemoteFileEntry {
	entries := make([]store.RemoteFileEntry, 0, len(moved))
	for _, m := range moved {
		path := m.OldPath
		if newPath {
			path = m.NewPath
		}
		entries = append(entries, store.RemoteFileEntry{MountId: m.MountId, Path: path})
	}
	return entries
}

// HandleReposMutation purges the projection of locked and removed
// repos and populates it for freshly unlocked ones.
func HandleReposMutation(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
	repoFilesDirty := false

	purge := append(append([]vault.RepoId{}, mutationState.Repos.LockedRepos...), mutationState.Repos.RemovedRepos...)
	for _, repoId := range purge {
		prefixes := []string{
			string(repoId) + ":",
			"err:" + string(repoId) + ":",
		}
		for id := range state.RepoFiles.Files {
			if hasAnyPrefix(string(id), prefixes) {
				delete(state.RepoFiles.Files, id)
			}
		}
		for id := range state.RepoFiles.Children {
			if hasAnyPrefix(string(id), prefixes) {
				delete(state.RepoFiles.Children, id)
			}
		}
		for id := range state.RepoFiles.LoadedRoots {
			if hasAnyPrefix(string(id), prefixes) {
				delete(state.RepoFiles.LoadedRoots, id)
			}
		}
		repoFilesDirty = true
	}

	var targets []decryptTarget

	for _, repoId := range mutationState.Repos.UnlockedRepos {
		repo, ok := state.Repos.Repos[repoId]
		if !ok {
			continue
		}
		targets = append(targets, decryptTarget{
			mountId:       repo.MountId,
			remotePath:    repo.Path,
			repoId:        repoId,
			encryptedPath: "/",
		})
		collectDirTargets(state, &targets, repo, vault.NewRemoteFileId(repo.MountId, repo.Path))
	}

	for _, target := range targets {
		if c := repoCipher(state, target.repoId); c != nil {
			DecryptFiles(state, target.mountId, target.remotePath, target.repoId, target.encryptedPath, c)
			repoFilesDirty = true
		}
	}

	if repoFilesDirty {
		notify(store.EventRepoFiles)
		mutationNotify(store.MutationEventRepoFiles, state, mutationState)
	}
}

// collectDirTargets walks the loaded remote tree under a repo adding
// every directory as a decrypt target.
func collectDirTargets(state *store.State, targets *[]decryptTarget, repo *store.Repo, parentId vault.RemoteFileId) {
	for _, childId := range state.RemoteFiles.Children[parentId] {
		child, ok := state.RemoteFiles.Files[childId]
		if !ok || child.Type != store.FileTypeDir {
			continue
		}
		relativePath, ok := vault.RemotePathRelativeTo(child.Path, repo.Path)
		if !ok {
			continue
		}
		*targets = append(*targets, decryptTarget{
			mountId:       child.MountId,
			remotePath:    child.Path,
			repoId:        repo.Id,
			encryptedPath: vault.EncryptedPath(relativePath),
		})
		collectDirTargets(state, targets, repo, childId)
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
