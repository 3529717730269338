package repofiles

import (
	"fmt"
	"sort"
	"strings"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/filetypes"
	"github.com/rclone/vault/store"
)

// GetFileId builds the id of a repo file. Files whose name failed to
// decrypt get an "err:" prefixed id so they can never collide with a
// successfully decrypted sibling.
func GetFileId(repoId vault.RepoId, path vault.EncryptedPath) vault.RepoFileId {
	return vault.NewRepoFileId(repoId, path)
}

// GetErrorFileId builds the id of a repo file whose name failed to
// decrypt.
func GetErrorFileId(repoId vault.RepoId, path vault.EncryptedPath) vault.RepoFileId {
	return vault.RepoFileId("err:" + string(vault.NewRepoFileId(repoId, path)))
}

// GetFileUniqueName derives the stable content identity of a repo
// file used to detect prior local materializations.
func GetFileUniqueName(remoteFileUniqueId string, ext string) string {
	if ext != "" {
		return remoteFileUniqueId + "." + ext
	}
	return remoteFileUniqueId
}

// GetFileExtContentTypeCategory derives display metadata from a
// lowercase file name.
func GetFileExtContentTypeCategory(nameLower string) (ext string, contentType string, category filetypes.FileCategory) {
	ext = vault.NameExt(nameLower)
	if ext == "" {
		return "", "", filetypes.CategoryGeneric
	}
	return ext, filetypes.ExtContentType(ext), filetypes.ExtCategory(ext)
}

// SelectFile returns the repo file with the given id
func SelectFile(state *store.State, fileId vault.RepoFileId) *store.RepoFile {
	return state.RepoFiles.Files[fileId]
}

// SelectChildren returns the sorted direct children of a repo file
func SelectChildren(state *store.State, fileId vault.RepoFileId) []*store.RepoFile {
	childrenIds, ok := state.RepoFiles.Children[fileId]
	if !ok {
		return nil
	}
	children := make([]*store.RepoFile, 0, len(childrenIds))
	for _, childId := range childrenIds {
		if child, ok := state.RepoFiles.Files[childId]; ok {
			children = append(children, child)
		}
	}
	return children
}

// SelectIsLoaded reports whether the directory at (repoId, path) has
// been listed through the projection.
func SelectIsLoaded(state *store.State, repoId vault.RepoId, path vault.EncryptedPath) bool {
	return state.RepoFiles.LoadedRoots[GetFileId(repoId, path)]
}

// SelectUnusedName finds a free name under a parent directory by
// appending " (n)" to the base name before the extension until it
// does not collide with any child, case-insensitively.
func SelectUnusedName(state *store.State, repoId vault.RepoId, parentPath vault.EncryptedPath, name vault.DecryptedName) vault.DecryptedName {
	used := make(map[vault.DecryptedNameLower]bool)
	for _, child := range SelectChildren(state, GetFileId(repoId, parentPath)) {
		if child.Name.Error == nil {
			used[child.Name.DecryptedLower] = true
		}
	}
	if !used[name.Lower()] {
		return name
	}
	base := string(name)
	ext := ""
	if idx := strings.LastIndexByte(base, '.'); idx > 0 {
		base, ext = base[:idx], base[idx:]
	}
	for i := 1; ; i++ {
		candidate := vault.DecryptedName(fmt.Sprintf("%s (%d)%s", base, i, ext))
		if !used[candidate.Lower()] {
			return candidate
		}
	}
}

// fileSortNameLower is the sort name of a repo file. Files with a
// broken name sort by their encrypted lowercase name - the listing
// stays total over both arms.
func fileSortNameLower(file *store.RepoFile) string {
	if file.Name.Error == nil {
		return string(file.Name.DecryptedLower)
	}
	return string(vault.RemoteName(file.Name.Encrypted).Lower())
}

// sortKey orders children dir-first then by sort name
func sortKey(file *store.RepoFile) string {
	typeKey := "1"
	if file.Type == store.FileTypeDir {
		typeKey = "0"
	}
	return typeKey + fileSortNameLower(file)
}

// sortChildren re-sorts the children list of a repo file in place
func sortChildren(state *store.State, fileId vault.RepoFileId) {
	childrenIds, ok := state.RepoFiles.Children[fileId]
	if !ok {
		return
	}
	sort.SliceStable(childrenIds, func(i, j int) bool {
		a := state.RepoFiles.Files[childrenIds[i]]
		b := state.RepoFiles.Files[childrenIds[j]]
		if a == nil || b == nil {
			return a != nil
		}
		return sortKey(a) < sortKey(b)
	})
}
