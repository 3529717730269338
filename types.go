package vault

import "strings"

// MountId identifies a server-visible storage root.
type MountId string

// RepoId identifies a vault repo.
type RepoId string

// RemotePath is a server-visible absolute path. Its segments are
// encrypted names when the path is inside a repo.
type RemotePath string

// RemotePathLower is a lowercased RemotePath used for case-insensitive
// comparison. Produce it with Lower(), never by hand.
type RemotePathLower string

// EncryptedPath is a path of encrypted segments relative to a repo root.
type EncryptedPath string

// DecryptedPath is a plaintext path relative to a repo root.
type DecryptedPath string

// DecryptedPathLower is a lowercased DecryptedPath.
type DecryptedPathLower string

// RemoteName is a single server-visible name segment.
type RemoteName string

// RemoteNameLower is a lowercased RemoteName.
type RemoteNameLower string

// EncryptedName is a single encrypted name segment.
type EncryptedName string

// DecryptedName is a single plaintext name segment.
type DecryptedName string

// DecryptedNameLower is a lowercased DecryptedName.
type DecryptedNameLower string

// RemoteFileId keys the remote files map: mount id + ":" + lower path.
type RemoteFileId string

// RepoFileId keys the repo files map: repo id + ":" + encrypted path.
type RepoFileId string

// Lower lowercases a RemotePath into its comparison form.
func (p RemotePath) Lower() RemotePathLower {
	return RemotePathLower(strings.ToLower(string(p)))
}

// Lower lowercases a RemoteName into its comparison form.
func (n RemoteName) Lower() RemoteNameLower {
	return RemoteNameLower(strings.ToLower(string(n)))
}

// Lower lowercases a DecryptedPath into its comparison form.
func (p DecryptedPath) Lower() DecryptedPathLower {
	return DecryptedPathLower(strings.ToLower(string(p)))
}

// Lower lowercases a DecryptedName into its comparison form.
func (n DecryptedName) Lower() DecryptedNameLower {
	return DecryptedNameLower(strings.ToLower(string(n)))
}

// NewRemoteFileId builds the canonical remote file id for a mount and
// path. The path is lowercased as ids are case-insensitive.
func NewRemoteFileId(mountId MountId, path RemotePath) RemoteFileId {
	return RemoteFileId(string(mountId) + ":" + string(path.Lower()))
}

// NewRepoFileId builds the canonical repo file id for a repo and an
// encrypted path. Encrypted paths are case-sensitive.
func NewRepoFileId(repoId RepoId, path EncryptedPath) RepoFileId {
	return RepoFileId(string(repoId) + ":" + string(path))
}
