package vault

import (
	"path"
	"strings"
)

// Path helpers shared by the remote and repo file models. All paths are
// absolute, start with "/", use "/" separators and never end with a
// trailing "/" except the root itself.

// normalizePath cleans a path into canonical form. Returns false if the
// path is not absolute or contains invalid segments.
func normalizePath(p string) (string, bool) {
	if p == "" || p[0] != '/' {
		return "", false
	}
	cleaned := path.Clean(p)
	for _, segment := range strings.Split(cleaned, "/")[1:] {
		if cleaned == "/" {
			break
		}
		if !ValidName(segment) {
			return "", false
		}
	}
	return cleaned, true
}

// ValidName reports whether name is usable as a single path segment.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\x00\n\r")
}

// NormalizeRemotePath canonicalizes a remote path.
func NormalizeRemotePath(p RemotePath) (RemotePath, bool) {
	normalized, ok := normalizePath(string(p))
	return RemotePath(normalized), ok
}

// NormalizeEncryptedPath canonicalizes an in-repo encrypted path.
func NormalizeEncryptedPath(p EncryptedPath) (EncryptedPath, bool) {
	normalized, ok := normalizePath(string(p))
	return EncryptedPath(normalized), ok
}

func parentPath(p string) (string, bool) {
	if p == "/" {
		return "", false
	}
	return path.Dir(p), true
}

func pathName(p string) (string, bool) {
	if p == "/" {
		return "", false
	}
	return path.Base(p), true
}

func joinPathName(p, name string) string {
	if p == "/" {
		return "/" + name
	}
	return p + "/" + name
}

func joinPaths(p, rel string) string {
	if rel == "/" {
		return p
	}
	if p == "/" {
		return rel
	}
	return p + rel
}

// RemotePathParent returns the parent of a remote path, or false for
// the root.
func RemotePathParent(p RemotePath) (RemotePath, bool) {
	parent, ok := parentPath(string(p))
	return RemotePath(parent), ok
}

// RemotePathName returns the last segment of a remote path, or false
// for the root.
func RemotePathName(p RemotePath) (RemoteName, bool) {
	name, ok := pathName(string(p))
	return RemoteName(name), ok
}

// RemotePathJoinName appends a name segment to a remote path.
func RemotePathJoinName(p RemotePath, name RemoteName) RemotePath {
	return RemotePath(joinPathName(string(p), string(name)))
}

// RemotePathJoin appends a relative absolute path to a remote path.
func RemotePathJoin(p RemotePath, rel RemotePath) RemotePath {
	return RemotePath(joinPaths(string(p), string(rel)))
}

// RemotePathRelativeTo computes the path of p relative to root, case
// insensitively. Returns false when p is not under root.
func RemotePathRelativeTo(p RemotePath, root RemotePath) (RemotePath, bool) {
	if root == "/" {
		return p, true
	}
	pLower := string(p.Lower())
	rootLower := string(root.Lower())
	if pLower == rootLower {
		return "/", true
	}
	if strings.HasPrefix(pLower, rootLower+"/") {
		return RemotePath(string(p)[len(rootLower):]), true
	}
	return "", false
}

// EncryptedPathParent returns the parent of an encrypted path, or false
// for the root.
func EncryptedPathParent(p EncryptedPath) (EncryptedPath, bool) {
	parent, ok := parentPath(string(p))
	return EncryptedPath(parent), ok
}

// EncryptedPathName returns the last segment of an encrypted path, or
// false for the root.
func EncryptedPathName(p EncryptedPath) (EncryptedName, bool) {
	name, ok := pathName(string(p))
	return EncryptedName(name), ok
}

// EncryptedPathJoinName appends an encrypted name segment.
func EncryptedPathJoinName(p EncryptedPath, name EncryptedName) EncryptedPath {
	return EncryptedPath(joinPathName(string(p), string(name)))
}

// EncryptedPathJoin appends a relative absolute encrypted path.
func EncryptedPathJoin(p EncryptedPath, rel EncryptedPath) EncryptedPath {
	return EncryptedPath(joinPaths(string(p), string(rel)))
}

// DecryptedPathParent returns the parent of a decrypted path, or false
// for the root.
func DecryptedPathParent(p DecryptedPath) (DecryptedPath, bool) {
	parent, ok := parentPath(string(p))
	return DecryptedPath(parent), ok
}

// DecryptedPathName returns the last segment of a decrypted path, or
// false for the root.
func DecryptedPathName(p DecryptedPath) (DecryptedName, bool) {
	name, ok := pathName(string(p))
	return DecryptedName(name), ok
}

// DecryptedPathJoinName appends a plaintext name segment.
func DecryptedPathJoinName(p DecryptedPath, name DecryptedName) DecryptedPath {
	return DecryptedPath(joinPathName(string(p), string(name)))
}

// PathSplit splits an absolute path into its segments. The root splits
// into no segments.
func PathSplit(p string) []string {
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}

// NameExt returns the lowercased extension of a name without the dot,
// or "" when the name has none.
func NameExt(name string) string {
	ext := path.Ext(name)
	if ext == "" || ext == "." {
		return ""
	}
	return strings.ToLower(ext[1:])
}
