package store

import (
	"strings"

	vault "github.com/rclone/vault"
)

// repoTreeNode is one node of a RepoTree. Children are kept in a
// slice as lookups over a handful of entries beat a map.
type repoTreeNode struct {
	repoId   vault.RepoId
	hasRepo  bool
	children []repoTreeChild
}

type repoTreeChild struct {
	key string
	idx int
}

// RepoTree is a trie for quickly resolving remote paths to the repos
// whose prefix covers them. A RepoTree contains the repos of a single
// mount. Lookups are case-insensitive.
type RepoTree struct {
	nodes []repoTreeNode
}

// NewRepoTree creates an empty RepoTree
func NewRepoTree() *RepoTree {
	return &RepoTree{
		nodes: []repoTreeNode{{}},
	}
}

// RepoTreePair is one (repo, in-repo path) result of a lookup
type RepoTreePair struct {
	RepoId vault.RepoId
	Path   vault.EncryptedPath
}

// pathKeyTail splits "/Foo/Bar" into ("foo", "/Bar") and "/Foo" into
// ("foo", "/").
func pathKeyTail(path string) (string, string) {
	if idx := strings.IndexByte(path[1:], '/'); idx >= 0 {
		return strings.ToLower(path[1 : idx+1]), path[idx+1:]
	}
	return strings.ToLower(path[1:]), "/"
}

// Get returns all (repo id, in-repo path) pairs covering path,
// outermost repo first.
func (t *RepoTree) Get(path vault.RemotePath) []RepoTreePair {
	currentPath := string(path)
	nodeIdx := 0

	var pairs []RepoTreePair

	for {
		node := &t.nodes[nodeIdx]
		if node.hasRepo {
			pairs = append(pairs, RepoTreePair{
				RepoId: node.repoId,
				Path:   vault.EncryptedPath(currentPath),
			})
		}

		if currentPath == "/" {
			break
		}

		key, tail := pathKeyTail(currentPath)

		childIdx, ok := t.findChild(nodeIdx, key)
		if !ok {
			break
		}
		nodeIdx = childIdx

		currentPath = tail
	}

	return pairs
}

// Set registers a repo at path
func (t *RepoTree) Set(path vault.RemotePath, repoId vault.RepoId) {
	currentPath := string(path)
	nodeIdx := 0

	for currentPath != "/" {
		key, tail := pathKeyTail(currentPath)

		nodeIdx = t.findOrAddChild(nodeIdx, key)

		currentPath = tail
	}

	t.nodes[nodeIdx].repoId = repoId
	t.nodes[nodeIdx].hasRepo = true
}

// Remove unregisters the repo at path and returns its id if there
// was one.
func (t *RepoTree) Remove(path vault.RemotePath) (vault.RepoId, bool) {
	currentPath := string(path)
	nodeIdx := 0

	for currentPath != "/" {
		key, tail := pathKeyTail(currentPath)

		childIdx, ok := t.findChild(nodeIdx, key)
		if !ok {
			return "", false
		}
		nodeIdx = childIdx

		currentPath = tail
	}

	node := &t.nodes[nodeIdx]
	if !node.hasRepo {
		return "", false
	}
	repoId := node.repoId
	node.repoId = ""
	node.hasRepo = false
	return repoId, true
}

func (t *RepoTree) findChild(nodeIdx int, key string) (int, bool) {
	for _, child := range t.nodes[nodeIdx].children {
		if child.key == key {
			return child.idx, true
		}
	}
	return 0, false
}

func (t *RepoTree) findOrAddChild(nodeIdx int, key string) int {
	if idx, ok := t.findChild(nodeIdx, key); ok {
		return idx
	}
	t.nodes = append(t.nodes, repoTreeNode{})
	newIdx := len(t.nodes) - 1
	t.nodes[nodeIdx].children = append(t.nodes[nodeIdx].children, repoTreeChild{key: key, idx: newIdx})
	return newIdx
}
