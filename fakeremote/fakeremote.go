// Package fakeremote is an in-memory implementation of the subset of
// the remote API the client consumes. It exists for tests only - it
// is not a server product.
package fakeremote

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// node is one file or directory of the fake tree
type node struct {
	name     string
	isDir    bool
	content  []byte
	modified int64
	tags     map[string][]string
	children map[string]*node // keyed by lowercase name
}

func newDir(name string) *node {
	return &node{
		name:     name,
		isDir:    true,
		modified: time.Now().UnixMilli(),
		children: make(map[string]*node),
	}
}

// vaultRepo is one stored repo record
type vaultRepo struct {
	Id                         string  `json:"id"`
	Name                       string  `json:"name"`
	MountId                    string  `json:"mountId"`
	Path                       string  `json:"path"`
	Salt                       *string `json:"salt,omitempty"`
	PasswordValidator          string  `json:"passwordValidator"`
	PasswordValidatorEncrypted string  `json:"passwordValidatorEncrypted"`
	Added                      int64   `json:"added"`
}

// FakeRemote is the in-memory server
type FakeRemote struct {
	Server *httptest.Server

	mu         sync.Mutex
	roots      map[string]*node // by mount id
	repos      map[string]*vaultRepo
	nextRepoId int
}

// New creates a FakeRemote with a primary mount "m1"
func New() *FakeRemote {
	f := &FakeRemote{
		roots: map[string]*node{"m1": newDir("")},
		repos: make(map[string]*vaultRepo),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// Close shuts the server down
func (f *FakeRemote) Close() {
	f.Server.Close()
}

// URL returns the base url of the fake server
func (f *FakeRemote) URL() string {
	return f.Server.URL
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// lookup walks the tree to a path. Case-insensitive.
func (f *FakeRemote) lookup(mountId, filePath string) (*node, bool) {
	root, ok := f.roots[mountId]
	if !ok {
		return nil, false
	}
	if filePath == "/" {
		return root, true
	}
	current := root
	for _, segment := range strings.Split(strings.Trim(filePath, "/"), "/") {
		child, ok := current.children[strings.ToLower(segment)]
		if !ok {
			return nil, false
		}
		current = child
	}
	return current, true
}

func (f *FakeRemote) fileModel(n *node) map[string]interface{} {
	model := map[string]interface{}{
		"name":        n.name,
		"type":        "dir",
		"modified":    n.modified,
		"size":        int64(0),
		"contentType": "",
	}
	if !n.isDir {
		sum := md5.Sum(n.content)
		model["type"] = "file"
		model["size"] = int64(len(n.content))
		model["contentType"] = "application/octet-stream"
		model["hash"] = hex.EncodeToString(sum[:])
	}
	if len(n.tags) > 0 {
		model["tags"] = n.tags
	}
	return model
}

func (f *FakeRemote) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "missing authorization")
		return
	}

	p := r.URL.Path
	switch {
	case p == "/api/v2.1/user":
		writeJSON(w, http.StatusOK, map[string]string{
			"id": "u1", "firstName": "Test", "lastName": "User", "email": "test@example.com",
		})
	case p == "/api/v2.1/places":
		f.handlePlaces(w)
	case strings.HasPrefix(p, "/api/v2.1/mounts/") && !strings.Contains(strings.TrimPrefix(p, "/api/v2.1/mounts/"), "/"):
		f.handleMount(w, strings.TrimPrefix(p, "/api/v2.1/mounts/"))
	case p == "/api/v2.1/vault/repos" && r.Method == http.MethodGet:
		f.handleReposList(w)
	case p == "/api/v2.1/vault/repos" && r.Method == http.MethodPost:
		f.handleReposCreate(w, r)
	case strings.HasPrefix(p, "/api/v2.1/vault/repos/") && r.Method == http.MethodDelete:
		f.handleReposRemove(w, strings.TrimPrefix(p, "/api/v2.1/vault/repos/"))
	default:
		f.handleFiles(w, r)
	}
}

func (f *FakeRemote) handlePlaces(w http.ResponseWriter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var mounts []map[string]interface{}
	for id := range f.roots {
		mounts = append(mounts, mountModel(id))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"places": mounts})
}

func mountModel(id string) map[string]interface{} {
	return map[string]interface{}{
		"id": id, "name": "Test Mount", "type": "device", "origin": "hosted",
		"online": true, "isPrimary": id == "m1",
	}
}

func (f *FakeRemote) handleMount(w http.ResponseWriter, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "primary" {
		id = "m1"
	}
	if _, ok := f.roots[id]; !ok {
		writeError(w, http.StatusNotFound, "NotFound", "mount not found")
		return
	}
	writeJSON(w, http.StatusOK, mountModel(id))
}

func (f *FakeRemote) handleReposList(w http.ResponseWriter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	repos := make([]*vaultRepo, 0, len(f.repos))
	for _, repo := range f.repos {
		repos = append(repos, repo)
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Id < repos[j].Id })
	mounts := make(map[string]interface{})
	for id := range f.roots {
		mounts[id] = mountModel(id)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"repos": repos, "mounts": mounts})
}

func (f *FakeRemote) handleReposCreate(w http.ResponseWriter, r *http.Request) {
	var create vaultRepo
	if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidPath", "invalid body")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, repo := range f.repos {
		if repo.MountId == create.MountId && strings.EqualFold(repo.Path, create.Path) {
			writeError(w, http.StatusConflict, "VaultReposAlreadyExists", "repo already exists")
			return
		}
	}
	f.nextRepoId++
	repo := &vaultRepo{
		Id:                         fmt.Sprintf("r%d", f.nextRepoId),
		Name:                       path.Base(create.Path),
		MountId:                    create.MountId,
		Path:                       create.Path,
		Salt:                       create.Salt,
		PasswordValidator:          create.PasswordValidator,
		PasswordValidatorEncrypted: create.PasswordValidatorEncrypted,
		Added:                      time.Now().UnixMilli(),
	}
	f.repos[repo.Id] = repo
	writeJSON(w, http.StatusCreated, repo)
}

func (f *FakeRemote) handleReposRemove(w http.ResponseWriter, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.repos[id]; !ok {
		writeError(w, http.StatusNotFound, "NotFound", "repo not found")
		return
	}
	delete(f.repos, id)
	w.WriteHeader(http.StatusNoContent)
}

// mountIdFromPath extracts the mount id of a files endpoint path
func mountIdFromPath(p, prefix, suffix string) (string, bool) {
	rest := strings.TrimPrefix(p, prefix)
	if rest == p {
		return "", false
	}
	mountId := strings.TrimSuffix(rest, suffix)
	if mountId == rest || strings.Contains(mountId, "/") {
		return "", false
	}
	return mountId, true
}

func (f *FakeRemote) handleFiles(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	filePath := r.URL.Query().Get("path")
	if filePath == "" {
		filePath = "/"
	}

	if mountId, ok := mountIdFromPath(p, "/api/v2.1/mounts/", "/bundle"); ok {
		f.handleBundle(w, mountId, filePath)
		return
	}
	if mountId, ok := mountIdFromPath(p, "/api/v2.1/mounts/", "/files/info"); ok {
		f.handleInfo(w, mountId, filePath)
		return
	}
	if mountId, ok := mountIdFromPath(p, "/content/api/v2.1/mounts/", "/files/get"); ok {
		f.handleGet(w, r, mountId, filePath)
		return
	}
	if mountId, ok := mountIdFromPath(p, "/content/api/v2.1/mounts/", "/files/put"); ok {
		f.handlePut(w, r, mountId)
		return
	}
	if mountId, ok := mountIdFromPath(p, "/content/api/v2.1/mounts/", "/files/listrecursive"); ok {
		f.handleListRecursive(w, mountId, filePath)
		return
	}
	if mountId, ok := mountIdFromPath(p, "/api/v2.1/mounts/", "/files/remove"); ok {
		f.handleRemove(w, mountId, filePath)
		return
	}
	if mountId, ok := mountIdFromPath(p, "/api/v2.1/mounts/", "/files/folder"); ok {
		f.handleFolder(w, r, mountId, filePath)
		return
	}
	if mountId, ok := mountIdFromPath(p, "/api/v2.1/mounts/", "/files/rename"); ok {
		f.handleRename(w, r, mountId, filePath)
		return
	}
	if mountId, ok := mountIdFromPath(p, "/api/v2.1/mounts/", "/files/copy"); ok {
		f.handleCopyMove(w, r, mountId, filePath, true)
		return
	}
	if mountId, ok := mountIdFromPath(p, "/api/v2.1/mounts/", "/files/move"); ok {
		f.handleCopyMove(w, r, mountId, filePath, false)
		return
	}
	if mountId, ok := mountIdFromPath(p, "/api/v2.1/mounts/", "/files/tags/set"); ok {
		f.handleTagsSet(w, r, mountId, filePath)
		return
	}

	writeError(w, http.StatusNotFound, "NotFound", "unknown endpoint")
}

func (f *FakeRemote) handleBundle(w http.ResponseWriter, mountId, filePath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.lookup(mountId, filePath)
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "file not found")
		return
	}
	bundle := map[string]interface{}{"file": f.fileModel(n)}
	if n.isDir {
		files := make([]map[string]interface{}, 0, len(n.children))
		names := make([]string, 0, len(n.children))
		for name := range n.children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			files = append(files, f.fileModel(n.children[name]))
		}
		bundle["files"] = files
	}
	writeJSON(w, http.StatusOK, bundle)
}

func (f *FakeRemote) handleInfo(w http.ResponseWriter, mountId, filePath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.lookup(mountId, filePath)
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "file not found")
		return
	}
	writeJSON(w, http.StatusOK, f.fileModel(n))
}

func (f *FakeRemote) handleGet(w http.ResponseWriter, r *http.Request, mountId, filePath string) {
	f.mu.Lock()
	n, ok := f.lookup(mountId, filePath)
	if !ok || n.isDir {
		f.mu.Unlock()
		writeError(w, http.StatusNotFound, "NotFound", "file not found")
		return
	}
	info, _ := json.Marshal(f.fileModel(n))
	content := n.content
	f.mu.Unlock()

	start, end := int64(0), int64(len(content))-1
	status := http.StatusOK
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		var hasEnd bool
		start, end, hasEnd = parseRange(rangeHeader)
		if !hasEnd || end >= int64(len(content)) {
			end = int64(len(content)) - 1
		}
		status = http.StatusPartialContent
	}
	if start > int64(len(content)) {
		start = int64(len(content))
	}
	var body []byte
	if end >= start {
		body = content[start : end+1]
	}

	w.Header().Set("X-File-Info", string(info))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func parseRange(header string) (start, end int64, hasEnd bool) {
	header = strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(header, "-", 2)
	start, _ = strconv.ParseInt(parts[0], 10, 64)
	if len(parts) > 1 && parts[1] != "" {
		end, _ = strconv.ParseInt(parts[1], 10, 64)
		return start, end, true
	}
	return start, 0, false
}

func (f *FakeRemote) handlePut(w http.ResponseWriter, r *http.Request, mountId string) {
	parentPath := r.URL.Query().Get("path")
	name := r.URL.Query().Get("filename")
	autorename := r.URL.Query().Get("autorename") == "true"
	overwrite := r.URL.Query().Get("overwrite") == "true"

	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidPath", "read failed")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.lookup(mountId, parentPath)
	if !ok || !parent.isDir {
		writeError(w, http.StatusNotFound, "NotFound", "parent not found")
		return
	}
	finalName := name
	if _, exists := parent.children[strings.ToLower(finalName)]; exists && !overwrite {
		if !autorename {
			writeError(w, http.StatusConflict, "AlreadyExists", "file exists")
			return
		}
		base, ext := finalName, ""
		if idx := strings.LastIndexByte(finalName, '.'); idx > 0 {
			base, ext = finalName[:idx], finalName[idx:]
		}
		for i := 1; ; i++ {
			finalName = fmt.Sprintf("%s (%d)%s", base, i, ext)
			if _, exists := parent.children[strings.ToLower(finalName)]; !exists {
				break
			}
		}
	}
	child := &node{
		name:     finalName,
		content:  content,
		modified: time.Now().UnixMilli(),
	}
	parent.children[strings.ToLower(finalName)] = child
	writeJSON(w, http.StatusOK, f.fileModel(child))
}

func (f *FakeRemote) handleListRecursive(w http.ResponseWriter, mountId, filePath string) {
	f.mu.Lock()
	root, ok := f.lookup(mountId, filePath)
	if !ok {
		f.mu.Unlock()
		writeError(w, http.StatusNotFound, "NotFound", "file not found")
		return
	}
	type item struct {
		path  string
		model map[string]interface{}
	}
	var items []item
	var walk func(n *node, p string)
	walk = func(n *node, p string) {
		items = append(items, item{path: p, model: f.fileModel(n)})
		names := make([]string, 0, len(n.children))
		for name := range n.children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			child := n.children[name]
			childPath := p + "/" + child.name
			if p == "/" {
				childPath = "/" + child.name
			}
			walk(child, childPath)
		}
	}
	walk(root, "/")
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	encoder := json.NewEncoder(w)
	for _, it := range items {
		_ = encoder.Encode(map[string]interface{}{"type": "file", "path": it.path, "file": it.model})
	}
}

func (f *FakeRemote) handleRemove(w http.ResponseWriter, mountId, filePath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if filePath == "/" {
		writeError(w, http.StatusBadRequest, "InvalidPath", "cannot remove root")
		return
	}
	parent, ok := f.lookup(mountId, path.Dir(filePath))
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "file not found")
		return
	}
	key := strings.ToLower(path.Base(filePath))
	if _, ok := parent.children[key]; !ok {
		writeError(w, http.StatusNotFound, "NotFound", "file not found")
		return
	}
	delete(parent.children, key)
	w.WriteHeader(http.StatusOK)
}

func (f *FakeRemote) handleFolder(w http.ResponseWriter, r *http.Request, mountId, parentPath string) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "InvalidPath", "invalid name")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.lookup(mountId, parentPath)
	if !ok || !parent.isDir {
		writeError(w, http.StatusNotFound, "NotFound", "parent not found")
		return
	}
	key := strings.ToLower(body.Name)
	if _, exists := parent.children[key]; exists {
		writeError(w, http.StatusConflict, "AlreadyExists", "folder exists")
		return
	}
	parent.children[key] = newDir(body.Name)
	w.WriteHeader(http.StatusOK)
}

func (f *FakeRemote) handleRename(w http.ResponseWriter, r *http.Request, mountId, filePath string) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "InvalidPath", "invalid name")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.lookup(mountId, path.Dir(filePath))
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "file not found")
		return
	}
	key := strings.ToLower(path.Base(filePath))
	n, ok := parent.children[key]
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "file not found")
		return
	}
	newKey := strings.ToLower(body.Name)
	if newKey != key {
		if _, exists := parent.children[newKey]; exists {
			writeError(w, http.StatusConflict, "AlreadyExists", "name taken")
			return
		}
		delete(parent.children, key)
		parent.children[newKey] = n
	}
	n.name = body.Name
	w.WriteHeader(http.StatusOK)
}

func (f *FakeRemote) handleCopyMove(w http.ResponseWriter, r *http.Request, mountId, filePath string, isCopy bool) {
	var body struct {
		ToMountId string `json:"toMountId"`
		ToPath    string `json:"toPath"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidPath", "invalid body")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	srcParent, ok := f.lookup(mountId, path.Dir(filePath))
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "source not found")
		return
	}
	srcKey := strings.ToLower(path.Base(filePath))
	src, ok := srcParent.children[srcKey]
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "source not found")
		return
	}
	dstParent, ok := f.lookup(body.ToMountId, path.Dir(body.ToPath))
	if !ok || !dstParent.isDir {
		writeError(w, http.StatusNotFound, "NotFound", "destination not found")
		return
	}
	dstName := path.Base(body.ToPath)
	dstKey := strings.ToLower(dstName)
	if _, exists := dstParent.children[dstKey]; exists {
		writeError(w, http.StatusConflict, "AlreadyExists", "destination exists")
		return
	}
	moved := src
	if isCopy {
		moved = copyNode(src)
	} else {
		delete(srcParent.children, srcKey)
	}
	moved.name = dstName
	dstParent.children[dstKey] = moved
	w.WriteHeader(http.StatusOK)
}

func copyNode(n *node) *node {
	clone := &node{
		name:     n.name,
		isDir:    n.isDir,
		content:  append([]byte(nil), n.content...),
		modified: n.modified,
	}
	if n.tags != nil {
		clone.tags = make(map[string][]string, len(n.tags))
		for key, values := range n.tags {
			clone.tags[key] = append([]string(nil), values...)
		}
	}
	if n.children != nil {
		clone.children = make(map[string]*node, len(n.children))
		for key, child := range n.children {
			clone.children[key] = copyNode(child)
		}
	}
	return clone
}

func (f *FakeRemote) handleTagsSet(w http.ResponseWriter, r *http.Request, mountId, filePath string) {
	var body struct {
		Tags       map[string][]string `json:"tags"`
		Conditions struct {
			IfHash *string `json:"ifHash,omitempty"`
		} `json:"conditions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidPath", "invalid body")
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.lookup(mountId, filePath)
	if !ok {
		writeError(w, http.StatusNotFound, "NotFound", "file not found")
		return
	}
	if body.Conditions.IfHash != nil {
		sum := md5.Sum(n.content)
		if hex.EncodeToString(sum[:]) != *body.Conditions.IfHash {
			writeError(w, http.StatusConflict, "Conflict", "hash mismatch")
			return
		}
	}
	n.tags = body.Tags
	w.WriteHeader(http.StatusOK)
}

// SetFile writes a file directly into the tree, as a foreign tool
// would, creating parent directories as needed.
func (f *FakeRemote) SetFile(mountId, filePath string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent := f.roots[mountId]
	segments := strings.Split(strings.Trim(path.Dir(filePath), "/"), "/")
	if path.Dir(filePath) != "/" {
		for _, segment := range segments {
			child, ok := parent.children[strings.ToLower(segment)]
			if !ok {
				child = newDir(segment)
				parent.children[strings.ToLower(segment)] = child
			}
			parent = child
		}
	}
	name := path.Base(filePath)
	parent.children[strings.ToLower(name)] = &node{
		name:     name,
		content:  content,
		modified: time.Now().UnixMilli(),
	}
}

// GetTags returns the stored tags of a file
func (f *FakeRemote) GetTags(mountId, filePath string) map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.lookup(mountId, filePath)
	if !ok {
		return nil
	}
	return n.tags
}

// SetTags writes the tags of a file directly, bypassing conditions
func (f *FakeRemote) SetTags(mountId, filePath string, tags map[string][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.lookup(mountId, filePath); ok {
		n.tags = tags
	}
}

// GetContent returns the raw stored bytes of a file
func (f *FakeRemote) GetContent(mountId, filePath string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.lookup(mountId, filePath)
	if !ok || n.isDir {
		return nil, false
	}
	return append([]byte(nil), n.content...), true
}
