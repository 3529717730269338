package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	httpclient "github.com/koofr/go-httpclient"

	vault "github.com/rclone/vault"
)

// AuthProvider supplies the Authorization header value for remote
// requests. forceRefresh is set after the server rejected the previous
// value.
type AuthProvider interface {
	GetAuthorization(ctx context.Context, forceRefresh bool) (string, error)
}

// StaticAuthProvider is an AuthProvider for a fixed token, used by
// tests and the CLI with a pre-baked token.
type StaticAuthProvider struct {
	Authorization string
}

// GetAuthorization implements AuthProvider
func (p *StaticAuthProvider) GetAuthorization(ctx context.Context, forceRefresh bool) (string, error) {
	return p.Authorization, nil
}

// Remote is a typed client for the remote storage HTTP API
type Remote struct {
	httpClient *httpclient.HTTPClient
	auth       AuthProvider
}

// New creates a Remote for the API at baseURL using the http client
// passed in.
func New(baseURL string, client *http.Client, auth AuthProvider) (*Remote, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	hc := httpclient.New()
	hc.BaseURL = parsed
	if client != nil {
		hc.Client = client
	}
	return &Remote{
		httpClient: hc,
		auth:       auth,
	}, nil
}

// request performs an authenticated request, refreshing the token and
// retrying once on 401.
func (r *Remote) request(ctx context.Context, req *httpclient.RequestData) (*http.Response, error) {
	authorization, err := r.auth.GetAuthorization(ctx, false)
	if err != nil {
		return nil, &HttpError{IsRequestError: true, Message: err.Error(), cause: err}
	}
	if req.Headers == nil {
		req.Headers = make(http.Header)
	}
	req.Context = ctx
	req.Headers.Set("Authorization", authorization)
	res, err := r.httpClient.Request(req)
	if statusErr, ok := err.(httpclient.InvalidStatusError); ok && statusErr.Got == http.StatusUnauthorized {
		authorization, authErr := r.auth.GetAuthorization(ctx, true)
		if authErr != nil {
			return nil, &HttpError{IsRequestError: true, Message: authErr.Error(), cause: authErr}
		}
		req.Headers.Set("Authorization", authorization)
		res, err = r.httpClient.Request(req)
	}
	if err != nil {
		return nil, translateError(err)
	}
	return res, nil
}

// GetUser fetches the authenticated user
func (r *Remote) GetUser(ctx context.Context) (*User, error) {
	var user User
	_, err := r.request(ctx, &httpclient.RequestData{
		Method:         "GET",
		Path:           "/api/v2.1/user",
		ExpectedStatus: []int{http.StatusOK},
		RespEncoding:   httpclient.EncodingJSON,
		RespValue:      &user,
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetPlaces fetches all mounts visible to the user
func (r *Remote) GetPlaces(ctx context.Context) ([]Mount, error) {
	var places Places
	_, err := r.request(ctx, &httpclient.RequestData{
		Method:         "GET",
		Path:           "/api/v2.1/places",
		ExpectedStatus: []int{http.StatusOK},
		RespEncoding:   httpclient.EncodingJSON,
		RespValue:      &places,
	})
	if err != nil {
		return nil, err
	}
	return places.Places, nil
}

// GetMount fetches a single mount. The id may be the literal
// "primary".
func (r *Remote) GetMount(ctx context.Context, id string) (*Mount, error) {
	var mount Mount
	_, err := r.request(ctx, &httpclient.RequestData{
		Method:         "GET",
		Path:           "/api/v2.1/mounts/" + url.PathEscape(id),
		ExpectedStatus: []int{http.StatusOK},
		RespEncoding:   httpclient.EncodingJSON,
		RespValue:      &mount,
	})
	if err != nil {
		return nil, err
	}
	return &mount, nil
}

// GetVaultRepos fetches all vault repos with their mounts
func (r *Remote) GetVaultRepos(ctx context.Context) (*VaultReposBundle, error) {
	var bundle VaultReposBundle
	_, err := r.request(ctx, &httpclient.RequestData{
		Method:         "GET",
		Path:           "/api/v2.1/vault/repos",
		ExpectedStatus: []int{http.StatusOK},
		RespEncoding:   httpclient.EncodingJSON,
		RespValue:      &bundle,
	})
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

// CreateVaultRepo creates a vault repo record
func (r *Remote) CreateVaultRepo(ctx context.Context, create VaultRepoCreate) (*VaultRepo, error) {
	var repo VaultRepo
	_, err := r.request(ctx, &httpclient.RequestData{
		Method:         "POST",
		Path:           "/api/v2.1/vault/repos",
		ExpectedStatus: []int{http.StatusCreated},
		ReqEncoding:    httpclient.EncodingJSON,
		ReqValue:       create,
		RespEncoding:   httpclient.EncodingJSON,
		RespValue:      &repo,
	})
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// RemoveVaultRepo removes a vault repo record
func (r *Remote) RemoveVaultRepo(ctx context.Context, repoId string) error {
	_, err := r.request(ctx, &httpclient.RequestData{
		Method:         "DELETE",
		Path:           "/api/v2.1/vault/repos/" + url.PathEscape(repoId),
		ExpectedStatus: []int{http.StatusNoContent},
		RespConsume:    true,
	})
	return err
}

// GetBundle fetches a single directory listing
func (r *Remote) GetBundle(ctx context.Context, mountId vault.MountId, path vault.RemotePath) (*Bundle, error) {
	var bundle Bundle
	_, err := r.request(ctx, &httpclient.RequestData{
		Method:         "GET",
		Path:           "/api/v2.1/mounts/" + url.PathEscape(string(mountId)) + "/bundle",
		Params:         url.Values{"path": {string(path)}},
		ExpectedStatus: []int{http.StatusOK},
		RespEncoding:   httpclient.EncodingJSON,
		RespValue:      &bundle,
	})
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

// GetFileInfo fetches the info of a single file
func (r *Remote) GetFileInfo(ctx context.Context, mountId vault.MountId, path vault.RemotePath) (*FilesFile, error) {
	var file FilesFile
	_, err := r.request(ctx, &httpclient.RequestData{
		Method:         "GET",
		Path:           "/api/v2.1/mounts/" + url.PathEscape(string(mountId)) + "/files/info",
		Params:         url.Values{"path": {string(path)}},
		ExpectedStatus: []int{http.StatusOK},
		RespEncoding:   httpclient.EncodingJSON,
		RespValue:      &file,
	})
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// FileSpan is a byte range of a file
type FileSpan struct {
	Start int64
	End   int64 // inclusive, -1 for rest of file
}

// FileReader is an open remote file
type FileReader struct {
	File   *FilesFile
	Size   int64
	Reader io.ReadCloser
}

// GetFileReader opens a remote file for reading, optionally a byte
// range of it.
func (r *Remote) GetFileReader(ctx context.Context, mountId vault.MountId, path vault.RemotePath, span *FileSpan) (*FileReader, error) {
	req := &httpclient.RequestData{
		Method:         "GET",
		Path:           "/content/api/v2.1/mounts/" + url.PathEscape(string(mountId)) + "/files/get",
		Params:         url.Values{"path": {string(path)}},
		ExpectedStatus: []int{http.StatusOK, http.StatusPartialContent},
	}
	if span != nil {
		req.Headers = make(http.Header)
		if span.End < 0 {
			req.Headers.Set("Range", fmt.Sprintf("bytes=%d-", span.Start))
		} else {
			req.Headers.Set("Range", fmt.Sprintf("bytes=%d-%d", span.Start, span.End))
		}
	}
	res, err := r.request(ctx, req)
	if err != nil {
		return nil, err
	}
	file, err := decodeFileInfoHeader(res.Header.Get("X-File-Info"))
	if err != nil {
		_ = res.Body.Close()
		return nil, &HttpError{Message: fmt.Sprintf("invalid X-File-Info header: %v", err), cause: err}
	}
	size := res.ContentLength
	if size < 0 {
		size = file.Size
	}
	return &FileReader{
		File:   file,
		Size:   size,
		Reader: res.Body,
	}, nil
}

// ConflictResolution says what to do when an uploaded name already
// exists.
type ConflictResolution struct {
	Autorename        bool
	Overwrite         bool
	IfSize            *int64
	IfModified        *int64
	IfHash            string
	IgnoreNonexistent bool
}

// UploadFileReader streams a file to the remote. If size is >= 0 it
// is declared up front, otherwise the transfer is chunked.
func (r *Remote) UploadFileReader(ctx context.Context, mountId vault.MountId, parentPath vault.RemotePath, name vault.RemoteName, in io.Reader, size int64, resolution ConflictResolution, modified *int64) (*FilesFile, error) {
	params := url.Values{
		"path":       {string(parentPath)},
		"filename":   {string(name)},
		"info":       {"true"},
		"autorename": {strconv.FormatBool(resolution.Autorename)},
		"overwrite":  {strconv.FormatBool(resolution.Overwrite)},
	}
	if resolution.IfSize != nil {
		params.Set("overwriteIfSize", strconv.FormatInt(*resolution.IfSize, 10))
	}
	if resolution.IfModified != nil {
		params.Set("overwriteIfModified", strconv.FormatInt(*resolution.IfModified, 10))
	}
	if resolution.IfHash != "" {
		params.Set("overwriteIfHash", resolution.IfHash)
	}
	if resolution.IgnoreNonexistent {
		params.Set("overwriteIgnoreNonexistent", "true")
	}
	if size >= 0 {
		params.Set("size", strconv.FormatInt(size, 10))
	}
	if modified != nil {
		params.Set("modified", strconv.FormatInt(*modified, 10))
	}
	req := &httpclient.RequestData{
		Method:         "POST",
		Path:           "/content/api/v2.1/mounts/" + url.PathEscape(string(mountId)) + "/files/put",
		Params:         params,
		ReqReader:      in,
		ExpectedStatus: []int{http.StatusOK},
		RespEncoding:   httpclient.EncodingJSON,
	}
	var file FilesFile
	req.RespValue = &file
	if size >= 0 {
		req.ReqContentLength = size
	}
	_, err := r.request(ctx, req)
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// DeleteConditions guard a delete against concurrent change
type DeleteConditions struct {
	IfModified *int64
	IfSize     *int64
	IfHash     string
	IfEmpty    bool
}

// DeleteFile removes a file or directory
func (r *Remote) DeleteFile(ctx context.Context, mountId vault.MountId, path vault.RemotePath, conditions *DeleteConditions) error {
	req := &httpclient.RequestData{
		Method:         "DELETE",
		Path:           "/api/v2.1/mounts/" + url.PathEscape(string(mountId)) + "/files/remove",
		Params:         url.Values{"path": {string(path)}},
		ExpectedStatus: []int{http.StatusOK},
		RespConsume:    true,
	}
	if conditions != nil {
		req.Headers = make(http.Header)
		if conditions.IfModified != nil {
			req.Headers.Set("If-Modified", strconv.FormatInt(*conditions.IfModified, 10))
		}
		if conditions.IfSize != nil {
			req.Headers.Set("If-Size", strconv.FormatInt(*conditions.IfSize, 10))
		}
		if conditions.IfHash != "" {
			req.Headers.Set("If-Hash", conditions.IfHash)
		}
		if conditions.IfEmpty {
			req.Params.Set("removeIfEmpty", "true")
		}
	}
	_, err := r.request(ctx, req)
	return err
}

// CreateDir creates a directory under parentPath
func (r *Remote) CreateDir(ctx context.Context, mountId vault.MountId, parentPath vault.RemotePath, name vault.RemoteName) error {
	_, err := r.request(ctx, &httpclient.RequestData{
		Method:         "POST",
		Path:           "/api/v2.1/mounts/" + url.PathEscape(string(mountId)) + "/files/folder",
		Params:         url.Values{"path": {string(parentPath)}},
		ExpectedStatus: []int{http.StatusOK, http.StatusCreated},
		ReqEncoding:    httpclient.EncodingJSON,
		ReqValue:       FilesFolderCreate{Name: string(name)},
		RespConsume:    true,
	})
	return err
}

// RenameFile renames a file in place
func (r *Remote) RenameFile(ctx context.Context, mountId vault.MountId, path vault.RemotePath, newName vault.RemoteName) error {
	_, err := r.request(ctx, &httpclient.RequestData{
		Method:         "PUT",
		Path:           "/api/v2.1/mounts/" + url.PathEscape(string(mountId)) + "/files/rename",
		Params:         url.Values{"path": {string(path)}},
		ExpectedStatus: []int{http.StatusOK},
		ReqEncoding:    httpclient.EncodingJSON,
		ReqValue:       FilesRename{Name: string(newName)},
		RespConsume:    true,
	})
	return err
}

// CopyFile copies a file to another mount/path
func (r *Remote) CopyFile(ctx context.Context, mountId vault.MountId, path vault.RemotePath, toMountId vault.MountId, toPath vault.RemotePath) error {
	_, err := r.request(ctx, &httpclient.RequestData{
		Method:         "PUT",
		Path:           "/api/v2.1/mounts/" + url.PathEscape(string(mountId)) + "/files/copy",
		Params:         url.Values{"path": {string(path)}},
		ExpectedStatus: []int{http.StatusOK},
		ReqEncoding:    httpclient.EncodingJSON,
		ReqValue:       FilesCopy{ToMountId: string(toMountId), ToPath: string(toPath)},
		RespConsume:    true,
	})
	return err
}

// MoveFileConditions guard a move against concurrent change
type MoveFileConditions struct {
	IfModified *int64
	IfSize     *int64
	IfHash     string
}

// MoveFile moves a file to another mount/path
func (r *Remote) MoveFile(ctx context.Context, mountId vault.MountId, path vault.RemotePath, toMountId vault.MountId, toPath vault.RemotePath, conditions *MoveFileConditions) error {
	move := FilesMove{ToMountId: string(toMountId), ToPath: string(toPath)}
	if conditions != nil {
		move.IfModified = conditions.IfModified
		move.IfSize = conditions.IfSize
		move.IfHash = conditions.IfHash
	}
	_, err := r.request(ctx, &httpclient.RequestData{
		Method:         "PUT",
		Path:           "/api/v2.1/mounts/" + url.PathEscape(string(mountId)) + "/files/move",
		Params:         url.Values{"path": {string(path)}},
		ExpectedStatus: []int{http.StatusOK},
		ReqEncoding:    httpclient.EncodingJSON,
		ReqValue:       move,
		RespConsume:    true,
	})
	return err
}

// SetFileTags replaces the tags of a file
func (r *Remote) SetFileTags(ctx context.Context, mountId vault.MountId, path vault.RemotePath, set FilesTagsSet) error {
	_, err := r.request(ctx, &httpclient.RequestData{
		Method:         "PUT",
		Path:           "/api/v2.1/mounts/" + url.PathEscape(string(mountId)) + "/files/tags/set",
		Params:         url.Values{"path": {string(path)}},
		ExpectedStatus: []int{http.StatusOK},
		ReqEncoding:    httpclient.EncodingJSON,
		ReqValue:       set,
		RespConsume:    true,
	})
	return err
}

// ListRecursiveIterator iterates the ndjson lines of a recursive
// listing.
type ListRecursiveIterator struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Next returns the next item, or nil at the end of the listing.
func (it *ListRecursiveIterator) Next() (*FilesListRecursiveItem, error) {
	for it.scanner.Scan() {
		line := it.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var item FilesListRecursiveItem
		if err := json.Unmarshal(line, &item); err != nil {
			return nil, &HttpError{Message: fmt.Sprintf("invalid list recursive line: %v", err), cause: err}
		}
		return &item, nil
	}
	if err := it.scanner.Err(); err != nil {
		return nil, translateError(err)
	}
	return nil, nil
}

// Close releases the underlying response body
func (it *ListRecursiveIterator) Close() error {
	return it.body.Close()
}

// GetListRecursive streams the recursive listing of a directory
func (r *Remote) GetListRecursive(ctx context.Context, mountId vault.MountId, path vault.RemotePath) (*ListRecursiveIterator, error) {
	res, err := r.request(ctx, &httpclient.RequestData{
		Method:         "GET",
		Path:           "/content/api/v2.1/mounts/" + url.PathEscape(string(mountId)) + "/files/listrecursive",
		Params:         url.Values{"path": {string(path)}},
		ExpectedStatus: []int{http.StatusOK},
	})
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &ListRecursiveIterator{body: res.Body, scanner: scanner}, nil
}
