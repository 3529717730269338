// Package remote is a typed client for the remote storage HTTP API.
//
// It only ever sees encrypted names and contents - the ciphers live
// above it in the repo files layer.
package remote

import "encoding/json"

// User is the authenticated user
type User struct {
	Id        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// Mount types
const (
	MountTypeDevice = "device"
	MountTypeExport = "export"
	MountTypeImport = "import"
)

// Mount origins
const (
	MountOriginHosted  = "hosted"
	MountOriginDesktop = "desktop"
)

// Mount is a server-visible storage root
type Mount struct {
	Id         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Origin     string `json:"origin"`
	Online     bool   `json:"online"`
	IsPrimary  bool   `json:"isPrimary"`
	SpaceTotal int64  `json:"spaceTotal,omitempty"`
	SpaceUsed  int64  `json:"spaceUsed,omitempty"`
}

// Places is the response of the places endpoint
type Places struct {
	Places []Mount `json:"places"`
}

// File types
const (
	FileTypeDir  = "dir"
	FileTypeFile = "file"
)

// FilesFile is a file or directory as the server sees it
type FilesFile struct {
	Name        string              `json:"name"`
	Type        string              `json:"type"`
	Modified    int64               `json:"modified"`
	Size        int64               `json:"size"`
	ContentType string              `json:"contentType"`
	Hash        string              `json:"hash,omitempty"`
	Tags        map[string][]string `json:"tags,omitempty"`
}

// Bundle is a single directory listing: the directory itself plus its
// direct children
type Bundle struct {
	File  FilesFile   `json:"file"`
	Files []FilesFile `json:"files,omitempty"`
}

// VaultRepo is a remote record of a vault repo
type VaultRepo struct {
	Id                         string  `json:"id"`
	Name                       string  `json:"name"`
	MountId                    string  `json:"mountId"`
	Path                       string  `json:"path"`
	Salt                       *string `json:"salt,omitempty"`
	PasswordValidator          string  `json:"passwordValidator"`
	PasswordValidatorEncrypted string  `json:"passwordValidatorEncrypted"`
	Added                      int64   `json:"added"`
}

// VaultReposBundle is the response of the vault repos listing
type VaultReposBundle struct {
	Repos  []VaultRepo      `json:"repos"`
	Mounts map[string]Mount `json:"mounts"`
}

// VaultRepoCreate is the request body for creating a vault repo
type VaultRepoCreate struct {
	MountId                    string  `json:"mountId"`
	Path                       string  `json:"path"`
	Salt                       *string `json:"salt,omitempty"`
	PasswordValidator          string  `json:"passwordValidator"`
	PasswordValidatorEncrypted string  `json:"passwordValidatorEncrypted"`
}

// FilesFolderCreate is the request body for creating a folder
type FilesFolderCreate struct {
	Name string `json:"name"`
}

// FilesRename is the request body for renaming a file
type FilesRename struct {
	Name string `json:"name"`
}

// FilesCopy is the request body for copying a file
type FilesCopy struct {
	ToMountId string `json:"toMountId"`
	ToPath    string `json:"toPath"`
}

// FilesMove is the request body for moving a file
type FilesMove struct {
	ToMountId  string `json:"toMountId"`
	ToPath     string `json:"toPath"`
	IfModified *int64 `json:"ifModified,omitempty"`
	IfSize     *int64 `json:"ifSize,omitempty"`
	IfHash     string `json:"ifHash,omitempty"`
}

// FilesTagsSet is the request body for setting file tags
type FilesTagsSet struct {
	Tags       map[string][]string `json:"tags"`
	Conditions FilesTagsConditions `json:"conditions"`
}

// FilesTagsConditions guards a tags update against concurrent change
type FilesTagsConditions struct {
	IfSize     *int64  `json:"ifSize,omitempty"`
	IfModified *int64  `json:"ifModified,omitempty"`
	IfHash     *string `json:"ifHash,omitempty"`
	IfOldTags  *bool   `json:"ifOldTags,omitempty"`
}

// List recursive item types
const (
	ListRecursiveItemTypeFile  = "file"
	ListRecursiveItemTypeError = "error"
)

// FilesListRecursiveItem is one ndjson line of a recursive listing -
// either a file or an error for a subtree
type FilesListRecursiveItem struct {
	Type  string     `json:"type"`
	Path  string     `json:"path"`
	File  *FilesFile `json:"file,omitempty"`
	Error *ApiError  `json:"error,omitempty"`
}

// decodeFileInfoHeader decodes the X-File-Info response header value
func decodeFileInfoHeader(value string) (*FilesFile, error) {
	var file FilesFile
	if err := json.Unmarshal([]byte(value), &file); err != nil {
		return nil, err
	}
	return &file, nil
}
