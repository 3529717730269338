// Package store owns the single mutable state tree of the vault
// client and the notify/mutation pipeline every subsystem mutates it
// through.
package store

import (
	"time"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/cipher"
	"github.com/rclone/vault/filetypes"
)

// FileType is the type of a file entry
type FileType string

// File types
const (
	FileTypeDir  FileType = "dir"
	FileTypeFile FileType = "file"
)

// Status tracks the loading state of a collection
type Status int

// Statuses
const (
	StatusInitial Status = iota
	StatusLoading
	StatusLoaded
	StatusError
)

// User is the authenticated user as cached in the state
type User struct {
	Id        string
	FirstName string
	LastName  string
	Email     string
}

// UserState holds the authenticated user
type UserState struct {
	User   *User
	Status Status
}

// Mount is a cached server-visible storage root. Mounts are leased by
// the remote; the client only caches them.
type Mount struct {
	Id        vault.MountId
	Name      string
	Type      string
	Origin    string
	Online    bool
	IsPrimary bool
}

// MountsState holds the cached mounts
type MountsState struct {
	Mounts map[vault.MountId]*Mount
	Status Status
}

// RemoteFile mirrors one file of the remote tree
type RemoteFile struct {
	Id        vault.RemoteFileId
	MountId   vault.MountId
	Path      vault.RemotePath
	Name      vault.RemoteName
	NameLower vault.RemoteNameLower
	Type      FileType
	Size      *int64
	Modified  *int64
	Hash      string
	Tags      map[string][]string
	UniqueId  string
}

// RemoteFilesState is the authoritative mirror of the remote tree the
// client has touched.
type RemoteFilesState struct {
	Files       map[vault.RemoteFileId]*RemoteFile
	Children    map[vault.RemoteFileId][]vault.RemoteFileId
	LoadedRoots map[vault.RemoteFileId]bool
}

// RepoLockState is the lock state of a repo
type RepoLockState int

// Repo lock states
const (
	RepoLocked RepoLockState = iota
	RepoUnlocked
)

// RepoAutoLock is the auto lock policy of a repo. A zero After never
// locks on inactivity.
type RepoAutoLock struct {
	After       time.Duration `json:"after,omitempty"`
	OnAppHidden bool          `json:"onAppHidden,omitempty"`
}

// Repo is a client-side encrypted vault tied to a remote path under a
// mount.
type Repo struct {
	Id                         vault.RepoId
	Name                       vault.RemoteName
	MountId                    vault.MountId
	Path                       vault.RemotePath
	Salt                       *string
	PasswordValidator          string
	PasswordValidatorEncrypted string
	Added                      int64
	State                      RepoLockState
	// Cipher is only set while the repo is unlocked. It is never
	// persisted.
	Cipher         *cipher.Cipher
	LastActivityMs int64
	AutoLock       RepoAutoLock
}

// RemoteFileId returns the id of the remote file the repo lives at
func (r *Repo) RemoteFileId() vault.RemoteFileId {
	return vault.NewRemoteFileId(r.MountId, r.Path)
}

// ReposState holds the repos and their lookup structures
type ReposState struct {
	Repos                 map[vault.RepoId]*Repo
	RepoIdsByRemoteFileId map[vault.RemoteFileId]vault.RepoId
	// MountRepoTrees resolves a remote path to the repos whose
	// prefix covers it, per mount.
	MountRepoTrees  map[vault.MountId]*RepoTree
	Status          Status
	DefaultAutoLock RepoAutoLock
}

// RepoFileName is a decrypted name or the decrypt error with the
// encrypted name preserved.
type RepoFileName struct {
	Decrypted      vault.DecryptedName
	DecryptedLower vault.DecryptedNameLower
	Encrypted      vault.EncryptedName
	Error          error
}

// RepoFilePath is a decrypted path or the decrypt error with the
// encrypted path preserved.
type RepoFilePath struct {
	Decrypted vault.DecryptedPath
	Encrypted vault.EncryptedPath
	Error     error
}

// RepoFileSize is a decrypted size or the decrypt error with the
// encrypted size preserved.
type RepoFileSize struct {
	Size          int64
	EncryptedSize int64
	Error         error
}

// RepoFileTags are the decrypted tags of a repo file. Error is set
// when the tags could not be decrypted or did not match the remote
// hash.
type RepoFileTags struct {
	Hash          string
	EncryptedHash string
	Unknown       map[string]string
	Error         error
}

// RepoFile is the decrypted projection of a remote file inside a
// repo.
type RepoFile struct {
	Id            vault.RepoFileId
	RepoId        vault.RepoId
	MountId       vault.MountId
	RemotePath    vault.RemotePath
	EncryptedPath vault.EncryptedPath
	Name          RepoFileName
	Path          RepoFilePath
	Ext           string
	ContentType   string
	Category      filetypes.FileCategory
	Type          FileType
	Size          RepoFileSize
	Modified      *int64
	UniqueName    string
	RemoteHash    string
	Tags          RepoFileTags
}

// RepoFilesState is the decrypted projection of the remote file tree
// through each unlocked repo's cipher. It is entirely derived.
type RepoFilesState struct {
	Files       map[vault.RepoFileId]*RepoFile
	Children    map[vault.RepoFileId][]vault.RepoFileId
	LoadedRoots map[vault.RepoFileId]bool
}

// TransferType is the kind of a transfer
type TransferType int

// Transfer types
const (
	TransferTypeUpload TransferType = iota
	TransferTypeDownload
	TransferTypeDownloadReader
)

// SizeKind says how precise a SizeInfo is
type SizeKind int

// Size kinds
const (
	SizeExact SizeKind = iota
	SizeEstimate
	SizeUnknown
)

// SizeInfo is the size of a transfer - exact, estimated or unknown
type SizeInfo struct {
	Kind SizeKind
	Size int64
}

// TransferState is the lifecycle state of a transfer
type TransferState int

// Transfer states
const (
	TransferWaiting TransferState = iota
	TransferProcessing
	TransferTransferring
	TransferDone
	TransferFailed
)

// Transfer is a unit of queued upload/download work
type Transfer struct {
	Id               uint32
	Type             TransferType
	Name             vault.DecryptedName
	Size             SizeInfo
	Category         filetypes.FileCategory
	StartedMs        int64 // 0 until the first Transferring
	IsPersistent     bool
	IsRetriable      bool
	IsOpenable       bool
	State            TransferState
	Error            error // set when State == TransferFailed
	TransferredBytes int64
	Attempts         int
	Order            int64
}

// TransfersState is the transfer queue with its aggregate counters.
// The counters always equal the recomputation from Transfers.
type TransfersState struct {
	Transfers                  map[uint32]*Transfer
	NextOrder                  int64
	TotalCount                 int
	DoneCount                  int
	FailedCount                int
	TransferringCount          int
	TransferringUploadsCount   int
	TransferringDownloadsCount int
	TotalBytes                 int64
	DoneBytes                  int64
	FailedBytes                int64
}

// DialogType is the kind of a dialog
type DialogType int

// Dialog types
const (
	DialogAlert DialogType = iota
	DialogConfirm
	DialogPrompt
)

// ConfirmStyle is the style of the dialog confirm button
type ConfirmStyle int

// Confirm styles
const (
	ConfirmStylePrimary ConfirmStyle = iota
	ConfirmStyleDestructive
)

// Dialog is an input-validated prompt consumed by services
type Dialog struct {
	Id                uint32
	Type              DialogType
	Title             string
	Message           string
	InputValue        string
	InputPlaceholder  string
	ConfirmText       string
	ConfirmStyle      ConfirmStyle
	CancelText        string
	IsInputValueValid bool
}

// DialogsState holds the open dialogs, newest last
type DialogsState struct {
	Dialogs map[uint32]*Dialog
	Order   []uint32
}

// ConnectionStatus is the event stream connection state
type ConnectionStatus int

// Connection statuses
const (
	ConnectionInitial ConnectionStatus = iota
	ConnectionConnecting
	ConnectionAuthenticating
	ConnectionConnected
	ConnectionReconnecting
	ConnectionDisconnected
)

// ListenerStatus is the registration state of a mount listener
type ListenerStatus int

// Listener statuses
const (
	ListenerUnregistered ListenerStatus = iota
	ListenerRegistering
	ListenerRegistered
)

// MountListener is a server registration for events of a (mount,
// path) subtree.
type MountListener struct {
	Id               uint32
	MountId          vault.MountId
	Path             vault.RemotePath
	Status           ListenerStatus
	Canceled         bool
	RequestId        int64
	ServerListenerId int64
	Subscribers      map[uint32]bool
}

// MountListenerKey buckets listeners by mount and lowercase path
func MountListenerKey(mountId vault.MountId, path vault.RemotePath) string {
	return string(mountId) + ":" + string(path.Lower())
}

// EventstreamState holds the event stream connection and listener
// state.
type EventstreamState struct {
	Status         ConnectionStatus
	Listeners      map[uint32]*MountListener
	ListenersByKey map[string]uint32
}

// State is the single observable state tree
type State struct {
	User        UserState
	Mounts      MountsState
	RemoteFiles RemoteFilesState
	Repos       ReposState
	RepoFiles   RepoFilesState
	Transfers   TransfersState
	Dialogs     DialogsState
	Eventstream EventstreamState
}

// NewState creates an empty state tree
func NewState() *State {
	return &State{
		Mounts: MountsState{
			Mounts: make(map[vault.MountId]*Mount),
		},
		RemoteFiles: RemoteFilesState{
			Files:       make(map[vault.RemoteFileId]*RemoteFile),
			Children:    make(map[vault.RemoteFileId][]vault.RemoteFileId),
			LoadedRoots: make(map[vault.RemoteFileId]bool),
		},
		Repos: ReposState{
			Repos:                 make(map[vault.RepoId]*Repo),
			RepoIdsByRemoteFileId: make(map[vault.RemoteFileId]vault.RepoId),
			MountRepoTrees:        make(map[vault.MountId]*RepoTree),
		},
		RepoFiles: RepoFilesState{
			Files:       make(map[vault.RepoFileId]*RepoFile),
			Children:    make(map[vault.RepoFileId][]vault.RepoFileId),
			LoadedRoots: make(map[vault.RepoFileId]bool),
		},
		Transfers: TransfersState{
			Transfers: make(map[uint32]*Transfer),
		},
		Dialogs: DialogsState{
			Dialogs: make(map[uint32]*Dialog),
		},
		Eventstream: EventstreamState{
			Listeners:      make(map[uint32]*MountListener),
			ListenersByKey: make(map[string]uint32),
		},
	}
}
