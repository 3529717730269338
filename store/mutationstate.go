package store

import vault "github.com/rclone/vault"

// RemoteFileEntry points at one remote file in a mutation delta
type RemoteFileEntry struct {
	MountId vault.MountId
	Path    vault.RemotePath
}

// RemoteFileMovedEntry is one moved remote file in a mutation delta
type RemoteFileMovedEntry struct {
	MountId vault.MountId
	OldPath vault.RemotePath
	NewPath vault.RemotePath
}

// RemoteFilesMutationState accumulates remote file deltas within one
// mutate for the repo files projection to consume.
type RemoteFilesMutationState struct {
	LoadedRoots  []RemoteFileEntry
	CreatedFiles []RemoteFileEntry
	RemovedFiles []RemoteFileEntry
	MovedFiles   []RemoteFileMovedEntry
}

// RepoFileEntry points at one repo file in a mutation delta
type RepoFileEntry struct {
	RepoId vault.RepoId
	Path   vault.EncryptedPath
}

// RepoFileMovedEntry is one moved repo file in a mutation delta
type RepoFileMovedEntry struct {
	RepoId  vault.RepoId
	OldPath vault.EncryptedPath
	NewPath vault.EncryptedPath
}

// RepoFilesMutationState accumulates repo file deltas within one
// mutate for the views to consume.
type RepoFilesMutationState struct {
	RemovedFiles []RepoFileEntry
	MovedFiles   []RepoFileMovedEntry
}

// ReposMutationState accumulates repo lock transitions within one
// mutate.
type ReposMutationState struct {
	UnlockedRepos []vault.RepoId
	LockedRepos   []vault.RepoId
	RemovedRepos  []vault.RepoId
}

// EventstreamRequestType is the kind of a queued eventstream request
type EventstreamRequestType int

// Eventstream request types
const (
	EventstreamRequestRegister EventstreamRequestType = iota
	EventstreamRequestDeregister
)

// EventstreamRequest is a wire request queued during a mutate and
// sent by the eventstream service outside the store lock.
type EventstreamRequest struct {
	Type             EventstreamRequestType
	ListenerId       uint32
	ServerListenerId int64
}

// EventstreamMutationState queues eventstream wire requests within
// one mutate.
type EventstreamMutationState struct {
	Requests []EventstreamRequest
}

// MutationState is the transient per-mutate scratch consumed and
// cleared at the end of the mutate.
type MutationState struct {
	RemoteFiles RemoteFilesMutationState
	RepoFiles   RepoFilesMutationState
	Repos       ReposMutationState
	Eventstream EventstreamMutationState
}
