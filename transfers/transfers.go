package transfers

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"sync"
	"time"

	vault "github.com/rclone/vault"
	"github.com/rclone/vault/filetypes"
	"github.com/rclone/vault/fserrors"
	"github.com/rclone/vault/remote"
	"github.com/rclone/vault/remotefiles"
	"github.com/rclone/vault/repofiles"
	"github.com/rclone/vault/repofilestags"
	"github.com/rclone/vault/repos"
	"github.com/rclone/vault/store"
)

// copyBufferSize is the buffer used to pump download streams
const copyBufferSize = 1024 * 1024

// UploadResult is the outcome of a finished upload
type UploadResult struct {
	TransferId uint32
	Name       vault.DecryptedName
	Path       vault.EncryptedPath
	RemoteFile remote.FilesFile
}

// job is the runtime side of a transfer - everything that must not
// live in the state tree.
type job struct {
	id     uint32
	typ    store.TransferType
	run    func(ctx context.Context, j *job) error
	cancel context.CancelFunc
	ctx    context.Context

	mu     sync.Mutex
	reader *abortableReader

	done     chan error
	doneOnce sync.Once
}

// resolve delivers the terminal result to the caller exactly once
func (j *job) resolve(err error) {
	j.doneOnce.Do(func() {
		j.done <- err
	})
}

func (j *job) setReader(reader *abortableReader) {
	j.mu.Lock()
	j.reader = reader
	j.mu.Unlock()
}

func (j *job) abort() {
	j.cancel()
	j.mu.Lock()
	reader := j.reader
	j.mu.Unlock()
	if reader != nil {
		reader.Abort()
	}
}

// Service is the transfer engine
type Service struct {
	remote    *remote.Remote
	repoFiles *repofiles.Service
	repoTags  *repofilestags.Service
	repos     *repos.Service
	store     *store.Store
	runtime   vault.Runtime
	config    vault.TransfersConfig

	mu           sync.Mutex
	jobs         map[uint32]*job
	lastProgress time.Time
}

// NewService creates a transfers Service
func NewService(rem *remote.Remote, repoFiles *repofiles.Service, repoTags *repofilestags.Service, reposService *repos.Service, st *store.Store, runtime vault.Runtime, config vault.TransfersConfig) *Service {
	return &Service{
		remote:    rem,
		repoFiles: repoFiles,
		repoTags:  repoTags,
		repos:     reposService,
		store:     st,
		runtime:   runtime,
		config:    config,
	}
}

func (s *Service) getJob(id uint32) *job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs == nil {
		return nil
	}
	return s.jobs[id]
}

func (s *Service) putJob(j *job) {
	s.mu.Lock()
	if s.jobs == nil {
		s.jobs = make(map[uint32]*job)
	}
	s.jobs[j.id] = j
	s.mu.Unlock()
}

func (s *Service) removeJob(id uint32) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

// enqueue creates the transfer record and job and kicks the queue.
// The returned channel resolves with the terminal result.
func (s *Service) enqueue(ctx context.Context, typ store.TransferType, name vault.DecryptedName, size store.SizeInfo, category filetypes.FileCategory, persistent, retriable, openable bool, run func(ctx context.Context, j *job) error) *job {
	id := store.NextId()
	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{
		id:     id,
		typ:    typ,
		run:    run,
		cancel: cancel,
		ctx:    jobCtx,
		done:   make(chan error, 1),
	}
	s.putJob(j)

	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		notify(store.EventTransfers)
		createTransfer(state, id, typ, name, size, category, persistent, retriable, openable)
	})

	s.processNext()
	return j
}

// processNext starts every Waiting transfer whose class has capacity,
// oldest first.
func (s *Service) processNext() {
	for {
		var next *store.Transfer
		s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
			next = nextTransfer(state, s.config.UploadConcurrency, s.config.DownloadConcurrency)
			if next != nil {
				notify(store.EventTransfers)
			}
		})
		if next == nil {
			return
		}
		j := s.getJob(next.Id)
		if j == nil {
			// job vanished - drop the orphan record
			s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
				notify(store.EventTransfers)
				transferRemoved(state, next.Id)
			})
			continue
		}
		go s.runJob(j)
	}
}

// runJob executes the pipeline of one transfer and finalizes it
func (s *Service) runJob(j *job) {
	err := j.run(j.ctx, j)
	if err == nil {
		s.finalizeDone(j)
		return
	}
	if errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) {
		s.finalizeAborted(j)
		return
	}
	s.finalizeFailed(j, err)
}

func (s *Service) finalizeDone(j *job) {
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		notify(store.EventTransfers)
		transferDone(state, j.id)
	})
	s.removeJob(j.id)
	j.resolve(nil)
	s.processNext()
}

func (s *Service) finalizeAborted(j *job) {
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		notify(store.EventTransfers)
		transferFailed(state, j.id, ErrAborted)
		transferRemoved(state, j.id)
	})
	s.removeJob(j.id)
	j.resolve(ErrAborted)
	s.processNext()
}

func (s *Service) finalizeFailed(j *job, err error) {
	var attempts int
	var retriable bool
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		notify(store.EventTransfers)
		transferFailed(state, j.id, err)
		if transfer, ok := state.Transfers.Transfers[j.id]; ok {
			attempts = transfer.Attempts
			retriable = transfer.IsRetriable
		}
	})

	transient := fserrors.IsRetryError(err) || fserrors.ShouldRetry(err)
	if retriable && transient && attempts < s.config.RetryMaxAttempts {
		// exponential backoff starting at the initial delay,
		// doubling to the cap
		delay := s.config.RetryInitialDelay
		for i := 1; i < attempts; i++ {
			delay *= 2
			if delay >= s.config.RetryMaxDelay {
				delay = s.config.RetryMaxDelay
				break
			}
		}
		vault.Debugf(nil, "transfers: retrying transfer %d in %v (attempt %d): %v", j.id, delay, attempts, err)
		go func() {
			s.runtime.Sleep(delay)
			requeued := false
			s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
				if retryErr := transferRetry(state, j.id, false); retryErr == nil {
					notify(store.EventTransfers)
					requeued = true
				}
			})
			if requeued {
				s.processNext()
			}
		}()
		return
	}

	// the job stays registered so a manual retry can restart it
	j.resolve(err)
	s.processNext()
}

// setTransferring flips a transfer into active I/O
func (s *Service) setTransferring(id uint32) {
	now := s.runtime.NowMs()
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		notify(store.EventTransfers)
		transferTransferring(state, id, now)
	})
}

// onProgress records transferred bytes. The recorded bytes are
// updated on every callback; only the Transfers event fire is
// throttled to keep the store from thrashing.
func (s *Service) onProgress(id uint32, n int) {
	s.mu.Lock()
	now := time.Now()
	fire := now.Sub(s.lastProgress) >= s.config.ProgressThrottle
	if fire {
		s.lastProgress = now
	}
	s.mu.Unlock()

	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		transferProgress(state, id, int64(n))
		if fire {
			notify(store.EventTransfers)
		}
	})
}

// Upload queues an upload of uploadable into the repo directory at
// parentPath and waits for its terminal result. Retriable failures
// are retried by the engine before the call returns.
func (s *Service) Upload(ctx context.Context, repoId vault.RepoId, parentPath vault.EncryptedPath, name vault.DecryptedName, uploadable Uploadable) (*UploadResult, error) {
	c, err := s.repos.GetCipher(repoId)
	if err != nil {
		return nil, err
	}

	size, err := uploadable.Size(ctx)
	if err != nil {
		return nil, err
	}
	transferSize := size
	if size.Kind == store.SizeExact {
		transferSize = store.SizeInfo{Kind: store.SizeExact, Size: c.EncryptedSize(size.Size)}
	}

	ext := vault.NameExt(string(name.Lower()))
	category := filetypes.ExtCategory(ext)

	result := &UploadResult{}

	j := s.enqueue(ctx, store.TransferTypeUpload, name, transferSize, category, false, true, false,
		func(ctx context.Context, j *job) error {
			return s.runUpload(ctx, j, repoId, parentPath, name, uploadable, result)
		})
	result.TransferId = j.id

	select {
	case err := <-j.done:
		if err != nil {
			return nil, err
		}
		return result, nil
	case <-ctx.Done():
		j.abort()
		<-j.done
		return nil, ErrAborted
	}
}

// runUpload is the upload pipeline of one attempt
func (s *Service) runUpload(ctx context.Context, j *job, repoId vault.RepoId, parentPath vault.EncryptedPath, name vault.DecryptedName, uploadable Uploadable, result *UploadResult) error {
	c, err := s.repos.GetCipher(repoId)
	if err != nil {
		return err
	}

	mountId, remoteParentPath, err := s.repoFiles.GetRepoMountPath(repoId, parentPath)
	if err != nil {
		return err
	}

	// make sure the parent listing is available for the free name
	// check - the directory may not exist yet, which is fine
	if loadErr := s.repoFiles.LoadFiles(ctx, repoId, parentPath); loadErr != nil {
		if !remote.IsApiErrorCode(loadErr, remote.ApiErrorCodeNotFound) {
			vault.Debugf(nil, "transfers: upload parent load failed: %v", loadErr)
		}
	}

	reader, size, err := uploadable.Reader(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = reader.Close()
	}()

	// pick a free name under the parent
	finalName := name
	s.store.WithState(func(state *store.State) {
		finalName = repofiles.SelectUnusedName(state, repoId, parentPath, name)
	})
	encryptedName := vault.RemoteName(c.EncryptFilename(string(finalName)))

	// plaintext md5 for the tags side effect
	hasher := md5.New()
	plaintext := io.TeeReader(reader, hasher)

	encrypted, err := c.EncryptData(plaintext)
	if err != nil {
		return err
	}

	encryptedSize := int64(-1)
	if size.Kind == store.SizeExact {
		encryptedSize = c.EncryptedSize(size.Size)
	}

	abortable := newAbortableReader(io.NopCloser(newProgressReader(encrypted, func(n int) {
		s.onProgress(j.id, n)
	})))
	j.setReader(abortable)

	s.setTransferring(j.id)

	file, err := s.remote.UploadFileReader(ctx, mountId, remoteParentPath, encryptedName, abortable, encryptedSize, remote.ConflictResolution{Autorename: true}, nil)
	if err != nil {
		return err
	}

	remotePath := vault.RemotePathJoinName(remoteParentPath, vault.RemoteName(file.Name))

	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, mutationState *store.MutationState, mutationNotify store.MutationNotifyFunc) {
		remotefiles.FileCreated(state, notify, mutationState, mutationNotify, mountId, remotePath, *file)
	})

	path := vault.EncryptedPathJoinName(parentPath, vault.EncryptedName(file.Name))

	result.Name = finalName
	result.Path = path
	result.RemoteFile = *file

	// bind the plaintext hash to the uploaded ciphertext
	if file.Hash != "" {
		if err := s.repoTags.SetHash(ctx, repoId, path, hasher.Sum(nil), file.Hash); err != nil {
			vault.Debugf(nil, "transfers: failed to set tags hash: %v", err)
		}
	}

	return nil
}

// Download queues a download through provider into downloadable and
// waits for its terminal result.
func (s *Service) Download(ctx context.Context, provider RepoFileReaderProvider, downloadable Downloadable, persistent bool) error {
	name := provider.Name()
	ext := vault.NameExt(string(name.Lower()))
	category := filetypes.ExtCategory(ext)

	j := s.enqueue(ctx, store.TransferTypeDownload, name, store.SizeInfo{Kind: store.SizeUnknown}, category, persistent, true, persistent,
		func(ctx context.Context, j *job) error {
			return s.runDownload(ctx, j, provider, downloadable)
		})

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		j.abort()
		<-j.done
		return ErrAborted
	}
}

// runDownload is the download pipeline of one attempt
func (s *Service) runDownload(ctx context.Context, j *job, provider RepoFileReaderProvider, downloadable Downloadable) error {
	reader, err := provider.Reader(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = reader.Close()
	}()

	exists, err := downloadable.Exists(ctx, reader.Name, reader.UniqueName)
	if err != nil {
		return err
	}
	if exists {
		_ = downloadable.Done(ctx, ErrAlreadyExists)
		return nil
	}

	// update the declared size now that the reader is open
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		if transfer, ok := state.Transfers.Transfers[j.id]; ok {
			notify(store.EventTransfers)
			transfer.Size = reader.Size
			updateAggregates(state)
		}
	})

	// opportunistic self healing: hash the plaintext when the
	// remote has a hash but the file tags lack one
	var hasher hash.Hash
	var in io.Reader = reader.Reader
	if reader.RemoteHash != "" && reader.LocalHash == "" {
		hasher = md5.New()
		in = io.TeeReader(in, hasher)
	}

	abortable := newAbortableReader(io.NopCloser(newProgressReader(in, func(n int) {
		s.onProgress(j.id, n)
	})))
	j.setReader(abortable)

	s.setTransferring(j.id)

	writer, err := downloadable.Writer(ctx, reader.Name, reader.Size, reader.ContentType, reader.UniqueName)
	if err != nil {
		return err
	}

	buf := make([]byte, copyBufferSize)
	_, copyErr := io.CopyBuffer(writer, abortable, buf)
	closeErr := writer.Close()
	if copyErr == nil {
		copyErr = closeErr
	}

	if doneErr := downloadable.Done(ctx, copyErr); doneErr != nil && copyErr == nil {
		copyErr = doneErr
	}
	if copyErr != nil {
		return copyErr
	}

	if hasher != nil && reader.RepoId != "" {
		if err := s.repoTags.SetHash(ctx, reader.RepoId, reader.Path, hasher.Sum(nil), reader.RemoteHash); err != nil {
			vault.Debugf(nil, "transfers: failed to heal tags hash: %v", err)
		} else {
			vault.Debugf(nil, "transfers: healed tags hash for %s (%s)", reader.Path, hex.EncodeToString(hasher.Sum(nil)))
		}
	}

	return nil
}

// DownloadReader opens a decrypted reader immediately - download
// readers have no concurrency slot. The transfer removes itself from
// the store when the reader is closed.
func (s *Service) DownloadReader(ctx context.Context, provider RepoFileReaderProvider) (uint32, io.ReadCloser, error) {
	reader, err := provider.Reader(ctx)
	if err != nil {
		return 0, nil, err
	}

	name := provider.Name()
	ext := vault.NameExt(string(name.Lower()))
	category := filetypes.ExtCategory(ext)

	id := store.NextId()
	now := s.runtime.NowMs()
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		notify(store.EventTransfers)
		createTransfer(state, id, store.TransferTypeDownloadReader, name, reader.Size, category, false, false, false)
		transfer := state.Transfers.Transfers[id]
		transfer.State = store.TransferTransferring
		transfer.StartedMs = now
		updateAggregates(state)
	})

	abortable := newAbortableReader(io.NopCloser(newProgressReader(reader.Reader, func(n int) {
		s.onProgress(id, n)
	})))

	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{id: id, typ: store.TransferTypeDownloadReader, cancel: cancel, ctx: jobCtx, done: make(chan error, 1)}
	j.setReader(abortable)
	s.putJob(j)

	return id, &downloadReaderCloser{
		service:    s,
		id:         id,
		reader:     abortable,
		underlying: reader,
	}, nil
}

// downloadReaderCloser removes the transfer when the caller closes
// the reader.
type downloadReaderCloser struct {
	service    *Service
	id         uint32
	reader     io.Reader
	underlying *RepoFileReader
	closed     sync.Once
}

// Read implements io.Reader
func (r *downloadReaderCloser) Read(p []byte) (int, error) {
	return r.reader.Read(p)
}

// Close implements io.Closer
func (r *downloadReaderCloser) Close() error {
	err := r.underlying.Close()
	r.closed.Do(func() {
		r.service.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
			notify(store.EventTransfers)
			transferRemoved(state, r.id)
		})
		r.service.removeJob(r.id)
	})
	return err
}

// Abort cancels a transfer. The transfer's future resolves to
// ErrAborted and the record is removed; an aborted transfer is not
// retried.
func (s *Service) Abort(id uint32) {
	// a transfer which is not actively running (Waiting or Failed)
	// is removed directly - there is no pipeline to interrupt
	removed := false
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		transfer, ok := state.Transfers.Transfers[id]
		if !ok {
			return
		}
		if transfer.State == store.TransferWaiting || transfer.State == store.TransferFailed {
			notify(store.EventTransfers)
			transferRemoved(state, id)
			removed = true
		}
	})

	j := s.getJob(id)
	if removed {
		if j != nil {
			s.removeJob(id)
			j.resolve(ErrAborted)
		}
		return
	}
	if j != nil {
		j.abort()
	}
}

// AbortAll cancels every non-terminal transfer
func (s *Service) AbortAll() {
	var ids []uint32
	s.store.WithState(func(state *store.State) {
		for id, transfer := range state.Transfers.Transfers {
			if transfer.State != store.TransferDone {
				ids = append(ids, id)
			}
		}
	})
	for _, id := range ids {
		s.Abort(id)
	}
}

// Retry forces an immediate reschedule of a failed transfer. The id
// and order are preserved and attempts reset.
func (s *Service) Retry(id uint32) error {
	var err error
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		err = transferRetry(state, id, true)
		if err == nil {
			notify(store.EventTransfers)
		}
	})
	if err != nil {
		return err
	}
	s.processNext()
	return nil
}

// RetryAll reschedules every failed transfer
func (s *Service) RetryAll() {
	var ids []uint32
	s.store.WithState(func(state *store.State) {
		for id, transfer := range state.Transfers.Transfers {
			if transfer.State == store.TransferFailed {
				ids = append(ids, id)
			}
		}
	})
	for _, id := range ids {
		if err := s.Retry(id); err != nil {
			vault.Debugf(nil, "transfers: retry %d failed: %v", id, err)
		}
	}
}

// ClearDone removes every Done transfer from the list
func (s *Service) ClearDone() {
	s.store.Mutate(func(state *store.State, notify store.NotifyFunc, _ *store.MutationState, _ store.MutationNotifyFunc) {
		notify(store.EventTransfers)
		for id, transfer := range state.Transfers.Transfers {
			if transfer.State == store.TransferDone {
				transferRemoved(state, id)
			}
		}
	})
}
