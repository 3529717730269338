package transfers

import (
	vault "github.com/rclone/vault"
	"github.com/rclone/vault/filetypes"
	"github.com/rclone/vault/store"
)

// createTransfer inserts a new Waiting transfer and returns it
func createTransfer(state *store.State, id uint32, typ store.TransferType, name vault.DecryptedName, size store.SizeInfo, category filetypes.FileCategory, persistent, retriable, openable bool) *store.Transfer {
	state.Transfers.NextOrder++
	transfer := &store.Transfer{
		Id:           id,
		Type:         typ,
		Name:         name,
		Size:         size,
		Category:     category,
		IsPersistent: persistent,
		IsRetriable:  retriable,
		IsOpenable:   openable,
		State:        store.TransferWaiting,
		Order:        state.Transfers.NextOrder,
	}
	state.Transfers.Transfers[id] = transfer
	updateAggregates(state)
	return transfer
}

// transferSlotFree reports whether the concurrency class of typ has
// capacity.
func transferSlotFree(state *store.State, typ store.TransferType, uploadLimit, downloadLimit int) bool {
	switch typ {
	case store.TransferTypeUpload:
		return state.Transfers.TransferringUploadsCount < uploadLimit
	case store.TransferTypeDownload:
		return state.Transfers.TransferringDownloadsCount < downloadLimit
	}
	// download readers are not bounded by a slot
	return true
}

// nextTransfer selects the oldest Waiting transfer whose class has
// capacity and moves it to Processing. Attempts increments on every
// entry to Processing.
func nextTransfer(state *store.State, uploadLimit, downloadLimit int) *store.Transfer {
	var next *store.Transfer
	for _, transfer := range state.Transfers.Transfers {
		if transfer.State != store.TransferWaiting {
			continue
		}
		if !transferSlotFree(state, transfer.Type, uploadLimit, downloadLimit) {
			continue
		}
		if next == nil || transfer.Order < next.Order {
			next = transfer
		}
	}
	if next == nil {
		return nil
	}
	next.State = store.TransferProcessing
	next.Attempts++
	// a processing transfer occupies its slot so that at most limit
	// transfers of a class are in flight
	updateAggregates(state)
	return next
}

// transferTransferring moves a transfer into active I/O. StartedMs
// is set once, on the first Transferring.
func transferTransferring(state *store.State, id uint32, nowMs int64) {
	transfer, ok := state.Transfers.Transfers[id]
	if !ok {
		return
	}
	transfer.State = store.TransferTransferring
	if transfer.StartedMs == 0 {
		transfer.StartedMs = nowMs
	}
	updateAggregates(state)
}

// transferProgress adds transferred bytes to a transfer
func transferProgress(state *store.State, id uint32, n int64) {
	transfer, ok := state.Transfers.Transfers[id]
	if !ok {
		return
	}
	transfer.TransferredBytes += n
	updateAggregates(state)
}

// transferDone finishes a transfer. Transient transfers are removed,
// persistent ones stay Done until cleared.
func transferDone(state *store.State, id uint32) {
	transfer, ok := state.Transfers.Transfers[id]
	if !ok {
		return
	}
	if transfer.IsPersistent {
		transfer.State = store.TransferDone
		transfer.Error = nil
	} else {
		delete(state.Transfers.Transfers, id)
	}
	updateAggregates(state)
}

// transferFailed marks a transfer Failed
func transferFailed(state *store.State, id uint32, err error) {
	transfer, ok := state.Transfers.Transfers[id]
	if !ok {
		return
	}
	transfer.State = store.TransferFailed
	transfer.Error = err
	updateAggregates(state)
}

// transferRemoved drops a transfer entirely
func transferRemoved(state *store.State, id uint32) {
	delete(state.Transfers.Transfers, id)
	updateAggregates(state)
}

// transferRetry requeues a transfer preserving its id and order
func transferRetry(state *store.State, id uint32, resetAttempts bool) error {
	transfer, ok := state.Transfers.Transfers[id]
	if !ok {
		return ErrTransferNotFound
	}
	if transfer.State != store.TransferFailed {
		return ErrNotRetriable
	}
	transfer.State = store.TransferWaiting
	transfer.Error = nil
	transfer.TransferredBytes = 0
	if resetAttempts {
		transfer.Attempts = 0
	}
	updateAggregates(state)
	return nil
}

// updateAggregates recomputes the aggregate counters from the
// transfers map. They equal the recomputation at all times.
func updateAggregates(state *store.State) {
	t := &state.Transfers
	t.TotalCount = len(t.Transfers)
	t.DoneCount = 0
	t.FailedCount = 0
	t.TransferringCount = 0
	t.TransferringUploadsCount = 0
	t.TransferringDownloadsCount = 0
	t.TotalBytes = 0
	t.DoneBytes = 0
	t.FailedBytes = 0
	for _, transfer := range t.Transfers {
		if transfer.Size.Kind != store.SizeUnknown {
			t.TotalBytes += transfer.Size.Size
		}
		switch transfer.State {
		case store.TransferProcessing, store.TransferTransferring:
			if transfer.State == store.TransferTransferring {
				t.TransferringCount++
				t.DoneBytes += transfer.TransferredBytes
			}
			switch transfer.Type {
			case store.TransferTypeUpload:
				t.TransferringUploadsCount++
			case store.TransferTypeDownload:
				t.TransferringDownloadsCount++
			}
		case store.TransferDone:
			t.DoneCount++
			t.DoneBytes += transfer.TransferredBytes
		case store.TransferFailed:
			t.FailedCount++
			t.FailedBytes += transfer.TransferredBytes
		}
	}
}
