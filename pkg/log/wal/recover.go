package wal

import (
	"github.com/clui951/storemy-wal/pkg/dberror"
	"github.com/clui951/storemy-wal/pkg/log/record"
	"github.com/clui951/storemy-wal/pkg/primitives"
)

// ScanFrom returns a ForwardIterator over every record currently in
// [start, End()). It is the entry point the recovery package's redo-all
// and redo-winners phases and IsRecoveryNeeded all scan through.
func (w *WAL) ScanFrom(start primitives.Offset) (*ForwardIterator, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return NewForwardIterator(w.file, start, w.offset)
}

// ReadRecordAt decodes the single record beginning at offset, used to
// load the CHECKPOINT record the checkpoint pointer names.
func (w *WAL) ReadRecordAt(offset primitives.Offset) (record.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	it, err := NewForwardIterator(w.file, offset, w.offset)
	if err != nil {
		return record.Record{}, err
	}
	return it.Next()
}

// InstallAfterImage writes an UPDATE record's after-image through the
// PageStore. Recovery's redo-all and redo-winners phases call this for
// every record they replay.
func (w *WAL) InstallAfterImage(img record.PageImage) error {
	id, err := w.store.ReconstructPageID(img.IDTag, img.IDInts)
	if err != nil {
		return err
	}
	w.store.DiscardCached(id)
	return w.store.WritePage(id, img.Data)
}

// UndoLosers restores before-images for every UPDATE in [start, End())
// whose transaction id is in losers, in latest-to-earliest order, and
// returns how many it applied.
func (w *WAL) UndoLosers(start primitives.Offset, losers map[int64]bool) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return BulkRollback(w.file, start, w.offset, losers, w.store)
}

// CompleteRecovery appends a terminal ABORT record for every loser
// transaction, so IsRecoveryNeeded no longer reports them, then clears
// the live-transaction table and marks the log ready for ordinary
// appends (writing the empty checkpoint pointer first if the file has no
// header yet). It deliberately does not route through
// appendPreamble: that call's destructive truncate only applies to a log
// that was opened and written to without Recover ever running, which by
// construction is not this case.
func (w *WAL) CompleteRecovery(losers []int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.offset < primitives.HeaderSize {
		hdr := make([]byte, primitives.HeaderSize)
		noCkpt := int64(primitives.NoCheckpoint)
		putU64(hdr, uint64(noCkpt))
		if _, err := w.file.WriteAt(hdr, 0); err != nil {
			return dberror.IoFailure("write header", err)
		}
		w.checkpointPtr = primitives.NoCheckpoint
		w.offset = primitives.HeaderSize
	}

	for _, tid := range losers {
		if _, err := w.append(record.Record{Kind: record.KindAbort, TID: tid}); err != nil {
			return err
		}
	}
	if err := w.Force(); err != nil {
		return err
	}
	w.live = make(map[int64]primitives.Offset)
	w.recoveryUndecided = false
	return nil
}
