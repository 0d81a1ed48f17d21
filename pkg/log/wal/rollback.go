package wal

import (
	"io"
	"os"

	"github.com/clui951/storemy-wal/pkg/dberror"
	"github.com/clui951/storemy-wal/pkg/log/record"
	"github.com/clui951/storemy-wal/pkg/memory"
	"github.com/clui951/storemy-wal/pkg/primitives"
)

// undoEntry is one before-image awaiting restoration.
type undoEntry struct {
	before record.PageImage
}

func (w *WAL) installBeforeImage(e undoEntry) error {
	id, err := w.store.ReconstructPageID(e.before.IDTag, e.before.IDInts)
	if err != nil {
		return err
	}
	w.store.DiscardCached(id)
	return w.store.WritePage(id, e.before.Data)
}

// rollbackLocked implements the single-transaction rollback algorithm
// (spec 4.2): scan tid's records forward from its BEGIN to the current
// end of log, then restore before-images in latest-to-earliest order so
// that the earliest before-image for any given page wins. Callers must
// hold w.mu and the PageStore's pool mutex.
func (w *WAL) rollbackLocked(tid *primitives.TransactionID) error {
	id := tid.ID()
	start, ok := w.live[id]
	if !ok {
		return dberror.UnknownTid(id)
	}
	end := w.offset

	it, err := NewForwardIterator(w.file, start, end)
	if err != nil {
		return err
	}

	var entries []undoEntry
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if rec.Kind == record.KindUpdate && rec.TID == id {
			entries = append(entries, undoEntry{before: rec.Before})
		}
	}

	for i := len(entries) - 1; i >= 0; i-- {
		if err := w.installBeforeImage(entries[i]); err != nil {
			return err
		}
	}
	return nil
}

// Rollback is the public entry point for rolling back a single live
// transaction outside of abort (e.g. from a higher-level transaction
// manager that wants to discard work without recording an ABORT record
// itself). It acquires both the pool and log mutexes, in that order.
func (w *WAL) Rollback(tid *primitives.TransactionID) error {
	w.store.Lock()
	defer w.store.Unlock()
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rollbackLocked(tid)
}

// BulkRollback implements the variant used by recovery's undo-losers
// phase (spec 4.2): it scans [start, end) once, collecting before-images
// for every UPDATE whose TID is in losers, then restores them in
// latest-to-earliest order exactly as the single-transaction case does.
// The spec describes this scan running backward over trailing start
// offsets; scanning forward and reversing the collected list yields the
// identical apply order with a simpler iterator, so that is what this
// does (see DESIGN.md).
func BulkRollback(f *os.File, start, end primitives.Offset, losers map[int64]bool, store memory.PageStore) (int, error) {
	it, err := NewForwardIterator(f, start, end)
	if err != nil {
		return 0, err
	}

	var entries []undoEntry
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if rec.Kind == record.KindUpdate && losers[rec.TID] {
			entries = append(entries, undoEntry{before: rec.Before})
		}
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		id, err := store.ReconstructPageID(e.before.IDTag, e.before.IDInts)
		if err != nil {
			return 0, err
		}
		store.DiscardCached(id)
		if err := store.WritePage(id, e.before.Data); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}
