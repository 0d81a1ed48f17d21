package wal

import (
	"github.com/clui951/storemy-wal/pkg/dberror"
	"github.com/clui951/storemy-wal/pkg/log/record"
	"github.com/clui951/storemy-wal/pkg/primitives"
)

func toPageImage(page primitives.Page) record.PageImage {
	id := page.ID()
	return record.PageImage{
		PageTag: page.TypeTag(),
		IDTag:   id.TypeTag(),
		IDInts:  id.Serialize(),
		Data:    page.Bytes(),
	}
}

// LogBegin records the start of transaction tid. It fails with
// dberror.DuplicateBegin if tid is already live.
func (w *WAL) LogBegin(tid *primitives.TransactionID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := tid.ID()
	if _, live := w.live[id]; live {
		return dberror.DuplicateBegin(id)
	}
	if err := w.appendPreamble(); err != nil {
		return err
	}

	start, err := w.append(record.Record{Kind: record.KindBegin, TID: id})
	if err != nil {
		return err
	}
	w.live[id] = start
	return nil
}

// LogUpdate records an UPDATE for tid: before and after are the page's
// contents immediately before and immediately after the change. It does
// not force: the buffer pool must call this before writing the new page
// image to its table file.
func (w *WAL) LogUpdate(tid *primitives.TransactionID, before, after primitives.Page) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.appendPreamble(); err != nil {
		return err
	}

	_, err := w.append(record.Record{
		Kind:   record.KindUpdate,
		TID:    tid.ID(),
		Before: toPageImage(before),
		After:  toPageImage(after),
	})
	return err
}

// LogCommit records a COMMIT for tid and forces the log. It returns only
// once the commit record and every prior record of tid are durable.
func (w *WAL) LogCommit(tid *primitives.TransactionID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.appendPreamble(); err != nil {
		return err
	}

	if _, err := w.append(record.Record{Kind: record.KindCommit, TID: tid.ID()}); err != nil {
		return err
	}
	if err := w.Force(); err != nil {
		return err
	}
	delete(w.live, tid.ID())
	return nil
}

// LogAbort rolls tid back through the PageStore, records an ABORT, forces
// the log, and removes tid from the live-transaction table. It acquires
// the PageStore's pool mutex before the log mutex, the fixed ordering the
// concurrency model requires of every operation that touches both.
func (w *WAL) LogAbort(tid *primitives.TransactionID) error {
	w.store.Lock()
	defer w.store.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rollbackLocked(tid); err != nil {
		return err
	}

	if err := w.appendPreamble(); err != nil {
		return err
	}
	if _, err := w.append(record.Record{Kind: record.KindAbort, TID: tid.ID()}); err != nil {
		return err
	}
	if err := w.Force(); err != nil {
		return err
	}
	delete(w.live, tid.ID())
	return nil
}
