package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/clui951/storemy-wal/pkg/dberror"
	"github.com/clui951/storemy-wal/pkg/log/record"
	"github.com/clui951/storemy-wal/pkg/primitives"
)

// LogCheckpoint implements Checkpoint: it forces the log, flushes every
// dirty page through the PageStore, appends a single CHECKPOINT record
// listing the transactions still live, and rewrites the checkpoint
// pointer at offset 0 to point at it. It then truncates everything
// before the oldest live transaction's BEGIN, since nothing before that
// offset can still be needed by Recovery. It returns the offset the new
// checkpoint record was written at.
//
// Acquires the PageStore's pool mutex before the log mutex, per the
// concurrency model's fixed ordering.
func (w *WAL) LogCheckpoint() (primitives.Offset, error) {
	w.store.Lock()
	defer w.store.Unlock()

	w.mu.Lock()

	if err := w.appendPreamble(); err != nil {
		w.mu.Unlock()
		return 0, err
	}

	if err := w.Force(); err != nil {
		w.mu.Unlock()
		return 0, err
	}

	if err := w.store.FlushAllDirty(); err != nil {
		w.mu.Unlock()
		return 0, err
	}

	entries := make([]record.CheckpointEntry, 0, len(w.live))
	oldest := w.offset
	for tid, start := range w.live {
		entries = append(entries, record.CheckpointEntry{TID: tid, FirstLogRecord: start})
		if start < oldest {
			oldest = start
		}
	}

	ckptOffset, err := w.append(record.Record{Kind: record.KindCheckpoint, Entries: entries})
	if err != nil {
		w.mu.Unlock()
		return 0, err
	}

	if err := w.Force(); err != nil {
		w.mu.Unlock()
		return 0, err
	}

	hdr := make([]byte, primitives.HeaderSize)
	putU64(hdr, uint64(int64(ckptOffset)))
	if _, err := w.file.WriteAt(hdr, 0); err != nil {
		w.mu.Unlock()
		return 0, dberror.IoFailure("write header", err)
	}
	if err := w.Force(); err != nil {
		w.mu.Unlock()
		return 0, err
	}
	w.checkpointPtr = ckptOffset

	w.mu.Unlock()

	if err := w.logTruncate(oldest); err != nil {
		return 0, err
	}
	return ckptOffset, nil
}

// logTruncate implements Truncate: every record at or after keepFrom is
// copied into a fresh file, with every offset it contains (the header,
// each record's own trailing start, every checkpoint entry, and the
// live-transaction table) shifted down by keepFrom - HeaderSize. The new
// file then replaces the old one by atomic rename.
//
// Records before keepFrom are, by construction, not reachable from any
// transaction still live or from the current checkpoint, so discarding
// them cannot affect a future Recovery.
func (w *WAL) logTruncate(keepFrom primitives.Offset) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if keepFrom <= primitives.HeaderSize {
		return nil
	}

	shift := keepFrom - primitives.HeaderSize

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, "logtmp")
	if err != nil {
		return dberror.IoFailure("create temp", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hdr := make([]byte, primitives.HeaderSize)
	newCkpt := primitives.NoCheckpoint
	if w.checkpointPtr >= keepFrom {
		newCkpt = w.checkpointPtr - shift
	}
	putU64(hdr, uint64(int64(newCkpt)))
	if _, err := tmp.Write(hdr); err != nil {
		tmp.Close()
		return dberror.IoFailure("write header", err)
	}

	it, err := NewForwardIterator(w.file, keepFrom, w.offset)
	if err != nil {
		tmp.Close()
		return err
	}

	newLive := make(map[int64]primitives.Offset, len(w.live))
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			tmp.Close()
			return err
		}

		shifted := rec
		shifted.Start = rec.Start - shift
		for i := range shifted.Entries {
			shifted.Entries[i].FirstLogRecord -= shift
		}

		data, err := record.Encode(shifted)
		if err != nil {
			tmp.Close()
			return err
		}
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return dberror.IoFailure("write", err)
		}

		if rec.Kind == record.KindBegin {
			if _, live := w.live[rec.TID]; live {
				newLive[rec.TID] = shifted.Start
			}
		}
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return dberror.IoFailure("sync", err)
	}
	if err := tmp.Close(); err != nil {
		return dberror.IoFailure("close", err)
	}

	if err := w.file.Close(); err != nil {
		return dberror.IoFailure("close", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return dberror.IoFailure("rename", err)
	}

	f, err := os.OpenFile(w.path, os.O_RDWR, 0644)
	if err != nil {
		return dberror.IoFailure(fmt.Sprintf("reopen %s", w.path), err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return dberror.IoFailure("stat", err)
	}

	w.file = f
	w.offset = primitives.Offset(info.Size())
	w.checkpointPtr = newCkpt
	w.live = newLive
	return nil
}
