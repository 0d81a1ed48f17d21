package wal

import (
	"testing"

	"github.com/clui951/storemy-wal/pkg/memory"
	"github.com/clui951/storemy-wal/pkg/primitives"
)

func TestCheckpointTruncatesFinishedTransactions(t *testing.T) {
	w, store, _ := newTestWAL(t)
	tid := primitives.NewTransactionIDFromValue(1)
	id := memory.SimplePageID{File: 1, Page: 1}
	before := memory.NewSimplePage(id, []byte{0})
	after := memory.NewSimplePage(id, []byte{1})

	if err := w.LogBegin(tid); err != nil {
		t.Fatalf("LogBegin: %v", err)
	}
	if err := w.LogUpdate(tid, before, after); err != nil {
		t.Fatalf("LogUpdate: %v", err)
	}
	if err := store.WritePage(id, after.Bytes()); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	if err := w.LogCommit(tid); err != nil {
		t.Fatalf("LogCommit: %v", err)
	}

	preEnd := w.End()

	if _, err := w.LogCheckpoint(); err != nil {
		t.Fatalf("LogCheckpoint: %v", err)
	}

	if w.End() >= preEnd {
		t.Fatalf("expected truncation to shrink the log, end was %d, is now %d", preEnd, w.End())
	}
	if len(w.LiveTransactions()) != 0 {
		t.Fatalf("expected no live transactions after checkpointing a finished one")
	}
	if w.CheckpointPointer() == primitives.NoCheckpoint {
		t.Fatal("expected checkpoint pointer to be set")
	}
}

func TestCheckpointPreservesLiveTransaction(t *testing.T) {
	w, _, _ := newTestWAL(t)
	tid := primitives.NewTransactionIDFromValue(1)

	if err := w.LogBegin(tid); err != nil {
		t.Fatalf("LogBegin: %v", err)
	}

	if _, err := w.LogCheckpoint(); err != nil {
		t.Fatalf("LogCheckpoint: %v", err)
	}

	live := w.LiveTransactions()
	start, ok := live[tid.ID()]
	if !ok {
		t.Fatal("expected tid to remain live across checkpoint")
	}
	if start < primitives.HeaderSize {
		t.Fatalf("shifted start offset should still be past the header, got %d", start)
	}

	// The still-live transaction's BEGIN record must still be readable at
	// its (shifted) offset: truncation must not discard anything a live
	// transaction might still need to undo.
	rec, err := w.ReadRecordAt(start)
	if err != nil {
		t.Fatalf("ReadRecordAt: %v", err)
	}
	if rec.TID != tid.ID() {
		t.Fatalf("expected to find tid's own record at its shifted start, got tid=%d", rec.TID)
	}
}

func TestCheckpointDaemonManualTrigger(t *testing.T) {
	w, _, _ := newTestWAL(t)
	d := NewCheckpointDaemon(w, DefaultCheckpointConfig())

	if _, err := d.TriggerManualCheckpoint(); err != nil {
		t.Fatalf("TriggerManualCheckpoint: %v", err)
	}

	stats := d.Stats()
	if stats.TotalCheckpoints != 1 || stats.ManualTriggers != 1 {
		t.Fatalf("unexpected stats after manual trigger: %+v", stats)
	}
}
