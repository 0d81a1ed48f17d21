package recovery

import (
	"path/filepath"
	"testing"

	"github.com/clui951/storemy-wal/pkg/log/wal"
	"github.com/clui951/storemy-wal/pkg/memory"
	"github.com/clui951/storemy-wal/pkg/primitives"
)

// setupCrashedLog writes a log with one committed transaction and one
// transaction that never reached COMMIT or ABORT, then returns the log's
// path without ever checkpointing or cleanly shutting down -- the
// scenario Recover exists for.
func setupCrashedLog(t *testing.T) (path string, winnerID, loserID memory.SimplePageID) {
	t.Helper()

	registry := memory.NewTypeRegistry()
	memory.RegisterSimplePageType(registry)
	store := memory.NewSimplePageStore(registry)

	path = filepath.Join(t.TempDir(), "crash.log")
	w, err := wal.NewWAL(path, store)
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	defer w.Close()

	winnerID = memory.SimplePageID{File: 1, Page: 1}
	winnerTID := primitives.NewTransactionIDFromValue(1)
	if err := w.LogBegin(winnerTID); err != nil {
		t.Fatalf("LogBegin winner: %v", err)
	}
	winnerBefore := memory.NewSimplePage(winnerID, []byte{0, 0, 0, 0})
	winnerAfter := memory.NewSimplePage(winnerID, []byte{1, 1, 1, 1})
	if err := w.LogUpdate(winnerTID, winnerBefore, winnerAfter); err != nil {
		t.Fatalf("LogUpdate winner: %v", err)
	}
	if err := w.LogCommit(winnerTID); err != nil {
		t.Fatalf("LogCommit winner: %v", err)
	}

	loserID = memory.SimplePageID{File: 1, Page: 2}
	loserTID := primitives.NewTransactionIDFromValue(2)
	if err := w.LogBegin(loserTID); err != nil {
		t.Fatalf("LogBegin loser: %v", err)
	}
	loserBefore := memory.NewSimplePage(loserID, []byte{9, 9})
	loserAfter := memory.NewSimplePage(loserID, []byte{8, 8})
	if err := w.LogUpdate(loserTID, loserBefore, loserAfter); err != nil {
		t.Fatalf("LogUpdate loser: %v", err)
	}
	// No LogCommit, no LogAbort: loserTID is still "live" when the process
	// disappears.

	return path, winnerID, loserID
}

func reopen(t *testing.T, path string) (*wal.WAL, *memory.SimplePageStore) {
	t.Helper()
	registry := memory.NewTypeRegistry()
	memory.RegisterSimplePageType(registry)
	store := memory.NewSimplePageStore(registry)

	w, err := wal.NewWAL(path, store)
	if err != nil {
		t.Fatalf("NewWAL (reopen): %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, store
}

func TestIsRecoveryNeededDetectsUnfinishedTransaction(t *testing.T) {
	path, _, _ := setupCrashedLog(t)
	w, _ := reopen(t, path)

	rm := NewRecoveryManager(w)
	needed, err := rm.IsRecoveryNeeded()
	if err != nil {
		t.Fatalf("IsRecoveryNeeded: %v", err)
	}
	if !needed {
		t.Fatal("expected recovery to be needed: a transaction never committed or aborted")
	}
}

func TestRecoverRedoesWinnerAndUndoesLoser(t *testing.T) {
	path, winnerID, loserID := setupCrashedLog(t)
	w, store := reopen(t, path)

	rm := NewRecoveryManager(w)
	if err := rm.Recover(); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	winnerPage, err := store.LoadPage(winnerID)
	if err != nil {
		t.Fatalf("LoadPage winner: %v", err)
	}
	if string(winnerPage.Bytes()) != string([]byte{1, 1, 1, 1}) {
		t.Fatalf("expected winner's after-image, got %v", winnerPage.Bytes())
	}

	loserPage, err := store.LoadPage(loserID)
	if err != nil {
		t.Fatalf("LoadPage loser: %v", err)
	}
	if string(loserPage.Bytes()) != string([]byte{9, 9}) {
		t.Fatalf("expected loser's before-image restored, got %v", loserPage.Bytes())
	}

	if len(w.LiveTransactions()) != 0 {
		t.Fatal("expected no live transactions once recovery completes")
	}

	stats := rm.Stats()
	if stats.Winners != 1 || stats.Losers != 1 {
		t.Fatalf("unexpected winner/loser split: %+v", stats)
	}
}

func TestRecoverIsIdempotent(t *testing.T) {
	path, winnerID, loserID := setupCrashedLog(t)
	w, store := reopen(t, path)

	rm := NewRecoveryManager(w)
	if err := rm.Recover(); err != nil {
		t.Fatalf("first Recover: %v", err)
	}
	if err := rm.Recover(); err != nil {
		t.Fatalf("second Recover: %v", err)
	}

	winnerPage, err := store.LoadPage(winnerID)
	if err != nil {
		t.Fatalf("LoadPage winner: %v", err)
	}
	if string(winnerPage.Bytes()) != string([]byte{1, 1, 1, 1}) {
		t.Fatalf("winner's image changed across a second recovery: %v", winnerPage.Bytes())
	}

	loserPage, err := store.LoadPage(loserID)
	if err != nil {
		t.Fatalf("LoadPage loser: %v", err)
	}
	if string(loserPage.Bytes()) != string([]byte{9, 9}) {
		t.Fatalf("loser's image changed across a second recovery: %v", loserPage.Bytes())
	}

	if len(w.LiveTransactions()) != 0 {
		t.Fatal("expected no live transactions after a second, idempotent recovery")
	}
}

func TestRecoverOnEmptyLogIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	registry := memory.NewTypeRegistry()
	memory.RegisterSimplePageType(registry)
	store := memory.NewSimplePageStore(registry)

	w, err := wal.NewWAL(path, store)
	if err != nil {
		t.Fatalf("NewWAL: %v", err)
	}
	defer w.Close()

	rm := NewRecoveryManager(w)
	if err := rm.Recover(); err != nil {
		t.Fatalf("Recover on empty log: %v", err)
	}
	if len(w.LiveTransactions()) != 0 {
		t.Fatal("expected empty live-transaction table")
	}
}
