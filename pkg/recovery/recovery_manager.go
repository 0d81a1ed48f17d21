// Package recovery implements Recovery: the four-phase procedure that
// brings the page store back to a consistent state from a log file that
// may contain transactions interrupted by a crash. It does not write
// compensation records; instead it relies on redo-all, undo-losers and a
// final redo-winners pass to repair whatever undo-losers clobbers.
package recovery

import (
	"fmt"
	"io"
	"sync"

	"github.com/clui951/storemy-wal/pkg/dberror"
	"github.com/clui951/storemy-wal/pkg/log/record"
	"github.com/clui951/storemy-wal/pkg/log/wal"
	"github.com/clui951/storemy-wal/pkg/primitives"
)

// TransactionStatus is a transaction's disposition as seen by the end of
// the log: either it reached COMMIT (a winner) or it did not (a loser,
// whether it was still active or had reached ABORT).
type TransactionStatus int

const (
	TxnActive TransactionStatus = iota
	TxnCommitted
)

// TransactionInfo tracks one transaction's state while recovery scans
// the log.
type TransactionInfo struct {
	TID    int64
	Status TransactionStatus
	Start  primitives.Offset
}

// RecoveryStats summarizes one call to Recover.
type RecoveryStats struct {
	RecordsScanned int
	RedoOperations int
	UndoOperations int
	Winners        int
	Losers         int
}

// RecoveryManager drives the analysis, redo-all, undo-losers and
// redo-winners phases against a single WAL.
type RecoveryManager struct {
	wal *wal.WAL
	mu  sync.Mutex

	stats RecoveryStats
}

// NewRecoveryManager returns a manager for w. The PageStore it restores
// pages through is whichever one w was constructed with.
func NewRecoveryManager(w *wal.WAL) *RecoveryManager {
	return &RecoveryManager{wal: w}
}

// Recover runs the full procedure: analysis loads the last checkpoint
// (if any), redo-all reapplies every after-image seen since, undo-losers
// restores before-images for every transaction that never committed, and
// redo-winners reapplies committed transactions' after-images a second
// time in case undo-losers overwrote a page a winner also touched. It
// finishes by appending a terminal ABORT for every loser and clearing
// the live-transaction table, so IsRecoveryNeeded no longer reports
// them; a later Recover over the same log repeats every phase and
// reaches the same page state.
func (rm *RecoveryManager) Recover() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.stats = RecoveryStats{}

	txns, scanStart, err := rm.analysisPhase()
	if err != nil {
		return fmt.Errorf("recovery: analysis: %w", err)
	}

	if err := rm.redoAllPhase(scanStart, txns); err != nil {
		return fmt.Errorf("recovery: redo-all: %w", err)
	}

	losers, winners := splitTransactions(txns)
	rm.stats.Losers = len(losers)
	rm.stats.Winners = len(winners)

	if err := rm.undoLosersPhase(scanStart, losers); err != nil {
		return fmt.Errorf("recovery: undo-losers: %w", err)
	}

	if err := rm.redoWinnersPhase(scanStart, winners); err != nil {
		return fmt.Errorf("recovery: redo-winners: %w", err)
	}

	loserIDs := make([]int64, 0, len(losers))
	for tid := range losers {
		loserIDs = append(loserIDs, tid)
	}
	if err := rm.wal.CompleteRecovery(loserIDs); err != nil {
		return fmt.Errorf("recovery: finalize: %w", err)
	}
	return nil
}

// analysisPhase loads the checkpoint pointer, if any, seeding the
// transaction table with the transactions it names live and returning
// the earliest offset redo-all needs to scan from: the start of the
// oldest still-live transaction at checkpoint time, or the checkpoint
// record itself if none were live, or the start of the log if there was
// no checkpoint at all.
func (rm *RecoveryManager) analysisPhase() (map[int64]*TransactionInfo, primitives.Offset, error) {
	txns := make(map[int64]*TransactionInfo)
	scanStart := primitives.Offset(primitives.HeaderSize)

	ckptPtr := rm.wal.CheckpointPointer()
	if ckptPtr == primitives.NoCheckpoint {
		return txns, scanStart, nil
	}

	ckpt, err := rm.wal.ReadRecordAt(ckptPtr)
	if err != nil {
		return nil, 0, err
	}
	if ckpt.Kind != record.KindCheckpoint {
		return nil, 0, dberror.CorruptLog("checkpoint pointer does not reference a checkpoint record", nil)
	}

	scanStart = ckptPtr
	for _, e := range ckpt.Entries {
		txns[e.TID] = &TransactionInfo{TID: e.TID, Status: TxnActive, Start: e.FirstLogRecord}
		if e.FirstLogRecord < scanStart {
			scanStart = e.FirstLogRecord
		}
	}
	return txns, scanStart, nil
}

// redoAllPhase scans forward from scanStart, reapplying every UPDATE's
// after-image regardless of which transaction wrote it, and updates txns
// with every BEGIN/COMMIT it sees. By the end, the page store reflects
// the log's last word on every page, whether or not the transaction that
// wrote it ever committed.
func (rm *RecoveryManager) redoAllPhase(scanStart primitives.Offset, txns map[int64]*TransactionInfo) error {
	it, err := rm.wal.ScanFrom(scanStart)
	if err != nil {
		return err
	}

	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		rm.stats.RecordsScanned++

		switch rec.Kind {
		case record.KindBegin:
			if _, ok := txns[rec.TID]; !ok {
				txns[rec.TID] = &TransactionInfo{TID: rec.TID, Status: TxnActive, Start: rec.Start}
			}
		case record.KindCommit:
			if info, ok := txns[rec.TID]; ok {
				info.Status = TxnCommitted
			} else {
				txns[rec.TID] = &TransactionInfo{TID: rec.TID, Status: TxnCommitted, Start: rec.Start}
			}
		case record.KindUpdate:
			if err := rm.wal.InstallAfterImage(rec.After); err != nil {
				return err
			}
			rm.stats.RedoOperations++
		case record.KindAbort:
			// Leave status as-is (recording the transaction if its BEGIN
			// predates scanStart): an aborted transaction never reaches
			// TxnCommitted, so it is undone again below regardless of
			// whether its abort's rollback made it to disk before the
			// crash.
			if _, ok := txns[rec.TID]; !ok {
				txns[rec.TID] = &TransactionInfo{TID: rec.TID, Status: TxnActive, Start: rec.Start}
			}
		}
	}
	return nil
}

func splitTransactions(txns map[int64]*TransactionInfo) (losers, winners map[int64]bool) {
	losers = make(map[int64]bool)
	winners = make(map[int64]bool)
	for tid, info := range txns {
		if info.Status == TxnCommitted {
			winners[tid] = true
		} else {
			losers[tid] = true
		}
	}
	return losers, winners
}

// undoLosersPhase restores before-images for every transaction that
// never committed.
func (rm *RecoveryManager) undoLosersPhase(scanStart primitives.Offset, losers map[int64]bool) error {
	if len(losers) == 0 {
		return nil
	}
	n, err := rm.wal.UndoLosers(scanStart, losers)
	if err != nil {
		return err
	}
	rm.stats.UndoOperations += n
	return nil
}

// redoWinnersPhase reapplies every committed transaction's after-images
// a second time, repairing any page undo-losers overwrote with a stale
// before-image because a loser and a winner both touched it.
func (rm *RecoveryManager) redoWinnersPhase(scanStart primitives.Offset, winners map[int64]bool) error {
	if len(winners) == 0 {
		return nil
	}

	it, err := rm.wal.ScanFrom(scanStart)
	if err != nil {
		return err
	}
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if rec.Kind == record.KindUpdate && winners[rec.TID] {
			if err := rm.wal.InstallAfterImage(rec.After); err != nil {
				return err
			}
			rm.stats.RedoOperations++
		}
	}
	return nil
}

// Stats returns a snapshot of the most recent Recover call's counters.
func (rm *RecoveryManager) Stats() RecoveryStats {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.stats
}

// IsRecoveryNeeded reports whether the log contains a transaction that
// began but never reached COMMIT or ABORT, without mutating the page
// store.
func (rm *RecoveryManager) IsRecoveryNeeded() (bool, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	_, scanStart, err := rm.analysisPhase()
	if err != nil {
		return false, err
	}

	it, err := rm.wal.ScanFrom(scanStart)
	if err != nil {
		return false, err
	}

	live := make(map[int64]bool)
	for {
		rec, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, err
		}
		switch rec.Kind {
		case record.KindBegin:
			live[rec.TID] = true
		case record.KindCommit, record.KindAbort:
			delete(live, rec.TID)
		}
	}
	return len(live) > 0, nil
}
