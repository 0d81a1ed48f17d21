package wal

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clui951/storemy-wal/pkg/primitives"
)

// CheckpointDaemon triggers LogCheckpoint on a schedule, so that the
// truncation a checkpoint performs keeps the log from growing without
// bound between application-initiated checkpoints.
type CheckpointDaemon struct {
	wal      *WAL
	config   CheckpointConfig
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  atomic.Bool

	lastCheckpoint atomic.Value // stores time.Time

	stats      CheckpointDaemonStats
	statsMutex sync.RWMutex
}

// CheckpointConfig configures checkpoint triggering behavior.
type CheckpointConfig struct {
	// Time-based trigger: checkpoint every Interval.
	Interval time.Duration

	// Size-based trigger: checkpoint once the log reaches MaxLogSize bytes.
	MaxLogSize int64

	Enabled bool
}

// DefaultCheckpointConfig returns a sensible default configuration.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Interval:   10 * time.Minute,
		MaxLogSize: 10 * 1024 * 1024,
		Enabled:    true,
	}
}

// CheckpointDaemonStats tracks daemon statistics.
type CheckpointDaemonStats struct {
	TotalCheckpoints       int64
	TimeBasedTriggers      int64
	SizeBasedTriggers      int64
	ManualTriggers         int64
	FailedCheckpoints      int64
	LastCheckpointTime     time.Time
	LastCheckpointOffset   primitives.Offset
	LastCheckpointDuration time.Duration
}

// NewCheckpointDaemon creates a daemon for wal, not yet started.
func NewCheckpointDaemon(wal *WAL, config CheckpointConfig) *CheckpointDaemon {
	daemon := &CheckpointDaemon{
		wal:      wal,
		config:   config,
		stopChan: make(chan struct{}),
	}
	daemon.lastCheckpoint.Store(time.Now())
	return daemon
}

// Start begins the daemon's background loop. A no-op if config.Enabled
// is false; returns an error if the daemon is already running.
func (cd *CheckpointDaemon) Start() error {
	if !cd.config.Enabled {
		return nil
	}
	if !cd.running.CompareAndSwap(false, true) {
		return fmt.Errorf("wal: checkpoint daemon already running")
	}

	cd.wg.Add(1)
	go cd.run()
	return nil
}

// Stop blocks until the background loop has exited.
func (cd *CheckpointDaemon) Stop() error {
	if !cd.running.Load() {
		return nil
	}
	close(cd.stopChan)
	cd.wg.Wait()
	cd.running.Store(false)
	return nil
}

func (cd *CheckpointDaemon) run() {
	defer cd.wg.Done()

	ticker := time.NewTicker(cd.config.Interval)
	defer ticker.Stop()

	sizeTicker := time.NewTicker(30 * time.Second)
	defer sizeTicker.Stop()

	for {
		select {
		case <-cd.stopChan:
			return
		case <-ticker.C:
			cd.triggerCheckpoint("time-based")
			cd.statsMutex.Lock()
			cd.stats.TimeBasedTriggers++
			cd.statsMutex.Unlock()
		case <-sizeTicker.C:
			if cd.shouldCheckpointBySize() {
				cd.triggerCheckpoint("size-based")
				cd.statsMutex.Lock()
				cd.stats.SizeBasedTriggers++
				cd.statsMutex.Unlock()
			}
		}
	}
}

func (cd *CheckpointDaemon) shouldCheckpointBySize() bool {
	if cd.config.MaxLogSize <= 0 {
		return false
	}
	return int64(cd.wal.End()) >= cd.config.MaxLogSize
}

func (cd *CheckpointDaemon) triggerCheckpoint(reason string) {
	start := time.Now()
	offset, err := cd.wal.LogCheckpoint()
	duration := time.Since(start)

	cd.statsMutex.Lock()
	defer cd.statsMutex.Unlock()

	if err != nil {
		fmt.Printf("wal: checkpoint (%s) failed: %v\n", reason, err)
		cd.stats.FailedCheckpoints++
		return
	}

	cd.stats.TotalCheckpoints++
	cd.stats.LastCheckpointTime = start
	cd.stats.LastCheckpointOffset = offset
	cd.stats.LastCheckpointDuration = duration
	cd.lastCheckpoint.Store(start)
}

// TriggerManualCheckpoint runs a checkpoint immediately, outside the
// daemon's schedule.
func (cd *CheckpointDaemon) TriggerManualCheckpoint() (primitives.Offset, error) {
	start := time.Now()
	offset, err := cd.wal.LogCheckpoint()
	duration := time.Since(start)

	cd.statsMutex.Lock()
	defer cd.statsMutex.Unlock()

	if err != nil {
		cd.stats.FailedCheckpoints++
		return 0, fmt.Errorf("wal: manual checkpoint failed: %w", err)
	}

	cd.stats.TotalCheckpoints++
	cd.stats.ManualTriggers++
	cd.stats.LastCheckpointTime = start
	cd.stats.LastCheckpointOffset = offset
	cd.stats.LastCheckpointDuration = duration
	cd.lastCheckpoint.Store(start)
	return offset, nil
}

// Stats returns a snapshot of the daemon's counters.
func (cd *CheckpointDaemon) Stats() CheckpointDaemonStats {
	cd.statsMutex.RLock()
	defer cd.statsMutex.RUnlock()
	return cd.stats
}

// IsRunning reports whether the background loop is active.
func (cd *CheckpointDaemon) IsRunning() bool {
	return cd.running.Load()
}
