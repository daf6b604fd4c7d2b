package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/burrowdb/burrow/telemetry"
)

const (
	// LockFileName is the well-known lock file inside the database directory.
	LockFileName = ".mcp_write_lock"

	// HeartbeatInterval is fixed; a heartbeat older than twice this marks the
	// lock stale regardless of its lease.
	HeartbeatInterval = 5 * time.Second

	// defaultLeaseDuration bounds how long a holder is presumed alive without
	// any contrary evidence.
	defaultLeaseDuration = 30 * time.Second

	// acquirePollInterval caps the sleep between acquisition polls.
	acquirePollInterval = 100 * time.Millisecond
)

// LockRecord is the sole content of the lock file. Timestamps are unix
// milliseconds.
type LockRecord struct {
	ProcessID int    `json:"processId"`
	AgentID   string `json:"agentId"`
	Timestamp int64  `json:"timestamp"`
	Heartbeat int64  `json:"heartbeat"`
	Timeout   int64  `json:"timeout"`
}

// WriteLockManager grants one process at a time exclusive write access to a
// database directory. Every lock file mutation uses atomic filesystem
// primitives: exclusive create for acquisition, whole-file rename for
// heartbeat renewal, unlink for release.
type WriteLockManager struct {
	dir   string
	lease time.Duration
}

// NewWriteLockManager creates a lock manager for the given database
// directory.
func NewWriteLockManager(dir string) *WriteLockManager {
	return &WriteLockManager{dir: dir, lease: defaultLeaseDuration}
}

// WriteLock is a held lock. Its heartbeat task is owned by the value and
// stopped deterministically on Release.
type WriteLock struct {
	mgr    *WriteLockManager
	record LockRecord

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (m *WriteLockManager) path() string {
	return filepath.Join(m.dir, LockFileName)
}

// Acquire polls for the write lock until timeout elapses. Stale locks
// (expired lease, stale heartbeat, or dead owner) are deleted and replaced;
// live locks are waited out with first-poll-wins fairness.
func (m *WriteLockManager) Acquire(ctx context.Context, agentID string, timeout time.Duration) (*WriteLock, error) {
	deadline := time.Now().Add(timeout)
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		existing, err := m.read()
		if err == nil && existing != nil {
			if m.stale(existing) {
				log.Warn().
					Int("holder_pid", existing.ProcessID).
					Str("holder_agent", existing.AgentID).
					Msg("Removing stale write lock")
				// A concurrent contender may have deleted it first; that race
				// is benign, the create-exclusive below arbitrates.
				_ = os.Remove(m.path())
			} else {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					telemetry.LockContentionTotal.With("timeout").Inc()
					return nil, &LockTimeoutError{Holder: existing, Remaining: m.estimateRemaining(existing)}
				}
				sleep := acquirePollInterval
				if remaining < sleep {
					sleep = remaining
				}
				if err := sleepContext(ctx, sleep); err != nil {
					return nil, err
				}
				continue
			}
		}

		now := time.Now().UnixMilli()
		record := LockRecord{
			ProcessID: os.Getpid(),
			AgentID:   agentID,
			Timestamp: now,
			Heartbeat: now,
			Timeout:   m.lease.Milliseconds(),
		}
		if err := m.createExclusive(record); err != nil {
			if errors.Is(err, os.ErrExist) {
				// Lost the create race; poll again unless out of time.
				if time.Now().After(deadline) {
					holder, _ := m.read()
					telemetry.LockContentionTotal.With("timeout").Inc()
					return nil, &LockTimeoutError{Holder: holder, Remaining: m.estimateRemaining(holder)}
				}
				continue
			}
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		// Confirm our identity actually won before starting the heartbeat.
		confirmed, err := m.read()
		if err != nil || confirmed == nil ||
			confirmed.ProcessID != record.ProcessID || confirmed.AgentID != record.AgentID {
			continue
		}

		telemetry.LockWaitSeconds.Observe(time.Since(start).Seconds())
		telemetry.LockContentionTotal.With("acquired").Inc()
		log.Debug().
			Str("agent_id", agentID).
			Dur("waited", time.Since(start)).
			Msg("Write lock acquired")

		lock := &WriteLock{
			mgr:    m,
			record: *confirmed,
			stop:   make(chan struct{}),
			done:   make(chan struct{}),
		}
		go lock.heartbeatLoop()
		return lock, nil
	}
}

// Release stops the heartbeat and deletes the lock file, but only if the
// on-disk owner is still this lock. A later contender that legitimately took
// over a stale lock is never unlocked from here.
func (l *WriteLock) Release() {
	l.stopOnce.Do(func() {
		close(l.stop)
		<-l.done

		current, err := l.mgr.read()
		if err != nil || current == nil {
			return
		}
		if current.ProcessID != l.record.ProcessID || current.AgentID != l.record.AgentID {
			log.Warn().
				Int("holder_pid", current.ProcessID).
				Msg("Write lock now held by another owner, leaving it in place")
			return
		}
		if err := os.Remove(l.mgr.path()); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("Failed to remove write lock file")
			return
		}
		log.Debug().Str("agent_id", l.record.AgentID).Msg("Write lock released")
	})
}

// heartbeatLoop renews the heartbeat timestamp every interval while the lock
// is held. Ownership mismatch stops the loop silently - the lock was taken
// over as stale and belongs to someone else now.
func (l *WriteLock) heartbeatLoop() {
	defer close(l.done)

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			current, err := l.mgr.read()
			if err != nil || current == nil ||
				current.ProcessID != l.record.ProcessID || current.AgentID != l.record.AgentID {
				log.Warn().Msg("Write lock ownership lost, stopping heartbeat")
				return
			}

			current.Heartbeat = time.Now().UnixMilli()
			if err := l.mgr.rewrite(*current); err != nil {
				log.Warn().Err(err).Msg("Failed to renew write lock heartbeat")
				return
			}
			l.record = *current
			telemetry.HeartbeatWritesTotal.Inc()
		}
	}
}

// Current returns the on-disk lock record, or nil when no lock is held.
func (m *WriteLockManager) Current() *LockRecord {
	record, err := m.read()
	if err != nil {
		return nil
	}
	return record
}

func (m *WriteLockManager) read() (*LockRecord, error) {
	data, err := os.ReadFile(m.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var record LockRecord
	if err := json.Unmarshal(data, &record); err != nil {
		// A corrupt lock file cannot prove a live holder; treat it as stale.
		return &LockRecord{}, nil
	}
	return &record, nil
}

func (m *WriteLockManager) createExclusive(record LockRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(m.path(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// rewrite atomically replaces the lock file via temp-file rename.
func (m *WriteLockManager) rewrite(record LockRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	tmp := m.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path())
}

// stale reports whether a lock record no longer proves a live holder.
func (m *WriteLockManager) stale(record *LockRecord) bool {
	if record.ProcessID == 0 {
		return true
	}

	now := time.Now().UnixMilli()
	sinceHeartbeat := now - record.Heartbeat

	if record.Timeout > 0 && sinceHeartbeat > record.Timeout {
		return true
	}
	if sinceHeartbeat > 2*HeartbeatInterval.Milliseconds() {
		return true
	}
	return !processAlive(record.ProcessID)
}

// estimateRemaining guesses how long a live lock may remain valid: the time
// until its heartbeat would go stale.
func (m *WriteLockManager) estimateRemaining(record *LockRecord) time.Duration {
	if record == nil {
		return 0
	}
	staleAt := record.Heartbeat + 2*HeartbeatInterval.Milliseconds()
	remaining := time.Duration(staleAt-time.Now().UnixMilli()) * time.Millisecond
	if remaining < 0 {
		return 0
	}
	return remaining
}

// processAlive probes a pid with signal 0. EPERM still proves the process
// exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
