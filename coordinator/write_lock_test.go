package coordinator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func lockFilePath(dir string) string {
	return filepath.Join(dir, LockFileName)
}

func writeLockRecord(t *testing.T, dir string, record LockRecord) {
	t.Helper()
	data, err := json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(lockFilePath(dir), data, 0644))
}

func TestAcquireReleaseLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	mgr := NewWriteLockManager(dir)

	lock, err := mgr.Acquire(context.Background(), "agent-a", time.Second)
	require.NoError(t, err)
	require.FileExists(t, lockFilePath(dir))

	lock.Release()
	require.NoFileExists(t, lockFilePath(dir))
}

func TestAcquireRecordsIdentity(t *testing.T) {
	dir := t.TempDir()
	mgr := NewWriteLockManager(dir)

	lock, err := mgr.Acquire(context.Background(), "agent-a", time.Second)
	require.NoError(t, err)
	defer lock.Release()

	current := mgr.Current()
	require.NotNil(t, current)
	require.Equal(t, os.Getpid(), current.ProcessID)
	require.Equal(t, "agent-a", current.AgentID)
	require.Greater(t, current.Timestamp, int64(0))
	require.Equal(t, current.Timestamp, current.Heartbeat)
	require.Equal(t, defaultLeaseDuration.Milliseconds(), current.Timeout)
}

func TestMutualExclusion(t *testing.T) {
	dir := t.TempDir()
	first := NewWriteLockManager(dir)
	second := NewWriteLockManager(dir)

	lock, err := first.Acquire(context.Background(), "agent-a", time.Second)
	require.NoError(t, err)

	_, err = second.Acquire(context.Background(), "agent-b", 300*time.Millisecond)
	var timeout *LockTimeoutError
	require.ErrorAs(t, err, &timeout)
	require.NotNil(t, timeout.Holder)
	require.Equal(t, "agent-a", timeout.Holder.AgentID)

	lock.Release()

	// Released lock is immediately acquirable.
	relock, err := second.Acquire(context.Background(), "agent-b", time.Second)
	require.NoError(t, err)
	relock.Release()
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	held := 0
	maxHeld := 0

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr := NewWriteLockManager(dir)
			lock, err := mgr.Acquire(context.Background(), "racer", 5*time.Second)
			if err != nil {
				return
			}
			mu.Lock()
			held++
			if held > maxHeld {
				maxHeld = held
			}
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			held--
			mu.Unlock()
			lock.Release()
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxHeld, "two lock managers reported holding the lock at once")
}

func TestStaleHeartbeatTakeover(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UnixMilli()

	// Live process, unexpired lease, but heartbeat older than 2x interval.
	writeLockRecord(t, dir, LockRecord{
		ProcessID: os.Getpid(),
		AgentID:   "zombie",
		Timestamp: now - 15000,
		Heartbeat: now - 11000,
		Timeout:   defaultLeaseDuration.Milliseconds(),
	})

	mgr := NewWriteLockManager(dir)
	lock, err := mgr.Acquire(context.Background(), "agent-b", time.Second)
	require.NoError(t, err)
	defer lock.Release()

	current := mgr.Current()
	require.Equal(t, "agent-b", current.AgentID)
}

func TestDeadOwnerTakeover(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UnixMilli()

	// Fresh heartbeat but a pid that cannot exist.
	writeLockRecord(t, dir, LockRecord{
		ProcessID: 1 << 30,
		AgentID:   "departed",
		Timestamp: now,
		Heartbeat: now,
		Timeout:   defaultLeaseDuration.Milliseconds(),
	})

	mgr := NewWriteLockManager(dir)
	lock, err := mgr.Acquire(context.Background(), "agent-b", time.Second)
	require.NoError(t, err)
	defer lock.Release()
}

func TestExpiredLeaseTakeover(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UnixMilli()

	writeLockRecord(t, dir, LockRecord{
		ProcessID: os.Getpid(),
		AgentID:   "expired",
		Timestamp: now - 60000,
		Heartbeat: now - 45000,
		Timeout:   30000,
	})

	mgr := NewWriteLockManager(dir)
	lock, err := mgr.Acquire(context.Background(), "agent-b", time.Second)
	require.NoError(t, err)
	defer lock.Release()
}

func TestCorruptLockFileTreatedAsStale(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(lockFilePath(dir), []byte("not json"), 0644))

	mgr := NewWriteLockManager(dir)
	lock, err := mgr.Acquire(context.Background(), "agent-b", time.Second)
	require.NoError(t, err)
	defer lock.Release()
}

func TestReleaseLeavesLaterOwnerAlone(t *testing.T) {
	dir := t.TempDir()
	mgr := NewWriteLockManager(dir)

	lock, err := mgr.Acquire(context.Background(), "agent-a", time.Second)
	require.NoError(t, err)

	// Simulate a takeover: replace the file with a different owner.
	now := time.Now().UnixMilli()
	usurper := LockRecord{
		ProcessID: os.Getpid(),
		AgentID:   "agent-b",
		Timestamp: now,
		Heartbeat: now,
		Timeout:   30000,
	}
	writeLockRecord(t, dir, usurper)

	lock.Release()

	current := mgr.Current()
	require.NotNil(t, current, "release deleted a lock it no longer owned")
	require.Equal(t, "agent-b", current.AgentID)
	require.NoError(t, os.Remove(lockFilePath(dir)))
}

func TestReleaseIdempotent(t *testing.T) {
	dir := t.TempDir()
	mgr := NewWriteLockManager(dir)

	lock, err := mgr.Acquire(context.Background(), "agent-a", time.Second)
	require.NoError(t, err)

	lock.Release()
	lock.Release()
	require.NoFileExists(t, lockFilePath(dir))
}

func TestAcquireContextCancelled(t *testing.T) {
	dir := t.TempDir()
	mgr := NewWriteLockManager(dir)

	lock, err := mgr.Acquire(context.Background(), "agent-a", time.Second)
	require.NoError(t, err)
	defer lock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewWriteLockManager(dir).Acquire(ctx, "agent-b", time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEstimateRemaining(t *testing.T) {
	mgr := NewWriteLockManager(t.TempDir())
	now := time.Now().UnixMilli()

	fresh := &LockRecord{Heartbeat: now}
	require.Greater(t, mgr.estimateRemaining(fresh), 9*time.Second)

	old := &LockRecord{Heartbeat: now - 60000}
	require.Equal(t, time.Duration(0), mgr.estimateRemaining(old))
	require.Equal(t, time.Duration(0), mgr.estimateRemaining(nil))
}
