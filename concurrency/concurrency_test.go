package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultraGraph/txinterface"
)

// TestConcurrencyManagerConcurrent runs several readers and one writer
// against the same resource, each through its own ConcurrencyMgr.
func TestConcurrencyManagerConcurrent(t *testing.T) {
	lm := NewLockManager(5 * time.Second)
	res := Resource{Space: "node", ID: 42}
	ctx := context.Background()

	var wg sync.WaitGroup
	numReaders := 3

	for i := 1; i <= numReaders; i++ {
		wg.Add(1)
		go func(readerID int) {
			defer wg.Done()
			cm := NewConcurrencyMgr(lm, txinterface.TxID(readerID))

			if err := cm.SLock(ctx, res); err != nil {
				t.Errorf("[Reader %d] Failed to SLock: %v", readerID, err)
				return
			}
			t.Logf("[Reader %d] Acquired SLock", readerID)

			time.Sleep(50 * time.Millisecond)

			if err := cm.Release(); err != nil {
				t.Errorf("[Reader %d] Failed to release: %v", readerID, err)
			}
		}(i)
	}

	time.Sleep(20 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		cm := NewConcurrencyMgr(lm, 100)

		if err := cm.XLock(ctx, res); err != nil {
			t.Errorf("[Writer] Failed to XLock: %v", err)
			return
		}
		t.Logf("[Writer] Acquired XLock")

		time.Sleep(50 * time.Millisecond)

		if err := cm.Release(); err != nil {
			t.Errorf("[Writer] Failed to release after XLock: %v", err)
		}
	}()

	wg.Wait()
	assert.Empty(t, lm.AllLocks())
	assert.Zero(t, lm.DetectedDeadlockCount())
}

func TestConcurrencyMgr(t *testing.T) {
	lm := NewLockManager(time.Second)
	ctx := context.Background()
	res := Resource{Space: "property", ID: 7}
	cm := NewConcurrencyMgr(lm, 1)

	_, ok := cm.LockType(res)
	assert.False(t, ok)

	require.NoError(t, cm.SLock(ctx, res))
	require.NoError(t, cm.SLock(ctx, res))
	mode, ok := cm.LockType(res)
	require.True(t, ok)
	assert.Equal(t, ReadLock, mode)
	assert.Equal(t, 1, lm.AllLocks()[0].ReadCount, "second SLock is not taken again")

	require.NoError(t, cm.XLock(ctx, res))
	require.NoError(t, cm.XLock(ctx, res))
	mode, _ = cm.LockType(res)
	assert.Equal(t, WriteLock, mode)
	assert.Equal(t, 1, lm.AllLocks()[0].WriteCount)

	require.NoError(t, cm.Release())
	assert.Empty(t, lm.AllLocks())
	_, ok = cm.LockType(res)
	assert.False(t, ok)
}

func TestConcurrencyMgrAbort(t *testing.T) {
	lm := NewLockManager(0)
	ctx := context.Background()
	owner := NewConcurrencyMgr(lm, 1)
	blocked := NewConcurrencyMgr(lm, 2)
	held := Resource{Space: "node", ID: 1}
	wanted := Resource{Space: "node", ID: 2}

	require.NoError(t, owner.XLock(ctx, wanted))
	require.NoError(t, blocked.XLock(ctx, held))

	done := make(chan error, 1)
	go func() { done <- blocked.SLock(ctx, wanted) }()
	waitQueued(t, lm, wanted, 1)

	blocked.Abort()
	assert.Equal(t, ErrTxAborted, errors.Cause(requireResult(t, done)))
	_, ok := blocked.LockType(held)
	assert.False(t, ok)

	locks := lm.AllLocks()
	require.Len(t, locks, 1)
	assert.Equal(t, wanted, locks[0].Resource)
	require.NoError(t, owner.Release())
}
