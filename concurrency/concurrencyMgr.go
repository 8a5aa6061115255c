package concurrency

import (
	"context"
	"sync"

	"github.com/pingcap/errors"

	"ultraGraph/txinterface"
)

type heldLock struct {
	read  bool
	write bool
}

// ConcurrencyMgr tracks the locks of one transaction so that it takes each
// lock at most once and can release them all at the end.
type ConcurrencyMgr struct {
	lm    *LockManager
	tx    txinterface.TxID
	locks map[Resource]heldLock
	mu    sync.Mutex // Protect shared map access
}

func NewConcurrencyMgr(lm *LockManager, tx txinterface.TxID) *ConcurrencyMgr {
	return &ConcurrencyMgr{
		lm:    lm,
		tx:    tx,
		locks: make(map[Resource]heldLock),
	}
}

func (cM *ConcurrencyMgr) SLock(ctx context.Context, r Resource) error {
	cM.mu.Lock()
	// If we already have any lock (S or X), no need to acquire again
	if _, exists := cM.locks[r]; exists {
		cM.mu.Unlock()
		return nil
	}
	cM.mu.Unlock()

	if err := cM.lm.AcquireRead(ctx, cM.tx, r); err != nil {
		return errors.Annotate(err, "failed to acquire shared lock")
	}

	cM.mu.Lock()
	defer cM.mu.Unlock()
	h := cM.locks[r]
	h.read = true
	cM.locks[r] = h
	return nil
}

// XLock takes an exclusive lock, upgrading a shared lock this transaction
// already holds.
func (cM *ConcurrencyMgr) XLock(ctx context.Context, r Resource) error {
	cM.mu.Lock()
	if cM.locks[r].write {
		cM.mu.Unlock()
		return nil
	}
	cM.mu.Unlock()

	if err := cM.lm.AcquireWrite(ctx, cM.tx, r); err != nil {
		return errors.Annotate(err, "failed to acquire exclusive lock")
	}

	cM.mu.Lock()
	defer cM.mu.Unlock()
	h := cM.locks[r]
	h.write = true
	cM.locks[r] = h
	return nil
}

// Release gives back every lock taken through this manager.
func (cM *ConcurrencyMgr) Release() error {
	cM.mu.Lock()
	defer cM.mu.Unlock()

	var firstErr error
	for r, h := range cM.locks {
		if h.write {
			if err := cM.lm.ReleaseWrite(r, cM.tx); err != nil && firstErr == nil {
				firstErr = errors.Annotatef(err, "failed to release lock for %s", r)
			}
		}
		if h.read {
			if err := cM.lm.ReleaseRead(r, cM.tx); err != nil && firstErr == nil {
				firstErr = errors.Annotatef(err, "failed to release lock for %s", r)
			}
		}
	}

	// Clear the locks map regardless of errors
	cM.locks = make(map[Resource]heldLock)
	return firstErr
}

// Abort releases everything the transaction holds and fails a lock request
// it is blocked on. It may be called from another goroutine.
func (cM *ConcurrencyMgr) Abort() {
	cM.lm.ReleaseAll(cM.tx)

	cM.mu.Lock()
	defer cM.mu.Unlock()
	cM.locks = make(map[Resource]heldLock)
}

// LockType returns the strongest mode held on r.
func (cM *ConcurrencyMgr) LockType(r Resource) (LockMode, bool) {
	cM.mu.Lock()
	defer cM.mu.Unlock()

	h, exists := cM.locks[r]
	switch {
	case !exists:
		return 0, false
	case h.write:
		return WriteLock, true
	default:
		return ReadLock, true
	}
}

func (cM *ConcurrencyMgr) Tx() txinterface.TxID {
	return cM.tx
}
