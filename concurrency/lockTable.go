package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"ultraGraph/txinterface"
)

// Resource names something a transaction can lock, for example a node record
// as {Space: "node", ID: 5}.
type Resource struct {
	Space string
	ID    uint64
}

func (r Resource) String() string {
	return fmt.Sprintf("%s(%d)", r.Space, r.ID)
}

func (r Resource) less(o Resource) bool {
	if r.Space != o.Space {
		return r.Space < o.Space
	}
	return r.ID < o.ID
}

type LockMode uint8

const (
	ReadLock LockMode = iota + 1
	WriteLock
)

func (m LockMode) String() string {
	switch m {
	case ReadLock:
		return "read"
	case WriteLock:
		return "write"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// request is a queued acquire call. done and result are set under the
// manager mutex, and the outcome is sent on ready exactly once.
type request struct {
	tx       txinterface.TxID
	resource Resource
	mode     LockMode
	upgrade  bool
	since    time.Time
	ready    chan error
	done     bool
}

type lockState struct {
	readers    map[txinterface.TxID]int
	writer     txinterface.TxID
	writeCount int
	queue      []*request
}

func (s *lockState) holds(tx txinterface.TxID) bool {
	return s.readers[tx] > 0 || (s.writer == tx && s.writeCount > 0)
}

func (s *lockState) idle() bool {
	return len(s.readers) == 0 && s.writeCount == 0 && len(s.queue) == 0
}

// compatible reports whether tx could hold mode on the resource alongside the
// current holders.
func (s *lockState) compatible(tx txinterface.TxID, mode LockMode) bool {
	if s.writeCount > 0 && s.writer != tx {
		return false
	}
	if mode == ReadLock {
		return true
	}
	for reader := range s.readers {
		if reader != tx {
			return false
		}
	}
	return true
}

func (s *lockState) grant(tx txinterface.TxID, mode LockMode) {
	if mode == ReadLock {
		s.readers[tx]++
		return
	}
	s.writer = tx
	s.writeCount++
}

func (s *lockState) dequeue(req *request) {
	for i, q := range s.queue {
		if q == req {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// LockManager is a table of reentrant read/write locks keyed by Resource.
// Requests that cannot be granted wait in FIFO order per resource. Before a
// request waits, the wait-for graph is searched from the requesting
// transaction and the request fails with a *DeadlockError if it would close
// a cycle.
type LockManager struct {
	mu          sync.Mutex
	locks       map[Resource]*lockState
	held        map[txinterface.TxID]map[Resource]struct{}
	waiting     map[txinterface.TxID]*request
	waitTimeout time.Duration
	deadlocks   *atomic.Int64
}

// NewLockManager creates a lock manager. A positive waitTimeout bounds every
// wait; zero waits until granted, denied or the context ends.
func NewLockManager(waitTimeout time.Duration) *LockManager {
	return &LockManager{
		locks:       make(map[Resource]*lockState),
		held:        make(map[txinterface.TxID]map[Resource]struct{}),
		waiting:     make(map[txinterface.TxID]*request),
		waitTimeout: waitTimeout,
		deadlocks:   atomic.NewInt64(0),
	}
}

func (lm *LockManager) AcquireRead(ctx context.Context, tx txinterface.TxID, r Resource) error {
	return lm.acquire(ctx, tx, r, ReadLock)
}

// AcquireWrite takes a write lock. A transaction holding the only read lock
// on r is upgraded in place; otherwise the upgrade request waits ahead of
// transactions that do not hold r yet.
func (lm *LockManager) AcquireWrite(ctx context.Context, tx txinterface.TxID, r Resource) error {
	return lm.acquire(ctx, tx, r, WriteLock)
}

func (lm *LockManager) acquire(ctx context.Context, tx txinterface.TxID, r Resource, mode LockMode) error {
	if r.Space == "" {
		return errors.Annotatef(ErrIllegalResource, "%s requesting %s lock on %s", tx, mode, r)
	}
	if tx == txinterface.NoTx {
		return errors.Annotatef(ErrIllegalResource, "no transaction requesting %s lock on %s", mode, r)
	}

	lm.mu.Lock()
	if pending, ok := lm.waiting[tx]; ok {
		lm.mu.Unlock()
		return errors.Errorf("%s is already waiting for %s", tx, pending.resource)
	}
	s := lm.state(r)
	holder := s.holds(tx)
	if s.compatible(tx, mode) && (len(s.queue) == 0 || holder) {
		s.grant(tx, mode)
		lm.addHeld(tx, r)
		lm.mu.Unlock()
		return nil
	}

	req := &request{
		tx:       tx,
		resource: r,
		mode:     mode,
		upgrade:  holder,
		since:    time.Now(),
		ready:    make(chan error, 1),
	}
	lm.enqueue(s, req)
	lm.waiting[tx] = req

	if cycle := lm.findCycle(tx); cycle != nil {
		lm.withdraw(s, req)
		lm.mu.Unlock()
		lm.deadlocks.Inc()
		deadlocksDetected.Inc()
		err := &DeadlockError{Tx: tx, Resource: r, Mode: mode, Cycle: cycle}
		log.Warn("lock request would deadlock",
			zap.Stringer("tx", tx),
			zap.Stringer("resource", r),
			zap.Stringer("mode", mode),
			zap.Error(err))
		return err
	}
	lm.mu.Unlock()

	return lm.wait(ctx, req)
}

func (lm *LockManager) wait(ctx context.Context, req *request) error {
	var timeout <-chan time.Time
	if lm.waitTimeout > 0 {
		timer := time.NewTimer(lm.waitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-req.ready:
		lm.observeWait(req, err)
		return err
	case <-timeout:
		return lm.giveUp(req, errors.Annotatef(ErrLockTimeout, "%s waited %s for %s lock on %s",
			req.tx, lm.waitTimeout, req.mode, req.resource))
	case <-ctx.Done():
		return lm.giveUp(req, errors.Annotatef(ctx.Err(), "%s waiting for %s lock on %s",
			req.tx, req.mode, req.resource))
	}
}

// giveUp withdraws req unless it was settled while the caller stopped
// waiting, in which case that outcome wins.
func (lm *LockManager) giveUp(req *request, cause error) error {
	lm.mu.Lock()
	if req.done {
		lm.mu.Unlock()
		err := <-req.ready
		lm.observeWait(req, err)
		return err
	}
	lm.withdraw(lm.locks[req.resource], req)
	lm.mu.Unlock()
	if errors.Cause(cause) == ErrLockTimeout {
		lockTimeouts.Inc()
	}
	return cause
}

func (lm *LockManager) observeWait(req *request, err error) {
	if err == nil {
		lockWaitDuration.WithLabelValues(req.mode.String()).Observe(time.Since(req.since).Seconds())
	}
}

func (lm *LockManager) state(r Resource) *lockState {
	s, ok := lm.locks[r]
	if !ok {
		s = &lockState{readers: make(map[txinterface.TxID]int)}
		lm.locks[r] = s
	}
	return s
}

// enqueue appends req, or for an upgrade places it after the upgrades already
// queued and ahead of every other waiter.
func (lm *LockManager) enqueue(s *lockState, req *request) {
	if !req.upgrade {
		s.queue = append(s.queue, req)
		return
	}
	at := 0
	for at < len(s.queue) && s.queue[at].upgrade {
		at++
	}
	s.queue = append(s.queue, nil)
	copy(s.queue[at+1:], s.queue[at:])
	s.queue[at] = req
}

// withdraw removes a request that will not be granted and lets the requests
// queued behind it proceed where they now can.
func (lm *LockManager) withdraw(s *lockState, req *request) {
	delete(lm.waiting, req.tx)
	s.dequeue(req)
	lm.promote(req.resource, s)
}

// promote grants the head of the queue while it is compatible, which is one
// writer or a run of readers.
func (lm *LockManager) promote(r Resource, s *lockState) {
	for len(s.queue) > 0 {
		head := s.queue[0]
		if !s.compatible(head.tx, head.mode) {
			break
		}
		s.queue = s.queue[1:]
		s.grant(head.tx, head.mode)
		lm.addHeld(head.tx, r)
		lm.settle(head, nil)
	}
	if s.idle() {
		delete(lm.locks, r)
	}
}

func (lm *LockManager) settle(req *request, err error) {
	delete(lm.waiting, req.tx)
	req.done = true
	req.ready <- err
}

func (lm *LockManager) addHeld(tx txinterface.TxID, r Resource) {
	set, ok := lm.held[tx]
	if !ok {
		set = make(map[Resource]struct{})
		lm.held[tx] = set
	}
	set[r] = struct{}{}
}

func (lm *LockManager) dropHeld(tx txinterface.TxID, r Resource, s *lockState) {
	if s.holds(tx) {
		return
	}
	delete(lm.held[tx], r)
	if len(lm.held[tx]) == 0 {
		delete(lm.held, tx)
	}
}

// ReleaseRead releases one read lock tx holds on r.
func (lm *LockManager) ReleaseRead(r Resource, tx txinterface.TxID) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	s, ok := lm.locks[r]
	if !ok || s.readers[tx] == 0 {
		return errors.Annotatef(ErrLockNotHeld, "%s releasing read lock on %s", tx, r)
	}
	s.readers[tx]--
	if s.readers[tx] == 0 {
		delete(s.readers, tx)
	}
	lm.dropHeld(tx, r, s)
	lm.promote(r, s)
	return nil
}

// ReleaseWrite releases one write lock tx holds on r.
func (lm *LockManager) ReleaseWrite(r Resource, tx txinterface.TxID) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	s, ok := lm.locks[r]
	if !ok || s.writer != tx || s.writeCount == 0 {
		return errors.Annotatef(ErrLockNotHeld, "%s releasing write lock on %s", tx, r)
	}
	s.writeCount--
	if s.writeCount == 0 {
		s.writer = txinterface.NoTx
	}
	lm.dropHeld(tx, r, s)
	lm.promote(r, s)
	return nil
}

// ReleaseAll drops every lock tx holds and fails its pending request, if
// any, with ErrTxAborted. It is used when a transaction aborts.
func (lm *LockManager) ReleaseAll(tx txinterface.TxID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if req, ok := lm.waiting[tx]; ok {
		s := lm.locks[req.resource]
		s.dequeue(req)
		lm.settle(req, errors.Annotatef(ErrTxAborted, "%s waiting for %s lock on %s", tx, req.mode, req.resource))
		lm.promote(req.resource, s)
	}
	for r := range lm.held[tx] {
		s := lm.locks[r]
		delete(s.readers, tx)
		if s.writer == tx {
			s.writer = txinterface.NoTx
			s.writeCount = 0
		}
		lm.promote(r, s)
	}
	delete(lm.held, tx)
}

// DetectedDeadlockCount returns how many requests failed deadlock detection.
func (lm *LockManager) DetectedDeadlockCount() int64 {
	return lm.deadlocks.Load()
}
