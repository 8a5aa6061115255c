package concurrency

import (
	"fmt"
	"io"
	"sort"
	"time"

	"ultraGraph/txinterface"
)

// WaitInfo describes one queued request.
type WaitInfo struct {
	Tx    txinterface.TxID
	Mode  LockMode
	Since time.Time
}

// LockInfo is a snapshot of one resource in the lock table.
type LockInfo struct {
	Resource   Resource
	ReadCount  int
	WriteCount int
	Writer     txinterface.TxID
	Holders    []txinterface.TxID
	Waiters    []WaitInfo
}

func (li LockInfo) String() string {
	return fmt.Sprintf("%s: read=%d write=%d holders=%v waiting=%d",
		li.Resource, li.ReadCount, li.WriteCount, li.Holders, len(li.Waiters))
}

// LongestWait returns how long the oldest waiter has been queued.
func (li LockInfo) LongestWait(now time.Time) time.Duration {
	var longest time.Duration
	for _, w := range li.Waiters {
		if d := now.Sub(w.Since); d > longest {
			longest = d
		}
	}
	return longest
}

func (lm *LockManager) snapshot(r Resource, s *lockState) LockInfo {
	info := LockInfo{Resource: r, WriteCount: s.writeCount}
	holders := make(map[txinterface.TxID]struct{})
	for tx, n := range s.readers {
		info.ReadCount += n
		holders[tx] = struct{}{}
	}
	if s.writeCount > 0 {
		info.Writer = s.writer
		holders[s.writer] = struct{}{}
	}
	for tx := range holders {
		info.Holders = append(info.Holders, tx)
	}
	sort.Slice(info.Holders, func(i, j int) bool { return info.Holders[i] < info.Holders[j] })
	for _, req := range s.queue {
		info.Waiters = append(info.Waiters, WaitInfo{Tx: req.tx, Mode: req.mode, Since: req.since})
	}
	return info
}

// AllLocks returns every resource that is held or waited for, ordered by
// resource.
func (lm *LockManager) AllLocks() []LockInfo {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	out := make([]LockInfo, 0, len(lm.locks))
	for r, s := range lm.locks {
		out = append(out, lm.snapshot(r, s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Resource.less(out[j].Resource) })
	return out
}

// AwaitedLocks returns the resources some request has waited on for at least
// minWait.
func (lm *LockManager) AwaitedLocks(minWait time.Duration) []LockInfo {
	now := time.Now()
	var out []LockInfo
	for _, info := range lm.AllLocks() {
		if len(info.Waiters) > 0 && info.LongestWait(now) >= minWait {
			out = append(out, info)
		}
	}
	return out
}

func (lm *LockManager) DumpLocksOnResource(w io.Writer, r Resource) error {
	lm.mu.Lock()
	s, ok := lm.locks[r]
	var info LockInfo
	if ok {
		info = lm.snapshot(r, s)
	}
	lm.mu.Unlock()

	if !ok {
		_, err := fmt.Fprintf(w, "%s: not locked\n", r)
		return err
	}
	return dumpLockInfo(w, info, time.Now())
}

func (lm *LockManager) DumpAllLocks(w io.Writer) error {
	now := time.Now()
	locks := lm.AllLocks()
	for _, info := range locks {
		if err := dumpLockInfo(w, info, now); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "%d locked resources\n", len(locks))
	return err
}

func dumpLockInfo(w io.Writer, info LockInfo, now time.Time) error {
	if _, err := fmt.Fprintln(w, info); err != nil {
		return err
	}
	for _, wi := range info.Waiters {
		if _, err := fmt.Fprintf(w, "  %s waits for %s lock (%s)\n", wi.Tx, wi.Mode, now.Sub(wi.Since).Truncate(time.Millisecond)); err != nil {
			return err
		}
	}
	return nil
}
