package concurrency

import (
	"fmt"
	"io"
	"sort"

	"ultraGraph/txinterface"
)

// waitsFor derives the outgoing wait-for edges of tx from the lock table: the
// holders its pending request conflicts with and the conflicting requests
// queued ahead of it. Caller must hold lm.mu.
func (lm *LockManager) waitsFor(tx txinterface.TxID) []txinterface.TxID {
	req, ok := lm.waiting[tx]
	if !ok {
		return nil
	}
	s := lm.locks[req.resource]

	seen := make(map[txinterface.TxID]struct{})
	if s.writeCount > 0 && s.writer != tx {
		seen[s.writer] = struct{}{}
	}
	if req.mode == WriteLock {
		for reader := range s.readers {
			if reader != tx {
				seen[reader] = struct{}{}
			}
		}
	}
	for _, q := range s.queue {
		if q == req {
			break
		}
		if q.tx != tx && (req.mode == WriteLock || q.mode == WriteLock) {
			seen[q.tx] = struct{}{}
		}
	}

	out := make([]txinterface.TxID, 0, len(seen))
	for other := range seen {
		out = append(out, other)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// findCycle searches the wait-for graph depth first from start and returns
// a path start -> ... -> start if one exists. Only a newly waiting
// transaction can close a cycle, so searching from it is enough.
func (lm *LockManager) findCycle(start txinterface.TxID) []txinterface.TxID {
	visited := make(map[txinterface.TxID]bool)
	var path []txinterface.TxID

	var visit func(tx txinterface.TxID) bool
	visit = func(tx txinterface.TxID) bool {
		visited[tx] = true
		path = append(path, tx)
		for _, next := range lm.waitsFor(tx) {
			if next == start {
				path = append(path, start)
				return true
			}
			if !visited[next] && visit(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if visit(start) {
		return path
	}
	return nil
}

// DumpWaitGraph writes one line per wait-for edge.
func (lm *LockManager) DumpWaitGraph(w io.Writer) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	waiters := make([]txinterface.TxID, 0, len(lm.waiting))
	for tx := range lm.waiting {
		waiters = append(waiters, tx)
	}
	sort.Slice(waiters, func(i, j int) bool { return waiters[i] < waiters[j] })

	for _, tx := range waiters {
		req := lm.waiting[tx]
		for _, other := range lm.waitsFor(tx) {
			if _, err := fmt.Fprintf(w, "%s -> %s on %s (%s)\n", tx, other, req.resource, req.mode); err != nil {
				return err
			}
		}
	}
	return nil
}
