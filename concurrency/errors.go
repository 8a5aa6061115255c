package concurrency

import (
	"fmt"
	"strings"

	"github.com/pingcap/errors"

	"ultraGraph/txinterface"
)

var (
	ErrDeadlock        = errors.New("deadlock detected")
	ErrLockNotHeld     = errors.New("lock not held")
	ErrLockTimeout     = errors.New("lock wait timed out")
	ErrTxAborted       = errors.New("transaction aborted while waiting for lock")
	ErrIllegalResource = errors.New("illegal lock resource")
)

// DeadlockError is returned to the request whose wait would close a cycle in
// the wait-for graph. The request has been withdrawn; the caller must abort
// its transaction.
type DeadlockError struct {
	Tx       txinterface.TxID
	Resource Resource
	Mode     LockMode
	// Cycle starts and ends with Tx.
	Cycle []txinterface.TxID
}

func (e *DeadlockError) Error() string {
	path := make([]string, len(e.Cycle))
	for i, tx := range e.Cycle {
		path[i] = tx.String()
	}
	return fmt.Sprintf("%s: %s requesting %s lock on %s waits on [%s]",
		ErrDeadlock, e.Tx, e.Mode, e.Resource, strings.Join(path, " -> "))
}

func (e *DeadlockError) Cause() error {
	return ErrDeadlock
}

// IsDeadlock reports whether err was caused by deadlock detection.
func IsDeadlock(err error) bool {
	return errors.Cause(err) == ErrDeadlock
}
