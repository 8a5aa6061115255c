package transaction

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"ultraGraph/command"
	"ultraGraph/concurrency"
	"ultraGraph/log_record"
	"ultraGraph/store"
	"ultraGraph/txinterface"
)

type state uint8

const (
	active state = iota
	committed
	rolledBack
)

// Transaction buffers commands under write locks and makes them durable and
// visible at Commit. A transaction is used from one goroutine, except that
// Rollback may be called from another to abort a blocked lock request.
type Transaction struct {
	tm       *TransactionMgr
	id       txinterface.TxID
	gid      []byte
	created  int64
	cm       *concurrency.ConcurrencyMgr
	commands *CommandList

	mu    sync.Mutex
	state state
}

func newTransaction(tm *TransactionMgr, id txinterface.TxID) *Transaction {
	gid := uuid.New()
	return &Transaction{
		tm:       tm,
		id:       id,
		gid:      gid[:],
		created:  time.Now().UnixMilli(),
		cm:       concurrency.NewConcurrencyMgr(tm.locks, id),
		commands: NewCommandList(),
	}
}

func (tx *Transaction) Identifier() txinterface.TxID {
	return tx.id
}

// GlobalID returns the global transaction id written in the Start entry.
func (tx *Transaction) GlobalID() []byte {
	return tx.gid
}

func resourceOf(kind store.Kind, id uint64) concurrency.Resource {
	return concurrency.Resource{Space: kind.String(), ID: id}
}

func (tx *Transaction) checkActive() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != active {
		return errors.Annotatef(ErrTxFinished, "%s", tx.id)
	}
	return nil
}

// ReadLock takes a shared lock on a record.
func (tx *Transaction) ReadLock(ctx context.Context, kind store.Kind, id uint64) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	return tx.cm.SLock(ctx, resourceOf(kind, id))
}

// Read returns a record under a shared lock, as this transaction would see
// it after its buffered writes.
func (tx *Transaction) Read(ctx context.Context, kind store.Kind, id uint64) (store.Record, error) {
	if err := tx.ReadLock(ctx, kind, id); err != nil {
		return nil, err
	}
	if cmd, ok := tx.commands.Get(kind, id); ok {
		if !cmd.Record().IsInUse() {
			return nil, errors.Annotatef(store.ErrRecordNotFound, "%s deleted by %s", cmd, tx.id)
		}
		return cmd.Record(), nil
	}
	return tx.tm.stores.Get(kind, id)
}

// Write takes an exclusive lock on the command's record and buffers the
// command until Commit.
func (tx *Transaction) Write(ctx context.Context, cmd *command.Command) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	if err := tx.cm.XLock(ctx, resourceOf(cmd.Kind(), cmd.RecordID())); err != nil {
		return err
	}
	return tx.commands.Add(cmd)
}

// Commit writes the undo group, makes the commit durable in the transaction
// log, applies the commands and marks the transaction done. Locks are
// released in every outcome.
func (tx *Transaction) Commit(ctx context.Context) (err error) {
	if err := tx.checkActive(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.finish(rolledBack)
			return
		}
		tx.finish(committed)
	}()

	cmds := tx.commands.Commands()
	if len(cmds) == 0 {
		commitsTotal.WithLabelValues("empty").Inc()
		return nil
	}
	if err := ctx.Err(); err != nil {
		commitsTotal.WithLabelValues("not-committed").Inc()
		return errors.Annotatef(ErrNotCommitted, "%s: %v", tx.id, err)
	}

	tm := tx.tm
	rcs := make([]*command.RevertibleCommand, 0, len(cmds))
	for _, cmd := range cmds {
		rc, err := command.NewRevertible(tm.stores, cmd)
		if err != nil {
			commitsTotal.WithLabelValues("not-committed").Inc()
			return errors.Annotatef(err, "%s", tx.id)
		}
		rcs = append(rcs, rc)
	}

	if err := tm.undoLog.WriteTransaction(tx.id, tx.gid, tm.cfg.MasterID, tx.created, rcs); err != nil {
		commitsTotal.WithLabelValues("not-committed").Inc()
		return errors.Annotatef(ErrNotCommitted, "%s: writing undo group: %v", tx.id, err)
	}

	entries := make([]log_record.LogEntry, 0, len(cmds)+2)
	entries = append(entries, log_record.NewStartEntry(tx.id, tx.gid, tm.cfg.BranchQualifier, tm.cfg.MasterID, tx.created))
	for _, cmd := range cmds {
		entries = append(entries, log_record.NewCommandEntry(tx.id, cmd))
	}
	commitTime := time.Now().UnixMilli()
	if commitTime < tx.created {
		commitTime = tx.created
	}
	entries = append(entries, log_record.NewCommitEntry(tx.id, commitTime))
	if _, err := tm.txLog.AppendAndForce(entries...); err != nil {
		tm.undoLog.Retire(tx.id)
		commitsTotal.WithLabelValues("not-committed").Inc()
		return errors.Annotatef(ErrNotCommitted, "%s: forcing transaction log: %v", tx.id, err)
	}

	for _, e := range entries {
		if err := tm.applier.Apply(e); err != nil {
			return tx.rollbackApplied(err)
		}
	}

	if _, err := tm.txLog.Append(log_record.NewDoneEntry(tx.id)); err != nil {
		// Recovery redoes the transaction from its Commit.
		log.Warn("failed to mark transaction done", zap.Stringer("tx", tx.id), zap.Error(err))
	}
	tm.undoLog.Retire(tx.id)
	commitsTotal.WithLabelValues("committed").Inc()
	return nil
}

// rollbackApplied restores the pre-images from the undo group after a failed
// apply and closes the transaction in the log so recovery does not redo it.
func (tx *Transaction) rollbackApplied(cause error) error {
	tm := tx.tm
	log.Warn("applying transaction failed, rolling back",
		zap.Stringer("tx", tx.id), zap.Error(cause))

	group, err := tm.undoLog.Lookup(tx.id)
	if err != nil {
		return errors.Annotatef(err, "%s: reading undo group after apply failure %v", tx.id, cause)
	}
	if err := tm.rm.Rollback(group.Transaction()); err != nil {
		return errors.Annotatef(err, "%s: rollback after apply failure %v", tx.id, cause)
	}
	if _, err := tm.txLog.AppendAndForce(log_record.NewDoneEntry(tx.id)); err != nil {
		return errors.Annotatef(err, "%s: closing rolled back transaction", tx.id)
	}
	tm.undoLog.Retire(tx.id)
	rollbacksTotal.Inc()
	commitsTotal.WithLabelValues("rolled-back").Inc()
	return errors.Annotatef(ErrRolledBack, "%s: %v", tx.id, cause)
}

// Rollback discards the buffered commands and releases every lock,
// including a lock request the transaction is blocked on.
func (tx *Transaction) Rollback() error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	tx.cm.Abort()
	tx.finish(rolledBack)
	return nil
}

func (tx *Transaction) finish(s state) {
	tx.mu.Lock()
	if tx.state != active {
		tx.mu.Unlock()
		return
	}
	tx.state = s
	tx.mu.Unlock()

	if err := tx.cm.Release(); err != nil {
		log.Warn("failed to release locks", zap.Stringer("tx", tx.id), zap.Error(err))
	}
	tx.commands.Clear()
}
