package transaction

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultraGraph/buffer"
	"ultraGraph/command"
	"ultraGraph/concurrency"
	"ultraGraph/kfile"
	"ultraGraph/log_record"
	"ultraGraph/recovery"
	"ultraGraph/store"
	"ultraGraph/txinterface"
	"ultraGraph/txlog"
)

func property(id uint64, value string, created bool) *command.Command {
	return command.PropertyCommand(&store.PropertyRecord{
		ID:         id,
		InUse:      true,
		Created:    created,
		KeyIndexID: 1,
		Value:      []byte(value),
		PrevProp:   store.NoPrevProperty,
		NextProp:   store.NoNextProperty,
	})
}

func node(id uint64, created bool) *command.Command {
	return command.NodeCommand(&store.NodeRecord{ID: id, InUse: true, Created: created, NextRel: store.NoNextRelationship, NextProp: store.NoNextProperty})
}

func setup(t *testing.T, stores *store.Stores, opts ...Option) (*kfile.FileMgr, *TransactionMgr) {
	t.Helper()
	fm, err := kfile.NewFileMgr(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fm.Close() })
	tm, err := NewTransactionMgr(fm, stores, Config{LockWaitTimeout: time.Second}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { tm.Close() })
	return fm, tm
}

func logTypes(t *testing.T, lm *txlog.LogMgr) []log_record.EntryType {
	t.Helper()
	it, err := lm.Iterator()
	require.NoError(t, err)
	defer it.Close()
	var types []log_record.EntryType
	for it.HasNext() {
		e, err := it.Next()
		require.NoError(t, err)
		types = append(types, e.Type())
	}
	require.NoError(t, it.Err())
	return types
}

func TestCommit(t *testing.T) {
	stores := store.NewMemStores()
	_, tm := setup(t, stores)
	ctx := context.Background()

	tx := tm.Begin()
	assert.Equal(t, txinterface.TxID(1), tx.Identifier())
	assert.Len(t, tx.GlobalID(), 16)
	require.NoError(t, tx.Write(ctx, node(1, true)))
	require.NoError(t, tx.Write(ctx, property(5, "A", true)))
	require.NoError(t, tx.Write(ctx, property(5, "B", false)))

	rec, err := tx.Read(ctx, store.KindProperty, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("B"), rec.(*store.PropertyRecord).Value)
	_, err = stores.Properties.Get(5)
	assert.True(t, store.IsNotFound(err), "nothing is visible before commit")

	require.NoError(t, tx.Commit(ctx))
	got, err := stores.Properties.Get(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("B"), got.Value)
	_, err = stores.Nodes.Get(1)
	require.NoError(t, err)

	assert.Empty(t, tm.Locks().AllLocks())
	assert.Equal(t, []log_record.EntryType{
		log_record.TypeStart, log_record.TypeCommand, log_record.TypeCommand, log_record.TypeCommit, log_record.TypeDone,
	}, logTypes(t, tm.TxLog()))

	assert.Equal(t, ErrTxFinished, errors.Cause(tx.Commit(ctx)))
	assert.Equal(t, ErrTxFinished, errors.Cause(tx.Write(ctx, node(2, true))))
}

func TestRollbackBeforeCommit(t *testing.T) {
	stores := store.NewMemStores()
	_, tm := setup(t, stores)
	ctx := context.Background()

	tx := tm.Begin()
	require.NoError(t, tx.Write(ctx, node(1, true)))
	require.NoError(t, tx.Rollback())
	assert.Empty(t, tm.Locks().AllLocks())
	_, err := stores.Nodes.Get(1)
	assert.True(t, store.IsNotFound(err))
	assert.Empty(t, logTypes(t, tm.TxLog()))
	assert.Equal(t, ErrTxFinished, errors.Cause(tx.Rollback()))
}

func TestApplyFailureRollsBack(t *testing.T) {
	stores := store.NewMemStores()
	require.NoError(t, property(5, "before", true).Apply(stores))

	applied := 0
	failing := recovery.ApplierFunc(func(e log_record.LogEntry) error {
		if e.Type() != log_record.TypeCommand {
			return nil
		}
		applied++
		if applied == 2 {
			return errors.New("store unavailable")
		}
		return recovery.NewStoreApplier(stores).Apply(e)
	})
	_, tm := setup(t, stores, WithApplier(failing))
	ctx := context.Background()

	tx := tm.Begin()
	require.NoError(t, tx.Write(ctx, property(5, "after", false)))
	require.NoError(t, tx.Write(ctx, node(9, true)))
	err := tx.Commit(ctx)
	assert.Equal(t, ErrRolledBack, errors.Cause(err))

	got, err := stores.Properties.Get(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), got.Value)
	_, err = stores.Nodes.Get(9)
	assert.True(t, store.IsNotFound(err))
	assert.Empty(t, tm.Locks().AllLocks())

	types := logTypes(t, tm.TxLog())
	assert.Equal(t, log_record.TypeDone, types[len(types)-1], "rolled back transaction is closed for recovery")
}

var errFsync = errors.New("fsync failed")

// failingLog makes the next forceFailures forces of tx.log fail after the
// bytes reached the file. Other files are untouched.
type failingLog struct {
	forceFailures int
}

type failingBuffer struct {
	buffer.LogBuffer
	owner *failingLog
}

func (b *failingBuffer) Force() error {
	if b.owner.forceFailures > 0 {
		b.owner.forceFailures--
		return errFsync
	}
	return b.LogBuffer.Force()
}

func (l *failingLog) factory(f *os.File) (buffer.LogBuffer, error) {
	inner, err := buffer.FactoryFor(0)(f)
	if err != nil || filepath.Base(f.Name()) != "tx.log" {
		return inner, err
	}
	return &failingBuffer{LogBuffer: inner, owner: l}, nil
}

func TestFailedLogForceIsNotCommitted(t *testing.T) {
	stores := store.NewMemStores()
	faults := &failingLog{}
	fm, err := kfile.NewFileMgr(t.TempDir())
	require.NoError(t, err)
	defer fm.Close()
	tm, err := NewTransactionMgr(fm, stores, Config{LockWaitTimeout: time.Second, BufferFactory: faults.factory})
	require.NoError(t, err)
	ctx := context.Background()

	lost := tm.Begin()
	require.NoError(t, lost.Write(ctx, property(5, "lost", true)))
	faults.forceFailures = 1
	err = lost.Commit(ctx)
	assert.Equal(t, ErrNotCommitted, errors.Cause(err))
	_, err = stores.Properties.Get(5)
	assert.True(t, store.IsNotFound(err))
	assert.Empty(t, tm.Locks().AllLocks())

	kept := tm.Begin()
	require.NoError(t, kept.Write(ctx, property(6, "kept", true)))
	require.NoError(t, kept.Commit(ctx))
	require.NoError(t, tm.Close())

	reopened, err := NewTransactionMgr(fm, stores, Config{})
	require.NoError(t, err)
	defer reopened.Close()

	stats := reopened.RecoveryStats()
	assert.Zero(t, stats.Recovered)
	assert.Equal(t, 1, stats.Completed)
	assert.Zero(t, stats.Discarded)
	_, err = stores.Properties.Get(5)
	assert.True(t, store.IsNotFound(err), "transaction reported as not committed stays unapplied")
	got, err := stores.Properties.Get(6)
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), got.Value)
}

func TestWriteDeadlock(t *testing.T) {
	_, tm := setup(t, store.NewMemStores())
	ctx := context.Background()

	t1, t2 := tm.Begin(), tm.Begin()
	require.NoError(t, t1.Write(ctx, node(1, true)))
	require.NoError(t, t2.Write(ctx, node(2, true)))

	done := make(chan error, 1)
	go func() { done <- t1.Write(ctx, node(2, true)) }()
	require.Eventually(t, func() bool { return len(tm.Locks().AwaitedLocks(0)) == 1 }, time.Second, time.Millisecond)

	err := t2.Write(ctx, node(1, true))
	assert.True(t, concurrency.IsDeadlock(err))
	require.NoError(t, t2.Rollback())

	require.NoError(t, <-done)
	require.NoError(t, t1.Commit(ctx))
	assert.Equal(t, int64(1), tm.Locks().DetectedDeadlockCount())
}

func TestRestartRecoversCommitWithoutDone(t *testing.T) {
	stores := store.NewMemStores()
	fm, tm := setup(t, stores)
	ctx := context.Background()

	tx := tm.Begin()
	require.NoError(t, tx.Write(ctx, node(1, true)))
	require.NoError(t, tx.Commit(ctx))
	_, err := tm.TxLog().AppendAndForce(
		log_record.NewStartEntry(7, nil, nil, 0, 10),
		log_record.NewCommandEntry(7, property(3, "redo", true)),
		log_record.NewCommitEntry(7, 20),
	)
	require.NoError(t, err)
	require.NoError(t, tm.Close())

	reopened, err := NewTransactionMgr(fm, stores, Config{})
	require.NoError(t, err)
	defer reopened.Close()

	stats := reopened.RecoveryStats()
	assert.Equal(t, 1, stats.Recovered)
	assert.Equal(t, 1, stats.Completed)
	got, err := stores.Properties.Get(3)
	require.NoError(t, err)
	assert.Equal(t, []byte("redo"), got.Value)
	assert.Equal(t, txinterface.TxID(2), reopened.Begin().Identifier())
}

func TestCommandList(t *testing.T) {
	cl := NewCommandList()
	require.NoError(t, cl.Add(property(1, "a", true)))
	require.NoError(t, cl.Add(node(2, true)))
	require.NoError(t, cl.Add(property(1, "b", false)))

	require.Equal(t, 2, cl.Len())
	first := cl.Commands()[0]
	assert.Equal(t, store.KindProperty, first.Kind())
	assert.True(t, first.IsCreated(), "record stays created across rewrites")
	assert.Equal(t, []byte("b"), first.Record().(*store.PropertyRecord).Value)

	_, ok := cl.Get(store.KindNode, 2)
	assert.True(t, ok)
	cl.Clear()
	assert.Zero(t, cl.Len())
}
