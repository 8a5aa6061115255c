package transaction

import (
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"ultraGraph/buffer"
	"ultraGraph/concurrency"
	"ultraGraph/kfile"
	"ultraGraph/recovery"
	"ultraGraph/store"
	"ultraGraph/txinterface"
	"ultraGraph/txlog"
	"ultraGraph/undo"
)

var (
	// ErrNotCommitted is returned when the transaction log could not make a
	// commit durable. Nothing of the transaction was applied.
	ErrNotCommitted = errors.New("transaction not committed")
	// ErrRolledBack is returned when applying a committed transaction failed
	// and its writes were undone.
	ErrRolledBack = errors.New("transaction rolled back")
	// ErrTxFinished is returned by operations on a committed or rolled back
	// transaction.
	ErrTxFinished = errors.New("transaction already finished")
)

type Config struct {
	TxLogFile       string
	UndoFilePrefix  string
	UndoSizeLimit   int64
	BufferFactory   buffer.Factory
	LockWaitTimeout time.Duration
	MasterID        int32
	BranchQualifier []byte
	Verifier        recovery.Verifier
}

type Option func(*TransactionMgr)

// WithApplier replaces the store applier used at commit.
func WithApplier(a recovery.Applier) Option {
	return func(tm *TransactionMgr) {
		tm.applier = a
	}
}

// TransactionMgr hands out transactions over one set of stores. Opening it
// recovers the stores from the transaction log of the previous run.
type TransactionMgr struct {
	fm      *kfile.FileMgr
	stores  *store.Stores
	cfg     Config
	rm      *recovery.Mgr
	txLog   *txlog.LogMgr
	undoLog *undo.UndoLog
	locks   *concurrency.LockManager
	applier recovery.Applier
	stats   *recovery.Stats
	nextID  *atomic.Int32
}

func NewTransactionMgr(fm *kfile.FileMgr, stores *store.Stores, cfg Config, opts ...Option) (*TransactionMgr, error) {
	if cfg.TxLogFile == "" {
		cfg.TxLogFile = "tx.log"
	}
	if cfg.UndoFilePrefix == "" {
		cfg.UndoFilePrefix = undo.DefaultFilePrefix
	}
	if cfg.BufferFactory == nil {
		cfg.BufferFactory = buffer.FactoryFor(0)
	}

	rm := recovery.NewRecoveryMgr(fm, stores, recovery.Config{
		TxLogFile:     cfg.TxLogFile,
		UndoPrefix:    cfg.UndoFilePrefix,
		BufferFactory: cfg.BufferFactory,
		Verifier:      cfg.Verifier,
	})
	stats, err := rm.Recover()
	if err != nil {
		return nil, errors.Annotate(err, "recovering stores")
	}

	txLog, err := txlog.NewLogMgr(fm, cfg.TxLogFile, cfg.BufferFactory)
	if err != nil {
		return nil, err
	}
	undoLog, err := undo.Open(fm, undo.Config{
		FilePrefix:    cfg.UndoFilePrefix,
		SizeLimit:     cfg.UndoSizeLimit,
		BufferFactory: cfg.BufferFactory,
	})
	if err != nil {
		txLog.Close()
		return nil, err
	}

	tm := &TransactionMgr{
		fm:      fm,
		stores:  stores,
		cfg:     cfg,
		rm:      rm,
		txLog:   txLog,
		undoLog: undoLog,
		locks:   concurrency.NewLockManager(cfg.LockWaitTimeout),
		applier: recovery.NewStoreApplier(stores),
		stats:   stats,
		nextID:  atomic.NewInt32(int32(stats.NextIdentifier) - 1),
	}
	for _, opt := range opts {
		opt(tm)
	}
	log.Info("transaction manager opened",
		zap.String("dir", fm.Dir()),
		zap.Int32("next-identifier", int32(stats.NextIdentifier)))
	return tm, nil
}

// Begin starts a transaction.
func (tm *TransactionMgr) Begin() *Transaction {
	return newTransaction(tm, txinterface.TxID(tm.nextID.Inc()))
}

// RecoveryStats reports what opening the manager recovered.
func (tm *TransactionMgr) RecoveryStats() recovery.Stats {
	return *tm.stats
}

func (tm *TransactionMgr) Locks() *concurrency.LockManager {
	return tm.locks
}

func (tm *TransactionMgr) UndoLog() *undo.UndoLog {
	return tm.undoLog
}

func (tm *TransactionMgr) TxLog() *txlog.LogMgr {
	return tm.txLog
}

// Close closes both logs. The stores are left to their owner.
func (tm *TransactionMgr) Close() error {
	err := tm.txLog.Close()
	if uerr := tm.undoLog.Close(); err == nil {
		err = uerr
	}
	return err
}
