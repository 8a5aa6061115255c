package recovery

import (
	"io"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"ultraGraph/buffer"
	"ultraGraph/kfile"
	"ultraGraph/log_record"
	"ultraGraph/store"
	"ultraGraph/txinterface"
	"ultraGraph/undo"
	"ultraGraph/utils"
)

const (
	recoveringSuffix = ".recovering"
	incompleteSuffix = ".incomplete"
)

type Config struct {
	TxLogFile     string
	UndoPrefix    string
	BufferFactory buffer.Factory
	Verifier      Verifier
}

// Stats summarizes one recovery pass.
type Stats struct {
	// Recovered counts committed transactions that lacked Done and were redone.
	Recovered int
	// Completed counts transactions that already carried Done.
	Completed int
	// Discarded counts transactions without Commit; they are quarantined.
	Discarded int
	// UndoGroups counts undo groups found in leftover segments.
	UndoGroups int
	// TruncatedAt is the offset of a torn final entry, or -1.
	TruncatedAt int64
	// NextIdentifier is the first identifier free for new transactions.
	NextIdentifier txinterface.TxID
}

// Mgr brings the stores back in line with the transaction log at startup and
// rolls back transactions whose application failed.
type Mgr struct {
	fm     *kfile.FileMgr
	stores *store.Stores
	cfg    Config
}

func NewRecoveryMgr(fm *kfile.FileMgr, stores *store.Stores, cfg Config) *Mgr {
	if cfg.TxLogFile == "" {
		cfg.TxLogFile = "tx.log"
	}
	if cfg.UndoPrefix == "" {
		cfg.UndoPrefix = undo.DefaultFilePrefix
	}
	if cfg.BufferFactory == nil {
		cfg.BufferFactory = buffer.FactoryFor(0)
	}
	if cfg.Verifier == nil {
		cfg.Verifier = ConsistencyVerifier{}
	}
	return &Mgr{fm: fm, stores: stores, cfg: cfg}
}

// Rollback applies the commands of tx in reverse order. tx holds inverse
// commands as read from the undo log.
func (m *Mgr) Rollback(tx *log_record.RevertibleTransaction) error {
	cmds := tx.Commands()
	for i := len(cmds) - 1; i >= 0; i-- {
		if err := cmds[i].Apply(m.stores); err != nil {
			return errors.Annotatef(err, "rolling back transaction %d", tx.Identifier())
		}
	}
	return nil
}

// span is the byte range of one entry in the source log.
type span struct {
	id     txinterface.TxID
	offset int64
	length int64
}

type groupState struct {
	start     *log_record.StartEntry
	tx        *log_record.RevertibleTransaction
	committed bool
	done      bool
}

// Recover redoes every committed transaction that lacks its Done entry and
// leaves a fresh transaction log holding only those, each closed by Done.
// Transactions without Commit are never applied; they are written to the
// quarantine file. Leftover undo segments are cleared.
func (m *Mgr) Recover() (*Stats, error) {
	started := time.Now()
	stats := &Stats{TruncatedAt: -1, NextIdentifier: 1}
	source := m.cfg.TxLogFile + recoveringSuffix

	switch {
	case m.fm.Exists(source):
		log.Warn("resuming interrupted recovery", zap.String("source", source))
		if err := m.fm.Remove(m.cfg.TxLogFile); err != nil {
			return nil, err
		}
	case m.fm.Exists(m.cfg.TxLogFile):
		if err := m.fm.Rename(m.cfg.TxLogFile, source); err != nil {
			return nil, err
		}
	default:
		if err := m.clearUndo(stats); err != nil {
			return nil, err
		}
		return stats, nil
	}

	groups, order, spans, err := m.scan(source, stats)
	if err != nil {
		return nil, err
	}

	remap := make(map[txinterface.TxID]txinterface.TxID)
	var incomplete []*groupState
	for _, id := range order {
		g := groups[id]
		switch {
		case g.done:
			stats.Completed++
		case g.committed:
			stats.Recovered++
			remap[id] = txinterface.TxID(stats.Recovered)
		default:
			stats.Discarded++
			incomplete = append(incomplete, g)
		}
	}
	stats.NextIdentifier = txinterface.TxID(stats.Recovered + 1)

	if err := m.redo(source, spans, remap); err != nil {
		return nil, err
	}
	if err := m.quarantine(incomplete); err != nil {
		return nil, err
	}
	if err := m.clearUndo(stats); err != nil {
		return nil, err
	}
	if err := m.fm.Remove(source); err != nil {
		return nil, err
	}

	log.Info("recovery finished",
		zap.Int("recovered", stats.Recovered),
		zap.Int("completed", stats.Completed),
		zap.Int("discarded", stats.Discarded),
		zap.Int("undo-groups", stats.UndoGroups),
		zap.Int64("truncated-at", stats.TruncatedAt),
		zap.Duration("takes", time.Since(started)))
	return stats, nil
}

// scan groups the source log by identifier and records the byte range of
// every entry in log order.
func (m *Mgr) scan(source string, stats *Stats) (map[txinterface.TxID]*groupState, []txinterface.TxID, []span, error) {
	it, err := utils.OpenLogIterator(m.fm, source)
	if err != nil {
		return nil, nil, nil, err
	}
	defer it.Close()

	groups := make(map[txinterface.TxID]*groupState)
	var (
		order []txinterface.TxID
		spans []span
	)
	for it.HasNext() {
		entry, err := it.Next()
		if err != nil {
			return nil, nil, nil, err
		}
		id := entry.Identifier()
		spans = append(spans, span{id: id, offset: it.Offset(), length: it.GoodEnd() - it.Offset()})

		g, ok := groups[id]
		if !ok {
			g = &groupState{}
			groups[id] = g
			order = append(order, id)
		}
		switch e := entry.(type) {
		case *log_record.StartEntry:
			g.start = e
			g.tx = log_record.NewRevertibleTransaction(id, e.TimeWritten)
		case *log_record.CommandEntry:
			if g.tx == nil {
				g.tx = log_record.NewRevertibleTransaction(id, 0)
			}
			g.tx.AddCommand(e.Command)
		case *log_record.CommitEntry:
			g.committed = true
		case *log_record.DoneEntry:
			g.done = true
			g.tx = nil
		}
	}

	if err := it.Err(); err != nil {
		if errors.Cause(err) != log_record.ErrTruncatedEntry {
			return nil, nil, nil, errors.Annotatef(err, "recovery stopped at offset %d of %s", it.GoodEnd(), source)
		}
		stats.TruncatedAt = it.GoodEnd()
		log.Warn("transaction log ends in a torn entry",
			zap.String("source", source),
			zap.Int64("offset", stats.TruncatedAt))
	}
	return groups, order, spans, nil
}

// redo replays the entries of the remapped transactions into a fresh log and
// closes each with a Done entry.
func (m *Mgr) redo(source string, spans []span, remap map[txinterface.TxID]txinterface.TxID) error {
	f, err := m.fm.OpenReader(source)
	if err != nil {
		return err
	}
	defer f.Close()

	var (
		readers []io.Reader
		ids     []txinterface.TxID
	)
	for _, s := range spans {
		if newID, ok := remap[s.id]; ok {
			readers = append(readers, io.NewSectionReader(f, s.offset, s.length))
			ids = append(ids, newID)
		}
	}

	out, err := m.fm.OpenAppend(m.cfg.TxLogFile)
	if err != nil {
		return err
	}
	dst, err := m.cfg.BufferFactory(out)
	if err != nil {
		return err
	}
	replayer := NewVerifyingReplayer(io.MultiReader(readers...), dst, NewStoreApplier(m.stores), WithVerifier(m.cfg.Verifier))
	for _, id := range ids {
		ok, err := replayer.ConsumeOne(id)
		if err != nil {
			return errors.Annotatef(err, "redoing transaction %d", id)
		}
		if !ok {
			return errors.Annotatef(log_record.ErrCorruptEntry, "log ended while redoing transaction %d", id)
		}
	}
	for newID := 1; newID <= len(remap); newID++ {
		if err := log_record.WriteEntry(dst, log_record.NewDoneEntry(txinterface.TxID(newID))); err != nil {
			return err
		}
	}
	if err := dst.Force(); err != nil {
		return err
	}
	if replayer.Applied() != len(remap) {
		return errors.Annotatef(log_record.ErrInvariantViolation, "redid %d of %d transactions", replayer.Applied(), len(remap))
	}
	return m.fm.CloseFile(m.cfg.TxLogFile)
}

// quarantine writes transactions that never committed to the side file for
// diagnostics. They are never applied. The file holds the groups of the last
// pass that discarded any, so a resumed pass rewrites it instead of adding
// the same groups twice.
func (m *Mgr) quarantine(groups []*groupState) error {
	if len(groups) == 0 {
		return nil
	}
	name := m.cfg.TxLogFile + incompleteSuffix
	if err := m.fm.Truncate(name, 0); err != nil {
		return err
	}
	f, err := m.fm.OpenAppend(name)
	if err != nil {
		return err
	}
	buf, err := m.cfg.BufferFactory(f)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if g.tx == nil {
			continue
		}
		if err := g.tx.WriteOut(buf); err != nil {
			return err
		}
		log.Warn("discarding transaction without commit",
			zap.Int32("identifier", int32(g.tx.Identifier())),
			zap.Int("commands", len(g.tx.Commands())))
	}
	if err := buf.Force(); err != nil {
		return err
	}
	return m.fm.CloseFile(name)
}

// clearUndo removes the undo segments of the previous run. Stores only change
// after a Commit is forced, and committed work is redone from the transaction
// log, so no leftover group needs applying.
func (m *Mgr) clearUndo(stats *Stats) error {
	names, err := undo.ListSegments(m.fm, m.cfg.UndoPrefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		groups, err := undo.ReadSegment(m.fm, name)
		if err != nil {
			log.Warn("unreadable undo segment", zap.String("segment", name), zap.Error(err))
		}
		stats.UndoGroups += len(groups)
	}
	return undo.Clear(m.fm, m.cfg.UndoPrefix)
}

// ReadQuarantine returns the transactions recovery set aside.
func (m *Mgr) ReadQuarantine() ([]*log_record.RevertibleTransaction, error) {
	name := m.cfg.TxLogFile + incompleteSuffix
	if !m.fm.Exists(name) {
		return nil, nil
	}
	f, err := m.fm.OpenReader(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	page := log_record.NewScratch()
	var out []*log_record.RevertibleTransaction
	for {
		tx, err := log_record.ReadRevertibleTransaction(page, f)
		if err != nil || tx == nil {
			return out, err
		}
		out = append(out, tx)
	}
}
