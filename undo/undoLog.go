package undo

import (
	"sort"
	"sync"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"ultraGraph/buffer"
	"ultraGraph/command"
	"ultraGraph/kfile"
	"ultraGraph/log_record"
	"ultraGraph/txinterface"
)

const (
	DefaultFilePrefix = "undo.log"
	DefaultSizeLimit  = 8 << 20
)

var (
	// ErrClosed is returned by operations on a closed undo log.
	ErrClosed = errors.New("undo log is closed")
	// ErrUnknownTransaction is returned by Lookup for ids without a complete group.
	ErrUnknownTransaction = errors.New("no undo group for transaction")
)

type Config struct {
	// FilePrefix names segments FilePrefix.NNNNNN.
	FilePrefix string
	// SizeLimit is the segment size past which the log rotates at the next
	// Done.
	SizeLimit int64
	// BufferFactory adapts segment files for writing.
	BufferFactory buffer.Factory
}

type sealedSegment struct {
	name string
	ids  map[txinterface.TxID]struct{}
}

// UndoLog records, per transaction, the inverse of every command it commits.
// Only one group is open at a time, so a group never straddles a rotation.
type UndoLog struct {
	fm  *kfile.FileMgr
	cfg Config

	mu        sync.Mutex
	groupFree *sync.Cond
	open      bool
	openID    txinterface.TxID
	openStart int64
	openTime  int64

	seq       int
	active    string
	buf       buffer.LogBuffer
	index     []IndexEntry
	activeIDs map[txinterface.TxID]struct{}
	sealed    []*sealedSegment
	retired   map[txinterface.TxID]struct{}
	locations map[txinterface.TxID]string

	failed error
	closed bool
}

// Open starts a fresh segment after any segments already present in fm.
// Existing segments are left for recovery to read and Clear.
func Open(fm *kfile.FileMgr, cfg Config) (*UndoLog, error) {
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = DefaultFilePrefix
	}
	if cfg.SizeLimit <= 0 {
		cfg.SizeLimit = DefaultSizeLimit
	}
	if cfg.BufferFactory == nil {
		cfg.BufferFactory = buffer.FactoryFor(0)
	}
	u := &UndoLog{
		fm:        fm,
		cfg:       cfg,
		activeIDs: make(map[txinterface.TxID]struct{}),
		retired:   make(map[txinterface.TxID]struct{}),
		locations: make(map[txinterface.TxID]string),
	}
	u.groupFree = sync.NewCond(&u.mu)

	existing, err := ListSegments(fm, cfg.FilePrefix)
	if err != nil {
		return nil, err
	}
	for _, name := range existing {
		if seq, ok := parseSegmentSeq(cfg.FilePrefix, name); ok && seq > u.seq {
			u.seq = seq
		}
	}
	if err := u.openSegment(); err != nil {
		return nil, err
	}
	return u, nil
}

// ListSegments returns the segment names for prefix in sequence order.
func ListSegments(fm *kfile.FileMgr, prefix string) ([]string, error) {
	names, err := fm.List(prefix + ".*")
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, name := range names {
		if _, ok := parseSegmentSeq(prefix, name); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (u *UndoLog) openSegment() error {
	u.seq++
	name := segmentName(u.cfg.FilePrefix, u.seq)
	f, err := u.fm.OpenAppend(name)
	if err != nil {
		return err
	}
	buf, err := u.cfg.BufferFactory(f)
	if err != nil {
		return err
	}
	u.active = name
	u.buf = buf
	u.index = nil
	u.activeIDs = make(map[txinterface.TxID]struct{})
	return nil
}

func (u *UndoLog) usable() error {
	if u.closed {
		return ErrClosed
	}
	return u.failed
}

// fail poisons the log after a write error: a partial group on disk must not
// be followed by further groups.
func (u *UndoLog) fail(err error) error {
	u.failed = errors.Annotate(err, "undo log failed")
	u.open = false
	u.groupFree.Broadcast()
	log.Error("undo log write failed", zap.String("segment", u.active), zap.Error(err))
	return u.failed
}

// Start opens the group for id, waiting while another group is open.
func (u *UndoLog) Start(id txinterface.TxID, gid []byte, masterID int32, creationTime int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	for u.open && u.usable() == nil {
		u.groupFree.Wait()
	}
	if err := u.usable(); err != nil {
		return err
	}
	u.open = true
	u.openID = id
	u.openStart = u.buf.Position()
	u.openTime = creationTime
	if err := log_record.WriteEntry(u.buf, log_record.NewStartEntry(id, gid, nil, masterID, creationTime)); err != nil {
		return u.fail(err)
	}
	return nil
}

func (u *UndoLog) checkOpen(id txinterface.TxID) error {
	if err := u.usable(); err != nil {
		return err
	}
	if !u.open || u.openID != id {
		return errors.Annotatef(log_record.ErrInvariantViolation, "undo group %d is not open", id)
	}
	return nil
}

// WriteCommand appends the inverse of rc to the open group.
func (u *UndoLog) WriteCommand(rc *command.RevertibleCommand, id txinterface.TxID) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(id); err != nil {
		return err
	}
	if err := log_record.WriteEntry(u.buf, log_record.NewCommandEntry(id, rc.Previous())); err != nil {
		return u.fail(err)
	}
	return nil
}

// Done closes the group, forces it and rotates when the segment is full.
func (u *UndoLog) Done(id txinterface.TxID) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.checkOpen(id); err != nil {
		return err
	}
	if err := log_record.WriteEntry(u.buf, log_record.NewDoneEntry(id)); err != nil {
		return u.fail(err)
	}
	if err := u.buf.Force(); err != nil {
		return u.fail(err)
	}
	groupsWritten.Inc()

	u.index = append(u.index, IndexEntry{TimeWritten: u.openTime, Offset: u.openStart})
	u.activeIDs[id] = struct{}{}
	u.locations[id] = u.active
	u.open = false
	u.groupFree.Broadcast()

	return u.checkRotation()
}

// WriteTransaction writes a whole group for id.
func (u *UndoLog) WriteTransaction(id txinterface.TxID, gid []byte, masterID int32, creationTime int64, rcs []*command.RevertibleCommand) error {
	if err := u.Start(id, gid, masterID, creationTime); err != nil {
		return err
	}
	for _, rc := range rcs {
		if err := u.WriteCommand(rc, id); err != nil {
			return err
		}
	}
	return u.Done(id)
}

func (u *UndoLog) checkRotation() error {
	if u.buf.Position() <= u.cfg.SizeLimit {
		return nil
	}
	if err := u.seal(); err != nil {
		return u.fail(err)
	}
	if err := u.openSegment(); err != nil {
		return u.fail(err)
	}
	rotations.Inc()
	u.sweep()
	return nil
}

func (u *UndoLog) seal() error {
	footer := encodeFooter(u.index, u.buf.Position())
	if err := u.buf.PutBytes(footer); err != nil {
		return err
	}
	if err := u.buf.Force(); err != nil {
		return err
	}
	if err := u.fm.CloseFile(u.active); err != nil {
		return err
	}
	log.Info("undo log segment sealed",
		zap.String("segment", u.active),
		zap.Int("groups", len(u.index)))
	u.sealed = append(u.sealed, &sealedSegment{name: u.active, ids: u.activeIDs})
	return nil
}

// Retire marks the group of id as no longer needed. Sealed segments whose
// groups are all retired are deleted.
func (u *UndoLog) Retire(id txinterface.TxID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.locations[id]; !ok {
		return
	}
	u.retired[id] = struct{}{}
	u.sweep()
}

func (u *UndoLog) sweep() {
	kept := u.sealed[:0]
	for _, seg := range u.sealed {
		if !u.allRetired(seg.ids) {
			kept = append(kept, seg)
			continue
		}
		if err := u.fm.Remove(seg.name); err != nil {
			log.Warn("failed to delete retired undo segment", zap.String("segment", seg.name), zap.Error(err))
			kept = append(kept, seg)
			continue
		}
		for id := range seg.ids {
			delete(u.retired, id)
			delete(u.locations, id)
		}
		segmentsDeleted.Inc()
		log.Info("undo log segment deleted", zap.String("segment", seg.name))
	}
	u.sealed = kept
}

func (u *UndoLog) allRetired(ids map[txinterface.TxID]struct{}) bool {
	for id := range ids {
		if _, ok := u.retired[id]; !ok {
			return false
		}
	}
	return true
}

// Lookup returns the complete group of id.
func (u *UndoLog) Lookup(id txinterface.TxID) (*Group, error) {
	u.mu.Lock()
	name, ok := u.locations[id]
	u.mu.Unlock()
	if !ok {
		return nil, errors.Annotatef(ErrUnknownTransaction, "%d", id)
	}
	groups, err := ReadSegment(u.fm, name)
	if err != nil {
		return nil, err
	}
	for i := len(groups) - 1; i >= 0; i-- {
		if groups[i].Identifier() == id {
			return groups[i], nil
		}
	}
	return nil, errors.Annotatef(ErrUnknownTransaction, "%d in %s", id, name)
}

// Segments returns the live segment names, the active one last.
func (u *UndoLog) Segments() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	names := make([]string, 0, len(u.sealed)+1)
	for _, seg := range u.sealed {
		names = append(names, seg.name)
	}
	return append(names, u.active)
}

// Active returns the name of the segment being written.
func (u *UndoLog) Active() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.active
}

// Close forces the active segment. Segments stay on disk for recovery.
func (u *UndoLog) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true
	u.groupFree.Broadcast()
	if u.failed == nil {
		if err := u.buf.Force(); err != nil {
			return errors.Trace(err)
		}
	}
	return u.fm.CloseFile(u.active)
}

// Clear deletes every segment for prefix. It is used by recovery once old
// segments have been inspected.
func Clear(fm *kfile.FileMgr, prefix string) error {
	names, err := ListSegments(fm, prefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := fm.Remove(name); err != nil {
			return err
		}
	}
	return nil
}
