package txlog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"ultraGraph/buffer"
	"ultraGraph/kfile"
	"ultraGraph/log_record"
	"ultraGraph/utils"
)

// ErrClosed is returned by operations on a closed LogMgr.
var ErrClosed = errors.New("log is closed")

type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("log operation %s failed: %v", e.Op, e.Err)
}

// Cause lets errors.Cause see through the operation wrapper.
func (e *Error) Cause() error {
	return errors.Cause(e.Err)
}

// LogMgr is the single writer of the transaction log. Appends from concurrent
// transactions serialize on mu, so one transaction's entries are written
// back to back.
//
// A failed append or force cuts the file back to where the failed call
// started, so a caller told its entries were not written never finds them
// after a restart. When that cut fails too the log refuses every further
// append until it is reopened and recovered.
type LogMgr struct {
	fm        *kfile.FileMgr
	mu        sync.Mutex
	logFile   string
	factory   buffer.Factory
	logBuffer buffer.LogBuffer
	position  *atomic.Int64
	closed    bool
	failed    error
}

func NewLogMgr(fm *kfile.FileMgr, logFile string, factory buffer.Factory) (*LogMgr, error) {
	if fm == nil {
		return nil, &Error{Op: "new", Err: errors.New("file manager cannot be nil")}
	}
	if factory == nil {
		factory = buffer.FactoryFor(0)
	}
	f, err := fm.OpenAppend(logFile)
	if err != nil {
		return nil, &Error{Op: "new", Err: err}
	}
	logBuffer, err := factory(f)
	if err != nil {
		return nil, &Error{Op: "new", Err: err}
	}
	return &LogMgr{
		fm:        fm,
		logFile:   logFile,
		factory:   factory,
		logBuffer: logBuffer,
		position:  atomic.NewInt64(logBuffer.Position()),
	}, nil
}

// Append writes entries contiguously and returns the log position after the
// last one. Nothing is forced.
func (lm *LogMgr) Append(entries ...log_record.LogEntry) (int64, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if err := lm.usable("append"); err != nil {
		return lm.position.Load(), err
	}
	start := lm.position.Load()
	if err := lm.appendLocked(entries); err != nil {
		return lm.rewind(start, err)
	}
	return lm.position.Load(), nil
}

// AppendAndForce appends entries and forces the log before returning.
func (lm *LogMgr) AppendAndForce(entries ...log_record.LogEntry) (int64, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if err := lm.usable("append"); err != nil {
		return lm.position.Load(), err
	}
	start := lm.position.Load()
	if err := lm.appendLocked(entries); err != nil {
		return lm.rewind(start, err)
	}
	if err := lm.forceLocked(); err != nil {
		return lm.rewind(start, err)
	}
	return lm.position.Load(), nil
}

func (lm *LogMgr) usable(op string) error {
	if lm.closed {
		return &Error{Op: op, Err: ErrClosed}
	}
	if lm.failed != nil {
		return &Error{Op: op, Err: lm.failed}
	}
	return nil
}

func (lm *LogMgr) appendLocked(entries []log_record.LogEntry) error {
	defer func() { lm.position.Store(lm.logBuffer.Position()) }()
	for _, e := range entries {
		if err := log_record.WriteEntry(lm.logBuffer, e); err != nil {
			return &Error{Op: "append", Err: err}
		}
		appendedEntries.WithLabelValues(e.Type().String()).Inc()
	}
	return nil
}

// rewind cuts the log back to start after a failed append or force and
// reopens the write buffer there. Unforced entries that were still buffered
// before start are dropped with it. cause is always returned.
func (lm *LogMgr) rewind(start int64, cause error) (int64, error) {
	size, err := lm.fm.Length(lm.logFile)
	if err == nil && size > start {
		size = start
	}
	if err == nil {
		err = lm.fm.Truncate(lm.logFile, size)
	}
	var f *os.File
	if err == nil {
		f, err = lm.fm.OpenAppend(lm.logFile)
	}
	var buf buffer.LogBuffer
	if err == nil {
		buf, err = lm.factory(f)
	}
	if err != nil {
		lm.failed = errors.Annotatef(err, "cutting log back to %d after %v", start, cause)
		failedRewinds.Inc()
		log.Error("transaction log unusable until recovery",
			zap.String("file", lm.logFile), zap.Int64("position", start), zap.Error(lm.failed))
		return lm.position.Load(), cause
	}
	lm.logBuffer = buf
	lm.position.Store(buf.Position())
	rewinds.Inc()
	log.Warn("cut transaction log back after failed write",
		zap.String("file", lm.logFile),
		zap.Int64("position", buf.Position()),
		zap.Int64("dropped-unforced", start-buf.Position()),
		zap.Error(cause))
	return buf.Position(), cause
}

// Force makes every appended entry durable. A failed force leaves unknown
// entries half written, so the log stops accepting appends.
func (lm *LogMgr) Force() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if err := lm.usable("force"); err != nil {
		return err
	}
	if err := lm.forceLocked(); err != nil {
		lm.failed = err
		log.Error("transaction log force failed", zap.String("file", lm.logFile), zap.Error(err))
		return err
	}
	return nil
}

func (lm *LogMgr) forceLocked() error {
	start := time.Now()
	if err := lm.logBuffer.Force(); err != nil {
		return &Error{Op: "force", Err: err}
	}
	forceDuration.Observe(time.Since(start).Seconds())
	return nil
}

// Position returns the logical end of the log, including unforced bytes.
func (lm *LogMgr) Position() int64 {
	return lm.position.Load()
}

// FileName returns the log file name relative to the file manager directory.
func (lm *LogMgr) FileName() string {
	return lm.logFile
}

// Iterator forces the log and returns an iterator over its entries.
func (lm *LogMgr) Iterator() (*utils.LogIterator, error) {
	if err := lm.Force(); err != nil {
		return nil, &Error{Op: "iterator", Err: err}
	}
	it, err := utils.OpenLogIterator(lm.fm, lm.logFile)
	if err != nil {
		return nil, &Error{Op: "iterator", Err: err}
	}
	return it, nil
}

// Close forces outstanding bytes and releases the file handle. A failed log
// is closed without flushing what it still buffers.
func (lm *LogMgr) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.closed {
		return nil
	}
	lm.closed = true
	if lm.failed == nil {
		if err := lm.forceLocked(); err != nil {
			return err
		}
	}
	if err := lm.fm.CloseFile(lm.logFile); err != nil {
		return &Error{Op: "close", Err: err}
	}
	return nil
}
