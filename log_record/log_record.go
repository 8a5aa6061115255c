package log_record

import (
	"io"

	"github.com/pingcap/errors"

	"ultraGraph/buffer"
	"ultraGraph/command"
	"ultraGraph/kfile"
	"ultraGraph/txinterface"
)

const (
	MaxGlobalTxIDSize      = 64
	MaxBranchQualifierSize = 64
	// ScratchBufferSize bounds the largest Start entry and every command
	// payload.
	ScratchBufferSize = 9 + MaxGlobalTxIDSize + MaxBranchQualifierSize*10
)

var (
	// ErrCorruptEntry is returned for an unknown type byte, an oversized
	// length or an undecodable command.
	ErrCorruptEntry = errors.New("corrupt log entry")
	// ErrTruncatedEntry is returned when the stream ends inside an entry.
	ErrTruncatedEntry = errors.New("truncated log entry")
	// ErrInvariantViolation is shared with the command package.
	ErrInvariantViolation = command.ErrInvariantViolation
)

// IsCorrupt reports whether err means the stream cannot be trusted past the
// last good entry.
func IsCorrupt(err error) bool {
	cause := errors.Cause(err)
	return cause == ErrCorruptEntry || cause == ErrTruncatedEntry
}

// expectZeroTail consumes r and fails on the first non-zero byte.
func expectZeroTail(r io.Reader) error {
	var chunk [512]byte
	for {
		n, err := r.Read(chunk[:])
		for i := 0; i < n; i++ {
			if chunk[i] != 0 {
				return errors.Annotatef(ErrCorruptEntry, "non-zero byte %#x after end-of-log marker", chunk[i])
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Annotate(err, "reading past end-of-log marker")
		}
	}
}

// NewScratch returns a scratch page large enough for any entry.
func NewScratch() *kfile.Page {
	return kfile.NewPage(ScratchBufferSize)
}

func fill(page *kfile.Page, r io.Reader, n int, what string) error {
	err := page.Fill(r, n)
	switch err {
	case nil:
		return nil
	case io.EOF, io.ErrUnexpectedEOF:
		return errors.Annotatef(ErrTruncatedEntry, "reading %s", what)
	}
	return errors.Annotatef(err, "reading %s", what)
}

// ReadEntry decodes the next entry. It returns (nil, nil) at a clean end of
// stream or at a zero type byte followed only by zero bytes. Anything else
// after a zero type byte is corruption.
func ReadEntry(page *kfile.Page, r io.Reader) (LogEntry, error) {
	err := page.Fill(r, 1)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Annotate(err, "reading entry type")
	}
	tag, _ := page.GetByte(0)
	typ := EntryType(tag)
	if typ == TypeNone {
		if err := expectZeroTail(r); err != nil {
			return nil, err
		}
		return nil, nil
	}

	switch typ {
	case TypeStart:
		return readStart(page, r)
	case TypeCommand:
		return readCommand(page, r)
	case TypeCommit:
		return readCommit(page, r)
	case TypeDone:
		return readDone(page, r)
	}
	return nil, errors.Annotatef(ErrCorruptEntry, "unknown entry type %d", tag)
}

func readStart(page *kfile.Page, r io.Reader) (LogEntry, error) {
	if err := fill(page, r, 6, "start header"); err != nil {
		return nil, err
	}
	id, _ := page.GetInt(0)
	gidLen, _ := page.GetByte(4)
	bqualLen, _ := page.GetByte(5)
	if int(gidLen) > MaxGlobalTxIDSize || int(bqualLen) > MaxBranchQualifierSize {
		return nil, errors.Annotatef(ErrCorruptEntry, "start entry with gid length %d and bqual length %d", gidLen, bqualLen)
	}
	n := int(gidLen) + int(bqualLen)
	if err := fill(page, r, n+12, "start body"); err != nil {
		return nil, err
	}
	gid, _ := page.GetBytes(0, int(gidLen))
	bqual, _ := page.GetBytes(int(gidLen), int(bqualLen))
	masterID, _ := page.GetInt(n)
	timeWritten, _ := page.GetLong(n + 4)
	return NewStartEntry(txinterface.TxID(id), gid, bqual, masterID, timeWritten), nil
}

func readCommand(page *kfile.Page, r io.Reader) (LogEntry, error) {
	if err := fill(page, r, 4, "command identifier"); err != nil {
		return nil, err
	}
	id, _ := page.GetInt(0)
	cmd, err := command.Decode(page, r)
	switch {
	case err == nil:
		return NewCommandEntry(txinterface.TxID(id), cmd), nil
	case err == io.ErrUnexpectedEOF:
		return nil, errors.Annotatef(ErrTruncatedEntry, "reading command of %d", id)
	case errors.Cause(err) == command.ErrMalformedCommand:
		return nil, errors.Annotate(ErrCorruptEntry, err.Error())
	}
	return nil, errors.Annotatef(err, "reading command of %d", id)
}

func readCommit(page *kfile.Page, r io.Reader) (LogEntry, error) {
	if err := fill(page, r, 12, "commit"); err != nil {
		return nil, err
	}
	id, _ := page.GetInt(0)
	ts, _ := page.GetLong(4)
	return NewCommitEntry(txinterface.TxID(id), ts), nil
}

func readDone(page *kfile.Page, r io.Reader) (LogEntry, error) {
	if err := fill(page, r, 4, "done"); err != nil {
		return nil, err
	}
	id, _ := page.GetInt(0)
	return NewDoneEntry(txinterface.TxID(id)), nil
}

// WriteEntry encodes e. Nothing is forced.
func WriteEntry(buf buffer.LogBuffer, e LogEntry) error {
	switch entry := e.(type) {
	case *StartEntry:
		return writeStart(buf, entry)
	case *CommandEntry:
		if err := writeFrame(buf, TypeCommand, entry.identifier); err != nil {
			return err
		}
		return entry.Command.Encode(buf)
	case *CommitEntry:
		if err := writeFrame(buf, TypeCommit, entry.identifier); err != nil {
			return err
		}
		return buf.PutLong(entry.Timestamp)
	case *DoneEntry:
		return writeFrame(buf, TypeDone, entry.identifier)
	}
	return errors.Annotatef(ErrInvariantViolation, "cannot encode %T", e)
}

func writeFrame(buf buffer.LogBuffer, typ EntryType, id txinterface.TxID) error {
	if err := buf.Put(byte(typ)); err != nil {
		return err
	}
	return buf.PutInt(int32(id))
}

func writeStart(buf buffer.LogBuffer, e *StartEntry) error {
	if len(e.GlobalTxID) > MaxGlobalTxIDSize || len(e.BranchQualifier) > MaxBranchQualifierSize {
		return errors.Errorf("start entry gid of %d bytes or bqual of %d bytes exceeds %d",
			len(e.GlobalTxID), len(e.BranchQualifier), MaxGlobalTxIDSize)
	}
	if err := writeFrame(buf, TypeStart, e.identifier); err != nil {
		return err
	}
	if err := buf.Put(byte(len(e.GlobalTxID))); err != nil {
		return err
	}
	if err := buf.Put(byte(len(e.BranchQualifier))); err != nil {
		return err
	}
	if err := buf.PutBytes(e.GlobalTxID); err != nil {
		return err
	}
	if err := buf.PutBytes(e.BranchQualifier); err != nil {
		return err
	}
	if err := buf.PutInt(e.MasterID); err != nil {
		return err
	}
	return buf.PutLong(e.TimeWritten)
}

// ScanGroup reads entries of group id until its Done entry and passes each
// non-Done entry to fn. complete is false when the stream ends first.
func ScanGroup(page *kfile.Page, r io.Reader, id txinterface.TxID, fn func(LogEntry) error) (complete bool, err error) {
	for {
		entry, err := ReadEntry(page, r)
		if errors.Cause(err) == ErrTruncatedEntry {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if entry == nil {
			return false, nil
		}
		if entry.Identifier() != id {
			return false, errors.Annotatef(ErrCorruptEntry, "%s inside group %d", entry, id)
		}
		if entry.Type() == TypeDone {
			return true, nil
		}
		if err := fn(entry); err != nil {
			return false, err
		}
	}
}
