package recovery

import (
	"io"

	"github.com/pingcap/errors"

	"ultraGraph/buffer"
	"ultraGraph/kfile"
	"ultraGraph/log_record"
	"ultraGraph/txinterface"
)

// pending accumulates one open transaction of the stream.
type pending struct {
	start   *log_record.StartEntry
	tx      *log_record.RevertibleTransaction
	entries []log_record.LogEntry
}

// VerifyingReplayer reads a transaction stream one entry at a time, mirrors
// every entry to a destination log and applies a transaction's entries once
// its Commit verifies. It is not safe for concurrent use.
type VerifyingReplayer struct {
	page     *kfile.Page
	src      io.Reader
	dst      buffer.LogBuffer
	applier  Applier
	verifier Verifier

	open        map[txinterface.TxID]*pending
	startEntry  *log_record.StartEntry
	commitEntry *log_record.CommitEntry
	applied     int
}

type Option func(*VerifyingReplayer)

// WithVerifier replaces the default ConsistencyVerifier.
func WithVerifier(v Verifier) Option {
	return func(r *VerifyingReplayer) {
		r.verifier = v
	}
}

// NewVerifyingReplayer replays src. dst may be nil when no mirror is wanted.
func NewVerifyingReplayer(src io.Reader, dst buffer.LogBuffer, applier Applier, opts ...Option) *VerifyingReplayer {
	r := &VerifyingReplayer{
		page:     log_record.NewScratch(),
		src:      src,
		dst:      dst,
		applier:  applier,
		verifier: ConsistencyVerifier{},
		open:     make(map[txinterface.TxID]*pending),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ConsumeOne processes the next entry, re-tagging it with remap unless remap
// is txinterface.NoTx. It returns false at the end of the stream.
func (r *VerifyingReplayer) ConsumeOne(remap txinterface.TxID) (bool, error) {
	entry, err := log_record.ReadEntry(r.page, r.src)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	if remap != txinterface.NoTx {
		entry.SetIdentifier(remap)
	}
	id := entry.Identifier()

	switch e := entry.(type) {
	case *log_record.StartEntry:
		if _, ok := r.open[id]; ok {
			return false, errors.Annotatef(log_record.ErrInvariantViolation, "second start for transaction %d", id)
		}
		r.startEntry = e
		r.open[id] = &pending{
			start:   e,
			tx:      log_record.NewRevertibleTransaction(id, e.TimeWritten),
			entries: []log_record.LogEntry{e},
		}
	case *log_record.CommandEntry:
		p, ok := r.open[id]
		if !ok {
			return false, errors.Annotatef(log_record.ErrInvariantViolation, "command for transaction %d before its start", id)
		}
		p.tx.AddCommand(e.Command)
		p.entries = append(p.entries, e)
	case *log_record.CommitEntry:
		p, ok := r.open[id]
		if !ok {
			return false, errors.Annotatef(log_record.ErrInvariantViolation, "commit for transaction %d before its start", id)
		}
		r.commitEntry = e
		p.entries = append(p.entries, e)
		if err := r.verifier.Verify(p.start, p.tx, e); err != nil {
			return false, err
		}
		for _, pe := range p.entries {
			if err := r.applier.Apply(pe); err != nil {
				return false, errors.Annotatef(err, "applying %s", pe)
			}
		}
		r.applied++
		delete(r.open, id)
	case *log_record.DoneEntry:
		delete(r.open, id)
	}

	if r.dst != nil {
		if err := log_record.WriteEntry(r.dst, entry); err != nil {
			return false, errors.Annotatef(err, "mirroring %s", entry)
		}
	}
	return true, nil
}

// StartEntry returns the most recent Start entry read.
func (r *VerifyingReplayer) StartEntry() *log_record.StartEntry {
	return r.startEntry
}

// CommitEntry returns the most recent Commit entry read.
func (r *VerifyingReplayer) CommitEntry() *log_record.CommitEntry {
	return r.commitEntry
}

// Applied returns the number of transactions applied so far.
func (r *VerifyingReplayer) Applied() int {
	return r.applied
}

// Open returns the number of transactions started but not yet committed or
// done.
func (r *VerifyingReplayer) Open() int {
	return len(r.open)
}
