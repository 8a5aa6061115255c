package recovery

import (
	"github.com/pingcap/errors"

	"ultraGraph/log_record"
	"ultraGraph/store"
)

// ErrVerificationFailed is returned when a committed group fails its
// integrity check. Nothing of the group has been applied.
var ErrVerificationFailed = errors.New("transaction verification failed")

// Verifier checks a transaction's accumulated commands when its Commit entry
// is read, before anything is applied.
type Verifier interface {
	Verify(start *log_record.StartEntry, tx *log_record.RevertibleTransaction, commit *log_record.CommitEntry) error
}

// NopVerifier accepts everything.
type NopVerifier struct{}

func (NopVerifier) Verify(*log_record.StartEntry, *log_record.RevertibleTransaction, *log_record.CommitEntry) error {
	return nil
}

// ConsistencyVerifier checks that the framing entries agree with each other
// and that the command set could have been produced by a live transaction.
type ConsistencyVerifier struct{}

func (ConsistencyVerifier) Verify(start *log_record.StartEntry, tx *log_record.RevertibleTransaction, commit *log_record.CommitEntry) error {
	if start == nil || tx == nil || commit == nil {
		return errors.Annotate(ErrVerificationFailed, "commit without an open transaction")
	}
	id := commit.Identifier()
	if start.Identifier() != id || tx.Identifier() != id {
		return errors.Annotatef(ErrVerificationFailed, "identifiers disagree: start %d, commands %d, commit %d",
			start.Identifier(), tx.Identifier(), id)
	}
	if commit.Timestamp < start.TimeWritten {
		return errors.Annotatef(ErrVerificationFailed, "transaction %d commits at %d before its start at %d",
			id, commit.Timestamp, start.TimeWritten)
	}
	types := make(map[uint64]struct{})
	for _, cmd := range tx.Commands() {
		if !cmd.Kind().Valid() || cmd.Record().Kind() != cmd.Kind() {
			return errors.Annotatef(ErrVerificationFailed, "transaction %d carries malformed command %s", id, cmd)
		}
		if cmd.Kind() != store.KindRelationshipType {
			continue
		}
		if _, dup := types[cmd.RecordID()]; dup {
			return errors.Annotatef(ErrVerificationFailed, "transaction %d writes relationship type %d twice", id, cmd.RecordID())
		}
		types[cmd.RecordID()] = struct{}{}
	}
	return nil
}
