package log_record

import (
	"io"

	"github.com/pingcap/errors"

	"ultraGraph/buffer"
	"ultraGraph/command"
	"ultraGraph/kfile"
	"ultraGraph/txinterface"
)

// RevertibleTransaction is one transaction's ordered commands, framed with
// its identifier and creation time and closed by a Done entry.
type RevertibleTransaction struct {
	identifier   txinterface.TxID
	creationTime int64
	commands     []*command.Command
}

func NewRevertibleTransaction(id txinterface.TxID, creationTime int64) *RevertibleTransaction {
	return &RevertibleTransaction{identifier: id, creationTime: creationTime}
}

func (tx *RevertibleTransaction) Identifier() txinterface.TxID {
	return tx.identifier
}

func (tx *RevertibleTransaction) CreationTime() int64 {
	return tx.creationTime
}

// AddCommand appends cmd. The caller guarantees it belongs to this transaction.
func (tx *RevertibleTransaction) AddCommand(cmd *command.Command) {
	tx.commands = append(tx.commands, cmd)
}

func (tx *RevertibleTransaction) Commands() []*command.Command {
	return tx.commands
}

// WriteOut writes identifier, creation time, one Command entry per command and
// a Done entry.
func (tx *RevertibleTransaction) WriteOut(buf buffer.LogBuffer) error {
	if err := buf.PutInt(int32(tx.identifier)); err != nil {
		return err
	}
	if err := buf.PutLong(tx.creationTime); err != nil {
		return err
	}
	for _, cmd := range tx.commands {
		if err := WriteEntry(buf, NewCommandEntry(tx.identifier, cmd)); err != nil {
			return err
		}
	}
	return WriteEntry(buf, NewDoneEntry(tx.identifier))
}

// ReadRevertibleTransaction reads one transaction written by WriteOut. It
// returns nil without error when the stream ends before the Done entry, so
// an incomplete group is never exposed.
func ReadRevertibleTransaction(page *kfile.Page, r io.Reader) (*RevertibleTransaction, error) {
	err := page.Fill(r, 12)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Annotate(err, "reading transaction header")
	}
	id, _ := page.GetInt(0)
	creationTime, _ := page.GetLong(4)

	tx := NewRevertibleTransaction(txinterface.TxID(id), creationTime)
	complete, err := ScanGroup(page, r, tx.identifier, func(e LogEntry) error {
		ce, ok := e.(*CommandEntry)
		if !ok {
			return errors.Annotatef(ErrCorruptEntry, "%s inside transaction %d", e, id)
		}
		tx.AddCommand(ce.Command)
		return nil
	})
	if err != nil || !complete {
		return nil, err
	}
	return tx, nil
}
