package log_record

import (
	"fmt"

	"ultraGraph/command"
	"ultraGraph/txinterface"
)

type header struct {
	identifier txinterface.TxID
}

func (h *header) Identifier() txinterface.TxID {
	return h.identifier
}

func (h *header) SetIdentifier(id txinterface.TxID) {
	h.identifier = id
}

// StartEntry opens a transaction's record group.
type StartEntry struct {
	header
	GlobalTxID      []byte
	BranchQualifier []byte
	MasterID        int32
	TimeWritten     int64
}

func NewStartEntry(id txinterface.TxID, gid, bqual []byte, masterID int32, timeWritten int64) *StartEntry {
	return &StartEntry{
		header:          header{identifier: id},
		GlobalTxID:      gid,
		BranchQualifier: bqual,
		MasterID:        masterID,
		TimeWritten:     timeWritten,
	}
}

func (e *StartEntry) Type() EntryType { return TypeStart }

func (e *StartEntry) String() string {
	return fmt.Sprintf("Start[%d, gid=%x, bqual=%x, master=%d, time=%d]",
		e.identifier, e.GlobalTxID, e.BranchQualifier, e.MasterID, e.TimeWritten)
}

// CommandEntry carries one mutation.
type CommandEntry struct {
	header
	Command *command.Command
}

func NewCommandEntry(id txinterface.TxID, cmd *command.Command) *CommandEntry {
	return &CommandEntry{header: header{identifier: id}, Command: cmd}
}

func (e *CommandEntry) Type() EntryType { return TypeCommand }

func (e *CommandEntry) String() string {
	return fmt.Sprintf("Command[%d, %s]", e.identifier, e.Command)
}

// CommitEntry makes the group's mutations final once it is forced.
type CommitEntry struct {
	header
	Timestamp int64
}

func NewCommitEntry(id txinterface.TxID, timestamp int64) *CommitEntry {
	return &CommitEntry{header: header{identifier: id}, Timestamp: timestamp}
}

func (e *CommitEntry) Type() EntryType { return TypeCommit }

func (e *CommitEntry) String() string {
	return fmt.Sprintf("Commit[%d, time=%d]", e.identifier, e.Timestamp)
}

// DoneEntry closes a record group.
type DoneEntry struct {
	header
}

func NewDoneEntry(id txinterface.TxID) *DoneEntry {
	return &DoneEntry{header: header{identifier: id}}
}

func (e *DoneEntry) Type() EntryType { return TypeDone }

func (e *DoneEntry) String() string {
	return fmt.Sprintf("Done[%d]", e.identifier)
}
