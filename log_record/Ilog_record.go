package log_record

import (
	"ultraGraph/txinterface"
)

// EntryType is the first byte of every framed entry.
type EntryType byte

const (
	// TypeNone marks preallocated, never-written space.
	TypeNone    EntryType = 0
	TypeStart   EntryType = 1
	TypeCommand EntryType = 3
	TypeDone    EntryType = 4
	TypeCommit  EntryType = 5
)

func (t EntryType) String() string {
	switch t {
	case TypeStart:
		return "Start"
	case TypeCommand:
		return "Command"
	case TypeDone:
		return "Done"
	case TypeCommit:
		return "Commit"
	}
	return "Unknown"
}

// LogEntry is one framed unit of a transaction log or undo log stream.
type LogEntry interface {
	Type() EntryType
	Identifier() txinterface.TxID
	SetIdentifier(id txinterface.TxID)
	String() string
}
