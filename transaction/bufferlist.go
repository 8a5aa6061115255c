package transaction

import (
	"ultraGraph/command"
	"ultraGraph/store"
)

type recordKey struct {
	kind store.Kind
	id   uint64
}

// CommandList buffers the commands of one transaction in first-write order.
// A later write to the same record replaces the earlier command in place.
type CommandList struct {
	commands []*command.Command
	index    map[recordKey]int
}

func NewCommandList() *CommandList {
	return &CommandList{
		index: make(map[recordKey]int),
	}
}

// Add buffers cmd. A created flag set by an earlier write to the same record
// is kept, since the record is still absent from its store.
func (cl *CommandList) Add(cmd *command.Command) error {
	key := recordKey{kind: cmd.Kind(), id: cmd.RecordID()}
	at, exists := cl.index[key]
	if !exists {
		cl.index[key] = len(cl.commands)
		cl.commands = append(cl.commands, cmd)
		return nil
	}
	if cl.commands[at].IsCreated() && !cmd.IsCreated() {
		created, err := command.New(markCreated(cmd.Record()))
		if err != nil {
			return err
		}
		cmd = created
	}
	cl.commands[at] = cmd
	return nil
}

// Get returns the buffered command for a record, if any.
func (cl *CommandList) Get(kind store.Kind, id uint64) (*command.Command, bool) {
	at, exists := cl.index[recordKey{kind: kind, id: id}]
	if !exists {
		return nil, false
	}
	return cl.commands[at], true
}

func (cl *CommandList) Commands() []*command.Command {
	return cl.commands
}

func (cl *CommandList) Len() int {
	return len(cl.commands)
}

// Clear drops every buffered command.
func (cl *CommandList) Clear() {
	cl.commands = nil
	cl.index = make(map[recordKey]int)
}

func markCreated(rec store.Record) store.Record {
	switch r := rec.(type) {
	case *store.NodeRecord:
		c := *r
		c.Created = true
		return &c
	case *store.RelationshipRecord:
		c := *r
		c.Created = true
		return &c
	case *store.RelationshipTypeRecord:
		c := *r
		c.Created = true
		return &c
	case *store.PropertyRecord:
		c := *r
		c.Created = true
		return &c
	case *store.PropertyIndexRecord:
		c := *r
		c.Created = true
		return &c
	}
	return rec
}
