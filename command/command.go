package command

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pingcap/errors"

	"ultraGraph/buffer"
	"ultraGraph/kfile"
	"ultraGraph/store"
)

var (
	// ErrInvariantViolation marks programming errors: misclassified commands,
	// records that must exist but do not. These are never retried.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrMalformedCommand is returned by Decode for an unknown kind tag or a
	// payload that does not decode.
	ErrMalformedCommand = errors.New("malformed command")
)

// headerSize is the kind tag plus the payload length.
const headerSize = 3

// Command is an immutable mutation of one record in one store. The record is
// the after-image.
type Command struct {
	kind   store.Kind
	record store.Record
}

func NodeCommand(rec *store.NodeRecord) *Command {
	return &Command{kind: store.KindNode, record: rec}
}

func RelationshipCommand(rec *store.RelationshipRecord) *Command {
	return &Command{kind: store.KindRelationship, record: rec}
}

func RelationshipTypeCommand(rec *store.RelationshipTypeRecord) *Command {
	return &Command{kind: store.KindRelationshipType, record: rec}
}

func PropertyCommand(rec *store.PropertyRecord) *Command {
	return &Command{kind: store.KindProperty, record: rec}
}

func PropertyIndexCommand(rec *store.PropertyIndexRecord) *Command {
	return &Command{kind: store.KindPropertyIndex, record: rec}
}

// New wraps any record in the command of its kind.
func New(rec store.Record) (*Command, error) {
	switch r := rec.(type) {
	case *store.NodeRecord:
		return NodeCommand(r), nil
	case *store.RelationshipRecord:
		return RelationshipCommand(r), nil
	case *store.RelationshipTypeRecord:
		return RelationshipTypeCommand(r), nil
	case *store.PropertyRecord:
		return PropertyCommand(r), nil
	case *store.PropertyIndexRecord:
		return PropertyIndexCommand(r), nil
	}
	return nil, errors.Annotatef(ErrInvariantViolation, "no command for record type %T", rec)
}

func (c *Command) Kind() store.Kind {
	return c.kind
}

func (c *Command) RecordID() uint64 {
	return c.record.RecordID()
}

func (c *Command) Record() store.Record {
	return c.record
}

// IsCreated reports whether the mutation allocated its record.
func (c *Command) IsCreated() bool {
	return c.record.IsCreated()
}

// Encode writes kind tag, payload length and the record image.
func (c *Command) Encode(buf buffer.LogBuffer) error {
	image, err := c.record.MarshalBinary()
	if err != nil {
		return errors.Trace(err)
	}
	if len(image) > 0xFFFF {
		return errors.Errorf("%s command payload of %d bytes is too large", c.kind, len(image))
	}
	if err := buf.Put(byte(c.kind)); err != nil {
		return err
	}
	if err := buf.PutShort(uint16(len(image))); err != nil {
		return err
	}
	return buf.PutBytes(image)
}

// Decode reads one command from r using page as scratch space. Running out of
// input is always io.ErrUnexpectedEOF since a command never ends a stream.
func Decode(page *kfile.Page, r io.Reader) (*Command, error) {
	if err := fill(page, r, headerSize); err != nil {
		return nil, err
	}
	tag, _ := page.GetByte(0)
	size, _ := page.GetShort(1)
	kind := store.Kind(tag)
	if !kind.Valid() {
		return nil, errors.Annotatef(ErrMalformedCommand, "unknown kind tag %d", tag)
	}
	if int(size) > page.Size() {
		return nil, errors.Annotatef(ErrMalformedCommand, "%s payload of %d bytes exceeds scratch buffer", kind, size)
	}
	if err := fill(page, r, int(size)); err != nil {
		return nil, err
	}
	rec, err := store.NewRecord(kind, 0)
	if err != nil {
		return nil, errors.Annotate(ErrMalformedCommand, err.Error())
	}
	if err := rec.UnmarshalBinary(page.Data[:size]); err != nil {
		return nil, errors.Annotate(ErrMalformedCommand, err.Error())
	}
	return New(rec)
}

func fill(page *kfile.Page, r io.Reader, n int) error {
	err := page.Fill(r, n)
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Apply writes the after-image into the store of the command's kind.
func (c *Command) Apply(stores *store.Stores) error {
	switch c.kind {
	case store.KindNode:
		return stores.Nodes.Update(c.record.(*store.NodeRecord))
	case store.KindRelationship:
		return stores.Relationships.Update(c.record.(*store.RelationshipRecord))
	case store.KindRelationshipType:
		return stores.RelationshipTypes.Update(c.record.(*store.RelationshipTypeRecord))
	case store.KindProperty:
		return stores.Properties.Update(c.record.(*store.PropertyRecord))
	case store.KindPropertyIndex:
		return stores.PropertyIndexes.Update(c.record.(*store.PropertyIndexRecord))
	}
	return errors.Annotatef(ErrInvariantViolation, "apply of unknown kind %s", c.kind)
}

// Equal compares kind and record images. The in-memory created flag is
// ignored.
func (c *Command) Equal(o *Command) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.kind != o.kind {
		return false
	}
	a, errA := c.record.MarshalBinary()
	b, errB := o.record.MarshalBinary()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

func (c *Command) String() string {
	return fmt.Sprintf("%s[%d, inUse=%t]", c.kind, c.RecordID(), c.record.IsInUse())
}
