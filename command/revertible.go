package command

import (
	"github.com/pingcap/errors"

	"ultraGraph/store"
)

// RevertibleCommand pairs a forward command with the command that undoes it.
// The inverse is captured from the store when the value is built, before any
// later command can change the record again.
type RevertibleCommand struct {
	current  *Command
	previous *Command
}

// inverter builds the inverse record for one kind.
type inverter[R store.Record] interface {
	// previousFromRecord is called with the record currently in the store.
	previousFromRecord(stored R, current R) (R, error)
	// previousFromID synthesizes the not-in-use image of a created record.
	previousFromID(id uint64) R
}

// NewRevertible derives the inverse of cmd from stores.
func NewRevertible(stores *store.Stores, cmd *Command) (*RevertibleCommand, error) {
	var (
		prev store.Record
		err  error
	)
	switch cmd.kind {
	case store.KindNode:
		prev, err = derivePrevious[*store.NodeRecord](stores.Nodes, cmd, nodeInverter{})
	case store.KindRelationship:
		prev, err = derivePrevious[*store.RelationshipRecord](stores.Relationships, cmd, relationshipInverter{})
	case store.KindRelationshipType:
		prev, err = derivePrevious[*store.RelationshipTypeRecord](stores.RelationshipTypes, cmd, relationshipTypeInverter{})
	case store.KindProperty:
		prev, err = derivePrevious[*store.PropertyRecord](stores.Properties, cmd, propertyInverter{})
	case store.KindPropertyIndex:
		prev, err = derivePrevious[*store.PropertyIndexRecord](stores.PropertyIndexes, cmd, propertyIndexInverter{})
	default:
		return nil, errors.Annotatef(ErrInvariantViolation, "revertible of unknown kind %s", cmd.kind)
	}
	if err != nil {
		return nil, err
	}
	return &RevertibleCommand{
		current:  cmd,
		previous: &Command{kind: cmd.kind, record: prev},
	}, nil
}

func derivePrevious[R store.Record](s store.Store[R], cmd *Command, inv inverter[R]) (store.Record, error) {
	current, ok := cmd.record.(R)
	if !ok {
		return nil, errors.Annotatef(ErrInvariantViolation, "%s command carries %T", cmd.kind, cmd.record)
	}
	id := current.RecordID()
	stored, err := s.Get(id)
	if err == nil {
		prev, err := inv.previousFromRecord(stored, current)
		if err != nil {
			return nil, err
		}
		return prev, nil
	}
	if !store.IsNotFound(err) {
		return nil, errors.Annotatef(err, "reading pre-image of %s", cmd)
	}
	if !current.IsCreated() {
		return nil, errors.Annotatef(ErrInvariantViolation, "%s is missing from its store but was not created", cmd)
	}
	return inv.previousFromID(id), nil
}

// Current returns the forward command.
func (rc *RevertibleCommand) Current() *Command {
	return rc.current
}

// Previous returns the command restoring the pre-mutation state.
func (rc *RevertibleCommand) Previous() *Command {
	return rc.previous
}

type nodeInverter struct{}

func (nodeInverter) previousFromRecord(stored, _ *store.NodeRecord) (*store.NodeRecord, error) {
	return stored, nil
}

func (nodeInverter) previousFromID(id uint64) *store.NodeRecord {
	return store.NewNodeRecord(id)
}

type relationshipInverter struct{}

func (relationshipInverter) previousFromRecord(stored, _ *store.RelationshipRecord) (*store.RelationshipRecord, error) {
	return stored, nil
}

func (relationshipInverter) previousFromID(id uint64) *store.RelationshipRecord {
	return store.NewRelationshipRecord(id)
}

// Relationship types are append-only: a stored type record being written
// again means the caller misclassified the command.
type relationshipTypeInverter struct{}

func (relationshipTypeInverter) previousFromRecord(stored, current *store.RelationshipTypeRecord) (*store.RelationshipTypeRecord, error) {
	return nil, errors.Annotatef(ErrInvariantViolation,
		"relationship type %d (%q) is updated by %q", stored.ID, stored.Name, current.Name)
}

func (relationshipTypeInverter) previousFromID(id uint64) *store.RelationshipTypeRecord {
	return store.NewRelationshipTypeRecord(id)
}

type propertyInverter struct{}

func (propertyInverter) previousFromRecord(stored, _ *store.PropertyRecord) (*store.PropertyRecord, error) {
	return stored, nil
}

func (propertyInverter) previousFromID(id uint64) *store.PropertyRecord {
	return store.NewPropertyRecord(id)
}

type propertyIndexInverter struct{}

func (propertyIndexInverter) previousFromRecord(stored, _ *store.PropertyIndexRecord) (*store.PropertyIndexRecord, error) {
	return stored, nil
}

func (propertyIndexInverter) previousFromID(id uint64) *store.PropertyIndexRecord {
	return store.NewPropertyIndexRecord(id)
}
