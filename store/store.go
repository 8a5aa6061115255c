package store

import (
	"github.com/pingcap/errors"
)

// ErrRecordNotFound is the cause returned by Get when the id is absent or the
// record is not in use.
var ErrRecordNotFound = errors.New("record not found")

// Store is keyed record storage for one kind.
type Store[R Record] interface {
	// Get returns a fresh copy of the stored record.
	Get(id uint64) (R, error)
	// Update stores rec. A not-in-use image removes the record.
	Update(rec R) error
}

// IsNotFound reports whether err was caused by a missing record.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrRecordNotFound
}

// Stores bundles one store per record kind.
type Stores struct {
	Nodes             Store[*NodeRecord]
	Relationships     Store[*RelationshipRecord]
	RelationshipTypes Store[*RelationshipTypeRecord]
	Properties        Store[*PropertyRecord]
	PropertyIndexes   Store[*PropertyIndexRecord]

	close func() error
}

// NewMemStores returns a bundle of empty in-memory stores.
func NewMemStores() *Stores {
	return &Stores{
		Nodes:             NewMemStore(NewNodeRecord),
		Relationships:     NewMemStore(NewRelationshipRecord),
		RelationshipTypes: NewMemStore(NewRelationshipTypeRecord),
		Properties:        NewMemStore(NewPropertyRecord),
		PropertyIndexes:   NewMemStore(NewPropertyIndexRecord),
	}
}

// Update writes rec into the store of its kind.
func (s *Stores) Update(rec Record) error {
	switch r := rec.(type) {
	case *NodeRecord:
		return s.Nodes.Update(r)
	case *RelationshipRecord:
		return s.Relationships.Update(r)
	case *RelationshipTypeRecord:
		return s.RelationshipTypes.Update(r)
	case *PropertyRecord:
		return s.Properties.Update(r)
	case *PropertyIndexRecord:
		return s.PropertyIndexes.Update(r)
	}
	return errors.Errorf("unsupported record type %T", rec)
}

// Get reads the record of kind k with the given id.
func (s *Stores) Get(k Kind, id uint64) (Record, error) {
	switch k {
	case KindNode:
		return s.Nodes.Get(id)
	case KindRelationship:
		return s.Relationships.Get(id)
	case KindRelationshipType:
		return s.RelationshipTypes.Get(id)
	case KindProperty:
		return s.Properties.Get(id)
	case KindPropertyIndex:
		return s.PropertyIndexes.Get(id)
	}
	return nil, errors.Errorf("unknown record kind %d", byte(k))
}

func (s *Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
