package store

import "fmt"

// Kind identifies the store a record belongs to. It is also the tag written
// in front of every encoded command.
type Kind byte

const (
	KindNode Kind = iota + 1
	KindRelationship
	KindRelationshipType
	KindProperty
	KindPropertyIndex
)

// Kinds lists every kind in tag order.
var Kinds = []Kind{KindNode, KindRelationship, KindRelationshipType, KindProperty, KindPropertyIndex}

func (k Kind) Valid() bool {
	switch k {
	case KindNode, KindRelationship, KindRelationshipType, KindProperty, KindPropertyIndex:
		return true
	}
	return false
}

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindRelationship:
		return "relationship"
	case KindRelationshipType:
		return "relationship-type"
	case KindProperty:
		return "property"
	case KindPropertyIndex:
		return "property-index"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}
