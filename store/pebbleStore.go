package store

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble"
	"github.com/pingcap/errors"
)

// PebbleStore persists one record kind in a pebble keyspace. Keys are the kind
// tag followed by the big-endian id; values are record images.
type PebbleStore[R Record] struct {
	db        *pebble.DB
	kind      Kind
	newRecord func(id uint64) R
}

func NewPebbleStore[R Record](db *pebble.DB, kind Kind, newRecord func(id uint64) R) *PebbleStore[R] {
	return &PebbleStore[R]{db: db, kind: kind, newRecord: newRecord}
}

func (s *PebbleStore[R]) key(id uint64) []byte {
	key := make([]byte, 9)
	key[0] = byte(s.kind)
	binary.BigEndian.PutUint64(key[1:], id)
	return key
}

func (s *PebbleStore[R]) Get(id uint64) (R, error) {
	var zero R
	val, closer, err := s.db.Get(s.key(id))
	if err == pebble.ErrNotFound {
		return zero, errors.Annotatef(ErrRecordNotFound, "%s %d", s.kind, id)
	}
	if err != nil {
		return zero, errors.Annotatef(err, "reading %s %d", s.kind, id)
	}
	defer closer.Close()

	rec := s.newRecord(id)
	if err := rec.UnmarshalBinary(val); err != nil {
		return zero, errors.Trace(err)
	}
	return rec, nil
}

func (s *PebbleStore[R]) Update(rec R) error {
	key := s.key(rec.RecordID())
	if !rec.IsInUse() {
		return errors.Annotatef(s.db.Delete(key, pebble.Sync), "deleting %s %d", s.kind, rec.RecordID())
	}
	image, err := rec.MarshalBinary()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(s.db.Set(key, image, pebble.Sync), "writing %s %d", s.kind, rec.RecordID())
}

// Ascend calls fn for each stored record in id order until fn returns false.
func (s *PebbleStore[R]) Ascend(fn func(rec R) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{byte(s.kind)},
		UpperBound: []byte{byte(s.kind) + 1},
	})
	if err != nil {
		return errors.Trace(err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		rec := s.newRecord(binary.BigEndian.Uint64(iter.Key()[1:]))
		if err := rec.UnmarshalBinary(iter.Value()); err != nil {
			return errors.Trace(err)
		}
		if !fn(rec) {
			break
		}
	}
	return errors.Trace(iter.Error())
}

// OpenPebbleStores opens (or creates) a pebble database at dir and returns a
// bundle whose stores share it. opts may be nil.
func OpenPebbleStores(dir string, opts *pebble.Options) (*Stores, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Annotatef(err, "opening record stores at %s", dir)
	}
	return &Stores{
		Nodes:             NewPebbleStore(db, KindNode, NewNodeRecord),
		Relationships:     NewPebbleStore(db, KindRelationship, NewRelationshipRecord),
		RelationshipTypes: NewPebbleStore(db, KindRelationshipType, NewRelationshipTypeRecord),
		Properties:        NewPebbleStore(db, KindProperty, NewPropertyRecord),
		PropertyIndexes:   NewPebbleStore(db, KindPropertyIndex, NewPropertyIndexRecord),
		close:             db.Close,
	}, nil
}
