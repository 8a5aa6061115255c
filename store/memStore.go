package store

import (
	"sync"

	"github.com/google/btree"
	"github.com/pingcap/errors"
)

type memItem struct {
	id    uint64
	image []byte
}

func memItemLess(a, b memItem) bool {
	return a.id < b.id
}

// MemStore keeps record images in a btree ordered by id. Records are stored
// as images so callers never alias stored state.
type MemStore[R Record] struct {
	mu        sync.RWMutex
	tree      *btree.BTreeG[memItem]
	newRecord func(id uint64) R
}

func NewMemStore[R Record](newRecord func(id uint64) R) *MemStore[R] {
	return &MemStore[R]{
		tree:      btree.NewG[memItem](8, memItemLess),
		newRecord: newRecord,
	}
}

func (s *MemStore[R]) Get(id uint64) (R, error) {
	s.mu.RLock()
	item, ok := s.tree.Get(memItem{id: id})
	s.mu.RUnlock()
	if !ok {
		var zero R
		return zero, errors.Annotatef(ErrRecordNotFound, "id %d", id)
	}
	rec := s.newRecord(id)
	if err := rec.UnmarshalBinary(item.image); err != nil {
		var zero R
		return zero, errors.Trace(err)
	}
	return rec, nil
}

func (s *MemStore[R]) Update(rec R) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !rec.IsInUse() {
		s.tree.Delete(memItem{id: rec.RecordID()})
		return nil
	}
	image, err := rec.MarshalBinary()
	if err != nil {
		return errors.Trace(err)
	}
	s.tree.ReplaceOrInsert(memItem{id: rec.RecordID(), image: image})
	return nil
}

// Len returns the number of in-use records.
func (s *MemStore[R]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Ascend calls fn for each record in id order until fn returns false.
func (s *MemStore[R]) Ascend(fn func(rec R) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var err error
	s.tree.Ascend(func(item memItem) bool {
		rec := s.newRecord(item.id)
		if err = rec.UnmarshalBinary(item.image); err != nil {
			return false
		}
		return fn(rec)
	})
	return errors.Trace(err)
}
