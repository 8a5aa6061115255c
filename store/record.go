package store

import (
	"encoding"
	"encoding/binary"

	"github.com/pingcap/errors"
)

const (
	// NoNextRelationship and NoPrevRelationship terminate relationship chains.
	NoNextRelationship int64 = -1
	NoPrevRelationship int64 = -1
	NoNextProperty     int64 = -1
	NoPrevProperty     int64 = -1
	NoRelationshipType int32 = -1

	MaxNameLength        = 256
	MaxPropertyValueSize = 512
)

// ErrMalformedRecord is returned when a record image cannot be decoded.
var ErrMalformedRecord = errors.New("malformed record image")

// Record is one fixed-layout record of a store. Images carry the record id so
// a command payload is self-contained. Created is in-memory only: it marks a
// record the current mutation allocated.
type Record interface {
	RecordID() uint64
	Kind() Kind
	IsInUse() bool
	IsCreated() bool
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type NodeRecord struct {
	ID       uint64
	InUse    bool
	Created  bool
	NextRel  int64
	NextProp int64
}

// NewNodeRecord returns the not-in-use image for id.
func NewNodeRecord(id uint64) *NodeRecord {
	return &NodeRecord{ID: id, NextRel: NoNextRelationship, NextProp: NoNextProperty}
}

func (r *NodeRecord) RecordID() uint64 { return r.ID }
func (r *NodeRecord) Kind() Kind       { return KindNode }
func (r *NodeRecord) IsInUse() bool    { return r.InUse }
func (r *NodeRecord) IsCreated() bool  { return r.Created }

func (r *NodeRecord) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, 25)
	b = appendHeader(b, r.ID, r.InUse)
	b = binary.BigEndian.AppendUint64(b, uint64(r.NextRel))
	b = binary.BigEndian.AppendUint64(b, uint64(r.NextProp))
	return b, nil
}

func (r *NodeRecord) UnmarshalBinary(data []byte) error {
	d := decoder{buf: data}
	r.ID, r.InUse = d.header()
	r.NextRel = d.long()
	r.NextProp = d.long()
	return d.finish(KindNode)
}

type RelationshipRecord struct {
	ID            uint64
	InUse         bool
	Created       bool
	FirstNode     uint64
	SecondNode    uint64
	Type          int32
	FirstPrevRel  int64
	FirstNextRel  int64
	SecondPrevRel int64
	SecondNextRel int64
	NextProp      int64
}

// NewRelationshipRecord returns the not-in-use image for id.
func NewRelationshipRecord(id uint64) *RelationshipRecord {
	return &RelationshipRecord{
		ID:            id,
		Type:          NoRelationshipType,
		FirstPrevRel:  NoPrevRelationship,
		FirstNextRel:  NoNextRelationship,
		SecondPrevRel: NoPrevRelationship,
		SecondNextRel: NoNextRelationship,
		NextProp:      NoNextProperty,
	}
}

func (r *RelationshipRecord) RecordID() uint64 { return r.ID }
func (r *RelationshipRecord) Kind() Kind       { return KindRelationship }
func (r *RelationshipRecord) IsInUse() bool    { return r.InUse }
func (r *RelationshipRecord) IsCreated() bool  { return r.Created }

func (r *RelationshipRecord) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, 69)
	b = appendHeader(b, r.ID, r.InUse)
	b = binary.BigEndian.AppendUint64(b, r.FirstNode)
	b = binary.BigEndian.AppendUint64(b, r.SecondNode)
	b = binary.BigEndian.AppendUint32(b, uint32(r.Type))
	for _, v := range []int64{r.FirstPrevRel, r.FirstNextRel, r.SecondPrevRel, r.SecondNextRel, r.NextProp} {
		b = binary.BigEndian.AppendUint64(b, uint64(v))
	}
	return b, nil
}

func (r *RelationshipRecord) UnmarshalBinary(data []byte) error {
	d := decoder{buf: data}
	r.ID, r.InUse = d.header()
	r.FirstNode = uint64(d.long())
	r.SecondNode = uint64(d.long())
	r.Type = d.int()
	r.FirstPrevRel = d.long()
	r.FirstNextRel = d.long()
	r.SecondPrevRel = d.long()
	r.SecondNextRel = d.long()
	r.NextProp = d.long()
	return d.finish(KindRelationship)
}

// RelationshipTypeRecord names a relationship type. Types are append-only.
type RelationshipTypeRecord struct {
	ID      uint64
	InUse   bool
	Created bool
	Name    string
}

func NewRelationshipTypeRecord(id uint64) *RelationshipTypeRecord {
	return &RelationshipTypeRecord{ID: id}
}

func (r *RelationshipTypeRecord) RecordID() uint64 { return r.ID }
func (r *RelationshipTypeRecord) Kind() Kind       { return KindRelationshipType }
func (r *RelationshipTypeRecord) IsInUse() bool    { return r.InUse }
func (r *RelationshipTypeRecord) IsCreated() bool  { return r.Created }

func (r *RelationshipTypeRecord) MarshalBinary() ([]byte, error) {
	if len(r.Name) > MaxNameLength {
		return nil, errors.Errorf("relationship type name of %d bytes exceeds %d", len(r.Name), MaxNameLength)
	}
	b := make([]byte, 0, 11+len(r.Name))
	b = appendHeader(b, r.ID, r.InUse)
	b = appendBytes(b, []byte(r.Name))
	return b, nil
}

func (r *RelationshipTypeRecord) UnmarshalBinary(data []byte) error {
	d := decoder{buf: data}
	r.ID, r.InUse = d.header()
	r.Name = string(d.bytes(MaxNameLength))
	return d.finish(KindRelationshipType)
}

type PropertyRecord struct {
	ID         uint64
	InUse      bool
	Created    bool
	KeyIndexID int32
	Value      []byte
	PrevProp   int64
	NextProp   int64
}

func NewPropertyRecord(id uint64) *PropertyRecord {
	return &PropertyRecord{ID: id, PrevProp: NoPrevProperty, NextProp: NoNextProperty}
}

func (r *PropertyRecord) RecordID() uint64 { return r.ID }
func (r *PropertyRecord) Kind() Kind       { return KindProperty }
func (r *PropertyRecord) IsInUse() bool    { return r.InUse }
func (r *PropertyRecord) IsCreated() bool  { return r.Created }

func (r *PropertyRecord) MarshalBinary() ([]byte, error) {
	if len(r.Value) > MaxPropertyValueSize {
		return nil, errors.Errorf("property value of %d bytes exceeds %d", len(r.Value), MaxPropertyValueSize)
	}
	b := make([]byte, 0, 31+len(r.Value))
	b = appendHeader(b, r.ID, r.InUse)
	b = binary.BigEndian.AppendUint32(b, uint32(r.KeyIndexID))
	b = binary.BigEndian.AppendUint64(b, uint64(r.PrevProp))
	b = binary.BigEndian.AppendUint64(b, uint64(r.NextProp))
	b = appendBytes(b, r.Value)
	return b, nil
}

func (r *PropertyRecord) UnmarshalBinary(data []byte) error {
	d := decoder{buf: data}
	r.ID, r.InUse = d.header()
	r.KeyIndexID = d.int()
	r.PrevProp = d.long()
	r.NextProp = d.long()
	r.Value = d.bytes(MaxPropertyValueSize)
	return d.finish(KindProperty)
}

type PropertyIndexRecord struct {
	ID            uint64
	InUse         bool
	Created       bool
	PropertyCount int32
	Key           string
}

func NewPropertyIndexRecord(id uint64) *PropertyIndexRecord {
	return &PropertyIndexRecord{ID: id}
}

func (r *PropertyIndexRecord) RecordID() uint64 { return r.ID }
func (r *PropertyIndexRecord) Kind() Kind       { return KindPropertyIndex }
func (r *PropertyIndexRecord) IsInUse() bool    { return r.InUse }
func (r *PropertyIndexRecord) IsCreated() bool  { return r.Created }

func (r *PropertyIndexRecord) MarshalBinary() ([]byte, error) {
	if len(r.Key) > MaxNameLength {
		return nil, errors.Errorf("property key of %d bytes exceeds %d", len(r.Key), MaxNameLength)
	}
	b := make([]byte, 0, 15+len(r.Key))
	b = appendHeader(b, r.ID, r.InUse)
	b = binary.BigEndian.AppendUint32(b, uint32(r.PropertyCount))
	b = appendBytes(b, []byte(r.Key))
	return b, nil
}

func (r *PropertyIndexRecord) UnmarshalBinary(data []byte) error {
	d := decoder{buf: data}
	r.ID, r.InUse = d.header()
	r.PropertyCount = d.int()
	r.Key = string(d.bytes(MaxNameLength))
	return d.finish(KindPropertyIndex)
}

// NewRecord returns an empty, not-in-use record of kind k.
func NewRecord(k Kind, id uint64) (Record, error) {
	switch k {
	case KindNode:
		return NewNodeRecord(id), nil
	case KindRelationship:
		return NewRelationshipRecord(id), nil
	case KindRelationshipType:
		return NewRelationshipTypeRecord(id), nil
	case KindProperty:
		return NewPropertyRecord(id), nil
	case KindPropertyIndex:
		return NewPropertyIndexRecord(id), nil
	}
	return nil, errors.Errorf("unknown record kind %d", byte(k))
}

func appendHeader(b []byte, id uint64, inUse bool) []byte {
	b = binary.BigEndian.AppendUint64(b, id)
	if inUse {
		return append(b, 1)
	}
	return append(b, 0)
}

func appendBytes(b, v []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(v)))
	return append(b, v...)
}

// decoder reads fixed-width fields and remembers the first short read.
type decoder struct {
	buf []byte
	off int
	bad bool
}

func (d *decoder) take(n int) []byte {
	if d.bad || d.off+n > len(d.buf) {
		d.bad = true
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) header() (uint64, bool) {
	id := uint64(d.long())
	flag := d.take(1)
	return id, flag != nil && flag[0] == 1
}

func (d *decoder) int() int32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (d *decoder) long() int64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (d *decoder) bytes(limit int) []byte {
	b := d.take(2)
	if b == nil {
		return nil
	}
	n := int(binary.BigEndian.Uint16(b))
	if n > limit {
		d.bad = true
		return nil
	}
	v := d.take(n)
	if v == nil {
		return nil
	}
	return append([]byte(nil), v...)
}

func (d *decoder) finish(k Kind) error {
	if d.bad {
		return errors.Annotatef(ErrMalformedRecord, "%s image of %d bytes is truncated", k, len(d.buf))
	}
	if d.off != len(d.buf) {
		return errors.Annotatef(ErrMalformedRecord, "%s image has %d trailing bytes", k, len(d.buf)-d.off)
	}
	return nil
}
