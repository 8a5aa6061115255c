package buffer

import (
	"bytes"
	"encoding/binary"
)

// MemoryBuffer is a LogBuffer backed by a byte slice. It is used for
// re-encoding entries in tests and by tools that do not need durability.
type MemoryBuffer struct {
	buf    bytes.Buffer
	forces int
}

func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{}
}

func (m *MemoryBuffer) Put(v byte) error {
	return m.buf.WriteByte(v)
}

func (m *MemoryBuffer) PutShort(v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := m.buf.Write(b[:])
	return err
}

func (m *MemoryBuffer) PutInt(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	_, err := m.buf.Write(b[:])
	return err
}

func (m *MemoryBuffer) PutLong(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	_, err := m.buf.Write(b[:])
	return err
}

func (m *MemoryBuffer) PutBytes(p []byte) error {
	_, err := m.buf.Write(p)
	return err
}

func (m *MemoryBuffer) Position() int64 {
	return int64(m.buf.Len())
}

func (m *MemoryBuffer) Force() error {
	m.forces++
	return nil
}

// Forces reports how many times Force was called.
func (m *MemoryBuffer) Forces() int {
	return m.forces
}

// Bytes returns the written bytes. The slice aliases the buffer.
func (m *MemoryBuffer) Bytes() []byte {
	return m.buf.Bytes()
}

// Reader returns a reader over a copy of the written bytes.
func (m *MemoryBuffer) Reader() *bytes.Reader {
	return bytes.NewReader(append([]byte(nil), m.buf.Bytes()...))
}

func (m *MemoryBuffer) Reset() {
	m.buf.Reset()
}
