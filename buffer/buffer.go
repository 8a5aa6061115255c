package buffer

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pingcap/errors"
)

// LogBuffer is the write side of a log channel. Values are written big-endian.
// Position reports the logical end of the channel including bytes that are
// still buffered, so callers can compare it against size thresholds.
type LogBuffer interface {
	Put(b byte) error
	PutShort(v uint16) error
	PutInt(v int32) error
	PutLong(v int64) error
	PutBytes(b []byte) error
	Position() int64
	Force() error
}

// Factory adapts an open file into a LogBuffer.
type Factory func(f *os.File) (LogBuffer, error)

// FactoryFor returns the write-through factory for size 0 and a buffered
// factory otherwise.
func FactoryFor(size int) Factory {
	return func(f *os.File) (LogBuffer, error) {
		b, err := NewBuffer(f, size)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// Buffer writes to a file either directly or through an in-memory buffer of
// the configured size. Force flushes and fsyncs.
type Buffer struct {
	file     *os.File
	w        io.Writer
	bw       *bufio.Writer
	position int64
	scratch  [8]byte
}

// NewBuffer wraps f starting at its current offset. A size of 0 disables
// buffering.
func NewBuffer(f *os.File, size int) (*Buffer, error) {
	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errors.Annotatef(err, "locating end of %s", f.Name())
	}
	b := &Buffer{
		file:     f,
		w:        f,
		position: pos,
	}
	if size > 0 {
		b.bw = bufio.NewWriterSize(f, size)
		b.w = b.bw
	}
	return b, nil
}

func (b *Buffer) write(p []byte) error {
	n, err := b.w.Write(p)
	b.position += int64(n)
	if err != nil {
		return errors.Annotatef(err, "writing %s", b.file.Name())
	}
	return nil
}

func (b *Buffer) Put(v byte) error {
	b.scratch[0] = v
	return b.write(b.scratch[:1])
}

func (b *Buffer) PutShort(v uint16) error {
	binary.BigEndian.PutUint16(b.scratch[:2], v)
	return b.write(b.scratch[:2])
}

func (b *Buffer) PutInt(v int32) error {
	binary.BigEndian.PutUint32(b.scratch[:4], uint32(v))
	return b.write(b.scratch[:4])
}

func (b *Buffer) PutLong(v int64) error {
	binary.BigEndian.PutUint64(b.scratch[:8], uint64(v))
	return b.write(b.scratch[:8])
}

func (b *Buffer) PutBytes(p []byte) error {
	return b.write(p)
}

func (b *Buffer) Position() int64 {
	return b.position
}

// Force pushes buffered bytes to the file and syncs it to stable storage.
func (b *Buffer) Force() error {
	if b.bw != nil {
		if err := b.bw.Flush(); err != nil {
			return errors.Annotatef(err, "flushing %s", b.file.Name())
		}
	}
	if err := b.file.Sync(); err != nil {
		return errors.Annotatef(err, "syncing %s", b.file.Name())
	}
	return nil
}

// Buffered returns the number of bytes not yet handed to the file.
func (b *Buffer) Buffered() int {
	if b.bw == nil {
		return 0
	}
	return b.bw.Buffered()
}
