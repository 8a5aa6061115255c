package utils

import (
	"bufio"
	"io"

	"github.com/pingcap/errors"

	"ultraGraph/kfile"
	"ultraGraph/log_record"
)

// LogIterator walks the entries of a log stream front to back. It reads one
// entry ahead so HasNext can report a clean end; a decoding failure ends the
// iteration and is reported by Next and Err.
type LogIterator struct {
	r          *CountingReader
	page       *kfile.Page
	closer     io.Closer
	next       log_record.LogEntry
	nextOffset int64
	offset     int64
	fetched    bool
	err        error
}

var _ Iterator[log_record.LogEntry] = (*LogIterator)(nil)

func NewLogIterator(r io.Reader) *LogIterator {
	return &LogIterator{
		r:    NewCountingReader(bufio.NewReader(r), 0),
		page: log_record.NewScratch(),
	}
}

// OpenLogIterator iterates over the named file of fm.
func OpenLogIterator(fm *kfile.FileMgr, name string) (*LogIterator, error) {
	f, err := fm.OpenReader(name)
	if err != nil {
		return nil, err
	}
	it := NewLogIterator(f)
	it.closer = f
	return it, nil
}

func (it *LogIterator) fetch() {
	if it.fetched {
		return
	}
	it.fetched = true
	if it.err != nil {
		return
	}
	it.nextOffset = it.r.Offset()
	it.next, it.err = log_record.ReadEntry(it.page, it.r)
}

// HasNext indicates whether there's another entry to read.
func (it *LogIterator) HasNext() bool {
	it.fetch()
	return it.next != nil
}

// Next returns the next entry, io.EOF at a clean end, or the decoding error.
func (it *LogIterator) Next() (log_record.LogEntry, error) {
	it.fetch()
	if it.next == nil {
		if it.err != nil {
			return nil, it.err
		}
		return nil, io.EOF
	}
	e := it.next
	it.offset = it.nextOffset
	it.next = nil
	it.fetched = false
	return e, nil
}

// Offset returns the stream offset of the entry last returned by Next.
func (it *LogIterator) Offset() int64 {
	return it.offset
}

// GoodEnd returns the offset just past the last entry that decoded cleanly.
func (it *LogIterator) GoodEnd() int64 {
	it.fetch()
	return it.nextOffset
}

// Err returns the decoding error that ended the iteration, if any.
func (it *LogIterator) Err() error {
	return it.err
}

func (it *LogIterator) Close() error {
	if it.closer == nil {
		return nil
	}
	err := it.closer.Close()
	it.closer = nil
	return errors.Trace(err)
}
