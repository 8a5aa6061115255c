package undo

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	farm "github.com/dgryski/go-farm"
	"github.com/pingcap/errors"

	"ultraGraph/command"
	"ultraGraph/kfile"
	"ultraGraph/log_record"
	"ultraGraph/txinterface"
	"ultraGraph/utils"
)

const (
	footerMarker byte = 0xFF
	// footerCanary closes a correctly sealed segment.
	footerCanary int64 = 0x756e646f2d656e64
	// marker, count, fingerprint, footer offset, canary
	footerFixedSize = 1 + 4 + 8 + 8 + 8
	indexEntrySize  = 16
)

// ErrNoFooter is returned when a segment has no intact footer.
var ErrNoFooter = errors.New("segment has no valid footer")

// IndexEntry locates the Start entry of one group in a sealed segment.
type IndexEntry struct {
	TimeWritten int64
	Offset      int64
}

// Group is one complete undo record group.
type Group struct {
	Start    *log_record.StartEntry
	Commands []*command.Command
	Offset   int64
}

func (g *Group) Identifier() txinterface.TxID {
	return g.Start.Identifier()
}

// Transaction returns the group's inverse commands in write order.
func (g *Group) Transaction() *log_record.RevertibleTransaction {
	tx := log_record.NewRevertibleTransaction(g.Identifier(), g.Start.TimeWritten)
	for _, cmd := range g.Commands {
		tx.AddCommand(cmd)
	}
	return tx
}

func segmentName(prefix string, seq int) string {
	return fmt.Sprintf("%s.%06d", prefix, seq)
}

func parseSegmentSeq(prefix, name string) (int, bool) {
	var seq int
	if _, err := fmt.Sscanf(name, prefix+".%06d", &seq); err != nil {
		return 0, false
	}
	return seq, segmentName(prefix, seq) == name
}

func encodeFooter(index []IndexEntry, footerOffset int64) []byte {
	b := make([]byte, 0, footerFixedSize+indexEntrySize*len(index))
	b = append(b, footerMarker)
	b = binary.BigEndian.AppendUint32(b, uint32(len(index)))
	for _, e := range index {
		b = binary.BigEndian.AppendUint64(b, uint64(e.TimeWritten))
		b = binary.BigEndian.AppendUint64(b, uint64(e.Offset))
	}
	b = binary.BigEndian.AppendUint64(b, farm.Fingerprint64(b))
	b = binary.BigEndian.AppendUint64(b, uint64(footerOffset))
	return binary.BigEndian.AppendUint64(b, uint64(footerCanary))
}

// ReadFooter returns the group index of a sealed segment.
func ReadFooter(fm *kfile.FileMgr, name string) ([]IndexEntry, error) {
	size, err := fm.Length(name)
	if err != nil {
		return nil, err
	}
	if size < footerFixedSize {
		return nil, ErrNoFooter
	}
	f, err := fm.OpenReader(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tail := make([]byte, 16)
	if _, err := f.ReadAt(tail, size-16); err != nil {
		return nil, errors.Annotatef(err, "reading footer of %s", name)
	}
	footerOffset := int64(binary.BigEndian.Uint64(tail))
	if int64(binary.BigEndian.Uint64(tail[8:])) != footerCanary ||
		footerOffset < 0 || footerOffset > size-footerFixedSize {
		return nil, ErrNoFooter
	}

	footer := make([]byte, size-footerOffset)
	if _, err := f.ReadAt(footer, footerOffset); err != nil {
		return nil, errors.Annotatef(err, "reading footer of %s", name)
	}
	count := int(binary.BigEndian.Uint32(footer[1:]))
	if footer[0] != footerMarker || len(footer) != footerFixedSize+indexEntrySize*count {
		return nil, ErrNoFooter
	}
	body := footer[:5+indexEntrySize*count]
	if farm.Fingerprint64(body) != binary.BigEndian.Uint64(footer[len(body):]) {
		return nil, ErrNoFooter
	}
	index := make([]IndexEntry, count)
	for i := range index {
		off := 5 + i*indexEntrySize
		index[i] = IndexEntry{
			TimeWritten: int64(binary.BigEndian.Uint64(body[off:])),
			Offset:      int64(binary.BigEndian.Uint64(body[off+8:])),
		}
	}
	return index, nil
}

// ReadSegment returns every complete group of a segment in write order. A
// group cut short by a crash is dropped.
func ReadSegment(fm *kfile.FileMgr, name string) ([]*Group, error) {
	f, err := fm.OpenReader(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readGroups(f, 0, name)
}

// ReadSince returns the complete groups whose Start was written at or after
// ts. The footer index is used to skip ahead when it is intact.
func ReadSince(fm *kfile.FileMgr, name string, ts int64) ([]*Group, error) {
	var start int64
	index, err := ReadFooter(fm, name)
	switch {
	case err == nil:
		start = -1
		for _, e := range index {
			if e.TimeWritten >= ts {
				start = e.Offset
				break
			}
		}
		if start < 0 {
			return nil, nil
		}
	case err != ErrNoFooter:
		return nil, err
	}

	f, err := fm.OpenReader(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, errors.Annotatef(err, "seeking %s", name)
	}
	groups, err := readGroups(f, start, name)
	if err != nil {
		return nil, err
	}
	out := groups[:0]
	for _, g := range groups {
		if g.Start.TimeWritten >= ts {
			out = append(out, g)
		}
	}
	return out, nil
}

func readGroups(f *os.File, start int64, name string) ([]*Group, error) {
	br := bufio.NewReader(f)
	r := utils.NewCountingReader(br, start)
	page := log_record.NewScratch()

	var groups []*Group
	for {
		if b, err := br.Peek(1); err != nil || b[0] == footerMarker {
			return groups, nil
		}
		offset := r.Offset()
		entry, err := log_record.ReadEntry(page, r)
		if errors.Cause(err) == log_record.ErrTruncatedEntry {
			return groups, nil
		}
		if err != nil {
			return groups, errors.Annotatef(err, "%s at offset %d", name, offset)
		}
		if entry == nil {
			return groups, nil
		}
		startEntry, ok := entry.(*log_record.StartEntry)
		if !ok {
			return groups, errors.Annotatef(log_record.ErrCorruptEntry, "%s at offset %d: %s outside a group", name, offset, entry)
		}

		g := &Group{Start: startEntry, Offset: offset}
		complete, err := log_record.ScanGroup(page, r, startEntry.Identifier(), func(e log_record.LogEntry) error {
			ce, ok := e.(*log_record.CommandEntry)
			if !ok {
				return errors.Annotatef(log_record.ErrCorruptEntry, "%s inside undo group %d", e, startEntry.Identifier())
			}
			g.Commands = append(g.Commands, ce.Command)
			return nil
		})
		if err != nil {
			return groups, errors.Annotatef(err, "%s at offset %d", name, offset)
		}
		if !complete {
			return groups, nil
		}
		groups = append(groups, g)
	}
}
