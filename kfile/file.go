package kfile

import "fmt"

// Position addresses a byte offset inside one named file managed by a FileMgr.
type Position struct {
	Filename string
	Offset   int64
}

func NewPosition(filename string, offset int64) Position {
	return Position{
		Filename: filename,
		Offset:   offset,
	}
}

func (p Position) FileName() string {
	return p.Filename
}

func (p Position) Equals(other Position) bool {
	return p.Filename == other.Filename && p.Offset == other.Offset
}

func (p Position) String() string {
	return fmt.Sprintf("[file %s, offset %d]", p.Filename, p.Offset)
}
