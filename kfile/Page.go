package kfile

import (
	"encoding/binary"
	"io"

	"github.com/pingcap/errors"
)

// ErrOutOfBounds is returned when an access falls outside the page.
var ErrOutOfBounds = errors.New("offset out of bounds")

// Page is a fixed-size scratch area used while decoding log entries. The
// codec fills a prefix of the page from a stream and then reads typed values
// out of it. A Page is not safe for concurrent use.
type Page struct {
	Data []byte
}

func NewPage(size int) *Page {
	return &Page{
		Data: make([]byte, size),
	}
}

func NewPageFromBytes(b []byte) *Page {
	return &Page{
		Data: b,
	}
}

// Fill reads exactly n bytes from r into the start of the page. It returns
// io.EOF only when nothing at all could be read, io.ErrUnexpectedEOF when the
// stream ended part way through.
func (p *Page) Fill(r io.Reader, n int) error {
	if n < 0 || n > len(p.Data) {
		return errors.Annotatef(ErrOutOfBounds, "fill %d bytes into page of %d", n, len(p.Data))
	}
	_, err := io.ReadFull(r, p.Data[:n])
	return err
}

func (p *Page) GetByte(offset int) (byte, error) {
	if offset < 0 || offset+1 > len(p.Data) {
		return 0, errors.Annotate(ErrOutOfBounds, "getting byte")
	}
	return p.Data[offset], nil
}

func (p *Page) GetShort(offset int) (uint16, error) {
	if offset < 0 || offset+2 > len(p.Data) {
		return 0, errors.Annotate(ErrOutOfBounds, "getting short")
	}
	return binary.BigEndian.Uint16(p.Data[offset:]), nil
}

func (p *Page) GetInt(offset int) (int32, error) {
	if offset < 0 || offset+4 > len(p.Data) {
		return 0, errors.Annotate(ErrOutOfBounds, "getting int")
	}
	return int32(binary.BigEndian.Uint32(p.Data[offset:])), nil
}

func (p *Page) GetLong(offset int) (int64, error) {
	if offset < 0 || offset+8 > len(p.Data) {
		return 0, errors.Annotate(ErrOutOfBounds, "getting long")
	}
	return int64(binary.BigEndian.Uint64(p.Data[offset:])), nil
}

// GetBytes returns a copy of n bytes starting at offset.
func (p *Page) GetBytes(offset, n int) ([]byte, error) {
	if offset < 0 || n < 0 || offset+n > len(p.Data) {
		return nil, errors.Annotate(ErrOutOfBounds, "getting bytes")
	}
	dataCopy := make([]byte, n)
	copy(dataCopy, p.Data[offset:offset+n])
	return dataCopy, nil
}

func (p *Page) SetInt(offset int, val int32) error {
	if offset < 0 || offset+4 > len(p.Data) {
		return errors.Annotate(ErrOutOfBounds, "setting int")
	}
	binary.BigEndian.PutUint32(p.Data[offset:], uint32(val))
	return nil
}

func (p *Page) SetLong(offset int, val int64) error {
	if offset < 0 || offset+8 > len(p.Data) {
		return errors.Annotate(ErrOutOfBounds, "setting long")
	}
	binary.BigEndian.PutUint64(p.Data[offset:], uint64(val))
	return nil
}

func (p *Page) Size() int {
	return len(p.Data)
}

func (p *Page) Contents() []byte {
	return p.Data
}
