package kfile

import (
	"bytes"
	"io"
	"testing"

	"github.com/pingcap/errors"
)

func TestPage(t *testing.T) {
	t.Run("NewPage creates page with correct size", func(t *testing.T) {
		page := NewPage(713)
		if page.Size() != 713 {
			t.Errorf("expected page size %d, got %d", 713, page.Size())
		}
	})

	t.Run("Integer operations work correctly", func(t *testing.T) {
		page := NewPage(100)
		if err := page.SetInt(0, -42); err != nil {
			t.Fatalf("SetInt failed: %v", err)
		}
		got, err := page.GetInt(0)
		if err != nil {
			t.Fatalf("GetInt failed: %v", err)
		}
		if got != -42 {
			t.Errorf("expected %d, got %d", -42, got)
		}

		if err := page.SetLong(8, 1<<40); err != nil {
			t.Fatalf("SetLong failed: %v", err)
		}
		long, err := page.GetLong(8)
		if err != nil {
			t.Fatalf("GetLong failed: %v", err)
		}
		if long != 1<<40 {
			t.Errorf("expected %d, got %d", int64(1<<40), long)
		}
	})

	t.Run("Out of bounds access is rejected", func(t *testing.T) {
		page := NewPage(4)
		if _, err := page.GetLong(0); errors.Cause(err) != ErrOutOfBounds {
			t.Errorf("expected out of bounds, got %v", err)
		}
		if _, err := page.GetBytes(2, 3); errors.Cause(err) != ErrOutOfBounds {
			t.Errorf("expected out of bounds, got %v", err)
		}
		if err := page.Fill(bytes.NewReader(make([]byte, 8)), 8); errors.Cause(err) != ErrOutOfBounds {
			t.Errorf("expected out of bounds, got %v", err)
		}
	})

	t.Run("Fill distinguishes clean end from truncation", func(t *testing.T) {
		page := NewPage(16)
		if err := page.Fill(bytes.NewReader(nil), 4); err != io.EOF {
			t.Errorf("expected io.EOF, got %v", err)
		}
		if err := page.Fill(bytes.NewReader([]byte{1, 2}), 4); err != io.ErrUnexpectedEOF {
			t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
		}
		if err := page.Fill(bytes.NewReader([]byte{0, 0, 1, 2, 9}), 4); err != nil {
			t.Fatalf("Fill failed: %v", err)
		}
		short, _ := page.GetShort(2)
		if short != 0x0102 {
			t.Errorf("expected %d, got %d", 0x0102, short)
		}
		b, _ := page.GetBytes(0, 4)
		if !bytes.Equal(b, []byte{0, 0, 1, 2}) {
			t.Errorf("unexpected bytes %v", b)
		}
	})
}
