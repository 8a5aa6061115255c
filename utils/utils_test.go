package utils

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultraGraph/buffer"
	"ultraGraph/command"
	"ultraGraph/kfile"
	"ultraGraph/log_record"
	"ultraGraph/store"
	"ultraGraph/txinterface"
)

func writeEntries(t *testing.T, buf buffer.LogBuffer, entries ...log_record.LogEntry) {
	t.Helper()
	for _, e := range entries {
		require.NoError(t, log_record.WriteEntry(buf, e))
	}
}

func sampleGroup(id int32) []log_record.LogEntry {
	return []log_record.LogEntry{
		log_record.NewStartEntry(txID(id), nil, nil, 0, 10),
		log_record.NewCommandEntry(txID(id), command.NodeCommand(&store.NodeRecord{ID: 5, InUse: true})),
		log_record.NewCommitEntry(txID(id), 20),
	}
}

func TestLogIterator(t *testing.T) {
	t.Run("Iterates in order and tracks offsets", func(t *testing.T) {
		buf := buffer.NewMemoryBuffer()
		writeEntries(t, buf, sampleGroup(1)...)

		it := NewLogIterator(buf.Reader())
		var types []log_record.EntryType
		var offsets []int64
		for it.HasNext() {
			e, err := it.Next()
			require.NoError(t, err)
			types = append(types, e.Type())
			offsets = append(offsets, it.Offset())
		}
		assert.Equal(t, []log_record.EntryType{log_record.TypeStart, log_record.TypeCommand, log_record.TypeCommit}, types)
		assert.Equal(t, int64(0), offsets[0])
		assert.Equal(t, int64(19), offsets[1])
		assert.Equal(t, buf.Position(), it.GoodEnd())

		_, err := it.Next()
		assert.Equal(t, io.EOF, err)
		assert.NoError(t, it.Err())
	})

	t.Run("Truncated tail stops at the last good entry", func(t *testing.T) {
		buf := buffer.NewMemoryBuffer()
		writeEntries(t, buf, sampleGroup(1)...)
		data := buf.Bytes()

		it := NewLogIterator(bytes.NewReader(data[:len(data)-3]))
		count := 0
		for it.HasNext() {
			_, err := it.Next()
			require.NoError(t, err)
			count++
		}
		assert.Equal(t, 2, count)
		assert.True(t, log_record.IsCorrupt(it.Err()))
		_, err := it.Next()
		assert.True(t, log_record.IsCorrupt(err))
		assert.Equal(t, int64(len(data)-13), it.GoodEnd())
	})

	t.Run("Reads a file through the file manager", func(t *testing.T) {
		fm, err := kfile.NewFileMgr(t.TempDir())
		require.NoError(t, err)
		defer fm.Close()

		f, err := fm.OpenAppend("tx.log")
		require.NoError(t, err)
		b, err := buffer.NewBuffer(f, 0)
		require.NoError(t, err)
		writeEntries(t, b, sampleGroup(2)...)
		require.NoError(t, b.Force())

		it, err := OpenLogIterator(fm, "tx.log")
		require.NoError(t, err)
		defer it.Close()
		require.True(t, it.HasNext())
		e, err := it.Next()
		require.NoError(t, err)
		assert.Equal(t, txID(2), e.Identifier())
	})
}

func TestCountingReader(t *testing.T) {
	c := NewCountingReader(bytes.NewReader([]byte("abcdef")), 10)
	p := make([]byte, 4)
	n, err := c.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, int64(14), c.Offset())
}

func txID(id int32) txinterface.TxID {
	return txinterface.TxID(id)
}
