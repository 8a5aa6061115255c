package kfile

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileMgr(t *testing.T) {
	t.Run("New directory is created and temp files are removed", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		fm, err := NewFileMgr(dir)
		require.NoError(t, err)
		assert.True(t, fm.IsNew())
		require.NoError(t, fm.Close())

		require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.tmp"), []byte("x"), 0o644))
		fm, err = NewFileMgr(dir)
		require.NoError(t, err)
		defer fm.Close()
		assert.False(t, fm.IsNew())
		assert.False(t, fm.Exists("stale.tmp"))
	})

	t.Run("Path that is a file is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(path, nil, 0o644))
		_, err := NewFileMgr(path)
		require.Error(t, err)
	})

	t.Run("Append handle is cached and positioned at the end", func(t *testing.T) {
		fm, err := NewFileMgr(t.TempDir())
		require.NoError(t, err)
		defer fm.Close()

		f, err := fm.OpenAppend("tx.log")
		require.NoError(t, err)
		_, err = f.Write([]byte("hello"))
		require.NoError(t, err)

		again, err := fm.OpenAppend("tx.log")
		require.NoError(t, err)
		assert.Same(t, f, again)

		require.NoError(t, fm.CloseFile("tx.log"))
		f, err = fm.OpenAppend("tx.log")
		require.NoError(t, err)
		pos, err := f.Seek(0, io.SeekCurrent)
		require.NoError(t, err)
		assert.Equal(t, int64(5), pos)

		length, err := fm.Length("tx.log")
		require.NoError(t, err)
		assert.Equal(t, int64(5), length)

		r, err := fm.OpenReader("tx.log")
		require.NoError(t, err)
		defer r.Close()
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("Rename, remove and list", func(t *testing.T) {
		fm, err := NewFileMgr(t.TempDir())
		require.NoError(t, err)
		defer fm.Close()

		for _, name := range []string{"undo.log.000002", "undo.log.000001", "tx.log"} {
			_, err := fm.OpenAppend(name)
			require.NoError(t, err)
		}

		names, err := fm.List("undo.log.*")
		require.NoError(t, err)
		assert.Equal(t, []string{"undo.log.000001", "undo.log.000002"}, names)

		require.NoError(t, fm.Rename("tx.log", "tx.log.recovering"))
		assert.False(t, fm.Exists("tx.log"))
		assert.True(t, fm.Exists("tx.log.recovering"))

		require.NoError(t, fm.Remove("tx.log.recovering"))
		require.NoError(t, fm.Remove("tx.log.recovering"))
		assert.False(t, fm.Exists("tx.log.recovering"))

		length, err := fm.Length("missing")
		require.NoError(t, err)
		assert.Zero(t, length)
	})

	t.Run("Truncate drops the write handle and cuts the file", func(t *testing.T) {
		fm, err := NewFileMgr(t.TempDir())
		require.NoError(t, err)
		defer fm.Close()

		f, err := fm.OpenAppend("tx.log")
		require.NoError(t, err)
		_, err = f.Write([]byte("committed|failed"))
		require.NoError(t, err)

		require.NoError(t, fm.Truncate("tx.log", 9))
		length, err := fm.Length("tx.log")
		require.NoError(t, err)
		assert.Equal(t, int64(9), length)

		again, err := fm.OpenAppend("tx.log")
		require.NoError(t, err)
		assert.NotSame(t, f, again)
		pos, err := again.Seek(0, io.SeekCurrent)
		require.NoError(t, err)
		assert.Equal(t, int64(9), pos)

		require.NoError(t, fm.Truncate("missing", 0))
		assert.Error(t, fm.Truncate("missing", 4))
	})
}
