package undo

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ultraGraph/buffer"
	"ultraGraph/command"
	"ultraGraph/kfile"
	"ultraGraph/log_record"
	"ultraGraph/store"
	"ultraGraph/txinterface"
)

func newUndoLog(t *testing.T, limit int64, bufferSize int) (*kfile.FileMgr, *UndoLog) {
	t.Helper()
	fm, err := kfile.NewFileMgr(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fm.Close() })
	u, err := Open(fm, Config{SizeLimit: limit, BufferFactory: buffer.FactoryFor(bufferSize)})
	require.NoError(t, err)
	t.Cleanup(func() { u.Close() })
	return fm, u
}

// createNode returns a revertible command creating node id.
func createNode(t *testing.T, stores *store.Stores, id uint64) *command.RevertibleCommand {
	t.Helper()
	rc, err := command.NewRevertible(stores, command.NodeCommand(&store.NodeRecord{ID: id, InUse: true, Created: true}))
	require.NoError(t, err)
	return rc
}

func readAll(t *testing.T, fm *kfile.FileMgr, u *UndoLog) []*Group {
	t.Helper()
	var groups []*Group
	for _, name := range u.Segments() {
		g, err := ReadSegment(fm, name)
		require.NoError(t, err)
		groups = append(groups, g...)
	}
	return groups
}

func TestRotationKeepsEveryGroup(t *testing.T) {
	fm, u := newUndoLog(t, 200, 64)
	stores := store.NewMemStores()

	for id := 1; id <= 20; id++ {
		rc := createNode(t, stores, uint64(id))
		require.NoError(t, u.WriteTransaction(txinterface.TxID(id), []byte("g"), 1, int64(id*10), []*command.RevertibleCommand{rc}))
	}

	segments := u.Segments()
	require.Greater(t, len(segments), 1)

	groups := readAll(t, fm, u)
	require.Len(t, groups, 20)
	for i, g := range groups {
		assert.Equal(t, txinterface.TxID(i+1), g.Identifier())
		require.Len(t, g.Commands, 1)
		assert.Equal(t, uint64(i+1), g.Commands[0].RecordID())
		assert.False(t, g.Commands[0].Record().IsInUse())
	}

	for _, name := range segments[:len(segments)-1] {
		index, err := ReadFooter(fm, name)
		require.NoError(t, err, name)
		inSegment, err := ReadSegment(fm, name)
		require.NoError(t, err)
		require.Len(t, index, len(inSegment))
		for i, g := range inSegment {
			assert.Equal(t, g.Offset, index[i].Offset)
			assert.Equal(t, g.Start.TimeWritten, index[i].TimeWritten)
		}
	}
	_, err := ReadFooter(fm, u.Active())
	assert.Equal(t, ErrNoFooter, err)
}

func TestConcurrentGroupsAreContiguous(t *testing.T) {
	fm, u := newUndoLog(t, 1024, 0)
	stores := store.NewMemStores()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				id := txinterface.TxID(w*100 + i + 1)
				if !assert.NoError(t, u.Start(id, nil, 0, int64(id))) {
					return
				}
				for n := 0; n < 3; n++ {
					rc, err := command.NewRevertible(stores, command.NodeCommand(&store.NodeRecord{ID: uint64(id)*10 + uint64(n), InUse: true, Created: true}))
					if !assert.NoError(t, err) {
						return
					}
					assert.NoError(t, u.WriteCommand(rc, id))
				}
				assert.NoError(t, u.Done(id))
			}
		}(w)
	}
	wg.Wait()

	groups := readAll(t, fm, u)
	require.Len(t, groups, 80)
	seen := make(map[txinterface.TxID]bool)
	for _, g := range groups {
		assert.False(t, seen[g.Identifier()])
		seen[g.Identifier()] = true
		require.Len(t, g.Commands, 3)
		for _, cmd := range g.Commands {
			assert.Equal(t, uint64(g.Identifier()), cmd.RecordID()/10)
		}
	}
}

func TestRetireDeletesSealedSegments(t *testing.T) {
	fm, u := newUndoLog(t, 100, 0)
	stores := store.NewMemStores()

	for id := 1; id <= 6; id++ {
		rc := createNode(t, stores, uint64(id))
		require.NoError(t, u.WriteTransaction(txinterface.TxID(id), nil, 0, int64(id), []*command.RevertibleCommand{rc}))
	}
	segments := u.Segments()
	require.Greater(t, len(segments), 2)
	first := segments[0]
	firstGroups, err := ReadSegment(fm, first)
	require.NoError(t, err)
	require.NotEmpty(t, firstGroups)

	for _, g := range firstGroups[:len(firstGroups)-1] {
		u.Retire(g.Identifier())
	}
	assert.True(t, fm.Exists(first), "segment with a live group is kept")

	u.Retire(firstGroups[len(firstGroups)-1].Identifier())
	assert.False(t, fm.Exists(first))
	assert.NotContains(t, u.Segments(), first)

	_, err = u.Lookup(firstGroups[0].Identifier())
	assert.Equal(t, ErrUnknownTransaction, errors.Cause(err))

	// Retiring the active segment's groups never deletes it.
	for id := 1; id <= 6; id++ {
		u.Retire(txinterface.TxID(id))
	}
	assert.True(t, fm.Exists(u.Active()))
}

func TestReadSince(t *testing.T) {
	fm, u := newUndoLog(t, 150, 0)
	stores := store.NewMemStores()
	for id := 1; id <= 6; id++ {
		rc := createNode(t, stores, uint64(id))
		require.NoError(t, u.WriteTransaction(txinterface.TxID(id), nil, 0, int64(id*100), []*command.RevertibleCommand{rc}))
	}
	sealed := u.Segments()[0]
	all, err := ReadSegment(fm, sealed)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(all), 3)

	since := all[1].Start.TimeWritten
	viaFooter, err := ReadSince(fm, sealed, since)
	require.NoError(t, err)
	require.Len(t, viaFooter, len(all)-1)
	assert.Equal(t, all[1].Identifier(), viaFooter[0].Identifier())

	none, err := ReadSince(fm, sealed, 1<<40)
	require.NoError(t, err)
	assert.Empty(t, none)

	t.Run("Damaged footer falls back to a scan", func(t *testing.T) {
		path := filepath.Join(fm.Dir(), sealed)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		data[len(data)-20] ^= 0xFF
		require.NoError(t, os.WriteFile(path, data, 0o644))

		_, err = ReadFooter(fm, sealed)
		assert.Equal(t, ErrNoFooter, err)

		viaScan, err := ReadSince(fm, sealed, since)
		require.NoError(t, err)
		require.Len(t, viaScan, len(viaFooter))
		for i := range viaScan {
			assert.Equal(t, viaFooter[i].Identifier(), viaScan[i].Identifier())
			assert.Equal(t, viaFooter[i].Offset, viaScan[i].Offset)
		}
	})
}

func TestIncompleteGroupIsDropped(t *testing.T) {
	fm, u := newUndoLog(t, 1<<20, 0)
	stores := store.NewMemStores()

	require.NoError(t, u.WriteTransaction(1, nil, 0, 1, []*command.RevertibleCommand{createNode(t, stores, 1)}))
	require.NoError(t, u.Start(2, nil, 0, 2))
	require.NoError(t, u.WriteCommand(createNode(t, stores, 2), 2))

	groups, err := ReadSegment(fm, u.Active())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, txinterface.TxID(1), groups[0].Identifier())

	_, err = u.Lookup(2)
	assert.Equal(t, ErrUnknownTransaction, errors.Cause(err))
}

func TestGroupMisuse(t *testing.T) {
	_, u := newUndoLog(t, 1<<20, 0)
	stores := store.NewMemStores()

	err := u.WriteCommand(createNode(t, stores, 1), 1)
	assert.Equal(t, log_record.ErrInvariantViolation, errors.Cause(err))

	require.NoError(t, u.Start(1, nil, 0, 1))
	assert.Equal(t, log_record.ErrInvariantViolation, errors.Cause(u.Done(2)))
	require.NoError(t, u.Done(1))

	require.NoError(t, u.Close())
	assert.Equal(t, ErrClosed, errors.Cause(u.Start(3, nil, 0, 3)))
}

func TestUndoRestoresPreviousValue(t *testing.T) {
	_, u := newUndoLog(t, 1<<20, 0)
	stores := store.NewMemStores()
	before := &store.PropertyRecord{ID: 5, InUse: true, KeyIndexID: 1, Value: []byte(""), PrevProp: -1, NextProp: -1}
	require.NoError(t, stores.Properties.Update(before))

	after := *before
	after.Value = []byte("A")
	rc, err := command.NewRevertible(stores, command.PropertyCommand(&after))
	require.NoError(t, err)
	require.NoError(t, u.WriteTransaction(7, nil, 0, 1, []*command.RevertibleCommand{rc}))
	require.NoError(t, rc.Current().Apply(stores))

	g, err := u.Lookup(7)
	require.NoError(t, err)
	tx := g.Transaction()
	cmds := tx.Commands()
	for i := len(cmds) - 1; i >= 0; i-- {
		require.NoError(t, cmds[i].Apply(stores))
	}
	got, err := stores.Properties.Get(5)
	require.NoError(t, err)
	assert.Empty(t, got.Value)
}

func TestOpenContinuesSequence(t *testing.T) {
	fm, err := kfile.NewFileMgr(t.TempDir())
	require.NoError(t, err)
	defer fm.Close()

	u, err := Open(fm, Config{})
	require.NoError(t, err)
	require.NoError(t, u.Close())
	assert.Equal(t, "undo.log.000001", u.Active())

	u, err = Open(fm, Config{})
	require.NoError(t, err)
	assert.Equal(t, "undo.log.000002", u.Active())
	require.NoError(t, u.Close())

	names, err := ListSegments(fm, DefaultFilePrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"undo.log.000001", "undo.log.000002"}, names)

	require.NoError(t, Clear(fm, DefaultFilePrefix))
	names, err = ListSegments(fm, DefaultFilePrefix)
	require.NoError(t, err)
	assert.Empty(t, names)
}
