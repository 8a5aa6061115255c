package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "ultragraph.toml", `
dir = "/var/lib/ultragraph"
store = "memory"
log-buffer-size = "64KiB"
undo-log-file-size-limit = "16MiB"
lock-wait-timeout = "250ms"
master-id = 3
branch-qualifier = "node-a"
log-level = "debug"
`)
	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "/var/lib/ultragraph", c.Dir)
	assert.Equal(t, StoreMemory, c.Store)
	assert.Equal(t, "tx.log", c.TxLogFile)
	assert.Equal(t, ByteSize(64*units.KiB), c.LogBufferSize)
	assert.Equal(t, ByteSize(16*units.MiB), c.UndoLogFileSizeLimit)
	assert.Equal(t, 250*time.Millisecond, c.LockWaitTimeout.Duration)
	assert.Equal(t, int32(3), c.MasterID)

	tc := c.TransactionConfig()
	assert.Equal(t, int64(16*units.MiB), tc.UndoSizeLimit)
	assert.Equal(t, []byte("node-a"), tc.BranchQualifier)
	assert.NotNil(t, tc.BufferFactory)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "ultragraph.yaml", `
dir: data
undo-log-file-size-limit: 1MiB
lock-wait-timeout: 2s
`)
	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())
	assert.Equal(t, "data", c.Dir)
	assert.Equal(t, StorePebble, c.Store)
	assert.Equal(t, ByteSize(units.MiB), c.UndoLogFileSizeLimit)
	assert.Equal(t, 2*time.Second, c.LockWaitTimeout.Duration)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeConfig(t, "c.json", "{}"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "c.toml", `undo-log-file-size-limit = "lots"`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "c.toml", `no-such-option = 1`))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "c.yaml", "lock-wait-timeout: soon\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		undo    ByteSize
		timeout time.Duration
		expUndo ByteSize
		expWait time.Duration
	}{
		{"defaults", 0, 0, 8 * units.MiB, 10 * time.Second},
		{"too small", 100, time.Millisecond, 4 * units.KiB, 10 * time.Millisecond},
		{"too large", 2 * units.GiB, time.Hour, units.GiB, 10 * time.Minute},
		{"in range", 64 * units.KiB, time.Minute, 64 * units.KiB, time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewTestConfig(t.TempDir())
			c.UndoLogFileSizeLimit = tc.undo
			c.LockWaitTimeout = NewDuration(tc.timeout)
			require.NoError(t, c.Validate())
			assert.Equal(t, tc.expUndo, c.UndoLogFileSizeLimit)
			assert.Equal(t, tc.expWait, c.LockWaitTimeout.Duration)
		})
	}

	c := NewTestConfig("")
	assert.Error(t, c.Validate())

	c = NewTestConfig(t.TempDir())
	c.Store = "rocks"
	assert.Error(t, c.Validate())

	c = NewTestConfig(t.TempDir())
	c.BranchQualifier = string(make([]byte, 65))
	assert.Error(t, c.Validate())
}

func TestByteSizeText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("8MiB")))
	assert.Equal(t, ByteSize(8*units.MiB), b)
	text, err := b.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "8MiB", string(text))
}

func TestInitLogger(t *testing.T) {
	c := NewTestConfig(t.TempDir())
	c.LogFile = filepath.Join(c.Dir, "ultragraph.log")
	require.NoError(t, c.InitLogger())
	c.LogLevel = "nonsense"
	assert.Error(t, c.InitLogger())
}
