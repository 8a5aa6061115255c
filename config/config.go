package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"ultraGraph/buffer"
	"ultraGraph/log_record"
	"ultraGraph/transaction"
	"ultraGraph/undo"
)

const (
	MinUndoLogFileSizeLimit = 4 * units.KiB
	MaxUndoLogFileSizeLimit = units.GiB
	MinLockWaitTimeout      = 10 * time.Millisecond
	MaxLockWaitTimeout      = 10 * time.Minute

	defaultDir             = "ultragraph-data"
	defaultTxLogFile       = "tx.log"
	defaultLockWaitTimeout = 10 * time.Second
	defaultLogLevel        = "info"

	StoreMemory = "memory"
	StorePebble = "pebble"
)

// ByteSize is a size written as "8MiB" or "4096" in configuration files.
type ByteSize int64

func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := units.RAMInBytes(string(text))
	if err != nil {
		return errors.Annotatef(err, "invalid size %q", text)
	}
	*b = ByteSize(v)
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(units.BytesSize(float64(b))), nil
}

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	return b.UnmarshalText([]byte(node.Value))
}

// Duration is a time.Duration written as "10s" in configuration files.
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Annotatef(err, "invalid duration %q", text)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Config is the configuration of one database directory.
type Config struct {
	Dir       string `toml:"dir" yaml:"dir"`
	Store     string `toml:"store" yaml:"store"`
	TxLogFile string `toml:"tx-log-file" yaml:"tx-log-file"`
	// LogBufferSize selects the log buffer adapter: 0 writes through to the
	// file, anything larger buffers that many bytes between forces.
	LogBufferSize        ByteSize `toml:"log-buffer-size" yaml:"log-buffer-size"`
	UndoLogFileSizeLimit ByteSize `toml:"undo-log-file-size-limit" yaml:"undo-log-file-size-limit"`
	LockWaitTimeout      Duration `toml:"lock-wait-timeout" yaml:"lock-wait-timeout"`
	MasterID             int32    `toml:"master-id" yaml:"master-id"`
	BranchQualifier      string   `toml:"branch-qualifier" yaml:"branch-qualifier"`
	LogLevel             string   `toml:"log-level" yaml:"log-level"`
	LogFile              string   `toml:"log-file" yaml:"log-file"`
}

func NewDefaultConfig() *Config {
	return &Config{
		Dir:                  defaultDir,
		Store:                StorePebble,
		TxLogFile:            defaultTxLogFile,
		UndoLogFileSizeLimit: undo.DefaultSizeLimit,
		LockWaitTimeout:      NewDuration(defaultLockWaitTimeout),
		LogLevel:             defaultLogLevel,
	}
}

func NewTestConfig(dir string) *Config {
	c := NewDefaultConfig()
	c.Dir = dir
	c.Store = StoreMemory
	c.LockWaitTimeout = NewDuration(time.Second)
	return c
}

// Load reads path over the defaults. The format follows the extension:
// .toml, or .yaml/.yml.
func Load(path string) (*Config, error) {
	c := NewDefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, c)
		if err != nil {
			return nil, errors.Annotatef(err, "loading %s", path)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, errors.Errorf("config %s contains undefined items: %s", path, strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Annotatef(err, "loading %s", path)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, errors.Annotatef(err, "loading %s", path)
		}
	default:
		return nil, errors.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return c, nil
}

// Validate rejects unusable values and clamps tunables into their supported
// ranges.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return errors.New("dir must be set")
	}
	if c.TxLogFile == "" {
		c.TxLogFile = defaultTxLogFile
	}
	switch c.Store {
	case "":
		c.Store = StorePebble
	case StoreMemory, StorePebble:
	default:
		return errors.Errorf("unknown store %q", c.Store)
	}
	if c.LogBufferSize < 0 {
		return errors.Errorf("log-buffer-size must not be negative, got %d", c.LogBufferSize)
	}
	if len(c.BranchQualifier) > log_record.MaxBranchQualifierSize {
		return errors.Errorf("branch-qualifier exceeds %d bytes", log_record.MaxBranchQualifierSize)
	}

	switch {
	case c.UndoLogFileSizeLimit == 0:
		c.UndoLogFileSizeLimit = undo.DefaultSizeLimit
	case c.UndoLogFileSizeLimit < MinUndoLogFileSizeLimit:
		clampSize("undo-log-file-size-limit", &c.UndoLogFileSizeLimit, MinUndoLogFileSizeLimit)
	case c.UndoLogFileSizeLimit > MaxUndoLogFileSizeLimit:
		clampSize("undo-log-file-size-limit", &c.UndoLogFileSizeLimit, MaxUndoLogFileSizeLimit)
	}

	switch {
	case c.LockWaitTimeout.Duration == 0:
		c.LockWaitTimeout = NewDuration(defaultLockWaitTimeout)
	case c.LockWaitTimeout.Duration < MinLockWaitTimeout:
		clampDuration("lock-wait-timeout", &c.LockWaitTimeout, MinLockWaitTimeout)
	case c.LockWaitTimeout.Duration > MaxLockWaitTimeout:
		clampDuration("lock-wait-timeout", &c.LockWaitTimeout, MaxLockWaitTimeout)
	}
	return nil
}

func clampSize(name string, v *ByteSize, to int64) {
	log.Warn("configuration value out of range, clamped",
		zap.String("name", name),
		zap.Int64("value", int64(*v)),
		zap.Int64("clamped", to))
	*v = ByteSize(to)
}

func clampDuration(name string, v *Duration, to time.Duration) {
	log.Warn("configuration value out of range, clamped",
		zap.String("name", name),
		zap.Duration("value", v.Duration),
		zap.Duration("clamped", to))
	*v = NewDuration(to)
}

// InitLogger installs the global logger described by LogLevel and LogFile.
func (c *Config) InitLogger() error {
	cfg := &log.Config{Level: c.LogLevel}
	if c.LogFile != "" {
		cfg.File = log.FileLogConfig{Filename: c.LogFile}
	}
	lg, props, err := log.InitLogger(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	log.ReplaceGlobals(lg, props)
	return nil
}

// LogBufferFactory returns the buffer adapter both logs write through.
func (c *Config) LogBufferFactory() buffer.Factory {
	return buffer.FactoryFor(int(c.LogBufferSize))
}

func (c *Config) TransactionConfig() transaction.Config {
	var bqual []byte
	if c.BranchQualifier != "" {
		bqual = []byte(c.BranchQualifier)
	}
	return transaction.Config{
		TxLogFile:       c.TxLogFile,
		UndoSizeLimit:   int64(c.UndoLogFileSizeLimit),
		BufferFactory:   c.LogBufferFactory(),
		LockWaitTimeout: c.LockWaitTimeout.Duration,
		MasterID:        c.MasterID,
		BranchQualifier: bqual,
	}
}
