package cli

import (
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/spf13/cobra"

	"ultraGraph/config"
	"ultraGraph/kfile"
	"ultraGraph/recovery"
	"ultraGraph/store"
)

const pebbleDir = "records"

// openStores opens the record stores the configuration names.
func openStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.Store == config.StoreMemory {
		return store.NewMemStores(), nil
	}
	return store.OpenPebbleStores(filepath.Join(cfg.Dir, pebbleDir), &pebble.Options{})
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Redo committed transactions missing from the record stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(cmd, opts.Config())
		},
	}
}

func runRecover(cmd *cobra.Command, cfg *config.Config) error {
	fm, err := kfile.NewFileMgr(cfg.Dir)
	if err != nil {
		return err
	}
	defer fm.Close()

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	rm := recovery.NewRecoveryMgr(fm, stores, recovery.Config{
		TxLogFile:     cfg.TxLogFile,
		BufferFactory: cfg.LogBufferFactory(),
	})
	stats, err := rm.Recover()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "recovered:  %d\n", stats.Recovered)
	fmt.Fprintf(out, "completed:  %d\n", stats.Completed)
	fmt.Fprintf(out, "discarded:  %d\n", stats.Discarded)
	fmt.Fprintf(out, "undo groups cleared: %d\n", stats.UndoGroups)
	if stats.TruncatedAt >= 0 {
		fmt.Fprintf(out, "torn entry dropped at offset %d\n", stats.TruncatedAt)
	}
	return nil
}
