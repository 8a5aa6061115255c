package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"

	"ultraGraph/kfile"
	"ultraGraph/log_record"
	"ultraGraph/undo"
	"ultraGraph/utils"
)

// NewLogCommand creates the log command group.
func NewLogCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect transaction log files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "dump <file>",
		Short: "Print every entry of a transaction log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dumpLog(cmd.OutOrStdout(), args[0])
		},
	})
	return cmd
}

func dumpLog(out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()

	it := utils.NewLogIterator(f)
	count := 0
	for it.HasNext() {
		e, err := it.Next()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%8d  %s\n", it.Offset(), e)
		count++
	}
	if err := it.Err(); err != nil {
		if !log_record.IsCorrupt(err) {
			return err
		}
		fmt.Fprintf(out, "%8d  unreadable: %v\n", it.GoodEnd(), err)
	}
	fmt.Fprintf(out, "%d entries\n", count)
	return nil
}

// NewUndoCommand creates the undo command group.
func NewUndoCommand(opts *RootOptions) *cobra.Command {
	var since int64
	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Inspect undo log segments",
	}
	dump := &cobra.Command{
		Use:   "dump <segment>",
		Short: "Print the undo groups of a segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dumpUndo(cmd.OutOrStdout(), args[0], since, cmd.Flags().Changed("since"))
		},
	}
	dump.Flags().Int64Var(&since, "since", 0, "only groups started at or after this time (unix milliseconds)")
	cmd.AddCommand(dump)
	return cmd
}

func dumpUndo(out io.Writer, path string, since int64, filtered bool) error {
	fm, err := kfile.NewFileMgr(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer fm.Close()
	name := filepath.Base(path)

	if index, err := undo.ReadFooter(fm, name); err == nil {
		fmt.Fprintf(out, "sealed segment, %d indexed groups\n", len(index))
	} else {
		fmt.Fprintf(out, "no footer: %v\n", err)
	}

	var groups []*undo.Group
	if filtered {
		groups, err = undo.ReadSince(fm, name, since)
	} else {
		groups, err = undo.ReadSegment(fm, name)
	}
	if err != nil {
		return err
	}
	for _, g := range groups {
		fmt.Fprintf(out, "%8d  %s\n", g.Offset, g.Start)
		for _, cmd := range g.Commands {
			fmt.Fprintf(out, "          undo %s\n", cmd)
		}
	}
	fmt.Fprintf(out, "%d groups\n", len(groups))
	return nil
}
