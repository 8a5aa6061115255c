package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"

	"ultraGraph/concurrency"
)

// NewLocksCommand creates the locks command group.
func NewLocksCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Lock manager tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "demo",
		Short: "Run two transactions into a deadlock and show how it is detected",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return locksDemo(cmd.Context(), cmd.OutOrStdout(), opts.Config().LockWaitTimeout.Duration)
		},
	})
	return cmd
}

func locksDemo(ctx context.Context, out io.Writer, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	lm := concurrency.NewLockManager(timeout)
	a := concurrency.Resource{Space: "node", ID: 1}
	b := concurrency.Resource{Space: "node", ID: 2}

	if err := lm.AcquireWrite(ctx, 1, a); err != nil {
		return err
	}
	if err := lm.AcquireWrite(ctx, 2, b); err != nil {
		return err
	}
	fmt.Fprintln(out, "tx-1 holds node(1), tx-2 holds node(2)")

	first := make(chan error, 1)
	go func() { first <- lm.AcquireWrite(ctx, 1, b) }()
	for len(lm.AwaitedLocks(0)) == 0 {
		time.Sleep(time.Millisecond)
	}
	fmt.Fprintln(out, "tx-1 waits for node(2):")
	if err := lm.DumpWaitGraph(out); err != nil {
		return err
	}

	err := lm.AcquireWrite(ctx, 2, a)
	if !concurrency.IsDeadlock(err) {
		return errors.Errorf("expected a deadlock, got %v", err)
	}
	fmt.Fprintf(out, "tx-2 requesting node(1): %v\n", err)

	lm.ReleaseAll(2)
	if err := <-first; err != nil {
		return err
	}
	fmt.Fprintln(out, "tx-2 aborted, tx-1 proceeds:")
	if err := lm.DumpAllLocks(out); err != nil {
		return err
	}
	fmt.Fprintf(out, "deadlocks detected: %d\n", lm.DetectedDeadlockCount())
	return nil
}
