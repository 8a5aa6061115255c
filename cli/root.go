package cli

import (
	"github.com/spf13/cobra"

	"ultraGraph/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Dir        string
	LogLevel   string

	cfg *config.Config
}

// Config returns the validated configuration of the running command.
func (o *RootOptions) Config() *config.Config {
	return o.cfg
}

func (o *RootOptions) load() error {
	cfg := config.NewDefaultConfig()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if o.Dir != "" {
		cfg.Dir = o.Dir
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.InitLogger(); err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

// NewRootCommand creates the root command of the ultragraph tool.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ultragraph",
		Short: "Inspect and recover an ultraGraph database directory",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "configuration file (.toml or .yaml)")
	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", "", "database directory, overrides the configuration")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level, overrides the configuration")

	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))
	cmd.AddCommand(NewUndoCommand(opts))
	cmd.AddCommand(NewLocksCommand(opts))

	return cmd
}
