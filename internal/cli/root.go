package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/kernelci/kcidb/internal/config"
	"github.com/kernelci/kcidb/internal/db/registry"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose      bool
	Format       string // "json" | "text" | "yaml"
	ConfigPath   string
	Database     string
	DatabaseHelp bool

	cfg *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for the kcidb CLI.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand()
	return cmd
}

func newRootCommand() (*cobra.Command, *RootOptions) {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "kcidb",
		Short: "KCIDB - Kernel CI report database",
		Long: `Store, query and dump kernel CI reports.

Reports are JSON documents holding checkouts, builds and tests. The
database is selected with --database (see --database-help) or the
"database" setting of the configuration file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.DatabaseHelp {
				fmt.Fprint(cmd.OutOrStdout(), registry.Help())
				return NewExitError(ExitSuccess, "")
			}
			cfg, err := opts.Settings()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load configuration", err)
			}
			setupLogging(cmd.ErrOrStderr(), cfg.Logging)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text|yaml)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "configuration file (default kcidb.yaml)")
	cmd.PersistentFlags().StringVarP(&opts.Database, "database", "d", "", "database specification, overrides the configuration")
	cmd.PersistentFlags().BoolVar(&opts.DatabaseHelp, "database-help", false, "print database specification help and exit")

	// Add subcommands
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewCleanupCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewDriversCommand(opts))

	usageErrors(cmd)
	return cmd, opts
}

// usageErrors makes flag and argument errors of cmd and its subcommands
// exit with ExitCommandError.
func usageErrors(cmd *cobra.Command) {
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "", err)
	})
	if validate := cmd.Args; validate != nil {
		cmd.Args = func(c *cobra.Command, args []string) error {
			if err := validate(c, args); err != nil {
				return WrapExitError(ExitCommandError, "", err)
			}
			return nil
		}
	}
	for _, sub := range cmd.Commands() {
		usageErrors(sub)
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
