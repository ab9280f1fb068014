package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/schema"
)

// SchemaResult is the output of the schema commands.
type SchemaResult struct {
	Version schema.Version `json:"version"`
	Current schema.Version `json:"current"`
}

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Version string
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the database",
		Long: `Create the database tables at a schema version.

Example:
  kcidb -d sqlite:kcidb.sqlite3 init
  kcidb -d postgresql:dbname=kcidb init --version 4.1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Version, "version", "", "schema version X.Y (default latest)")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	version := schema.Default.Current()
	if opts.Version != "" {
		v, err := schema.ParseVersion(opts.Version)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --version", err)
		}
		version = v
	}

	return opts.withDriver(cmd, func(ctx context.Context, d db.Driver) error {
		if err := d.Init(ctx, version); err != nil {
			return failure("failed to initialize database", err)
		}
		return opts.formatter(cmd).Result(
			fmt.Sprintf("Database initialized at schema %s", version),
			SchemaResult{Version: version, Current: schema.Default.Current()},
		)
	})
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "cleanup",
		Short:         "Remove the database and everything in it",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDriver(cmd, func(ctx context.Context, d db.Driver) error {
				if err := d.Cleanup(ctx); err != nil {
					return failure("failed to clean up database", err)
				}
				return opts.formatter(cmd).Result("Database cleaned up", map[string]bool{"cleaned": true})
			})
		},
	}
}

// NewSchemaCommand creates the schema command and its upgrade subcommand.
func NewSchemaCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show the database schema version",
		Long: `Show the schema version of the database and the latest version
this program supports.

Example:
  kcidb schema
  kcidb schema upgrade
  kcidb schema upgrade 4.1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDriver(cmd, func(ctx context.Context, d db.Driver) error {
				v, err := d.SchemaVersion(ctx)
				if err != nil {
					return failure("failed to read schema version", err)
				}
				current := schema.Default.Current()
				text := v.String()
				if v != current {
					text += fmt.Sprintf(" (latest %s)", current)
				}
				return opts.formatter(cmd).Result(text, SchemaResult{Version: v, Current: current})
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "upgrade [X.Y]",
		Short:         "Migrate the database to a schema version (default latest)",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := schema.Default.Current()
			if len(args) == 1 {
				v, err := schema.ParseVersion(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid version", err)
				}
				target = v
			}
			return opts.withDriver(cmd, func(ctx context.Context, d db.Driver) error {
				if err := d.UpgradeSchema(ctx, target); err != nil {
					return failure("failed to upgrade schema", err)
				}
				return opts.formatter(cmd).Result(
					fmt.Sprintf("Schema upgraded to %s", target),
					SchemaResult{Version: target, Current: schema.Default.Current()},
				)
			})
		},
	})

	return cmd
}
