package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kernelci/kcidb/internal/config"
	"github.com/kernelci/kcidb/internal/db"
	"github.com/kernelci/kcidb/internal/db/registry"
)

// Settings loads the configuration once and applies flag overrides.
func (o *RootOptions) Settings() (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	if o.Verbose {
		cfg.Logging.Level = "debug"
	}
	o.cfg = cfg
	return cfg, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// withDriver opens the configured database, runs fn and closes it. Metrics
// are written to the configured textfile afterwards, whatever fn returned.
func (o *RootOptions) withDriver(cmd *cobra.Command, fn func(context.Context, db.Driver) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := o.Settings()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	d, err := registry.OpenSpec(ctx, cfg.Database, registry.Options{
		Timeout:    cfg.Timeout,
		Instrument: cfg.Metrics.Textfile != "",
	})
	if err != nil {
		return failure("failed to open database", err)
	}
	slog.Debug("database opened", "database", cfg.Database, "capabilities", d.Capabilities())

	err = fn(ctx, d)
	if closeErr := d.Close(); closeErr != nil {
		slog.Warn("error closing database", "error", closeErr)
	}
	if cfg.Metrics.Textfile != "" {
		if werr := prometheus.WriteToTextfile(cfg.Metrics.Textfile, prometheus.DefaultGatherer); werr != nil {
			slog.Warn("error writing metrics", "path", cfg.Metrics.Textfile, "error", werr)
		}
	}
	return err
}

func setupLogging(w io.Writer, cfg config.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, hopts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, hopts)
	}
	slog.SetDefault(slog.New(handler))
}
