// Package config loads kcidb settings from a YAML file and KCIDB_*
// environment variables.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalid         = errors.New("invalid configuration")
	ErrNegativeTimeout = errors.New("timeout must not be negative")
)

// Defaults.
const (
	DefaultDatabase       = "sqlite"
	DefaultIngestMessages = 1
)

//go:embed schema.cue
var schemaSource string

// Config holds every kcidb setting.
type Config struct {
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Logging  LoggingConfig `mapstructure:"logging"`
	Metrics  MetricsConfig `mapstructure:"metrics"`
	Ingest   IngestConfig  `mapstructure:"ingest"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig names the node-exporter textfile written on exit. Empty
// disables metrics output.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

type IngestConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Messages int           `mapstructure:"messages"`
}

// Load reads configuration from path, or from kcidb.yaml in the working
// directory, ~/.config/kcidb or /etc/kcidb when path is empty. A missing
// default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kcidb")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/kcidb")
		v.AddConfigPath("/etc/kcidb")
	}

	v.SetEnvPrefix("KCIDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database", DefaultDatabase)
	v.SetDefault("timeout", "0s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("ingest.timeout", "0s")
	v.SetDefault("ingest.messages", DefaultIngestMessages)
}

// Validate checks c against the embedded CUE schema and the constraints
// CUE cannot express on durations.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	def := ctx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	val := def.Unify(ctx.Encode(c.document()))
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout %s", ErrNegativeTimeout, c.Timeout)
	}
	if c.Ingest.Timeout < 0 {
		return fmt.Errorf("%w: ingest.timeout %s", ErrNegativeTimeout, c.Ingest.Timeout)
	}
	return nil
}

// document renders c with the keys and value kinds the schema expects.
func (c *Config) document() map[string]any {
	return map[string]any{
		"database": c.Database,
		"timeout":  c.Timeout.String(),
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
		},
		"metrics": map[string]any{
			"textfile": c.Metrics.Textfile,
		},
		"ingest": map[string]any{
			"timeout":  c.Ingest.Timeout.String(),
			"messages": c.Ingest.Messages,
		},
	}
}
