package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kcidb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Zero(t, cfg.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, DefaultIngestMessages, cfg.Ingest.Messages)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
database: "mux:sqlite:a.db null"
timeout: 90s
logging:
  level: debug
  format: json
metrics:
  textfile: /var/lib/node_exporter/kcidb.prom
ingest:
  timeout: 5m
  messages: 0
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mux:sqlite:a.db null", cfg.Database)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "/var/lib/node_exporter/kcidb.prom", cfg.Metrics.Textfile)
	assert.Equal(t, 5*time.Minute, cfg.Ingest.Timeout)
	assert.Zero(t, cfg.Ingest.Messages)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "database: sqlite:file.db\n")
	t.Setenv("KCIDB_DATABASE", "memory")
	t.Setenv("KCIDB_INGEST_MESSAGES", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database)
	assert.Equal(t, 7, cfg.Ingest.Messages)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: "sqlite",
			Logging:  LoggingConfig{Level: "info", Format: "text"},
			Ingest:   IngestConfig{Messages: 1},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty database", mutate: func(c *Config) { c.Database = "" }, wantErr: ErrInvalid},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: ErrInvalid},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: ErrInvalid},
		{name: "negative messages", mutate: func(c *Config) { c.Ingest.Messages = -1 }, wantErr: ErrInvalid},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeout = -time.Second }, wantErr: ErrNegativeTimeout},
		{name: "negative ingest timeout", mutate: func(c *Config) { c.Ingest.Timeout = -time.Second }, wantErr: ErrNegativeTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
