package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pipeline.RequiredReplicates)
	assert.Equal(t, DuplicatePolicyReject, cfg.Pipeline.DuplicatePolicy)
	assert.Equal(t, LeftoverPolicyError, cfg.Pipeline.LeftoverPolicy)
	assert.False(t, cfg.Pipeline.StrictAbort)
	assert.Equal(t, 8, cfg.Workbook.HeaderRow)
	assert.Equal(t, 9, cfg.Workbook.FooterRows)
	assert.Equal(t, "FI - Bkgd", cfg.Workbook.SignalColumn)
	assert.Equal(t, "Exp Conc", cfg.Workbook.ConcColumn)
	assert.Equal(t, "pg/mL", cfg.Workbook.Unit)
	assert.False(t, cfg.Diagnostics.Draw)
	assert.True(t, cfg.Diagnostics.SaveModelImage)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("LUMINEX_PIPELINE_SOURCE", "/data/raw")
	t.Setenv("LUMINEX_PIPELINE_REQUIRED_REPLICATES", "2")
	t.Setenv("LUMINEX_DIAGNOSTICS_DRAW", "true")
	t.Setenv("LUMINEX_LOGGING_LEVEL", "debug")

	path := writeConfigFile(t, `
pipeline:
  source: /from/file
  destination: /data/out
  required_replicates: 4
logging:
  level: warn
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/raw", cfg.Pipeline.Source, "env wins over file")
	assert.Equal(t, "/data/out", cfg.Pipeline.Destination, "file fills what env left empty")
	assert.Equal(t, 2, cfg.Pipeline.RequiredReplicates)
	assert.True(t, cfg.Diagnostics.Draw)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfigFile(t, `
pipeline:
  required_replicates: 2
  strict_abort: true
  duplicate_policy: overwrite
  leftover_policy: log
workbook:
  header_row: 3
  signal_column: MFI
diagnostics:
  draw: true
  save_model_image: false
  image_dir: plots
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Pipeline.RequiredReplicates)
	assert.True(t, cfg.Pipeline.StrictAbort)
	assert.Equal(t, DuplicatePolicyOverwrite, cfg.Pipeline.DuplicatePolicy)
	assert.Equal(t, LeftoverPolicyLog, cfg.Pipeline.LeftoverPolicy)
	assert.Equal(t, 3, cfg.Workbook.HeaderRow)
	assert.Equal(t, "MFI", cfg.Workbook.SignalColumn)
	assert.Equal(t, "Exp Conc", cfg.Workbook.ConcColumn, "unset workbook columns keep their defaults")
	assert.True(t, cfg.Diagnostics.Draw)
	assert.False(t, cfg.Diagnostics.SaveModelImage)
	assert.Equal(t, "plots", cfg.Diagnostics.ImageDir)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed yaml", body: "pipeline: [unterminated"},
		{name: "zero replicates rejected", body: "pipeline:\n  required_replicates: -1\n"},
		{name: "unknown duplicate policy", body: "pipeline:\n  duplicate_policy: merge\n"},
		{name: "unknown log level", body: "logging:\n  level: chatty\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfigFile(t, tt.body))
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "replicates below one", mutate: func(c *Config) { c.Pipeline.RequiredReplicates = 0 }, wantErr: true},
		{name: "empty signal column", mutate: func(c *Config) { c.Workbook.SignalColumn = "" }, wantErr: true},
		{name: "negative header row", mutate: func(c *Config) { c.Workbook.HeaderRow = -1 }, wantErr: true},
		{name: "file output without path", mutate: func(c *Config) {
			c.Logging.Output = "file"
			c.Logging.FilePath = ""
		}, wantErr: true},
		{name: "diagnostics without image dir", mutate: func(c *Config) {
			c.Diagnostics.Draw = true
			c.Diagnostics.ImageDir = " "
		}, wantErr: true},
		{name: "sample ratio out of range", mutate: func(c *Config) { c.Telemetry.SampleRatio = 1.5 }, wantErr: true},
		{name: "text format coerced to json", mutate: func(c *Config) { c.Logging.Format = "text" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "json", cfg.Logging.Format)
		})
	}
}

func TestConfig_ValidateRun(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.ValidateRun())

	cfg.Pipeline.Source = "in"
	assert.Error(t, cfg.ValidateRun())

	cfg.Pipeline.Destination = "out"
	assert.NoError(t, cfg.ValidateRun())
}
