package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Pipeline    PipelineConfig    `yaml:"pipeline" envconfig:"PIPELINE"`
	Workbook    WorkbookConfig    `yaml:"workbook" envconfig:"WORKBOOK"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics" envconfig:"DIAGNOSTICS"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// PipelineConfig contains the calibration pipeline settings
type PipelineConfig struct {
	Source             string `yaml:"source" envconfig:"SOURCE"`
	Destination        string `yaml:"destination" envconfig:"DESTINATION"`
	RequiredReplicates int    `yaml:"required_replicates" envconfig:"REQUIRED_REPLICATES" default:"3" validate:"min=1"`
	StrictAbort        bool   `yaml:"strict_abort" envconfig:"STRICT_ABORT" default:"false"`
	DuplicatePolicy    string `yaml:"duplicate_policy" envconfig:"DUPLICATE_POLICY" default:"reject" validate:"oneof=reject overwrite"`
	LeftoverPolicy     string `yaml:"leftover_policy" envconfig:"LEFTOVER_POLICY" default:"error" validate:"oneof=error log"`
}

// WorkbookConfig describes the layout of the instrument export workbooks
type WorkbookConfig struct {
	HeaderRow        int    `yaml:"header_row" envconfig:"HEADER_ROW" default:"8" validate:"min=0"`
	FooterRows       int    `yaml:"footer_rows" envconfig:"FOOTER_ROWS" default:"9" validate:"min=0"`
	TypeColumn       string `yaml:"type_column" envconfig:"TYPE_COLUMN" default:"Type" validate:"required"`
	SignalColumn     string `yaml:"signal_column" envconfig:"SIGNAL_COLUMN" default:"FI - Bkgd" validate:"required"`
	ConcColumn       string `yaml:"concentration_column" envconfig:"CONCENTRATION_COLUMN" default:"Exp Conc" validate:"required"`
	DilutionColumn   string `yaml:"dilution_column" envconfig:"DILUTION_COLUMN" default:"Dilution" validate:"required"`
	BackgroundMarker string `yaml:"background_marker" envconfig:"BACKGROUND_MARKER" default:"B" validate:"required"`
	Unit             string `yaml:"unit" envconfig:"UNIT" default:"pg/mL" validate:"required"`
}

// DiagnosticsConfig toggles the calibration plots. Neither flag affects numeric output.
type DiagnosticsConfig struct {
	Draw           bool   `yaml:"draw" envconfig:"DRAW" default:"false"`
	SaveModelImage bool   `yaml:"save_model_image" envconfig:"SAVE_MODEL_IMAGE" default:"true"`
	ImageDir       string `yaml:"image_dir" envconfig:"IMAGE_DIR" default:"model_images"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn warning error"`
	Format      string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"console" validate:"oneof=console file both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/processor.log"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// TelemetryConfig contains tracing and metrics configuration
type TelemetryConfig struct {
	TraceExporter   string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" default:"none" validate:"oneof=stdout none"`
	TraceFile       string  `yaml:"trace_file" envconfig:"TRACE_FILE"`
	SampleRatio     float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" default:"1" validate:"min=0,max=1"`
	EnableMetrics   bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS" default:"true"`
	MetricsTextfile string  `yaml:"metrics_textfile" envconfig:"METRICS_TEXTFILE"`
}

// Load loads configuration from environment variables and an optional YAML file.
// An empty path falls back to the well-known locations.
func Load(path string) (*Config, error) {
	var cfg Config

	// Load from environment variables first
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		fileConfig, err := loadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file. Keys the file omits keep
// their default values.
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// mergeConfigs merges file config with env config. Explicitly set environment
// variables win; everything else is taken from the file.
func mergeConfigs(fileConfig, envConfig Config) Config {
	p, fp := &envConfig.Pipeline, &fileConfig.Pipeline
	fromFile("PIPELINE_SOURCE", &p.Source, &fp.Source)
	fromFile("PIPELINE_DESTINATION", &p.Destination, &fp.Destination)
	fromFile("PIPELINE_REQUIRED_REPLICATES", &p.RequiredReplicates, &fp.RequiredReplicates)
	fromFile("PIPELINE_STRICT_ABORT", &p.StrictAbort, &fp.StrictAbort)
	fromFile("PIPELINE_DUPLICATE_POLICY", &p.DuplicatePolicy, &fp.DuplicatePolicy)
	fromFile("PIPELINE_LEFTOVER_POLICY", &p.LeftoverPolicy, &fp.LeftoverPolicy)

	w, fw := &envConfig.Workbook, &fileConfig.Workbook
	fromFile("WORKBOOK_HEADER_ROW", &w.HeaderRow, &fw.HeaderRow)
	fromFile("WORKBOOK_FOOTER_ROWS", &w.FooterRows, &fw.FooterRows)
	fromFile("WORKBOOK_TYPE_COLUMN", &w.TypeColumn, &fw.TypeColumn)
	fromFile("WORKBOOK_SIGNAL_COLUMN", &w.SignalColumn, &fw.SignalColumn)
	fromFile("WORKBOOK_CONCENTRATION_COLUMN", &w.ConcColumn, &fw.ConcColumn)
	fromFile("WORKBOOK_DILUTION_COLUMN", &w.DilutionColumn, &fw.DilutionColumn)
	fromFile("WORKBOOK_BACKGROUND_MARKER", &w.BackgroundMarker, &fw.BackgroundMarker)
	fromFile("WORKBOOK_UNIT", &w.Unit, &fw.Unit)

	d, fd := &envConfig.Diagnostics, &fileConfig.Diagnostics
	fromFile("DIAGNOSTICS_DRAW", &d.Draw, &fd.Draw)
	fromFile("DIAGNOSTICS_SAVE_MODEL_IMAGE", &d.SaveModelImage, &fd.SaveModelImage)
	fromFile("DIAGNOSTICS_IMAGE_DIR", &d.ImageDir, &fd.ImageDir)

	l, fl := &envConfig.Logging, &fileConfig.Logging
	fromFile("LOGGING_LEVEL", &l.Level, &fl.Level)
	fromFile("LOGGING_OUTPUT", &l.Output, &fl.Output)
	fromFile("LOGGING_FILE_PATH", &l.FilePath, &fl.FilePath)
	fromFile("LOGGING_DEVELOPMENT", &l.Development, &fl.Development)

	m, fm := &envConfig.Telemetry, &fileConfig.Telemetry
	fromFile("TELEMETRY_TRACE_EXPORTER", &m.TraceExporter, &fm.TraceExporter)
	fromFile("TELEMETRY_TRACE_FILE", &m.TraceFile, &fm.TraceFile)
	fromFile("TELEMETRY_SAMPLE_RATIO", &m.SampleRatio, &fm.SampleRatio)
	fromFile("TELEMETRY_ENABLE_METRICS", &m.EnableMetrics, &fm.EnableMetrics)
	fromFile("TELEMETRY_METRICS_TEXTFILE", &m.MetricsTextfile, &fm.MetricsTextfile)

	return envConfig
}

// fromFile copies src into dst unless the environment set key explicitly.
func fromFile[T any](key string, dst, src *T) {
	if envUnset(key) {
		*dst = *src
	}
}

// envUnset reports whether the prefixed environment variable for key is absent.
func envUnset(key string) bool {
	_, ok := os.LookupEnv(EnvPrefix + "_" + key)
	return !ok
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// JSON is the only supported log format
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging output %q requires a file path", c.Logging.Output)
	}

	if (c.Diagnostics.Draw || c.Diagnostics.SaveModelImage) && strings.TrimSpace(c.Diagnostics.ImageDir) == "" {
		return fmt.Errorf("diagnostics enabled but no image directory configured")
	}

	return nil
}

// ValidateRun checks the settings that only matter once a run is about to start.
func (c *Config) ValidateRun() error {
	if c.Pipeline.Source == "" {
		return fmt.Errorf("pipeline source directory is required")
	}
	if c.Pipeline.Destination == "" {
		return fmt.Errorf("pipeline destination directory is required")
	}
	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			RequiredReplicates: DefaultRequiredReplicates,
			DuplicatePolicy:    DuplicatePolicyReject,
			LeftoverPolicy:     LeftoverPolicyError,
		},
		Workbook: WorkbookConfig{
			HeaderRow:        DefaultHeaderRow,
			FooterRows:       DefaultFooterRows,
			TypeColumn:       "Type",
			SignalColumn:     "FI - Bkgd",
			ConcColumn:       "Exp Conc",
			DilutionColumn:   "Dilution",
			BackgroundMarker: "B",
			Unit:             DefaultUnit,
		},
		Diagnostics: DiagnosticsConfig{
			SaveModelImage: true,
			ImageDir:       DefaultImageDir,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/processor.log",
		},
		Telemetry: TelemetryConfig{
			TraceExporter: "none",
			SampleRatio:   1.0,
			EnableMetrics: true,
		},
	}
}
