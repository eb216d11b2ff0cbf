package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains every location a pipeline run reads from or writes to.
// Relative diagnostics and ledger locations are anchored at the destination.
type Paths struct {
	SourceDir      string
	DestinationDir string
	ImageDir       string
	LogsDir        string
	LedgerFile     string
	MetricsFile    string
}

// ResolvePaths builds absolute paths from the pipeline configuration.
func ResolvePaths(cfg *Config) (*Paths, error) {
	if err := cfg.ValidateRun(); err != nil {
		return nil, err
	}

	source, err := filepath.Abs(cfg.Pipeline.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source directory: %w", err)
	}
	dest, err := filepath.Abs(cfg.Pipeline.Destination)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination directory: %w", err)
	}

	paths := &Paths{
		SourceDir:      source,
		DestinationDir: dest,
		ImageDir:       anchor(dest, cfg.Diagnostics.ImageDir),
		LogsDir:        anchor(dest, DefaultLogsDir),
		LedgerFile:     filepath.Join(dest, DefaultLedgerFile),
	}
	if cfg.Telemetry.MetricsTextfile != "" {
		paths.MetricsFile = anchor(dest, cfg.Telemetry.MetricsTextfile)
	}

	return paths, nil
}

func anchor(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// EnsureDirectories creates the output directories if they don't exist.
// The source directory must already exist and is never created.
func (p *Paths) EnsureDirectories(withImages bool) error {
	directories := []string{p.DestinationDir}
	if withImages && p.ImageDir != "" {
		directories = append(directories, p.ImageDir)
	}

	logger := slog.Default()
	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %v", dir, err)
		}
		logger.Debug("Ensured directory exists", slog.String("directory", dir))
	}

	return nil
}

// OutputWorkbook returns the workbook a run's results are merged into.
func (p *Paths) OutputWorkbook(runID string) string {
	return filepath.Join(p.DestinationDir, runID+WorkbookExtension)
}

// ModelImage returns the path of a calibration plot for one tab.
func (p *Paths) ModelImage(runID string, replicate int, analyte, ext string) string {
	name := fmt.Sprintf("%s_%d_%s.%s", runID, replicate, sanitizeFileName(analyte), ext)
	return filepath.Join(p.ImageDir, name)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// LogPathResolution logs the resolved paths for debugging
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Path resolution summary",
		slog.Group("directories",
			slog.String("source", p.SourceDir),
			slog.String("destination", p.DestinationDir),
			slog.String("images", p.ImageDir),
		),
		slog.Group("files",
			slog.String("ledger", p.LedgerFile),
			slog.String("metrics", p.MetricsFile),
		))
}

func sanitizeFileName(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			out[i] = '_'
		}
	}
	return string(out)
}
