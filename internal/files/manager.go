package files

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/DavoGrant/LuminexDataPipeline/internal/config"
)

// Manager provides the file operations the writers share
type Manager struct {
	logger *slog.Logger
}

// NewManager creates a new file manager instance
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger.With("component", "file_manager")}
}

// ReplaceAtomically lets fill write a temporary sibling of target and then
// renames it over target. If fill fails the temporary file is removed and
// target is left untouched.
func (m *Manager) ReplaceAtomically(target string, fill func(tmpPath string) error) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, config.TempWorkbookPrefix+"*"+filepath.Ext(target))
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := fill(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", target, err)
	}

	m.logger.Debug("File replaced", slog.String("path", target))
	return nil
}

// WriteFrom atomically writes everything render produces to path
func (m *Manager) WriteFrom(path string, render func(w io.Writer) error) error {
	return m.ReplaceAtomically(path, func(tmpPath string) error {
		f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		if err := render(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
}

// FileExists checks if a file exists at the given path
func (m *Manager) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
