package validation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/DavoGrant/LuminexDataPipeline/internal/config"
	apperrors "github.com/DavoGrant/LuminexDataPipeline/internal/errors"
)

// FileValidator runs the pre-flight checks on source and destination directories
type FileValidator struct {
	logger *slog.Logger
}

// NewFileValidator creates a new file validator
func NewFileValidator(logger *slog.Logger) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{
		logger: logger.With("component", "file_validator"),
	}
}

// ValidateSourceDirectory checks that dir is a readable directory holding at
// least one workbook and returns how many it holds.
func (v *FileValidator) ValidateSourceDirectory(dir string) (int, error) {
	if err := v.requireDirectory(dir); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		v.logger.Error("Failed to read source directory",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return 0, apperrors.NewStorageError(fmt.Sprintf("failed to read directory %s", dir), err)
	}

	workbooks := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), config.OfficeLockPrefix) {
			continue
		}
		if isWorkbookExt(filepath.Ext(e.Name())) {
			workbooks++
		}
	}

	if workbooks == 0 {
		v.logger.Warn("No workbooks found in source directory",
			slog.String("directory", dir))
		return 0, apperrors.NewNotFoundError(fmt.Sprintf("workbooks in %s", dir))
	}

	v.logger.Info("Source directory validated",
		slog.String("directory", dir),
		slog.Int("workbooks", workbooks))
	return workbooks, nil
}

func (v *FileValidator) requireDirectory(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		v.logger.Error("Input directory does not exist",
			slog.String("directory", dir))
		return apperrors.NewNotFoundError(fmt.Sprintf("input directory %s", dir))
	}
	if err != nil {
		v.logger.Error("Failed to stat input directory",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return apperrors.NewStorageError(fmt.Sprintf("failed to stat directory %s", dir), err)
	}
	if !info.IsDir() {
		v.logger.Error("Input path is not a directory",
			slog.String("path", dir))
		return apperrors.NewValidationError(fmt.Sprintf("%s is not a directory", dir), nil)
	}
	return nil
}

// ValidateOutputDirectory ensures output directory exists or can be created
// and that files can be created in it.
func (v *FileValidator) ValidateOutputDirectory(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		v.logger.Error("Failed to create output directory",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return apperrors.NewStorageError(fmt.Sprintf("failed to create output directory %s", dir), err)
	}

	probe, err := os.CreateTemp(dir, ".write_test-*")
	if err != nil {
		v.logger.Error("Output directory is not writable",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return apperrors.NewStorageError(fmt.Sprintf("output directory %s is not writable", dir), err)
	}
	probe.Close()
	os.Remove(probe.Name())

	v.logger.Debug("Output directory validated",
		slog.String("directory", dir))
	return nil
}

// ValidateFile checks if a specific file exists and is readable
func (v *FileValidator) ValidateFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		v.logger.Error("File does not exist",
			slog.String("file", path))
		return apperrors.NewNotFoundError(fmt.Sprintf("file %s", path))
	}
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to stat file %s", path), err)
	}
	if info.IsDir() {
		return apperrors.NewValidationError(fmt.Sprintf("%s is a directory, not a file", path), nil)
	}

	file, err := os.Open(path)
	if err != nil {
		v.logger.Error("File is not readable",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return apperrors.NewStorageError(fmt.Sprintf("file %s is not readable", path), err)
	}
	file.Close()

	if info.Size() == 0 {
		return apperrors.NewValidationError(fmt.Sprintf("file %s is empty", path), nil)
	}

	v.logger.Debug("File validated",
		slog.String("file", path),
		slog.Int64("size", info.Size()))
	return nil
}

// ValidateExcelFile checks that path is a readable, non-temporary workbook
func (v *FileValidator) ValidateExcelFile(path string) error {
	base := filepath.Base(path)
	if strings.HasPrefix(base, config.OfficeLockPrefix) {
		v.logger.Warn("Skipping temporary Excel file",
			slog.String("file", path))
		return apperrors.NewValidationError(fmt.Sprintf("file %s is a temporary Excel file", path), nil)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !isWorkbookExt(ext) {
		v.logger.Error("File is not an Excel file",
			slog.String("file", path),
			slog.String("extension", ext))
		return apperrors.NewValidationError(fmt.Sprintf("file %s is not an Excel file (extension: %s)", path, ext), nil)
	}

	return v.ValidateFile(path)
}

func isWorkbookExt(ext string) bool {
	ext = strings.ToLower(ext)
	return ext == config.WorkbookExtension || ext == config.LegacyWorkbookExt
}
