package files

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DavoGrant/LuminexDataPipeline/internal/config"
	apperrors "github.com/DavoGrant/LuminexDataPipeline/internal/errors"
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts/domain"
)

// FileInfo represents information about a discovered file
type FileInfo struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// Rejected is a workbook whose name does not identify a run and replicate
type Rejected struct {
	Name string
	Err  error
}

// Discovery finds instrument export workbooks in a source directory
type Discovery struct {
	logger *slog.Logger
}

// NewDiscovery creates a new file discovery instance
func NewDiscovery(logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{logger: logger.With("component", "discovery")}
}

// FindExcelFiles lists .xls and .xlsx files in dir, skipping Office lock
// files and temporary workbooks, sorted by name.
func (d *Discovery) FindExcelFiles(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if strings.HasPrefix(name, config.OfficeLockPrefix) || strings.HasPrefix(name, config.TempWorkbookPrefix) {
			continue
		}
		if !IsWorkbook(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, FileInfo{
			Path:    filepath.Join(dir, name),
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// FindAssayFiles returns the replicate-sheet workbooks in dir ordered by run
// and replicate. Workbooks whose names do not follow {run}_{replicate}_...
// are returned as rejected, in name order, so the caller can report them.
func (d *Discovery) FindAssayFiles(dir string) ([]domain.AssayFile, []Rejected, error) {
	found, err := d.FindExcelFiles(dir)
	if err != nil {
		return nil, nil, err
	}

	assays := make([]domain.AssayFile, 0, len(found))
	var rejected []Rejected
	for _, f := range found {
		assay, err := ParseAssayFileName(f.Path)
		if err != nil {
			d.logger.Warn("Skipping workbook with unrecognised name",
				slog.String("file", f.Name),
				slog.String("error", err.Error()))
			rejected = append(rejected, Rejected{Name: f.Name, Err: err})
			continue
		}
		assays = append(assays, assay)
	}

	sort.SliceStable(assays, func(i, j int) bool {
		if assays[i].RunID != assays[j].RunID {
			return assays[i].RunID < assays[j].RunID
		}
		return assays[i].Replicate < assays[j].Replicate
	})

	d.logger.Info("Assay workbooks discovered",
		slog.String("dir", dir),
		slog.Int("workbooks", len(found)),
		slog.Int("assays", len(assays)),
		slog.Int("rejected", len(rejected)))

	return assays, rejected, nil
}

// ParseAssayFileName extracts the run identifier and replicate ordinal from
// a file named {run}_{replicate}_... e.g. "P0412_2_cytokines.xlsx". The
// replicate must be a non-negative integer since it orders the group's
// columns numerically; anything else is a VALIDATION error.
func ParseAssayFileName(path string) (domain.AssayFile, error) {
	name := filepath.Base(path)
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	parts := strings.Split(stem, config.ReplicateSeparator)
	if len(parts) < config.MinFileNameSegments {
		return domain.AssayFile{}, apperrors.NewValidationError(
			fmt.Sprintf("%s: expected {run}_{replicate}_..., found %d segment(s)", name, len(parts)), nil)
	}

	runID := strings.TrimSpace(parts[0])
	if runID == "" {
		return domain.AssayFile{}, apperrors.NewValidationError(fmt.Sprintf("%s: empty run identifier", name), nil)
	}

	replicate, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || replicate < 0 {
		return domain.AssayFile{}, apperrors.NewValidationError(
			fmt.Sprintf("%s: replicate %q is not a non-negative integer", name, parts[1]), err)
	}

	return domain.AssayFile{
		Path:      path,
		Name:      name,
		RunID:     runID,
		Replicate: replicate,
	}, nil
}

// IsWorkbook reports whether name has a spreadsheet extension.
func IsWorkbook(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case config.WorkbookExtension, config.LegacyWorkbookExt:
		return true
	}
	return false
}
