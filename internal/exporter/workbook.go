package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/DavoGrant/LuminexDataPipeline/internal/config"
	apperrors "github.com/DavoGrant/LuminexDataPipeline/internal/errors"
	"github.com/DavoGrant/LuminexDataPipeline/internal/files"
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts/domain"
)

const (
	defaultSheet = "Sheet1"
	sampleHeader = "Sample"

	// maxSheetCandidates bounds the suffixes tried when analyte names collide
	maxSheetCandidates = 100
)

// WorkbookWriter persists flushed replicate groups into the run's output
// workbook, one tab per analyte. Tabs of other analytes already in the
// workbook are left untouched.
type WorkbookWriter struct {
	paths   *config.Paths
	unit    string
	manager *files.Manager
	ledger  *Ledger
	logger  *slog.Logger
}

// NewWorkbookWriter creates a writer targeting paths.DestinationDir. ledger may be nil.
func NewWorkbookWriter(paths *config.Paths, unit string, ledger *Ledger, logger *slog.Logger) *WorkbookWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if unit == "" {
		unit = config.DefaultUnit
	}
	return &WorkbookWriter{
		paths:   paths,
		unit:    unit,
		manager: files.NewManager(logger),
		ledger:  ledger,
		logger:  logger.With("component", "workbook_writer"),
	}
}

// WriteGroup merges group into {destination}/{run}.xlsx. The workbook is
// replaced atomically, so on error the previous file is intact.
func (w *WorkbookWriter) WriteGroup(ctx context.Context, group domain.FlushedGroup) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := w.paths.OutputWorkbook(group.Key.RunID)

	f, fresh, err := w.open(target)
	if err != nil {
		return err
	}
	defer f.Close()

	header := columnHeader(group.Key.Analyte, w.unit)
	sheet, err := findSheet(f, group.Key.Analyte, func(name, b1 string) bool {
		return b1 == header || (fresh && name == defaultSheet)
	})
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("no tab available for %s in %s", group.Key.Analyte, target), err)
	}

	if err := w.fillSheet(f, sheet, fresh, group); err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to build tab %s of %s", sheet, target), err)
	}

	if err := w.manager.ReplaceAtomically(target, func(tmp string) error {
		return f.SaveAs(tmp)
	}); err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to save %s", target), err)
	}

	w.logger.Info("Wrote replicate group",
		slog.String("run_id", group.Key.RunID),
		slog.String("analyte", group.Key.Analyte),
		slog.Any("replicates", group.Replicates()),
		slog.Int("samples", len(group.Values)),
		slog.String("file", target))

	if w.ledger != nil {
		if err := w.ledger.Record(group, target); err != nil {
			w.logger.Warn("Failed to record flush in ledger",
				slog.String("group", group.Key.String()),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (w *WorkbookWriter) open(target string) (*excelize.File, bool, error) {
	if !w.manager.FileExists(target) {
		return excelize.NewFile(), true, nil
	}
	f, err := excelize.OpenFile(target)
	if err != nil {
		return nil, false, apperrors.NewStorageError(fmt.Sprintf("failed to open existing output %s", target), err)
	}
	return f, false, nil
}

func (w *WorkbookWriter) fillSheet(f *excelize.File, sheet string, fresh bool, group domain.FlushedGroup) error {
	idx, err := f.GetSheetIndex(sheet)
	if err != nil {
		return err
	}

	if idx >= 0 {
		if err := clearSheet(f, sheet); err != nil {
			return err
		}
	} else {
		if idx, err = f.NewSheet(sheet); err != nil {
			return err
		}
		if fresh && sheet != defaultSheet {
			if err := f.DeleteSheet(defaultSheet); err != nil {
				return err
			}
			if idx, err = f.GetSheetIndex(sheet); err != nil {
				return err
			}
		}
	}
	if fresh {
		f.SetActiveSheet(idx)
	}

	header := []any{sampleHeader, columnHeader(group.Key.Analyte, w.unit)}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, v := range group.Values {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{i, v}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

// findSheet returns the tab for analyte. Candidates are tried in order
// (the legal sheet name, then numbered variants); the first one that is
// missing, or whose column header satisfies owns, wins. A tab holding
// another analyte is never returned.
func findSheet(f *excelize.File, analyte string, owns func(name, b1 string) bool) (string, error) {
	for n := 1; n <= maxSheetCandidates; n++ {
		name := sheetCandidate(analyte, n)
		idx, err := f.GetSheetIndex(name)
		if err != nil {
			return "", err
		}
		if idx < 0 {
			return name, nil
		}
		b1, err := f.GetCellValue(name, "B1")
		if err != nil {
			return "", err
		}
		if owns(name, b1) {
			return name, nil
		}
	}
	return "", fmt.Errorf("more than %d tabs share the name %q", maxSheetCandidates, sheetName(analyte))
}

// clearSheet removes every row of an existing tab so a rewrite never leaves
// stale samples below a shorter column.
func clearSheet(f *excelize.File, sheet string) error {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return err
	}
	for r := len(rows); r >= 1; r-- {
		if err := f.RemoveRow(sheet, r); err != nil {
			return err
		}
	}
	return nil
}

// ReadColumn returns the values written for analyte in the run workbook at path
func ReadColumn(path, analyte string) (string, []float64, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", nil, apperrors.NewParsingError(fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()

	prefix := analyte + " ("
	sheet, err := findSheet(f, analyte, func(_, b1 string) bool {
		return strings.HasPrefix(b1, prefix)
	})
	if err != nil {
		return "", nil, apperrors.NewParsingError(fmt.Sprintf("failed to locate tab %s of %s", analyte, path), err)
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return "", nil, apperrors.NewParsingError(fmt.Sprintf("failed to read tab %s of %s", analyte, path), err)
	}
	if len(rows) == 0 || len(rows[0]) < 2 {
		return "", nil, apperrors.NewParsingError(fmt.Sprintf("tab %s of %s has no header", analyte, path), nil)
	}

	values := make([]float64, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return "", nil, apperrors.NewParsingError(fmt.Sprintf("tab %s of %s: bad value %q", analyte, path, row[1]), err)
		}
		values = append(values, v)
	}
	return rows[0][1], values, nil
}
