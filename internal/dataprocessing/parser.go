package dataprocessing

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"gopkg.in/guregu/null.v3"

	"github.com/DavoGrant/LuminexDataPipeline/internal/config"
	apperrors "github.com/DavoGrant/LuminexDataPipeline/internal/errors"
	"github.com/DavoGrant/LuminexDataPipeline/internal/validation"
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts/domain"
)

// Parser turns instrument export workbooks into analyte tabs
type Parser struct {
	cfg       config.WorkbookConfig
	validator *validation.AssayValidator
	files     *validation.FileValidator
	logger    *slog.Logger
}

// NewParser creates a parser for the given workbook layout
func NewParser(cfg config.WorkbookConfig, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{
		cfg:       cfg,
		validator: validation.NewAssayValidator(cfg, logger),
		files:     validation.NewFileValidator(logger),
		logger:    logger.With("component", "parser"),
	}
}

// ParseFile reads every sheet of the replicate workbook. A missing, empty or
// unreadable workbook is returned as an error; a sheet that cannot be turned
// into a tab is reported on its TabResult instead.
func (p *Parser) ParseFile(file domain.AssayFile) (*Workbook, error) {
	if err := p.validator.ValidateAssayFile(file); err != nil {
		return nil, err
	}
	if err := p.files.ValidateExcelFile(file.Path); err != nil {
		return nil, err
	}

	sheets, err := ReadSheets(file.Path)
	if err != nil {
		return nil, err
	}

	wb := &Workbook{File: file}
	for _, sheet := range sheets {
		tab, err := p.BuildTab(sheet)
		if err != nil {
			p.logger.Warn("Skipping unreadable tab",
				slog.String("file", file.Name),
				slog.String("tab", sheet.Name),
				slog.String("error", err.Error()))
		}
		wb.Tabs = append(wb.Tabs, TabResult{Tab: tab, Err: err})
	}

	p.logger.Info("Workbook parsed",
		slog.String("file", file.Name),
		slog.String("run_id", file.RunID),
		slog.Int("replicate", file.Replicate),
		slog.Int("tabs", len(wb.Tabs)),
		slog.Any("analytes", wb.Analytes()))

	return wb, nil
}

// BuildTab applies the configured layout to a raw sheet: it locates the header
// row, drops the footer block and tags every remaining row.
func (p *Parser) BuildTab(sheet RawSheet) (domain.Tab, error) {
	tab := domain.Tab{Name: strings.TrimSpace(sheet.Name)}

	if len(sheet.Rows) <= p.cfg.HeaderRow {
		return tab, apperrors.NewValidationError(
			fmt.Sprintf("tab %s: no header at row %d", tab.Name, p.cfg.HeaderRow+1), nil)
	}

	header := sheet.Rows[p.cfg.HeaderRow]
	if err := p.validator.ValidateColumns(tab.Name, header); err != nil {
		return tab, err
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		if _, seen := cols[strings.TrimSpace(h)]; !seen {
			cols[strings.TrimSpace(h)] = i
		}
	}

	start := p.cfg.HeaderRow + 1
	end := len(sheet.Rows) - p.cfg.FooterRows
	if end < start {
		end = start
	}

	tab.Rows = make([]domain.Row, 0, end-start)
	for _, cells := range sheet.Rows[start:end] {
		if blank(cells) {
			continue
		}
		tab.Rows = append(tab.Rows, p.buildRow(len(tab.Rows), cells, cols))
	}

	if err := p.validator.ValidateTab(tab); err != nil {
		return tab, err
	}

	p.logger.Debug("Tab built",
		slog.String("tab", tab.Name),
		slog.Int("rows", len(tab.Rows)),
		slog.Int("standards", len(tab.Standards())),
		slog.Int("unknowns", len(tab.Unknowns())))

	return tab, nil
}

func (p *Parser) buildRow(index int, cells []string, cols map[string]int) domain.Row {
	cell := func(name string) string {
		if i, ok := cols[name]; ok && i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}

	label := cell(p.cfg.TypeColumn)
	row := domain.Row{
		Index:              index,
		Label:              label,
		Signal:             math.NaN(),
		KnownConcentration: parseNumber(cell(p.cfg.ConcColumn)),
		Dilution:           parseNumber(cell(p.cfg.DilutionColumn)),
	}
	if sig := parseNumber(cell(p.cfg.SignalColumn)); sig.Valid {
		row.Signal = sig.Float64
	}

	// The background marker is checked first, so a blank never anchors the fit.
	switch {
	case label == p.cfg.BackgroundMarker:
		row.Type = domain.RowTypeBackground
	case row.HasKnownConcentration():
		row.Type = domain.RowTypeStandard
	default:
		row.Type = domain.RowTypeUnknown
	}
	return row
}

// parseNumber reads a numeric cell. Empty cells and instrument flags such as
// "***" or "OOR <" are missing values.
func parseNumber(s string) null.Float {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return null.Float{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return null.Float{}
	}
	return null.FloatFrom(v)
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
