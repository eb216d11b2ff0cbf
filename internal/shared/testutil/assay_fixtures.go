package testutil

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/DavoGrant/LuminexDataPipeline/internal/config"
)

// AssayHeader is the column header written by WriteAssayWorkbook
var AssayHeader = []string{"Well", "Type", "Description", "FI", "FI - Bkgd", "Exp Conc", "Obs Conc", "Dilution"}

// AssayRow is one plate well. Nil Conc or Dilution leaves the cell empty.
type AssayRow struct {
	Type     string
	Signal   any
	Conc     any
	Dilution any
}

// AssayTab is one analyte worksheet
type AssayTab struct {
	Name string
	Rows []AssayRow
}

// LinearTab returns an analyte tab whose standards lie on conc = signal/10,
// a background row and two unknowns at dilution 2. The unknowns quantify to
// 3 and 5.
func LinearTab(name string) AssayTab {
	return AssayTab{Name: name, Rows: []AssayRow{
		{Type: "B", Signal: 0.5},
		{Type: "S1", Signal: 10.0, Conc: 1.0},
		{Type: "S2", Signal: 20.0, Conc: 2.0},
		{Type: "S3", Signal: 30.0, Conc: 3.0},
		{Type: "S4", Signal: 40.0, Conc: 4.0},
		{Type: "X1", Signal: 15.0, Dilution: 2.0},
		{Type: "X2", Signal: 25.0, Dilution: 2.0},
	}}
}

// ScaledTab is LinearTab with every unknown signal multiplied by factor.
func ScaledTab(name string, factor float64) AssayTab {
	tab := LinearTab(name)
	for i, r := range tab.Rows {
		if r.Conc == nil && r.Type != "B" {
			tab.Rows[i].Signal = r.Signal.(float64) * factor
		}
	}
	return tab
}

// WriteAssayWorkbook writes an instrument-style export into dir using the
// default workbook layout and returns its path.
func WriteAssayWorkbook(t *testing.T, dir, name string, tabs ...AssayTab) string {
	t.Helper()
	layout := config.Default().Workbook

	f := excelize.NewFile()
	defer f.Close()

	for i, tab := range tabs {
		if i == 0 {
			require.NoError(t, f.SetSheetName(f.GetSheetName(0), tab.Name))
		} else {
			_, err := f.NewSheet(tab.Name)
			require.NoError(t, err)
		}
		writeAssaySheet(t, f, tab, layout)
	}

	path := filepath.Join(dir, name)
	require.NoError(t, f.SaveAs(path))
	return path
}

func writeAssaySheet(t *testing.T, f *excelize.File, tab AssayTab, layout config.WorkbookConfig) {
	t.Helper()
	row := 1
	setRow := func(values []any) {
		cell, err := excelize.CoordinatesToCellName(1, row)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(tab.Name, cell, &values))
		row++
	}

	for i := 0; i < layout.HeaderRow; i++ {
		setRow([]any{fmt.Sprintf("Preamble %d", i+1)})
	}

	header := make([]any, len(AssayHeader))
	for i, h := range AssayHeader {
		header[i] = h
	}
	setRow(header)

	for i, r := range tab.Rows {
		setRow([]any{
			fmt.Sprintf("%d(1,A%d)", i+1, i+1),
			r.Type,
			tab.Name,
			r.Signal,
			r.Signal,
			cellValue(r.Conc),
			"",
			cellValue(r.Dilution),
		})
	}

	for i := 0; i < layout.FooterRows; i++ {
		setRow([]any{fmt.Sprintf("Footer %d", i+1)})
	}
}

func cellValue(v any) any {
	if v == nil {
		return ""
	}
	return v
}
