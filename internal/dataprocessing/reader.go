package dataprocessing

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/DavoGrant/LuminexDataPipeline/internal/config"
	apperrors "github.com/DavoGrant/LuminexDataPipeline/internal/errors"
)

// ReadSheets loads every worksheet of an .xlsx or legacy .xls workbook
func ReadSheets(path string) ([]RawSheet, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case config.WorkbookExtension:
		return readXLSX(path)
	case config.LegacyWorkbookExt:
		return readXLS(path)
	default:
		return nil, apperrors.NewParsingError(fmt.Sprintf("unsupported workbook format: %s", path), nil)
	}
}

func readXLSX(path string) ([]RawSheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()

	var sheets []RawSheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, apperrors.NewParsingError(fmt.Sprintf("failed to read sheet %s of %s", name, path), err)
		}
		sheets = append(sheets, RawSheet{Name: name, Rows: rows})
	}
	return sheets, nil
}

func readXLS(path string) ([]RawSheet, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("failed to open %s", path), err)
	}

	var sheets []RawSheet
	for i := 0; i < wb.NumSheets(); i++ {
		sheet := wb.GetSheet(i)
		if sheet == nil {
			return nil, apperrors.NewParsingError(fmt.Sprintf("sheet %d of %s is unreadable", i, path), nil)
		}

		rows := make([][]string, 0, int(sheet.MaxRow)+1)
		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := sheet.Row(r)
			if row == nil {
				rows = append(rows, nil)
				continue
			}
			cells := make([]string, 0, row.LastCol()+1)
			for c := 0; c <= row.LastCol(); c++ {
				cells = append(cells, row.Col(c))
			}
			rows = append(rows, trimTrailing(cells))
		}
		sheets = append(sheets, RawSheet{Name: sheet.Name, Rows: trimTrailingRows(rows)})
	}
	return sheets, nil
}

func trimTrailing(cells []string) []string {
	n := len(cells)
	for n > 0 && strings.TrimSpace(cells[n-1]) == "" {
		n--
	}
	return cells[:n]
}

func trimTrailingRows(rows [][]string) [][]string {
	n := len(rows)
	for n > 0 && len(rows[n-1]) == 0 {
		n--
	}
	return rows[:n]
}
