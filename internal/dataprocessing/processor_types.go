package dataprocessing

import (
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts/domain"
)

// RawSheet is the cell text of one worksheet, rows in sheet order
type RawSheet struct {
	Name string
	Rows [][]string
}

// TabResult is the outcome of building one analyte tab. Err is set when the
// sheet could not be turned into a tab; the rest of the workbook is unaffected.
type TabResult struct {
	Tab domain.Tab
	Err error
}

// Workbook is a parsed replicate sheet: its identity and its analyte tabs in
// sheet order.
type Workbook struct {
	File domain.AssayFile
	Tabs []TabResult
}

// Analytes returns the names of the tabs that parsed successfully
func (w *Workbook) Analytes() []string {
	var out []string
	for _, t := range w.Tabs {
		if t.Err == nil {
			out = append(out, t.Tab.Name)
		}
	}
	return out
}
