// Package dataprocessing reads instrument export workbooks into analyte tabs.
//
// Each worksheet of a replicate workbook holds one analyte. The sheet starts
// with an instrument preamble, has its column header at a fixed row and ends
// with a summary footer; WorkbookConfig describes that layout. Both the
// current .xlsx format and the legacy .xls export are read.
//
//	parser := dataprocessing.NewParser(cfg.Workbook, logger)
//	wb, err := parser.ParseFile(assayFile)
//	for _, t := range wb.Tabs {
//	    if t.Err != nil {
//	        continue
//	    }
//	    // t.Tab.Standards(), t.Tab.Unknowns()
//	}
//
// Rows are tagged once while the tab is built: the background marker in the
// Type column makes a background row, a numeric expected concentration makes
// a standard, and everything else is an unknown sample.
package dataprocessing
