// Package exporter persists flushed replicate groups.
//
// WorkbookWriter implements reservoir.GroupWriter. Each group becomes one tab
// of {destination}/{run}.xlsx named after the analyte, with a "Sample" index
// column and an "{analyte} ({unit})" value column holding the replicate
// series concatenated in replicate order. Existing workbooks are merged
// rather than overwritten, and every save goes through a temporary file and
// a rename.
//
// Ledger appends one CSV row per flushed group with summary statistics of
// the written column:
//
//	ledger := exporter.NewLedger(paths.LedgerFile, logger)
//	writer := exporter.NewWorkbookWriter(paths, cfg.Workbook.Unit, ledger, logger)
//	res, err := reservoir.New(reservoir.Options{Required: 3, Writer: writer})
package exporter
