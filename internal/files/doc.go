// Package files discovers instrument export workbooks and provides the
// atomic file replacement used by every writer in the pipeline.
//
// Discovery lists .xls/.xlsx workbooks and parses the {run}_{replicate}_...
// naming convention into domain.AssayFile values:
//
//	discovery := files.NewDiscovery(logger)
//	assays, rejected, err := discovery.FindAssayFiles("/data/raw")
//
// Manager writes files through a temporary sibling and a rename so readers
// never observe a half-written workbook:
//
//	err := files.NewManager(logger).ReplaceAtomically(target, func(tmp string) error {
//	    return workbook.SaveAs(tmp)
//	})
package files
