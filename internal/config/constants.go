package config

// Application constants for the Luminex post-processor
const (
	// Application Info
	AppName = "Luminex post-processor"

	// EnvPrefix namespaces every environment variable, e.g. LUMINEX_PIPELINE_SOURCE.
	EnvPrefix = "LUMINEX"

	// Pipeline defaults
	DefaultRequiredReplicates = 3

	// Reservoir policies
	DuplicatePolicyReject    = "reject"
	DuplicatePolicyOverwrite = "overwrite"
	LeftoverPolicyError      = "error"
	LeftoverPolicyLog        = "log"

	// Instrument export layout: the table header sits on row 8 (0-based) and
	// the last 9 rows are a summary footer.
	DefaultHeaderRow  = 8
	DefaultFooterRows = 9
	DefaultUnit       = "pg/mL"

	// File Paths (relative to the destination directory)
	DefaultImageDir   = "model_images"
	DefaultLedgerFile = "flush_ledger.csv"
	DefaultLogsDir    = "logs"

	// File name patterns
	WorkbookExtension   = ".xlsx"
	LegacyWorkbookExt   = ".xls"
	TempWorkbookPrefix  = ".tmp-"
	OfficeLockPrefix    = "~$"
	ReplicateSeparator  = "_"
	MinFileNameSegments = 2

	// Messages
	MsgAllProcessed = "All data has been processed."
)
