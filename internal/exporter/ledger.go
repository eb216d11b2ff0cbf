package exporter

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gocarina/gocsv"
	"github.com/montanaflynn/stats"

	apperrors "github.com/DavoGrant/LuminexDataPipeline/internal/errors"
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts/domain"
)

// LedgerEntry is one row of the flush ledger: a replicate group that reached
// its output workbook.
type LedgerEntry struct {
	RunID      string `csv:"run_id"`
	Analyte    string `csv:"analyte"`
	Replicates string `csv:"replicates"`
	Samples    int    `csv:"samples"`
	Mean       string `csv:"mean"`
	Median     string `csv:"median"`
	StdDev     string `csv:"stddev"`
	Min        string `csv:"min"`
	Max        string `csv:"max"`
	Output     string `csv:"output"`
	FlushedAt  string `csv:"flushed_at"`
}

// GroupSummary describes the distribution of a flushed column
type GroupSummary struct {
	N      int
	Mean   float64
	Median float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summarize computes the ledger statistics of values. ok is false for an
// empty column.
func Summarize(values []float64) (GroupSummary, bool) {
	data := stats.Float64Data(values)
	if data.Len() < 1 {
		return GroupSummary{}, false
	}

	s := GroupSummary{N: data.Len()}
	var err error
	if s.Mean, err = data.Mean(); err != nil {
		return GroupSummary{}, false
	}
	if s.Median, err = data.Median(); err != nil {
		return GroupSummary{}, false
	}
	if s.StdDev, err = data.StandardDeviation(); err != nil {
		return GroupSummary{}, false
	}
	if s.Min, err = data.Min(); err != nil {
		return GroupSummary{}, false
	}
	if s.Max, err = data.Max(); err != nil {
		return GroupSummary{}, false
	}
	return s, true
}

// Ledger appends one CSV row per flushed group
type Ledger struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewLedger creates a ledger writing to path
func NewLedger(path string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		path:   path,
		logger: logger.With("component", "ledger"),
	}
}

// Path returns the ledger file location
func (l *Ledger) Path() string {
	return l.path
}

// NewLedgerEntry builds the ledger row for group written to output
func NewLedgerEntry(group domain.FlushedGroup, output string) *LedgerEntry {
	e := &LedgerEntry{
		RunID:      group.Key.RunID,
		Analyte:    group.Key.Analyte,
		Replicates: formatReplicates(group.Replicates()),
		Samples:    len(group.Values),
		Output:     output,
		FlushedAt:  formatTime(group.FlushedAt),
	}
	if s, ok := Summarize(group.Values); ok {
		e.Mean = formatFloat(s.Mean)
		e.Median = formatFloat(s.Median)
		e.StdDev = formatFloat(s.StdDev)
		e.Min = formatFloat(s.Min)
		e.Max = formatFloat(s.Max)
	}
	return e
}

// Record appends the entry for group. The header is written with the first row.
func (l *Ledger) Record(group domain.FlushedGroup, output string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := []*LedgerEntry{NewLedgerEntry(group, output)}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return apperrors.NewStorageError("failed to create ledger directory", err)
	}

	info, statErr := os.Stat(l.path)
	withHeader := os.IsNotExist(statErr) || (statErr == nil && info.Size() == 0)

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to open ledger %s", l.path), err)
	}
	defer file.Close()

	if withHeader {
		err = gocsv.MarshalFile(&entries, file)
	} else {
		err = gocsv.MarshalWithoutHeaders(&entries, file)
	}
	if err != nil {
		return apperrors.NewStorageError(fmt.Sprintf("failed to append to ledger %s", l.path), err)
	}

	l.logger.Debug("Ledger entry recorded",
		slog.String("group", group.Key.String()),
		slog.String("ledger", l.path))
	return nil
}

// Entries reads the ledger back. A missing ledger has no entries.
func (l *Ledger) Entries() ([]*LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("failed to open ledger %s", l.path), err)
	}
	defer file.Close()

	var entries []*LedgerEntry
	if err := gocsv.UnmarshalFile(file, &entries); err != nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("failed to read ledger %s", l.path), err)
	}
	return entries, nil
}
