package domain

import (
	"fmt"
	"math"

	"gopkg.in/guregu/null.v3"
)

// RowType tags a plate row with its role in the assay. It is set once when the
// tab is built so every downstream stage filters on the same field.
type RowType string

const (
	RowTypeStandard   RowType = "standard"
	RowTypeUnknown    RowType = "unknown"
	RowTypeBackground RowType = "background"
)

// IsValid reports whether t is one of the known row types.
func (t RowType) IsValid() bool {
	switch t {
	case RowTypeStandard, RowTypeUnknown, RowTypeBackground:
		return true
	}
	return false
}

// Row is one sample well read from an analyte tab.
type Row struct {
	Index              int        `json:"index" validate:"min=0"`
	Type               RowType    `json:"type" validate:"required"`
	Label              string     `json:"label,omitempty"`
	Signal             float64    `json:"signal"`
	KnownConcentration null.Float `json:"known_concentration"`
	Dilution           null.Float `json:"dilution"`
}

// HasKnownConcentration reports whether the row carries a finite reference concentration.
func (r Row) HasKnownConcentration() bool {
	return r.KnownConcentration.Valid && !math.IsNaN(r.KnownConcentration.Float64) &&
		!math.IsInf(r.KnownConcentration.Float64, 0)
}

// DilutionFactor returns the row's dilution factor, or an error when it is
// missing, non-finite or not strictly positive.
func (r Row) DilutionFactor() (float64, error) {
	if !r.Dilution.Valid {
		return 0, fmt.Errorf("row %d: dilution factor is missing", r.Index)
	}
	d := r.Dilution.Float64
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return 0, fmt.Errorf("row %d: dilution factor must be positive, got %v", r.Index, d)
	}
	return d, nil
}

// Tab is the table of one analyte (bio-marker) sheet in an assay workbook.
type Tab struct {
	Name string `json:"name" validate:"required"`
	Rows []Row  `json:"rows" validate:"dive"`
}

// Standards returns the rows tagged as standards that carry a known concentration.
func (t Tab) Standards() []Row {
	var out []Row
	for _, r := range t.Rows {
		if r.Type == RowTypeStandard && r.HasKnownConcentration() {
			out = append(out, r)
		}
	}
	return out
}

// Unknowns returns the rows to quantify: no known concentration and not a
// background control.
func (t Tab) Unknowns() []Row {
	var out []Row
	for _, r := range t.Rows {
		if r.Type == RowTypeBackground || r.HasKnownConcentration() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// AssayFile identifies one replicate-sheet workbook of a run.
// File names follow {run}_{replicate}_... e.g. "P0412_2_cytokines.xls".
type AssayFile struct {
	Path      string `json:"path" validate:"required"`
	Name      string `json:"name"`
	RunID     string `json:"run_id" validate:"required"`
	Replicate int    `json:"replicate" validate:"min=0"`
}

// Key returns the reservoir key for the given analyte tab of this file.
func (f AssayFile) Key(analyte string) ReplicateKey {
	return ReplicateKey{RunID: f.RunID, Analyte: analyte, Replicate: f.Replicate}
}
