package validation

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/DavoGrant/LuminexDataPipeline/internal/config"
	apperrors "github.com/DavoGrant/LuminexDataPipeline/internal/errors"
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts/domain"
)

// AssayValidator checks that parsed workbooks carry what the calibration needs
type AssayValidator struct {
	logger   *slog.Logger
	validate *validator.Validate
	required []string
}

// NewAssayValidator creates a validator for the configured column layout
func NewAssayValidator(cfg config.WorkbookConfig, logger *slog.Logger) *AssayValidator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	_ = v.RegisterValidation("rowtype", func(fl validator.FieldLevel) bool {
		return domain.RowType(fl.Field().String()).IsValid()
	})
	return &AssayValidator{
		logger:   logger.With("component", "assay_validator"),
		validate: v,
		required: []string{cfg.TypeColumn, cfg.SignalColumn, cfg.ConcColumn, cfg.DilutionColumn},
	}
}

// RequiredColumns returns the header names every analyte tab must contain
func (v *AssayValidator) RequiredColumns() []string {
	return append([]string(nil), v.required...)
}

// ValidateColumns reports the required columns missing from header.
// Header cells are compared after trimming surrounding whitespace.
func (v *AssayValidator) ValidateColumns(sheet string, header []string) error {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[strings.TrimSpace(h)] = true
	}

	var missing []string
	for _, col := range v.required {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	v.logger.Warn("Tab is missing required columns",
		slog.String("tab", sheet),
		slog.Any("missing", missing))

	return apperrors.NewValidationError(
		fmt.Sprintf("tab %s: missing columns %s", sheet, strings.Join(missing, ", ")), nil).
		WithContext("tab", sheet).
		WithContext("missing", missing)
}

// ValidateTab checks the structural rules of a parsed tab: a name, known row
// types and non-negative row indexes.
func (v *AssayValidator) ValidateTab(tab domain.Tab) error {
	if err := v.validate.Struct(tab); err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("tab %q is malformed", tab.Name), err)
	}
	for _, r := range tab.Rows {
		if err := v.validate.Var(string(r.Type), "rowtype"); err != nil {
			return apperrors.NewValidationError(
				fmt.Sprintf("tab %s: row %d has unknown type %q", tab.Name, r.Index, r.Type), err)
		}
	}
	return nil
}

// ValidateAssayFile checks the identity parsed from a workbook name
func (v *AssayValidator) ValidateAssayFile(f domain.AssayFile) error {
	if err := v.validate.Struct(f); err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("assay file %q is malformed", f.Name), err)
	}
	return nil
}
