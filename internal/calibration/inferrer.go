package calibration

import (
	"fmt"
	"log/slog"

	apperrors "github.com/DavoGrant/LuminexDataPipeline/internal/errors"
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts/domain"
)

// Inferrer turns the unknown rows of a tab into final quantities.
type Inferrer struct {
	logger *slog.Logger
}

// NewInferrer creates an inferrer. A nil logger falls back to slog.Default().
func NewInferrer(logger *slog.Logger) *Inferrer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inferrer{logger: logger.With("component", "concentration_inferrer")}
}

// Infer evaluates curve at every unknown, non-background row and multiplies
// by the row's dilution factor. Points keep the source row order.
// A row with a missing or non-positive dilution fails the whole tab.
func (inf *Inferrer) Infer(tab domain.Tab, curve Curve) (domain.ResultSeries, error) {
	unknowns := tab.Unknowns()
	series := domain.ResultSeries{Points: make([]domain.SamplePoint, 0, len(unknowns))}

	for _, r := range unknowns {
		if !finite(r.Signal) {
			return domain.ResultSeries{}, apperrors.NewValidationError(
				fmt.Sprintf("tab %s: row %d has non-finite signal", tab.Name, r.Index), nil).
				WithContext("row", r.Index)
		}
		dilution, err := r.DilutionFactor()
		if err != nil {
			return domain.ResultSeries{}, apperrors.NewValidationError(
				fmt.Sprintf("tab %s: invalid dilution", tab.Name), err).
				WithContext("row", r.Index)
		}

		series.Points = append(series.Points, domain.SamplePoint{
			Index:    r.Index,
			Quantity: curve.Eval(r.Signal) * dilution,
		})
	}

	inf.logger.Debug("Concentrations inferred",
		slog.String("analyte", tab.Name),
		slog.Int("samples", series.Len()))

	return series, nil
}
