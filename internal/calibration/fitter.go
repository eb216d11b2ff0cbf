package calibration

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	apperrors "github.com/DavoGrant/LuminexDataPipeline/internal/errors"
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts/domain"
)

// MinStandards is the number of distinct standard signals a degree-3 fit needs.
const MinStandards = Degree + 1

// Fitter fits calibration curves to the standards of a tab.
// It has no side effects beyond debug logging.
type Fitter struct {
	logger *slog.Logger
}

// NewFitter creates a fitter. A nil logger falls back to slog.Default().
func NewFitter(logger *slog.Logger) *Fitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fitter{logger: logger.With("component", "calibration_fitter")}
}

// Fit returns the unweighted least-squares degree-3 polynomial through the
// (signal, known concentration) pairs of the tab's standard rows.
func (f *Fitter) Fit(tab domain.Tab) (Curve, error) {
	standards := tab.Standards()

	xs := make([]float64, 0, len(standards))
	ys := make([]float64, 0, len(standards))
	for _, r := range standards {
		if !finite(r.Signal) {
			return Curve{}, apperrors.NewValidationError(
				fmt.Sprintf("tab %s: standard row %d has non-finite signal", tab.Name, r.Index), nil).
				WithContext("row", r.Index)
		}
		xs = append(xs, r.Signal)
		ys = append(ys, r.KnownConcentration.Float64)
	}

	distinct := countDistinct(xs)
	if distinct < MinStandards {
		return Curve{}, apperrors.NewCalibrationError(
			fmt.Sprintf("tab %s: %d distinct standard signals, need at least %d", tab.Name, distinct, MinStandards),
			apperrors.ErrTooFewStandards).
			WithContext("analyte", tab.Name).
			WithContext("standards", len(standards))
	}

	shift, scale := normalization(xs)

	n := len(xs)
	a := mat.NewDense(n, Degree+1, nil)
	for i, x := range xs {
		u := (x - shift) / scale
		p := 1.0
		for k := 0; k <= Degree; k++ {
			a.Set(i, k, p)
			p *= u
		}
	}
	b := mat.NewVecDense(n, ys)

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return Curve{}, apperrors.NewCalibrationError(
			fmt.Sprintf("tab %s: degenerate standards", tab.Name), err).
			WithContext("analyte", tab.Name)
	}

	curve := Curve{shift: shift, scale: scale}
	for k := 0; k <= Degree; k++ {
		v := sol.AtVec(k)
		if !finite(v) {
			return Curve{}, apperrors.NewCalibrationError(
				fmt.Sprintf("tab %s: fit produced non-finite coefficients", tab.Name), nil)
		}
		curve.coef[k] = v
	}

	predicted := make([]float64, n)
	for i, x := range xs {
		predicted[i] = curve.Eval(x)
	}
	curve.stats = FitStats{
		Standards: n,
		Distinct:  distinct,
		RSquared:  stat.RSquaredFrom(predicted, ys, nil),
	}

	f.logger.Debug("Calibration curve fitted",
		slog.String("analyte", tab.Name),
		slog.Int("standards", n),
		slog.Float64("r_squared", curve.stats.RSquared))

	return curve, nil
}

// normalization returns the shift and scale that map the signal range onto [-1, 1].
func normalization(xs []float64) (shift, scale float64) {
	lo, hi := xs[0], xs[0]
	for _, x := range xs[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	shift = (lo + hi) / 2
	scale = (hi - lo) / 2
	if scale == 0 {
		scale = 1
	}
	return shift, scale
}

func countDistinct(xs []float64) int {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := 1
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			n++
		}
	}
	return n
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
