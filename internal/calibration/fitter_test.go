package calibration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	apperrors "github.com/DavoGrant/LuminexDataPipeline/internal/errors"
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts/domain"
)

func standard(i int, signal, conc float64) domain.Row {
	return domain.Row{
		Index:              i,
		Type:               domain.RowTypeStandard,
		Signal:             signal,
		KnownConcentration: null.FloatFrom(conc),
		Dilution:           null.FloatFrom(1),
	}
}

func unknown(i int, signal, dilution float64) domain.Row {
	return domain.Row{
		Index:    i,
		Type:     domain.RowTypeUnknown,
		Signal:   signal,
		Dilution: null.FloatFrom(dilution),
	}
}

func background(i int, signal float64) domain.Row {
	return domain.Row{Index: i, Type: domain.RowTypeBackground, Signal: signal}
}

func linearTab() domain.Tab {
	return domain.Tab{Name: "IL-6", Rows: []domain.Row{
		standard(0, 10, 1),
		standard(1, 20, 2),
		standard(2, 30, 3),
		standard(3, 40, 4),
		unknown(4, 15, 2),
		unknown(5, 25, 2),
	}}
}

func TestFitter_Fit_Linear(t *testing.T) {
	curve, err := NewFitter(nil).Fit(linearTab())
	require.NoError(t, err)

	assert.InDelta(t, 1.5, curve.Eval(15), 1e-9)
	assert.InDelta(t, 2.5, curve.Eval(25), 1e-9)

	raw := curve.Coefficients()
	assert.InDelta(t, 0, raw[0], 1e-9)
	assert.InDelta(t, 0.1, raw[1], 1e-9)
	assert.InDelta(t, 0, raw[2], 1e-9)
	assert.InDelta(t, 0, raw[3], 1e-9)

	stats := curve.Stats()
	assert.Equal(t, 4, stats.Standards)
	assert.Equal(t, 4, stats.Distinct)
	assert.InDelta(t, 1, stats.RSquared, 1e-9)
}

func TestFitter_Fit_RecoversCubic(t *testing.T) {
	poly := func(x float64) float64 { return 2 - 0.01*x + 3e-5*x*x + 1e-9*x*x*x }

	var rows []domain.Row
	for i, x := range []float64{50, 120, 400, 1300, 4000, 9000, 17000, 26000} {
		rows = append(rows, standard(i, x, poly(x)))
	}

	curve, err := NewFitter(nil).Fit(domain.Tab{Name: "TNF", Rows: rows})
	require.NoError(t, err)

	for _, x := range []float64{75, 2500, 20000} {
		assert.InDelta(t, poly(x), curve.Eval(x), 1e-6*math.Max(1, math.Abs(poly(x))))
	}
	assert.InDelta(t, 1, curve.Stats().RSquared, 1e-9)
}

func TestFitter_Fit_Deterministic(t *testing.T) {
	tab := domain.Tab{Name: "IL-10", Rows: []domain.Row{
		standard(0, 12.5, 0.8),
		standard(1, 33, 2.9),
		standard(2, 61, 5.5),
		standard(3, 140, 11),
		standard(4, 410, 37),
		standard(5, 990, 100),
	}}

	f := NewFitter(nil)
	first, err := f.Fit(tab)
	require.NoError(t, err)
	second, err := f.Fit(tab)
	require.NoError(t, err)

	a, b := first.Coefficients(), second.Coefficients()
	for k := range a {
		assert.InDelta(t, a[k], b[k], 1e-12)
	}
}

func TestFitter_Fit_IgnoresNonStandards(t *testing.T) {
	tab := linearTab()
	// A background row with a known concentration must not join the fit.
	bg := background(6, 1000)
	bg.KnownConcentration = null.FloatFrom(999)
	tab.Rows = append(tab.Rows, bg)

	curve, err := NewFitter(nil).Fit(tab)
	require.NoError(t, err)
	assert.Equal(t, 4, curve.Stats().Standards)
	assert.InDelta(t, 1.5, curve.Eval(15), 1e-9)
}

func TestFitter_Fit_Errors(t *testing.T) {
	tests := []struct {
		name     string
		rows     []domain.Row
		wantType apperrors.ErrorType
	}{
		{
			name:     "no standards",
			rows:     []domain.Row{unknown(0, 10, 1)},
			wantType: apperrors.ErrTypeCalibration,
		},
		{
			name:     "three standards",
			rows:     []domain.Row{standard(0, 10, 1), standard(1, 20, 2), standard(2, 30, 3)},
			wantType: apperrors.ErrTypeCalibration,
		},
		{
			name: "four standards with repeated signal",
			rows: []domain.Row{
				standard(0, 10, 1), standard(1, 10, 1.1), standard(2, 20, 2), standard(3, 30, 3),
			},
			wantType: apperrors.ErrTypeCalibration,
		},
		{
			name: "infinite signal",
			rows: []domain.Row{
				standard(0, 10, 1), standard(1, math.Inf(1), 2), standard(2, 30, 3), standard(3, 40, 4),
			},
			wantType: apperrors.ErrTypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFitter(nil).Fit(domain.Tab{Name: "IL-6", Rows: tt.rows})
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, tt.wantType), "got %v", err)
		})
	}
}

func TestFitter_Fit_TooFewStandardsSentinel(t *testing.T) {
	_, err := NewFitter(nil).Fit(domain.Tab{Name: "IL-6"})
	assert.ErrorIs(t, err, apperrors.ErrTooFewStandards)
}

func TestCountDistinct(t *testing.T) {
	assert.Equal(t, 0, countDistinct(nil))
	assert.Equal(t, 1, countDistinct([]float64{3, 3, 3}))
	assert.Equal(t, 3, countDistinct([]float64{3, 1, 3, 2}))
}
