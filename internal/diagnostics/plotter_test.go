package diagnostics

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wcharczuk/go-chart/v2"
	"gopkg.in/guregu/null.v3"

	"github.com/DavoGrant/LuminexDataPipeline/internal/calibration"
	"github.com/DavoGrant/LuminexDataPipeline/internal/config"
	"github.com/DavoGrant/LuminexDataPipeline/internal/shared/testutil"
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts/domain"
)

func standardsTab() domain.Tab {
	tab := domain.Tab{Name: "IL-6"}
	for i, s := range []float64{40, 10, 30, 20} {
		tab.Rows = append(tab.Rows, domain.Row{
			Index:              i,
			Type:               domain.RowTypeStandard,
			Signal:             s,
			KnownConcentration: null.FloatFrom(s / 10),
		})
	}
	return tab
}

func fit(t *testing.T, tab domain.Tab) calibration.Curve {
	t.Helper()
	curve, err := calibration.NewFitter(nil).Fit(tab)
	require.NoError(t, err)
	return curve
}

func newPlotter(t *testing.T, draw, save bool) (*Plotter, string) {
	t.Helper()
	dir := t.TempDir()
	logger, _ := testutil.NewTestLogger(t)
	paths := &config.Paths{DestinationDir: dir, ImageDir: filepath.Join(dir, "model_images")}
	diag := config.DiagnosticsConfig{Draw: draw, SaveModelImage: save, ImageDir: "model_images"}
	return NewPlotter(paths, diag, config.Default().Workbook, logger), paths.ImageDir
}

var assay = domain.AssayFile{Path: "/in/RUN1_2_a.xlsx", Name: "RUN1_2_a.xlsx", RunID: "RUN1", Replicate: 2}

func TestPlotter_Plot(t *testing.T) {
	tests := []struct {
		name      string
		draw      bool
		save      bool
		wantFiles []string
	}{
		{name: "disabled", wantFiles: nil},
		{name: "save only", save: true, wantFiles: []string{"RUN1_2_IL-6.png"}},
		{name: "draw only", draw: true, wantFiles: []string{"RUN1_2_IL-6.svg"}},
		{name: "both", draw: true, save: true, wantFiles: []string{"RUN1_2_IL-6.png", "RUN1_2_IL-6.svg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, imageDir := newPlotter(t, tt.draw, tt.save)
			tab := standardsTab()
			assert.Equal(t, tt.draw || tt.save, p.Enabled())

			written, err := p.Plot(assay, tab, fit(t, tab))
			require.NoError(t, err)
			require.Len(t, written, len(tt.wantFiles))

			for i, name := range tt.wantFiles {
				assert.Equal(t, filepath.Join(imageDir, name), written[i])
				info, err := os.Stat(written[i])
				require.NoError(t, err)
				assert.Positive(t, info.Size())
			}
		})
	}
}

func TestPlotter_PNGSignature(t *testing.T) {
	p, _ := newPlotter(t, false, true)
	tab := standardsTab()

	written, err := p.Plot(assay, tab, fit(t, tab))
	require.NoError(t, err)

	data, err := os.ReadFile(written[0])
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestPlotter_Chart(t *testing.T) {
	p, _ := newPlotter(t, true, false)
	tab := standardsTab()

	graph, err := p.Chart(tab, fit(t, tab))
	require.NoError(t, err)
	assert.Equal(t, "FI - Bkgd", graph.XAxis.Name)
	assert.Equal(t, "Exp Conc", graph.YAxis.Name)
	require.Len(t, graph.Series, 2)

	points := graph.Series[0].(chart.ContinuousSeries)
	assert.Equal(t, []float64{10, 20, 30, 40}, points.XValues, "standards sorted by signal")

	line := graph.Series[1].(chart.ContinuousSeries)
	require.Len(t, line.XValues, curveSamples)
	assert.Equal(t, 10.0, line.XValues[0])
	assert.InDelta(t, 40.0, line.XValues[curveSamples-1], 1e-9)
	assert.InDelta(t, 4.0, line.YValues[curveSamples-1], 1e-6)

	var buf bytes.Buffer
	require.NoError(t, graph.Render(chart.SVG, &buf))
	assert.Contains(t, buf.String(), "<svg")
}

func TestPlotter_Chart_NotEnoughStandards(t *testing.T) {
	p, _ := newPlotter(t, true, false)
	tab := domain.Tab{Name: "IL-6", Rows: []domain.Row{
		{Type: domain.RowTypeStandard, Signal: 10, KnownConcentration: null.FloatFrom(1)},
	}}
	_, err := p.Chart(tab, calibration.NewCurve([calibration.Degree + 1]float64{0, 0.1}))
	assert.Error(t, err)
}

func TestPlotter_NilIsDisabled(t *testing.T) {
	var p *Plotter
	assert.False(t, p.Enabled())
	written, err := p.Plot(assay, standardsTab(), calibration.Curve{})
	assert.NoError(t, err)
	assert.Nil(t, written)
}
