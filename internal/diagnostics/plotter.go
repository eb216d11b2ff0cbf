// Package diagnostics renders calibration curves against their standards.
// Plots never feed back into the numeric results.
package diagnostics

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/DavoGrant/LuminexDataPipeline/internal/calibration"
	"github.com/DavoGrant/LuminexDataPipeline/internal/config"
	"github.com/DavoGrant/LuminexDataPipeline/internal/files"
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts/domain"
)

const (
	curveSamples = 50
	width        = 800
	height       = 500
)

// Plotter writes one image per fitted tab. Persisted plots are PNG files;
// drawn plots are SVG files meant for interactive viewing.
type Plotter struct {
	paths   *config.Paths
	draw    bool
	save    bool
	xLabel  string
	yLabel  string
	manager *files.Manager
	logger  *slog.Logger
}

// NewPlotter creates a plotter writing under paths.ImageDir
func NewPlotter(paths *config.Paths, diag config.DiagnosticsConfig, layout config.WorkbookConfig, logger *slog.Logger) *Plotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plotter{
		paths:   paths,
		draw:    diag.Draw,
		save:    diag.SaveModelImage,
		xLabel:  layout.SignalColumn,
		yLabel:  layout.ConcColumn,
		manager: files.NewManager(logger),
		logger:  logger.With("component", "plotter"),
	}
}

// Enabled reports whether any plot output is configured
func (p *Plotter) Enabled() bool {
	return p != nil && (p.draw || p.save)
}

// Plot renders the fitted curve of one tab and returns the files written
func (p *Plotter) Plot(file domain.AssayFile, tab domain.Tab, curve calibration.Curve) ([]string, error) {
	if !p.Enabled() {
		return nil, nil
	}

	graph, err := p.Chart(tab, curve)
	if err != nil {
		return nil, err
	}

	var written []string
	if p.save {
		path := p.paths.ModelImage(file.RunID, file.Replicate, tab.Name, "png")
		if err := p.manager.WriteFrom(path, func(w io.Writer) error {
			return graph.Render(chart.PNG, w)
		}); err != nil {
			return written, fmt.Errorf("failed to save model image for %s: %w", tab.Name, err)
		}
		written = append(written, path)
	}
	if p.draw {
		path := p.paths.ModelImage(file.RunID, file.Replicate, tab.Name, "svg")
		if err := p.manager.WriteFrom(path, func(w io.Writer) error {
			return graph.Render(chart.SVG, w)
		}); err != nil {
			return written, fmt.Errorf("failed to draw model for %s: %w", tab.Name, err)
		}
		written = append(written, path)
	}

	p.logger.Debug("Model plotted",
		slog.String("run_id", file.RunID),
		slog.Int("replicate", file.Replicate),
		slog.String("analyte", tab.Name),
		slog.Any("files", written))

	return written, nil
}

// Chart builds the plot of the standards and the fitted curve across their
// signal range.
func (p *Plotter) Chart(tab domain.Tab, curve calibration.Curve) (chart.Chart, error) {
	standards := tab.Standards()
	if len(standards) < 2 {
		return chart.Chart{}, fmt.Errorf("tab %s: not enough standards to plot", tab.Name)
	}

	sort.SliceStable(standards, func(i, j int) bool { return standards[i].Signal < standards[j].Signal })
	xs := make([]float64, len(standards))
	ys := make([]float64, len(standards))
	for i, s := range standards {
		xs[i] = s.Signal
		ys[i] = s.KnownConcentration.Float64
	}

	lo, hi := xs[0], xs[len(xs)-1]
	if lo == hi {
		return chart.Chart{}, fmt.Errorf("tab %s: standards span no signal range", tab.Name)
	}
	fx := make([]float64, curveSamples)
	fy := make([]float64, curveSamples)
	step := (hi - lo) / float64(curveSamples-1)
	for i := range fx {
		fx[i] = lo + float64(i)*step
		fy[i] = curve.Eval(fx[i])
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s (R² %.4f)", tab.Name, curve.Stats().RSquared),
		Width:  width,
		Height: height,
		XAxis:  chart.XAxis{Name: p.xLabel},
		YAxis:  chart.YAxis{Name: p.yLabel},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Standards",
				XValues: xs,
				YValues: ys,
				Style:   pointStyle(chart.ColorBlue),
			},
			chart.ContinuousSeries{
				Name:    "Fit",
				XValues: fx,
				YValues: fy,
				Style:   chart.Style{StrokeColor: chart.ColorRed, StrokeWidth: 2},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph, nil
}

// pointStyle renders points only, with no connecting line
func pointStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth: chart.Disabled,
		DotWidth:    4,
		DotColor:    col,
	}
}
