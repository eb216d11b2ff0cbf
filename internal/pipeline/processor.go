// Package pipeline drives the calibration of replicate workbooks: every
// analyte tab is fitted, its unknowns quantified, and the result buffered
// until the replicate group is complete and can be written out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/DavoGrant/LuminexDataPipeline/internal/calibration"
	"github.com/DavoGrant/LuminexDataPipeline/internal/config"
	"github.com/DavoGrant/LuminexDataPipeline/internal/dataprocessing"
	"github.com/DavoGrant/LuminexDataPipeline/internal/diagnostics"
	apperrors "github.com/DavoGrant/LuminexDataPipeline/internal/errors"
	"github.com/DavoGrant/LuminexDataPipeline/internal/files"
	"github.com/DavoGrant/LuminexDataPipeline/internal/infrastructure"
	"github.com/DavoGrant/LuminexDataPipeline/internal/reservoir"
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts/domain"
)

// Options wires a Processor. Parser and Reservoir are required.
type Options struct {
	Parser    *dataprocessing.Parser
	Reservoir *reservoir.Reservoir
	Fitter    *calibration.Fitter
	Inferrer  *calibration.Inferrer
	// Plotter is optional; a nil or disabled plotter draws nothing.
	Plotter *diagnostics.Plotter
	// StrictAbort skips the remaining tabs of a file after its first tab failure.
	StrictAbort bool
	Tracer      trace.Tracer
	Metrics     *infrastructure.PipelineMetrics
	Logger      *slog.Logger
}

// TabFailure is a tab whose result never reached the reservoir
type TabFailure struct {
	File string              `json:"file"`
	Key  domain.ReplicateKey `json:"key"`
	Err  error               `json:"-"`
}

// FileFailure is a workbook whose processing stopped early
type FileFailure struct {
	File string `json:"file"`
	Err  error  `json:"-"`
}

// RunReport summarises one run
type RunReport struct {
	TraceID       string            `json:"trace_id"`
	FilesSeen     int               `json:"files_seen"`
	TabsProcessed int               `json:"tabs_processed"`
	TabsFailed    []TabFailure      `json:"tabs_failed"`
	FilesAborted  []FileFailure     `json:"files_aborted"`
	GroupsFlushed []domain.GroupKey `json:"groups_flushed"`
	Pending       int               `json:"pending"`
	Duration      time.Duration     `json:"duration"`
}

// Processor runs replicate workbooks through fit, infer and the reservoir.
// It is not safe for concurrent use.
type Processor struct {
	parser    *dataprocessing.Parser
	fitter    *calibration.Fitter
	inferrer  *calibration.Inferrer
	reservoir *reservoir.Reservoir
	plotter   *diagnostics.Plotter
	strict    bool
	tracer    trace.Tracer
	metrics   *infrastructure.PipelineMetrics
	logger    *slog.Logger
	report    *RunReport
}

// New creates a processor
func New(opts Options) (*Processor, error) {
	if opts.Parser == nil {
		return nil, apperrors.NewConfigError("pipeline requires a parser", nil)
	}
	if opts.Reservoir == nil {
		return nil, apperrors.NewConfigError("pipeline requires a reservoir", nil)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Fitter == nil {
		opts.Fitter = calibration.NewFitter(logger)
	}
	if opts.Inferrer == nil {
		opts.Inferrer = calibration.NewInferrer(logger)
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer(TracerName)
	}

	return &Processor{
		parser:    opts.Parser,
		fitter:    opts.Fitter,
		inferrer:  opts.Inferrer,
		reservoir: opts.Reservoir,
		plotter:   opts.Plotter,
		strict:    opts.StrictAbort,
		tracer:    opts.Tracer,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "pipeline"),
		report:    &RunReport{},
	}, nil
}

// Report returns the report accumulated since the last Run started
func (p *Processor) Report() *RunReport {
	return p.report
}

// ProcessTab fits the tab's standards, quantifies its unknowns and buffers the
// series, then flushes any group that became complete. Nothing is buffered
// unless both the fit and the inference succeed.
func (p *Processor) ProcessTab(ctx context.Context, file domain.AssayFile, tab domain.Tab) (err error) {
	ctx, span := p.traceTab(ctx, file, tab.Name)
	defer func() { endSpan(span, err) }()

	logger := p.logger.With(infrastructure.TabAttrs(file.RunID, file.Replicate, tab.Name)...)
	key := file.Key(tab.Name)

	defer func() {
		if err != nil && apperrors.IsTabLocal(err) {
			p.report.TabsFailed = append(p.report.TabsFailed, TabFailure{File: file.Name, Key: key, Err: err})
		}
	}()

	start := time.Now()
	curve, err := p.fitter.Fit(tab)
	if err != nil {
		p.metrics.RecordTab(ctx, tab.Name, 0, err)
		return err
	}
	p.metrics.RecordFit(ctx, tab.Name, time.Since(start), curve.Stats().RSquared)

	if p.plotter.Enabled() {
		if _, perr := p.plotter.Plot(file, tab, curve); perr != nil {
			logger.Warn("Failed to plot calibration curve", slog.String("error", perr.Error()))
		}
	}

	series, err := p.inferrer.Infer(tab, curve)
	if err != nil {
		p.metrics.RecordTab(ctx, tab.Name, 0, err)
		return err
	}

	if err := p.reservoir.Add(key, series); err != nil {
		p.metrics.RecordTab(ctx, tab.Name, 0, err)
		return err
	}
	p.metrics.RecordBuffered(ctx)
	p.metrics.RecordTab(ctx, tab.Name, series.Len(), nil)
	p.report.TabsProcessed++

	logger.Debug("Tab processed",
		slog.Int("samples", series.Len()),
		slog.Float64("r_squared", curve.Stats().RSquared))

	flushed, err := p.reservoir.FlushReady(ctx)
	p.recordFlushed(ctx, flushed)
	return err
}

func (p *Processor) recordFlushed(ctx context.Context, flushed []domain.FlushedGroup) {
	if len(flushed) == 0 {
		return
	}
	entries := 0
	for _, g := range flushed {
		entries += len(g.Members)
		p.report.GroupsFlushed = append(p.report.GroupsFlushed, g.Key)
	}
	p.metrics.RecordFlush(ctx, len(flushed), entries)
}

// ProcessFile parses one replicate workbook and processes its tabs in
// workbook order. Tab-local failures are logged and skipped; in strict mode
// the first one stops the file and is returned. Any other error is returned
// immediately.
func (p *Processor) ProcessFile(ctx context.Context, file domain.AssayFile) (err error) {
	ctx, span := p.traceFile(ctx, file)
	defer func() { endSpan(span, err) }()

	wb, err := p.parser.ParseFile(file)
	if err != nil {
		return err
	}

	for _, tr := range wb.Tabs {
		if err := ctx.Err(); err != nil {
			return err
		}

		tabErr := tr.Err
		if tabErr == nil {
			tabErr = p.ProcessTab(ctx, file, tr.Tab)
		} else {
			p.report.TabsFailed = append(p.report.TabsFailed,
				TabFailure{File: file.Name, Key: file.Key(tr.Tab.Name), Err: tabErr})
		}
		if tabErr == nil {
			continue
		}

		if !apperrors.IsTabLocal(tabErr) {
			return tabErr
		}

		p.logger.Warn("Tab skipped",
			append(infrastructure.TabAttrs(file.RunID, file.Replicate, tr.Tab.Name),
				slog.String("error_type", string(apperrors.GetType(tabErr))),
				slog.String("error", tabErr.Error()))...)

		if p.strict {
			return fmt.Errorf("strict abort of %s: %w", file.Name, tabErr)
		}
	}

	return nil
}

// Run processes files in order and finishes with the reservoir's final
// check. Integrity and storage errors end the run; a file that fails on its
// own is recorded and the run moves on.
func (p *Processor) Run(ctx context.Context, assays []domain.AssayFile) (report *RunReport, err error) {
	ctx = infrastructure.EnsureTraceID(ctx)
	p.report = &RunReport{TraceID: infrastructure.GetTraceID(ctx)}
	report = p.report
	start := time.Now()

	ctx, span := p.traceRun(ctx, len(assays))
	defer func() {
		report.Pending = p.reservoir.Len()
		report.Duration = time.Since(start)
		endSpan(span, err)
	}()

	logger := p.logger.With("trace_id", report.TraceID)
	logger.Info("Run started",
		slog.Int("files", len(assays)),
		slog.Int("required_replicates", p.reservoir.Required()))

	for _, file := range assays {
		if err := ctx.Err(); err != nil {
			logger.Warn("Run cancelled", slog.String("error", err.Error()))
			return report, err
		}

		report.FilesSeen++
		if err := p.ProcessFile(ctx, file); err != nil {
			if runFatal(err) {
				logger.Error("Run aborted",
					slog.String("file", file.Name),
					slog.String("error_type", string(apperrors.GetType(err))),
					slog.String("error", err.Error()))
				return report, err
			}
			report.FilesAborted = append(report.FilesAborted, FileFailure{File: file.Name, Err: err})
			logger.Warn("File aborted",
				slog.String("file", file.Name),
				slog.String("error", err.Error()))
		}
	}

	if err := p.reservoir.FinalCheck(); err != nil {
		logger.Error("Final reservoir check failed", slog.String("error", err.Error()))
		return report, err
	}

	logger.Info("Run complete",
		slog.Int("files", report.FilesSeen),
		slog.Int("tabs_processed", report.TabsProcessed),
		slog.Int("tabs_failed", len(report.TabsFailed)),
		slog.Int("groups_flushed", len(report.GroupsFlushed)),
		slog.Int("pending", p.reservoir.Len()))

	if p.reservoir.Len() == 0 {
		logger.Info(config.MsgAllProcessed)
	}
	return report, nil
}

// RunSource discovers the replicate workbooks in dir and runs them.
// Workbooks whose names carry no run and replicate are listed in the
// report's FilesAborted.
func (p *Processor) RunSource(ctx context.Context, dir string) (*RunReport, error) {
	assays, rejected, err := files.NewDiscovery(p.logger).FindAssayFiles(dir)
	if err != nil {
		return &RunReport{}, err
	}

	skipped := make([]FileFailure, len(rejected))
	for i, r := range rejected {
		skipped[i] = FileFailure{File: r.Name, Err: r.Err}
	}

	if len(assays) == 0 {
		return &RunReport{FilesAborted: skipped}, apperrors.NewNotFoundError(fmt.Sprintf("assay workbooks in %s", dir))
	}

	report, err := p.Run(ctx, assays)
	if len(skipped) > 0 {
		report.FilesAborted = append(skipped, report.FilesAborted...)
	}
	return report, err
}

// runFatal reports whether err invalidates the whole run rather than one file
func runFatal(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch apperrors.GetType(err) {
	case apperrors.ErrTypeCalibration, apperrors.ErrTypeValidation,
		apperrors.ErrTypeParsing, apperrors.ErrTypeNotFound:
		return false
	}
	return true
}
