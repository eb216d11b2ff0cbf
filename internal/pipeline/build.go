package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/DavoGrant/LuminexDataPipeline/internal/config"
	"github.com/DavoGrant/LuminexDataPipeline/internal/dataprocessing"
	"github.com/DavoGrant/LuminexDataPipeline/internal/diagnostics"
	"github.com/DavoGrant/LuminexDataPipeline/internal/exporter"
	"github.com/DavoGrant/LuminexDataPipeline/internal/infrastructure"
	"github.com/DavoGrant/LuminexDataPipeline/internal/reservoir"
)

// Build wires a Processor from configuration: parser, workbook writer with
// its flush ledger, reservoir, optional plotter and telemetry. providers may
// be nil.
func Build(cfg *config.Config, paths *config.Paths, providers *infrastructure.OTelProviders, logger *slog.Logger) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ledger := exporter.NewLedger(paths.LedgerFile, logger)
	writer := exporter.NewWorkbookWriter(paths, cfg.Workbook.Unit, ledger, logger)

	res, err := reservoir.New(reservoir.Options{
		Required:   cfg.Pipeline.RequiredReplicates,
		Duplicates: reservoir.DuplicatePolicy(cfg.Pipeline.DuplicatePolicy),
		Leftovers:  reservoir.LeftoverPolicy(cfg.Pipeline.LeftoverPolicy),
		Writer:     writer,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	opts := Options{
		Parser:      dataprocessing.NewParser(cfg.Workbook, logger),
		Reservoir:   res,
		StrictAbort: cfg.Pipeline.StrictAbort,
		Logger:      logger,
	}

	if cfg.Diagnostics.Draw || cfg.Diagnostics.SaveModelImage {
		opts.Plotter = diagnostics.NewPlotter(paths, cfg.Diagnostics, cfg.Workbook, logger)
	}

	if providers != nil {
		opts.Tracer = providers.Tracer
		metrics, err := infrastructure.CreatePipelineMetrics(providers.Meter)
		if err != nil {
			return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
		}
		opts.Metrics = metrics
	}

	return New(opts)
}
