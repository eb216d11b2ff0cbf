package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/DavoGrant/LuminexDataPipeline/internal/config"
	apperrors "github.com/DavoGrant/LuminexDataPipeline/internal/errors"
	"github.com/DavoGrant/LuminexDataPipeline/internal/infrastructure"
	"github.com/DavoGrant/LuminexDataPipeline/internal/pipeline"
	"github.com/DavoGrant/LuminexDataPipeline/internal/validation"
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// cliFlags holds the command line overrides. Only flags given explicitly
// replace configuration values.
type cliFlags struct {
	in           string
	out          string
	configPath   string
	replicates   int
	verbose      bool
	draw         bool
	saveModelImg bool
	strict       bool
	leftovers    string
	duplicates   string
	metricsFile  string
	report       bool
	version      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func newFlagSet(stderr io.Writer) (*flag.FlagSet, *cliFlags) {
	f := &cliFlags{}
	fs := flag.NewFlagSet("processor", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&f.in, "in", "", "source directory holding {run}_{replicate}_*.xls[x] workbooks")
	fs.StringVar(&f.out, "out", "", "destination directory for {run}.xlsx outputs")
	fs.StringVar(&f.configPath, "config", "", "path to a YAML configuration file")
	fs.IntVar(&f.replicates, "replicates", config.DefaultRequiredReplicates, "replicate sheets required per run and analyte")
	fs.BoolVar(&f.verbose, "verbose", false, "log at debug level")
	fs.BoolVar(&f.draw, "draw", false, "render calibration plots as SVG")
	fs.BoolVar(&f.saveModelImg, "save-model-img", true, "save calibration plots as PNG")
	fs.BoolVar(&f.strict, "strict", false, "stop a workbook at its first failing tab")
	fs.StringVar(&f.leftovers, "leftovers", config.LeftoverPolicyError, "incomplete groups at the end of a run: error or log")
	fs.StringVar(&f.duplicates, "duplicates", config.DuplicatePolicyReject, "a replicate tab seen twice: reject or overwrite")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	fs.BoolVar(&f.report, "report", false, "print the run report as JSON")
	fs.BoolVar(&f.version, "version", false, "print version and exit")
	return fs, f
}

// applyFlags copies explicitly set flags onto cfg
func applyFlags(fs *flag.FlagSet, f *cliFlags, cfg *config.Config) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "in":
			cfg.Pipeline.Source = f.in
		case "out":
			cfg.Pipeline.Destination = f.out
		case "replicates":
			cfg.Pipeline.RequiredReplicates = f.replicates
		case "verbose":
			if f.verbose {
				cfg.Logging.Level = "debug"
			}
		case "draw":
			cfg.Diagnostics.Draw = f.draw
		case "save-model-img":
			cfg.Diagnostics.SaveModelImage = f.saveModelImg
		case "strict":
			cfg.Pipeline.StrictAbort = f.strict
		case "leftovers":
			cfg.Pipeline.LeftoverPolicy = f.leftovers
		case "duplicates":
			cfg.Pipeline.DuplicatePolicy = f.duplicates
		case "metrics-file":
			cfg.Telemetry.MetricsTextfile = f.metricsFile
		}
	})
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, f := newFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if f.version {
		fmt.Fprintln(stdout, contracts.GetFullVersionString())
		return exitOK
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return exitError
	}
	applyFlags(fs, f, cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return exitUsage
	}

	paths, err := config.ResolvePaths(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		fs.Usage()
		return exitUsage
	}

	logger, closeLog, err := infrastructure.NewLogger(cfg.Logging, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return exitError
	}
	defer closeLog()

	logger.Info("Starting Luminex post-processing",
		slog.String("version", contracts.Version),
		slog.String("source", paths.SourceDir),
		slog.String("destination", paths.DestinationDir),
		slog.Int("required_replicates", cfg.Pipeline.RequiredReplicates),
		slog.Bool("strict", cfg.Pipeline.StrictAbort))

	validator := validation.NewFileValidator(logger)
	if _, err := validator.ValidateSourceDirectory(paths.SourceDir); err != nil {
		logger.Error("Source directory rejected", slog.String("error", err.Error()))
		return exitError
	}
	if err := validator.ValidateOutputDirectory(paths.DestinationDir); err != nil {
		logger.Error("Destination directory rejected", slog.String("error", err.Error()))
		return exitError
	}
	if err := paths.EnsureDirectories(cfg.Diagnostics.Draw || cfg.Diagnostics.SaveModelImage); err != nil {
		logger.Error("Failed to create output directories", slog.String("error", err.Error()))
		return exitError
	}
	paths.LogPathResolution(logger)

	providers, closeTrace, err := initTelemetry(cfg.Telemetry, logger)
	if err != nil {
		logger.Error("Failed to initialize telemetry", slog.String("error", err.Error()))
		return exitError
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
		closeTrace()
	}()

	proc, err := pipeline.Build(cfg, paths, providers, logger)
	if err != nil {
		logger.Error("Failed to build pipeline", slog.String("error", err.Error()))
		return exitError
	}

	report, runErr := proc.RunSource(ctx, paths.SourceDir)

	if err := providers.WriteMetrics(paths.MetricsFile); err != nil {
		logger.Warn("Failed to write metrics", slog.String("error", err.Error()))
	}

	if f.report {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			logger.Warn("Failed to print report", slog.String("error", err.Error()))
		}
	}

	if runErr != nil {
		logger.Error("Processing failed",
			slog.String("error_type", string(apperrors.GetType(runErr))),
			slog.String("error", runErr.Error()))
		return exitError
	}
	return exitOK
}

// initTelemetry sets up tracing and metrics. The returned func closes the
// trace file, if one was opened.
func initTelemetry(cfg config.TelemetryConfig, logger *slog.Logger) (*infrastructure.OTelProviders, func(), error) {
	otelCfg := infrastructure.OTelConfigFrom(cfg)
	closeTrace := func() {}

	if cfg.TraceExporter == "stdout" && cfg.TraceFile != "" {
		file, err := os.OpenFile(cfg.TraceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, closeTrace, fmt.Errorf("failed to open trace file: %w", err)
		}
		otelCfg.TraceOutput = file
		closeTrace = func() { file.Close() }
	}

	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		closeTrace()
		return nil, func() {}, err
	}
	return providers, closeTrace, nil
}
