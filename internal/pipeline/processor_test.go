package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/DavoGrant/LuminexDataPipeline/internal/config"
	"github.com/DavoGrant/LuminexDataPipeline/internal/dataprocessing"
	apperrors "github.com/DavoGrant/LuminexDataPipeline/internal/errors"
	"github.com/DavoGrant/LuminexDataPipeline/internal/exporter"
	"github.com/DavoGrant/LuminexDataPipeline/internal/infrastructure"
	"github.com/DavoGrant/LuminexDataPipeline/internal/reservoir"
	"github.com/DavoGrant/LuminexDataPipeline/internal/shared/testutil"
	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts/domain"
)

type harness struct {
	proc   *Processor
	res    *reservoir.Reservoir
	writes []domain.FlushedGroup
	logs   *testutil.BufferedSlogHandler
	dir    string
}

func newHarness(t *testing.T, required int, strict bool, writer reservoir.GroupWriter) *harness {
	t.Helper()
	logger, handler := testutil.NewTestLogger(t)
	h := &harness{logs: handler, dir: t.TempDir()}

	if writer == nil {
		writer = reservoir.GroupWriterFunc(func(_ context.Context, g domain.FlushedGroup) error {
			h.writes = append(h.writes, g)
			return nil
		})
	}

	res, err := reservoir.New(reservoir.Options{Required: required, Writer: writer, Logger: logger})
	require.NoError(t, err)
	h.res = res

	proc, err := New(Options{
		Parser:      dataprocessing.NewParser(config.Default().Workbook, logger),
		Reservoir:   res,
		StrictAbort: strict,
		Logger:      logger,
	})
	require.NoError(t, err)
	h.proc = proc
	return h
}

// assay writes a replicate workbook and returns its identity
func (h *harness) assay(t *testing.T, run string, replicate int, tabs ...testutil.AssayTab) domain.AssayFile {
	t.Helper()
	name := fmt.Sprintf("%s_%d_cytokines.xlsx", run, replicate)
	path := testutil.WriteAssayWorkbook(t, h.dir, name, tabs...)
	return domain.AssayFile{Path: path, Name: name, RunID: run, Replicate: replicate}
}

// tooFewStandards is a tab whose fit must fail
func tooFewStandards(name string) testutil.AssayTab {
	return testutil.AssayTab{Name: name, Rows: []testutil.AssayRow{
		{Type: "S1", Signal: 10.0, Conc: 1.0},
		{Type: "S2", Signal: 20.0, Conc: 2.0},
		{Type: "X1", Signal: 15.0, Dilution: 1.0},
	}}
}

func TestProcessor_Run_EndToEnd(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	for r := 1; r <= 3; r++ {
		testutil.WriteAssayWorkbook(t, src, fmt.Sprintf("RUN1_%d_cytokines.xlsx", r), testutil.LinearTab("IL-6"))
	}

	cfg := config.Default()
	cfg.Pipeline.Source = src
	cfg.Pipeline.Destination = dest
	paths, err := config.ResolvePaths(cfg)
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirectories(true))

	logger, handler := testutil.NewTestLogger(t)
	proc, err := Build(cfg, paths, nil, logger)
	require.NoError(t, err)

	report, err := proc.RunSource(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, 3, report.FilesSeen)
	assert.Equal(t, 3, report.TabsProcessed)
	assert.Empty(t, report.TabsFailed)
	assert.Equal(t, []domain.GroupKey{{RunID: "RUN1", Analyte: "IL-6"}}, report.GroupsFlushed)
	assert.Zero(t, report.Pending)
	assert.NotEmpty(t, report.TraceID)

	header, values, err := exporter.ReadColumn(filepath.Join(dest, "RUN1.xlsx"), "IL-6")
	require.NoError(t, err)
	assert.Equal(t, "IL-6 (pg/mL)", header)
	require.Len(t, values, 6)
	for i, want := range []float64{3, 5, 3, 5, 3, 5} {
		assert.InDelta(t, want, values[i], 1e-6, "value %d", i)
	}

	entries, err := exporter.NewLedger(paths.LedgerFile, nil).Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1;2;3", entries[0].Replicates)

	for r := 1; r <= 3; r++ {
		assert.FileExists(t, paths.ModelImage("RUN1", r, "IL-6", "png"))
	}

	testutil.AssertLogContains(t, handler, slog.LevelInfo, config.MsgAllProcessed)
	testutil.AssertNoErrors(t, handler)
}

func TestProcessor_ProcessTab_AllOrNothing(t *testing.T) {
	h := newHarness(t, 3, false, nil)
	file := domain.AssayFile{Path: "/in/RUN1_1.xlsx", Name: "RUN1_1.xlsx", RunID: "RUN1", Replicate: 1}

	parser := dataprocessing.NewParser(config.Default().Workbook, nil)
	wb, err := parser.ParseFile(h.assay(t, "RUN1", 1, tooFewStandards("IL-6")))
	require.NoError(t, err)

	err = h.proc.ProcessTab(context.Background(), file, wb.Tabs[0].Tab)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeCalibration))
	assert.ErrorIs(t, err, apperrors.ErrTooFewStandards)
	assert.Zero(t, h.res.Len(), "failed tab never reaches the reservoir")
	require.Len(t, h.proc.Report().TabsFailed, 1)
	assert.Equal(t, file.Key("IL-6"), h.proc.Report().TabsFailed[0].Key)
}

func TestProcessor_ProcessFile_TabLocalFailures(t *testing.T) {
	tests := []struct {
		name         string
		strict       bool
		wantErr      bool
		wantBuffered int
	}{
		{name: "siblings continue", strict: false, wantErr: false, wantBuffered: 1},
		{name: "strict abort skips remaining tabs", strict: true, wantErr: true, wantBuffered: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 3, tt.strict, nil)
			file := h.assay(t, "RUN1", 1, tooFewStandards("Bad"), testutil.LinearTab("IL-6"))

			err := h.proc.ProcessFile(context.Background(), file)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsTabLocal(err))
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.wantBuffered, h.res.Len())
			require.Len(t, h.proc.Report().TabsFailed, 1)
			assert.Equal(t, "Bad", h.proc.Report().TabsFailed[0].Key.Analyte)
			testutil.AssertLogContains(t, h.logs, slog.LevelWarn, "Tab skipped")
		})
	}
}

func TestProcessor_ProcessFile_UnreadableTabIsTabLocal(t *testing.T) {
	h := newHarness(t, 1, false, nil)
	file := h.assay(t, "RUN1", 1, testutil.LinearTab("IL-6"))

	wb, err := excelize.OpenFile(file.Path)
	require.NoError(t, err)
	_, err = wb.NewSheet("Notes")
	require.NoError(t, err)
	require.NoError(t, wb.SetCellValue("Notes", "A1", "operator comments"))
	require.NoError(t, wb.Save())
	require.NoError(t, wb.Close())

	require.NoError(t, h.proc.ProcessFile(context.Background(), file))

	require.Len(t, h.writes, 1)
	assert.Equal(t, []float64{3, 5}, roundAll(h.writes[0].Values))
	require.Len(t, h.proc.Report().TabsFailed, 1)
	assert.Equal(t, "Notes", h.proc.Report().TabsFailed[0].Key.Analyte)
	assert.True(t, apperrors.IsType(h.proc.Report().TabsFailed[0].Err, apperrors.ErrTypeValidation))
}

func TestProcessor_Run_StrictModeMovesToNextFile(t *testing.T) {
	h := newHarness(t, 1, true, nil)
	bad := h.assay(t, "RUN1", 1, tooFewStandards("Bad"), testutil.LinearTab("IL-6"))
	good := h.assay(t, "RUN2", 1, testutil.LinearTab("IL-6"))

	report, err := h.proc.Run(context.Background(), []domain.AssayFile{bad, good})
	require.NoError(t, err)

	require.Len(t, report.FilesAborted, 1)
	assert.Equal(t, bad.Name, report.FilesAborted[0].File)
	assert.Equal(t, []domain.GroupKey{{RunID: "RUN2", Analyte: "IL-6"}}, report.GroupsFlushed)
}

func TestProcessor_Run_DuplicateReplicateIsFatal(t *testing.T) {
	h := newHarness(t, 3, false, nil)
	first := h.assay(t, "RUN1", 1, testutil.LinearTab("IL-6"))
	second := first
	second.Name = "RUN1_1_again.xlsx"
	later := h.assay(t, "RUN1", 2, testutil.LinearTab("IL-6"))

	report, err := h.proc.Run(context.Background(), []domain.AssayFile{first, second, later})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeReservoirIntegrity))
	assert.ErrorIs(t, err, apperrors.ErrDuplicateEntry)
	assert.Equal(t, 2, report.FilesSeen, "run stops at the duplicate")
	assert.Equal(t, 1, report.Pending)
}

func TestProcessor_Run_IncompleteGroups(t *testing.T) {
	h := newHarness(t, 3, false, nil)
	files := []domain.AssayFile{
		h.assay(t, "RUN1", 1, testutil.LinearTab("IL-6")),
		h.assay(t, "RUN1", 2, testutil.LinearTab("IL-6")),
	}

	report, err := h.proc.Run(context.Background(), files)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeIncompleteGroup))
	assert.Contains(t, err.Error(), "RUN1/IL-6 (2/3")
	assert.Equal(t, 2, report.Pending)
	assert.Empty(t, h.writes)
	assert.False(t, h.logs.ContainsMessage(config.MsgAllProcessed))
}

func TestProcessor_Run_StorageFailureIsFatal(t *testing.T) {
	failing := reservoir.GroupWriterFunc(func(context.Context, domain.FlushedGroup) error {
		return errors.New("disk full")
	})
	h := newHarness(t, 1, false, failing)
	files := []domain.AssayFile{
		h.assay(t, "RUN1", 1, testutil.LinearTab("IL-6")),
		h.assay(t, "RUN2", 1, testutil.LinearTab("IL-6")),
	}

	report, err := h.proc.Run(context.Background(), files)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeStorage))
	assert.Equal(t, 1, report.FilesSeen)
	assert.Equal(t, 1, report.Pending, "unwritten group stays buffered")
}

func TestProcessor_Run_UnreadableFileIsSkipped(t *testing.T) {
	h := newHarness(t, 1, false, nil)
	corruptPath := filepath.Join(h.dir, "RUN0_1_cytokines.xlsx")
	require.NoError(t, os.WriteFile(corruptPath, []byte("not a workbook"), 0644))
	corrupt := domain.AssayFile{Path: corruptPath, Name: filepath.Base(corruptPath), RunID: "RUN0", Replicate: 1}
	good := h.assay(t, "RUN1", 1, testutil.LinearTab("IL-6"))

	report, err := h.proc.Run(context.Background(), []domain.AssayFile{corrupt, good})
	require.NoError(t, err)
	require.Len(t, report.FilesAborted, 1)
	assert.True(t, apperrors.IsType(report.FilesAborted[0].Err, apperrors.ErrTypeParsing))
	assert.Len(t, report.GroupsFlushed, 1)
}

func TestProcessor_Run_Cancelled(t *testing.T) {
	h := newHarness(t, 1, false, nil)
	file := h.assay(t, "RUN1", 1, testutil.LinearTab("IL-6"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.proc.Run(ctx, []domain.AssayFile{file})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.FilesSeen)
	assert.Zero(t, h.res.Len())
}

func TestProcessor_Run_LeftoverLogPolicy(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	res, err := reservoir.New(reservoir.Options{Required: 2, Leftovers: reservoir.LeftoverLog, Logger: logger})
	require.NoError(t, err)
	proc, err := New(Options{Parser: dataprocessing.NewParser(config.Default().Workbook, logger), Reservoir: res, Logger: logger})
	require.NoError(t, err)

	h := &harness{dir: t.TempDir()}
	report, err := proc.Run(context.Background(), []domain.AssayFile{h.assay(t, "RUN1", 1, testutil.LinearTab("IL-6"))})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pending)
	assert.False(t, handler.ContainsMessage(config.MsgAllProcessed))
	testutil.AssertLogContains(t, handler, slog.LevelError, "Incomplete replicate group")
}

func TestProcessor_RunSource_NoWorkbooks(t *testing.T) {
	h := newHarness(t, 1, false, nil)
	_, err := h.proc.RunSource(context.Background(), t.TempDir())
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
}

func TestProcessor_RunSource_ReportsMisnamedWorkbooks(t *testing.T) {
	h := newHarness(t, 1, false, nil)
	h.assay(t, "RUN1", 1, testutil.LinearTab("IL-6"))
	testutil.WriteAssayWorkbook(t, h.dir, "RUN1_A_cytokines.xlsx", testutil.LinearTab("IL-6"))

	report, err := h.proc.RunSource(context.Background(), h.dir)
	require.NoError(t, err)

	assert.Equal(t, 1, report.FilesSeen)
	require.Len(t, h.writes, 1)
	require.Len(t, report.FilesAborted, 1)
	assert.Equal(t, "RUN1_A_cytokines.xlsx", report.FilesAborted[0].File)
	assert.True(t, apperrors.IsType(report.FilesAborted[0].Err, apperrors.ErrTypeValidation))

	t.Run("only misnamed workbooks", func(t *testing.T) {
		dir := t.TempDir()
		testutil.WriteAssayWorkbook(t, dir, "plate.xlsx", testutil.LinearTab("IL-6"))

		report, err := h.proc.RunSource(context.Background(), dir)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeNotFound))
		require.Len(t, report.FilesAborted, 1)
		assert.Equal(t, "plate.xlsx", report.FilesAborted[0].File)
	})
}

func TestProcessor_Run_ExtraReplicateAfterFlushIsFatal(t *testing.T) {
	h := newHarness(t, 3, false, nil)
	var assays []domain.AssayFile
	for r := 1; r <= 4; r++ {
		assays = append(assays, h.assay(t, "RUN1", r, testutil.LinearTab("IL-6")))
	}

	report, err := h.proc.Run(context.Background(), assays)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeReservoirIntegrity))
	assert.ErrorIs(t, err, apperrors.ErrGroupOverflow)
	assert.Len(t, h.writes, 1)
	assert.Equal(t, 4, report.FilesSeen)
	assert.Zero(t, report.Pending)
}

func TestProcessor_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	logger, _ := testutil.NewTestLogger(t)
	res, err := reservoir.New(reservoir.Options{Required: 1, Logger: logger})
	require.NoError(t, err)
	proc, err := New(Options{
		Parser:    dataprocessing.NewParser(config.Default().Workbook, logger),
		Reservoir: res,
		Tracer:    tp.Tracer(TracerName),
		Logger:    logger,
	})
	require.NoError(t, err)

	h := &harness{dir: t.TempDir()}
	file := h.assay(t, "RUN1", 1, testutil.LinearTab("IL-6"), tooFewStandards("Bad"))
	_, err = proc.Run(context.Background(), []domain.AssayFile{file})
	require.NoError(t, err)

	names := map[string]int{}
	for _, s := range recorder.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names[spanRun])
	assert.Equal(t, 1, names[spanFile])
	assert.Equal(t, 2, names[spanTab])
}

func TestProcessor_Metrics(t *testing.T) {
	cfg := infrastructure.OTelConfigFrom(config.Default().Telemetry)
	cfg.EnableMetrics = true
	providers, err := infrastructure.InitializeOTel(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	metrics, err := infrastructure.CreatePipelineMetrics(providers.Meter)
	require.NoError(t, err)

	res, err := reservoir.New(reservoir.Options{Required: 1})
	require.NoError(t, err)
	proc, err := New(Options{
		Parser:    dataprocessing.NewParser(config.Default().Workbook, nil),
		Reservoir: res,
		Metrics:   metrics,
	})
	require.NoError(t, err)

	h := &harness{dir: t.TempDir()}
	_, err = proc.Run(context.Background(), []domain.AssayFile{h.assay(t, "RUN1", 1, testutil.LinearTab("IL-6"))})
	require.NoError(t, err)

	families, err := providers.Registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, strings.ReplaceAll(mf.GetName(), ".", "_"))
	}
	joined := strings.Join(names, " ")
	assert.Contains(t, joined, "luminex_tabs_processed")
	assert.Contains(t, joined, "luminex_groups_flushed")
}

func TestNew_RequiresCollaborators(t *testing.T) {
	res, err := reservoir.New(reservoir.Options{Required: 1})
	require.NoError(t, err)

	_, err = New(Options{Reservoir: res})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))

	_, err = New(Options{Parser: dataprocessing.NewParser(config.Default().Workbook, nil)})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig))
}

func TestRunFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "calibration", err: apperrors.NewCalibrationError("x", nil), want: false},
		{name: "validation", err: apperrors.NewValidationError("x", nil), want: false},
		{name: "parsing", err: apperrors.NewParsingError("x", nil), want: false},
		{name: "not found", err: apperrors.NewNotFoundError("x"), want: false},
		{name: "integrity", err: apperrors.NewReservoirIntegrityError("x", nil), want: true},
		{name: "storage", err: apperrors.NewStorageError("x", nil), want: true},
		{name: "cancelled", err: fmt.Errorf("wrap: %w", context.Canceled), want: true},
		{name: "untyped", err: errors.New("boom"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, runFatal(tt.err))
		})
	}
}

func roundAll(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(int64(v*1e6+0.5)) / 1e6
	}
	return out
}
