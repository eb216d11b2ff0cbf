package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/DavoGrant/LuminexDataPipeline/pkg/contracts/domain"
)

const (
	TracerName = "luminex.pipeline"

	spanRun  = "pipeline.run"
	spanFile = "pipeline.file"
	spanTab  = "pipeline.tab"
)

func (p *Processor) traceRun(ctx context.Context, files int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, spanRun,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("pipeline.files", files),
			attribute.Int("pipeline.required_replicates", p.reservoir.Required()),
			attribute.Bool("pipeline.strict_abort", p.strict),
		),
	)
}

func (p *Processor) traceFile(ctx context.Context, file domain.AssayFile) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, spanFile,
		trace.WithAttributes(
			attribute.String("assay.file", file.Name),
			attribute.String("assay.run_id", file.RunID),
			attribute.Int("assay.replicate", file.Replicate),
		),
	)
}

func (p *Processor) traceTab(ctx context.Context, file domain.AssayFile, analyte string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, spanTab,
		trace.WithAttributes(
			attribute.String("assay.run_id", file.RunID),
			attribute.Int("assay.replicate", file.Replicate),
			attribute.String("assay.analyte", analyte),
		),
	)
}

// endSpan closes span, marking it failed when err is set
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
