package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Job-specific semantic convention attributes, attached to spans and
// metrics alongside the generic job.id/job.stage pair TrackStage sets.
var (
	AttrProjectID  = attribute.Key("estimator.project.id")
	AttrFileType   = attribute.Key("estimator.file.type")
	AttrErrorCode  = attribute.Key("estimator.job.error_code")
	AttrPriceListID = attribute.Key("estimator.price_list.id")
)

// JobSubmission creates attributes for a job's CreateJob/Process span.
func JobSubmission(projectID, fileType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProjectID.String(projectID),
		AttrFileType.String(fileType),
	}
}

// JobFailure creates attributes describing a job's terminal error.
func JobFailure(errorCode string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrErrorCode.String(errorCode)}
}

// SpanFromContext extracts the active span from ctx.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent records a point-in-time event on the active span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus marks the active span as errored, or Ok when err is nil.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return
	}
	span.SetStatus(codes.Ok, "")
}
