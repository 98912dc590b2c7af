package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/MrWong99/lingobot"

type learnerKey struct{}

// WithLearner tags ctx with the learner being served. Spans started from the
// returned context carry a learner.id attribute and [Logger] adds user_id.
func WithLearner(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, learnerKey{}, userID)
}

// LearnerID reports the learner ctx was tagged with by [WithLearner].
func LearnerID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(learnerKey{}).(int64)
	return id, ok
}

// StartSpan starts a span on the global tracer provider under the lingobot
// scope. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id, ok := LearnerID(ctx); ok {
		opts = append(opts, trace.WithAttributes(attribute.Int64("learner.id", id)))
	}
	return otel.Tracer(scope).Start(ctx, name, opts...)
}

// CorrelationID is the hex trace ID of the span in ctx, or "" outside a
// traced request. Error replies quote it so a report can be found in the logs.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger is the default logger plus whatever ctx knows: the learner and the
// current trace and span IDs.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if id, ok := LearnerID(ctx); ok {
		attrs = append(attrs, slog.Int64("user_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if len(attrs) == 0 {
		return slog.Default()
	}
	return slog.Default().With(attrs...)
}
