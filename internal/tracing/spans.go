package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taponn/jobcore/pkg/types"
)

const (
	JobIDKey       = attribute.Key("job.id")
	JobTypeKey     = attribute.Key("job.type")
	JobAttemptKey  = attribute.Key("job.attempt")
	JobPriorityKey = attribute.Key("job.priority")
	JobOutcomeKey  = attribute.Key("job.outcome")
	ErrorKindKey   = attribute.Key("error.kind")
	TaskNameKey    = attribute.Key("task.name")
	TaskManualKey  = attribute.Key("task.manual")
)

// JobAttributes describe one attempt of j
func JobAttributes(j *types.Job, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		JobIDKey.String(j.ID),
		JobTypeKey.String(j.Type),
		JobAttemptKey.Int(attempt),
		JobPriorityKey.Int(j.Options.Priority),
	}
}

// StartJob opens the "job.process" span for one attempt of j.
func (t *Tracer) StartJob(ctx context.Context, j *types.Job, attempt int) (context.Context, trace.Span) {
	return t.start(ctx, "job.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(JobAttributes(j, attempt)...),
	)
}

// EndJob records how the attempt settled: completed, retrying, interrupted
// or failed. kind labels err for filtering, e.g. "timeout".
func EndJob(span trace.Span, outcome string, err error, kind string) {
	span.SetAttributes(JobOutcomeKey.String(outcome))
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetAttributes(ErrorKindKey.String(kind))
	span.SetStatus(codes.Error, kind)
}

// JobEnqueued marks j on the caller's span, so a task or event that queued
// work shows which jobs it produced.
func JobEnqueued(ctx context.Context, j *types.Job) {
	trace.SpanFromContext(ctx).AddEvent("job.enqueued", trace.WithAttributes(
		JobIDKey.String(j.ID),
		JobTypeKey.String(j.Type),
		JobPriorityKey.Int(j.Options.Priority),
	))
}

// StartTask opens the "scheduler.task" span for one run of a scheduled task.
// manual is set for runs triggered outside the cron schedule.
func (t *Tracer) StartTask(ctx context.Context, name string, manual bool) (context.Context, trace.Span) {
	return t.start(ctx, "scheduler.task",
		trace.WithAttributes(TaskNameKey.String(name), TaskManualKey.Bool(manual)),
	)
}

// EndTask sets the task span status from err
func EndTask(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
