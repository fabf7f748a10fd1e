// Package otel provides OpenTelemetry span helpers for the sync engine.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by sync spans.
const (
	AttrSyncID     = attribute.Key("sync.id")
	AttrSyncState  = attribute.Key("sync.state")
	AttrSyncPath   = attribute.Key("sync.path")
	AttrTrigger    = attribute.Key("sync.trigger")
	AttrLocation   = attribute.Key("remote.location")
	AttrItemCount  = attribute.Key("sync.items")
	AttrErrorCode  = attribute.Key("sync.error_code")
	AttrRemotePath = attribute.Key("remote.path")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks the span as failed. The status
// description stays generic; remote paths and server URLs only go to the event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
