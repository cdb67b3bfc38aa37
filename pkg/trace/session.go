package trace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentSessionOpened creates the span covering session setup.
func InstrumentSessionOpened(ctx context.Context, sessionID, remoteAddr string) (context.Context, trace.Span) {
	return StartSpan(ctx, "session.opened",
		trace.WithAttributes(SessionAttrs(sessionID, remoteAddr)...),
	)
}

// InstrumentSessionClosed creates the span covering reset and teardown.
// cause is recorded as an error when non-nil.
func InstrumentSessionClosed(ctx context.Context, sessionID string, frames int64, cause error) (context.Context, trace.Span) {
	ctx, span := StartSpan(ctx, "session.closed",
		trace.WithAttributes(
			attribute.String(AttrSessionID, sessionID),
			attribute.Int64(AttrSessionFrames, frames),
		),
	)
	RecordError(span, cause)
	return ctx, span
}

// InstrumentFrame creates the span around one fusion step.
func InstrumentFrame(ctx context.Context, seq uint32, samples, sampleRate, channels int) (context.Context, trace.Span) {
	return StartSpan(ctx, "fusion.process_frame",
		trace.WithAttributes(FrameAttrs(seq, samples, sampleRate, channels)...),
	)
}

// InstrumentConfigUpdate creates the span for a live config change.
func InstrumentConfigUpdate(ctx context.Context, sessionID string, threshold *float32, minSilenceMs, speechPadMs *int) (context.Context, trace.Span) {
	attrs := append([]attribute.KeyValue{attribute.String(AttrSessionID, sessionID)},
		ConfigAttrs(threshold, minSilenceMs, speechPadMs)...)
	return StartSpan(ctx, "session.config_update", trace.WithAttributes(attrs...))
}

// AddSpeechEvent marks a detector onset or offset on span.
func AddSpeechEvent(span trace.Span, detector, kind string, seconds float64) {
	AddEvent(span, "speech."+kind,
		attribute.String(AttrDetectorName, detector),
		attribute.Float64("speech.seconds", seconds),
	)
}
