// Package metrics holds the OpenTelemetry instruments of the VAD service.
//
// Instruments are created from a [metric.MeterProvider]. In production that is
// the SDK provider from [InitProvider], which exports to Prometheus; tests pass
// an SDK provider backed by a ManualReader, and [NewNop] discards everything.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/realtime-ai/dualvad"

// Drop reasons recorded on FramesDropped.
const (
	DropShort    = "short"
	DropMagic    = "magic"
	DropMismatch = "mismatch"
	DropText     = "malformed_text"
)

// Metrics holds all instruments. Safe for concurrent use.
type Metrics struct {
	ActiveSessions  metric.Int64UpDownCounter
	FramesProcessed metric.Int64Counter
	// FramesDropped uses attribute "reason".
	FramesDropped metric.Int64Counter
	// ConfigUpdates uses attribute "status" (applied, rejected).
	ConfigUpdates metric.Int64Counter
	// SpeechEvents uses attributes "detector" and "kind".
	SpeechEvents metric.Int64Counter
	SegmentChunks metric.Int64Counter
	SessionFaults metric.Int64Counter
	FrameDuration metric.Float64Histogram
}

// frameBuckets are in seconds; a frame normally takes a few milliseconds.
var frameBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// New creates every instrument from mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("dualvad.sessions.active",
		metric.WithDescription("Number of open VAD sessions."),
	); err != nil {
		return nil, err
	}
	if met.FramesProcessed, err = m.Int64Counter("dualvad.frames.processed",
		metric.WithDescription("Audio frames run through both detectors."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("dualvad.frames.dropped",
		metric.WithDescription("Inbound messages dropped without a response, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ConfigUpdates, err = m.Int64Counter("dualvad.config.updates",
		metric.WithDescription("Config messages by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SpeechEvents, err = m.Int64Counter("dualvad.speech.events",
		metric.WithDescription("Onset and offset transitions by detector."),
	); err != nil {
		return nil, err
	}
	if met.SegmentChunks, err = m.Int64Counter("dualvad.segment.chunks",
		metric.WithDescription("Chunks evaluated by the segment model."),
	); err != nil {
		return nil, err
	}
	if met.SessionFaults, err = m.Int64Counter("dualvad.sessions.faults",
		metric.WithDescription("Sessions closed by a processing or transport fault."),
	); err != nil {
		return nil, err
	}
	if met.FrameDuration, err = m.Float64Histogram("dualvad.frame.duration",
		metric.WithDescription("Time to decode, fuse and answer one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// NewNop returns instruments that record nothing.
func NewNop() *Metrics {
	m, _ := New(noop.NewMeterProvider())
	return m
}

// RecordDrop counts one dropped message.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSpeechEvent counts one detector transition.
func (m *Metrics) RecordSpeechEvent(ctx context.Context, detector, kind string) {
	m.SpeechEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("detector", detector),
		attribute.String("kind", kind),
	))
}

// RecordConfig counts one config message.
func (m *Metrics) RecordConfig(ctx context.Context, applied bool) {
	status := "applied"
	if !applied {
		status = "rejected"
	}
	m.ConfigUpdates.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordFrame counts a processed frame and its latency.
func (m *Metrics) RecordFrame(ctx context.Context, started time.Time) {
	m.FramesProcessed.Add(ctx, 1)
	m.FrameDuration.Record(ctx, time.Since(started).Seconds())
}
