package trace

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on session and frame spans.
const (
	AttrSessionID     = "session.id"
	AttrSessionRemote = "session.remote_addr"
	AttrSessionFrames = "session.frames"

	AttrFrameSequence    = "frame.sequence"
	AttrFrameSamples     = "frame.samples"
	AttrFrameSampleRate  = "frame.sample_rate"
	AttrFrameChannels    = "frame.channels"
	AttrDetectorName     = "detector.name"
	AttrDetectorSpeech   = "detector.speech"
	AttrDetectorEvent    = "detector.event"
	AttrConfigThreshold  = "config.threshold"
	AttrConfigMinSilence = "config.min_silence_ms"
	AttrConfigSpeechPad  = "config.speech_pad_ms"

	AttrErrorType = "error.type"
)

// SessionAttrs creates attributes for session information
func SessionAttrs(sessionID, remoteAddr string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSessionID, sessionID),
		attribute.String(AttrSessionRemote, remoteAddr),
	}
}

// FrameAttrs describes one decoded audio frame.
func FrameAttrs(seq uint32, samples, sampleRate, channels int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(AttrFrameSequence, int64(seq)),
		attribute.Int(AttrFrameSamples, samples),
		attribute.Int(AttrFrameSampleRate, sampleRate),
		attribute.Int(AttrFrameChannels, channels),
	}
}

// ConfigAttrs lists only the fields a config update carries.
func ConfigAttrs(threshold *float32, minSilenceMs, speechPadMs *int) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if threshold != nil {
		attrs = append(attrs, attribute.Float64(AttrConfigThreshold, float64(*threshold)))
	}
	if minSilenceMs != nil {
		attrs = append(attrs, attribute.Int(AttrConfigMinSilence, *minSilenceMs))
	}
	if speechPadMs != nil {
		attrs = append(attrs, attribute.Int(AttrConfigSpeechPad, *speechPadMs))
	}
	return attrs
}
