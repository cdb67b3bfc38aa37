// Package fusion runs the two speech detectors of a session side by side and
// merges their per-frame decisions.
//
// A session owns one Engine. The Engine owns a probability adapter, which
// smooths a per-frame speech probability into confirmed onsets and offsets,
// and a segment adapter, which re-chunks audio for a model that reports
// speech region boundaries. Both carry order-sensitive state, so an Engine
// must be driven by one goroutine, frame by frame, in arrival order.
package fusion

// Detector is the capability the Engine drives.
type Detector interface {
	// Process consumes the normalized samples of one frame.
	Process(samples []float32) (DetectorResult, error)
	// UpdateConfig applies the fields present in u. It never resets state.
	UpdateConfig(u ConfigUpdate)
	// Reset returns the detector to its initial state. It is idempotent.
	Reset() error
}

// EventKind is the direction of a speech transition.
type EventKind string

const (
	EventOnset  EventKind = "onset"
	EventOffset EventKind = "offset"
)

// Event is a confirmed speech transition. Seconds is measured from the start
// of the session's audio and rounded to a tenth of a second.
type Event struct {
	Kind    EventKind
	Seconds float64
}

// DetectorResult is one detector's decision for a frame.
type DetectorResult struct {
	Probability       float32
	IsSpeechInstant   bool
	IsSpeechConfirmed bool
	// Event is set only on the frame where the confirmed state changes.
	Event *Event
}

// Result is the fused decision for one frame.
type Result struct {
	Sequence    uint32
	Probability DetectorResult
	Segment     DetectorResult
}

// ConfigUpdate is a partial detector configuration. Nil fields are left
// unchanged.
type ConfigUpdate struct {
	Threshold    *float32
	MinSilenceMs *int
	SpeechPadMs  *int
}

// Empty reports whether u changes nothing.
func (u ConfigUpdate) Empty() bool {
	return u.Threshold == nil && u.MinSilenceMs == nil && u.SpeechPadMs == nil
}
