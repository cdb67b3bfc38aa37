package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// MessageType is the "type" discriminator of a JSON message.
type MessageType string

const (
	MessageTypeConfig MessageType = "config"
	MessageTypeResult MessageType = "vad_result"
)

// ErrMalformedMessage is returned for text payloads that are not a JSON
// object with a string "type" field.
var ErrMalformedMessage = errors.New("malformed message")

// ClientMessage is a parsed text message from the client.
type ClientMessage interface {
	MessageType() MessageType
}

// UnknownMessage is a well-formed message whose type this server does not
// handle. Callers ignore it.
type UnknownMessage struct {
	Type MessageType
}

func (m UnknownMessage) MessageType() MessageType { return m.Type }

// ConfigMessage updates detector parameters for the rest of the session.
// Absent fields leave the current value unchanged. Both the snake_case keys
// sent by the browser client and camelCase keys are accepted; snake_case wins
// when both are present.
type ConfigMessage struct {
	Type      MessageType `json:"type"`
	Threshold *float32    `json:"threshold,omitempty"`

	MinSilenceMsSnake *int `json:"min_silence_ms,omitempty"`
	SpeechPadMsSnake  *int `json:"speech_pad_ms,omitempty"`
	MinSilenceMsCamel *int `json:"minSilenceMs,omitempty"`
	SpeechPadMsCamel  *int `json:"speechPadMs,omitempty"`
}

func (m *ConfigMessage) MessageType() MessageType { return MessageTypeConfig }

// MinSilenceMs returns the requested minimum silence, or nil if absent.
func (m *ConfigMessage) MinSilenceMs() *int {
	if m.MinSilenceMsSnake != nil {
		return m.MinSilenceMsSnake
	}
	return m.MinSilenceMsCamel
}

// SpeechPadMs returns the requested speech padding, or nil if absent.
func (m *ConfigMessage) SpeechPadMs() *int {
	if m.SpeechPadMsSnake != nil {
		return m.SpeechPadMsSnake
	}
	return m.SpeechPadMsCamel
}

// MaxDurationMs bounds min_silence_ms and speech_pad_ms.
const MaxDurationMs = 60000

// Validate checks field ranges: threshold in [0, 1], durations in
// [0, MaxDurationMs].
func (m *ConfigMessage) Validate() error {
	if m.Threshold != nil && (*m.Threshold < 0 || *m.Threshold > 1) {
		return fmt.Errorf("threshold %v out of range [0, 1]", *m.Threshold)
	}
	if v := m.MinSilenceMs(); v != nil && (*v < 0 || *v > MaxDurationMs) {
		return fmt.Errorf("min_silence_ms %d out of range [0, %d]", *v, MaxDurationMs)
	}
	if v := m.SpeechPadMs(); v != nil && (*v < 0 || *v > MaxDurationMs) {
		return fmt.Errorf("speech_pad_ms %d out of range [0, %d]", *v, MaxDurationMs)
	}
	return nil
}

// ParseClientMessage decodes a text payload. Messages of an unknown type come
// back as UnknownMessage with a nil error.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformedMessage
	}
	kind := gjson.GetBytes(data, "type")
	if kind.Type != gjson.String {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	switch MessageType(kind.String()) {
	case MessageTypeConfig:
		var msg ConfigMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if err := msg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return &msg, nil
	default:
		return UnknownMessage{Type: MessageType(kind.String())}, nil
	}
}

// ResultMessage is sent once per processed frame. The detector field names
// are the ones the browser client reads.
type ResultMessage struct {
	Type        MessageType     `json:"type"`
	Seq         uint32          `json:"seq"`
	Probability DetectorPayload `json:"silero"`
	Segment     DetectorPayload `json:"fsmn"`
}

// DetectorPayload is one detector's decision for a frame.
type DetectorPayload struct {
	Prob        float32       `json:"prob"`
	IsSpeech    bool          `json:"is_speech"`
	IsConfirmed bool          `json:"is_confirmed"`
	Event       *EventPayload `json:"event"`
}

// EventPayload marks a speech onset ({"start": s}) or offset ({"end": s}),
// in seconds since the session started.
type EventPayload struct {
	Start *float64 `json:"start,omitempty"`
	End   *float64 `json:"end,omitempty"`
}

// Marshal encodes the result message.
func (m *ResultMessage) Marshal() ([]byte, error) {
	m.Type = MessageTypeResult
	return json.Marshal(m)
}
