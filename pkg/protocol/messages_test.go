package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessage_Config(t *testing.T) {
	t.Run("browser client keys", func(t *testing.T) {
		msg, err := ParseClientMessage([]byte(`{"type":"config","threshold":0.6,"min_silence_ms":300,"speech_pad_ms":45}`))
		require.NoError(t, err)

		cfg, ok := msg.(*ConfigMessage)
		require.True(t, ok)
		require.NotNil(t, cfg.Threshold)
		assert.InDelta(t, 0.6, *cfg.Threshold, 1e-6)
		assert.Equal(t, 300, *cfg.MinSilenceMs())
		assert.Equal(t, 45, *cfg.SpeechPadMs())
	})

	t.Run("camelCase keys", func(t *testing.T) {
		msg, err := ParseClientMessage([]byte(`{"type":"config","minSilenceMs":250,"speechPadMs":10}`))
		require.NoError(t, err)

		cfg := msg.(*ConfigMessage)
		assert.Nil(t, cfg.Threshold)
		assert.Equal(t, 250, *cfg.MinSilenceMs())
		assert.Equal(t, 10, *cfg.SpeechPadMs())
	})

	t.Run("threshold only", func(t *testing.T) {
		msg, err := ParseClientMessage([]byte(`{"type":"config","threshold":0.7}`))
		require.NoError(t, err)

		cfg := msg.(*ConfigMessage)
		assert.InDelta(t, 0.7, *cfg.Threshold, 1e-6)
		assert.Nil(t, cfg.MinSilenceMs())
		assert.Nil(t, cfg.SpeechPadMs())
	})

	t.Run("snake_case wins", func(t *testing.T) {
		msg, err := ParseClientMessage([]byte(`{"type":"config","min_silence_ms":1,"minSilenceMs":2}`))
		require.NoError(t, err)
		assert.Equal(t, 1, *msg.(*ConfigMessage).MinSilenceMs())
	})
}

func TestParseClientMessage_DurationCeiling(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"config","min_silence_ms":60000,"speech_pad_ms":60000}`))
	require.NoError(t, err)
	cfg := msg.(*ConfigMessage)
	assert.Equal(t, MaxDurationMs, *cfg.MinSilenceMs())
	assert.Equal(t, MaxDurationMs, *cfg.SpeechPadMs())
}

func TestParseClientMessage_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		malformed bool
	}{
		{"not json", `hello`, true},
		{"no type", `{"threshold":0.5}`, true},
		{"numeric type", `{"type":3}`, true},
		{"threshold above one", `{"type":"config","threshold":1.5}`, false},
		{"negative threshold", `{"type":"config","threshold":-0.1}`, false},
		{"negative silence", `{"type":"config","min_silence_ms":-5}`, false},
		{"negative pad", `{"type":"config","speechPadMs":-1}`, false},
		{"huge silence", `{"type":"config","min_silence_ms":9223372036854775807}`, false},
		{"silence above ceiling", `{"type":"config","minSilenceMs":60001}`, false},
		{"pad above ceiling", `{"type":"config","speech_pad_ms":60001}`, false},
		{"fractional ms", `{"type":"config","min_silence_ms":1.5}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseClientMessage([]byte(tt.data))
			assert.Error(t, err)
			assert.Nil(t, msg)
			if tt.malformed {
				assert.ErrorIs(t, err, ErrMalformedMessage)
			}
		})
	}
}

func TestParseClientMessage_UnknownType(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, UnknownMessage{Type: "ping"}, msg)
}

func TestResultMessage_Marshal(t *testing.T) {
	start := 1.2
	msg := ResultMessage{
		Seq: 42,
		Probability: DetectorPayload{
			Prob:        0.75,
			IsSpeech:    true,
			IsConfirmed: true,
			Event:       &EventPayload{Start: &start},
		},
		Segment: DetectorPayload{Prob: 0},
	}

	data, err := msg.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "vad_result", decoded["type"])
	assert.Equal(t, float64(42), decoded["seq"])

	silero := decoded["silero"].(map[string]any)
	assert.Equal(t, 0.75, silero["prob"])
	assert.Equal(t, true, silero["is_speech"])
	assert.Equal(t, true, silero["is_confirmed"])
	assert.Equal(t, map[string]any{"start": 1.2}, silero["event"])

	fsmn := decoded["fsmn"].(map[string]any)
	assert.Equal(t, false, fsmn["is_speech"])
	assert.Contains(t, fsmn, "event")
	assert.Nil(t, fsmn["event"])
}
