package session

import (
	"github.com/realtime-ai/dualvad/pkg/fusion"
	"github.com/realtime-ai/dualvad/pkg/protocol"
)

func toResultMessage(res fusion.Result) protocol.ResultMessage {
	return protocol.ResultMessage{
		Seq:         res.Sequence,
		Probability: toPayload(res.Probability),
		Segment:     toPayload(res.Segment),
	}
}

func toPayload(r fusion.DetectorResult) protocol.DetectorPayload {
	p := protocol.DetectorPayload{
		Prob:        r.Probability,
		IsSpeech:    r.IsSpeechInstant,
		IsConfirmed: r.IsSpeechConfirmed,
	}
	if r.Event != nil {
		seconds := r.Event.Seconds
		switch r.Event.Kind {
		case fusion.EventOnset:
			p.Event = &protocol.EventPayload{Start: &seconds}
		case fusion.EventOffset:
			p.Event = &protocol.EventPayload{End: &seconds}
		}
	}
	return p
}
