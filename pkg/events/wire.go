package events

import "fmt"

// Envelope is the JSON wire form of an event. Producers that redeliver an
// event reuse its identifier, which is what lets the engine deduplicate;
// an envelope without an identifier is assigned a fresh one on decode.
type Envelope struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"is_final,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Event materializes the envelope into the matching event value.
func (e Envelope) Event() (Event, error) {
	b := newBase(DirectionDownstream)
	if e.EventID != "" {
		b.id = e.EventID
	}
	switch Kind(e.Type) {
	case KindUserStartedSpeaking:
		return UserStartedSpeaking{base: b}, nil
	case KindUserStoppedSpeaking:
		return UserStoppedSpeaking{base: b}, nil
	case KindTranscription:
		return Transcription{base: b, text: e.Text, isFinal: e.IsFinal}, nil
	case KindModelResponseStart:
		return ModelResponseStart{base: b}, nil
	case KindModelTextDelta:
		return ModelTextDelta{base: b, text: e.Text}, nil
	case KindModelResponseEnd:
		return ModelResponseEnd{base: b}, nil
	case KindSynthStarted:
		return SynthStarted{base: b}, nil
	case KindSynthStopped:
		return SynthStopped{base: b}, nil
	case KindPipelineEnd:
		return PipelineEnd{base: b}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %q", e.Type)
	}
}

// Encode renders an event into its wire form.
func Encode(ev Event) Envelope {
	env := Envelope{
		Type:    string(ev.Kind()),
		EventID: ev.ID(),
	}
	switch v := ev.(type) {
	case Transcription:
		env.Text = v.Text()
		env.IsFinal = v.IsFinal()
	case ModelTextDelta:
		env.Text = v.Text()
	case SpeakableText:
		env.Text = v.Text()
		env.Source = v.Source()
	}
	return env
}
