package events

import (
	"time"

	"github.com/google/uuid"
)

// Direction tells which way an event travels through the pipeline.
// Downstream events originate at the edge (recognition, model) and may be
// re-delivered at multiple stages; upstream events are responses flowing
// back and are never deduplicated.
type Direction string

const (
	DirectionDownstream Direction = "downstream"
	DirectionUpstream   Direction = "upstream"
)

type Kind string

const (
	KindUserStartedSpeaking Kind = "user_started_speaking"
	KindUserStoppedSpeaking Kind = "user_stopped_speaking"
	KindTranscription       Kind = "transcription"
	KindModelResponseStart  Kind = "model_response_start"
	KindModelTextDelta      Kind = "model_text_delta"
	KindModelResponseEnd    Kind = "model_response_end"
	KindSynthStarted        Kind = "synth_started"
	KindSynthStopped        Kind = "synth_stopped"
	KindSpeakableText       Kind = "speakable_text"
	KindPipelineEnd         Kind = "pipeline_end"
)

// Source values carried by SpeakableText so the synthesis collaborator can
// tell a filler apart from the primary response.
const (
	SourceResponse = "response"
	SourceFiller   = "filler"
)

// Event is the immutable value object exchanged between the engine and its
// collaborators. Implementations are value types; consumers receive copies
// and never mutate them.
type Event interface {
	ID() string
	Kind() Kind
	Direction() Direction
	At() time.Time
}

type base struct {
	id  string
	dir Direction
	at  time.Time
}

func newBase(dir Direction) base {
	return base{id: uuid.NewString(), dir: dir, at: time.Now()}
}

func (b base) ID() string           { return b.id }
func (b base) Direction() Direction { return b.dir }
func (b base) At() time.Time        { return b.at }

type UserStartedSpeaking struct{ base }

func NewUserStartedSpeaking() UserStartedSpeaking {
	return UserStartedSpeaking{base: newBase(DirectionDownstream)}
}

func (UserStartedSpeaking) Kind() Kind { return KindUserStartedSpeaking }

type UserStoppedSpeaking struct{ base }

func NewUserStoppedSpeaking() UserStoppedSpeaking {
	return UserStoppedSpeaking{base: newBase(DirectionDownstream)}
}

func (UserStoppedSpeaking) Kind() Kind { return KindUserStoppedSpeaking }

type Transcription struct {
	base
	text    string
	isFinal bool
}

func NewTranscription(text string, isFinal bool) Transcription {
	return Transcription{base: newBase(DirectionDownstream), text: text, isFinal: isFinal}
}

func (Transcription) Kind() Kind      { return KindTranscription }
func (t Transcription) Text() string  { return t.text }
func (t Transcription) IsFinal() bool { return t.isFinal }

type ModelResponseStart struct{ base }

func NewModelResponseStart() ModelResponseStart {
	return ModelResponseStart{base: newBase(DirectionDownstream)}
}

func (ModelResponseStart) Kind() Kind { return KindModelResponseStart }

type ModelTextDelta struct {
	base
	text string
}

func NewModelTextDelta(text string) ModelTextDelta {
	return ModelTextDelta{base: newBase(DirectionDownstream), text: text}
}

func (ModelTextDelta) Kind() Kind     { return KindModelTextDelta }
func (d ModelTextDelta) Text() string { return d.text }

type ModelResponseEnd struct{ base }

func NewModelResponseEnd() ModelResponseEnd {
	return ModelResponseEnd{base: newBase(DirectionDownstream)}
}

func (ModelResponseEnd) Kind() Kind { return KindModelResponseEnd }

type SynthStarted struct{ base }

func NewSynthStarted() SynthStarted {
	return SynthStarted{base: newBase(DirectionDownstream)}
}

func (SynthStarted) Kind() Kind { return KindSynthStarted }

type SynthStopped struct{ base }

func NewSynthStopped() SynthStopped {
	return SynthStopped{base: newBase(DirectionDownstream)}
}

func (SynthStopped) Kind() Kind { return KindSynthStopped }

// SpeakableText is the outbound chunk consumed by the synthesis
// collaborator. It travels upstream and is never deduplicated.
type SpeakableText struct {
	base
	text   string
	source string
}

func NewSpeakableText(text, source string) SpeakableText {
	if source == "" {
		source = SourceResponse
	}
	return SpeakableText{base: newBase(DirectionUpstream), text: text, source: source}
}

func (SpeakableText) Kind() Kind       { return KindSpeakableText }
func (s SpeakableText) Text() string   { return s.text }
func (s SpeakableText) Source() string { return s.source }

// PipelineEnd signals session teardown; the tracker closes the open turn.
type PipelineEnd struct{ base }

func NewPipelineEnd() PipelineEnd {
	return PipelineEnd{base: newBase(DirectionDownstream)}
}

func (PipelineEnd) Kind() Kind { return KindPipelineEnd }
