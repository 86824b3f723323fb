package metering

import "strings"

// Stage is the bucket a sample is attributed to.
type Stage int

const (
	StageRecognition Stage = iota
	StageLanguageModel
	StageSynthesis
)

func (s Stage) String() string {
	switch s {
	case StageRecognition:
		return "recognition"
	case StageLanguageModel:
		return "language_model"
	case StageSynthesis:
		return "synthesis"
	default:
		return "unknown"
	}
}

var recognitionMarkers = []string{"stt", "asr", "transcri", "recogni", "deepgram", "whisper", "listen"}

var synthesisMarkers = []string{"tts", "synth", "speech", "voice", "elevenlabs", "cartesia", "polly", "say"}

// ClassifyProcessor maps a processor-category name onto a stage by
// substring matching. Recognition is checked before synthesis: names like
// "speechmatics_stt" carry the ambiguous "speech" substring and must land
// in the recognition bucket. Unclassified names default to language model.
func ClassifyProcessor(name string) Stage {
	n := strings.ToLower(name)
	for _, m := range recognitionMarkers {
		if strings.Contains(n, m) {
			return StageRecognition
		}
	}
	for _, m := range synthesisMarkers {
		if strings.Contains(n, m) {
			return StageSynthesis
		}
	}
	return StageLanguageModel
}
