package metering

import (
	"math"
	"testing"
	"time"

	"github.com/voxlane/parley/pkg/metrics"
	"github.com/voxlane/parley/pkg/turn"
)

func sample(name, processor, model string, value float64) metrics.Sample {
	return metrics.Sample{Name: name, Time: time.Now(), Value: value, Processor: processor, Model: model}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestClassifyRecognitionBeforeSynthesis(t *testing.T) {
	cases := map[string]Stage{
		"deepgram_stt":     StageRecognition,
		"speechmatics_stt": StageRecognition,
		"whisper":          StageRecognition,
		"elevenlabs_tts":   StageSynthesis,
		"speech_out":       StageSynthesis,
		"gpt-4o-mini":      StageLanguageModel,
		"":                 StageLanguageModel,
	}
	for name, want := range cases {
		if got := ClassifyProcessor(name); got != want {
			t.Fatalf("ClassifyProcessor(%q) = %s, want %s", name, got, want)
		}
	}
}

func TestAttributionFollowsOpenTurn(t *testing.T) {
	a := NewAggregator(NewPriceTable(map[string]Rate{
		"nova-2":       {PerMinute: 0.06},
		"aura-asteria": {PerCharacter: 0.0002},
	}), nil)

	a.OnTurnStarted(turn.Boundary{TurnNumber: 1})
	a.OnTurnEnded(turn.Boundary{TurnNumber: 1})
	a.OnTurnStarted(turn.Boundary{TurnNumber: 2})
	a.RecordSample(sample(SampleAudioSeconds, "deepgram_stt", "nova-2", 30))
	a.RecordSample(sample(SampleCharacters, "deepgram_tts", "aura-asteria", 500))
	a.OnTurnEnded(turn.Boundary{TurnNumber: 2})
	a.OnTurnStarted(turn.Boundary{TurnNumber: 3})

	if tm, _ := a.TurnMetrics(1); tm.Costs.Total() != 0 {
		t.Fatalf("turn 1 must stay empty, got %+v", tm.Costs)
	}
	if tm, _ := a.TurnMetrics(3); tm.Costs.Total() != 0 {
		t.Fatalf("turn 3 must stay empty, got %+v", tm.Costs)
	}
	tm, ok := a.TurnMetrics(2)
	if !ok {
		t.Fatalf("turn 2 bucket missing")
	}
	if !approx(tm.Costs.Recognition, 0.06*30/60) {
		t.Fatalf("recognition cost wrong: %v", tm.Costs.Recognition)
	}
	if !approx(tm.Costs.Synthesis, 0.0002*500) {
		t.Fatalf("synthesis cost wrong: %v", tm.Costs.Synthesis)
	}
	if tm.Usage.RecognitionSeconds != 30 || tm.Usage.SynthesisCharacters != 500 {
		t.Fatalf("usage wrong: %+v", tm.Usage)
	}
}

func TestTokenCostsAndSessionTotals(t *testing.T) {
	a := NewAggregator(NewPriceTable(map[string]Rate{
		"gpt-4o-mini": {PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
	}), nil)

	a.OnTurnStarted(turn.Boundary{TurnNumber: 1})
	a.RecordSample(sample(SamplePromptTokens, "llm", "gpt-4o-mini", 1000))
	a.RecordSample(sample(SampleCompletionTokens, "llm", "gpt-4o-mini", 500))
	a.OnTurnEnded(turn.Boundary{TurnNumber: 1})
	a.OnTurnStarted(turn.Boundary{TurnNumber: 2})
	a.RecordSample(sample(SampleCompletionTokens, "llm", "gpt-4o-mini", 1000))

	tm, _ := a.TurnMetrics(1)
	if !approx(tm.Costs.LanguageModel, 0.00015+0.0003) {
		t.Fatalf("turn 1 llm cost wrong: %v", tm.Costs.LanguageModel)
	}
	costs, usage := a.SessionTotals()
	if !approx(costs.LanguageModel, 0.00015+0.0003+0.0006) {
		t.Fatalf("session llm cost wrong: %v", costs.LanguageModel)
	}
	if usage.PromptTokens != 1000 || usage.CompletionTokens != 1500 {
		t.Fatalf("session usage wrong: %+v", usage)
	}
}

func TestMissingPriceEntryFallsBack(t *testing.T) {
	a := NewAggregator(NewPriceTable(nil), nil)

	a.OnTurnStarted(turn.Boundary{TurnNumber: 1})
	a.RecordSample(sample(SamplePromptTokens, "llm", "unknown-model", 2000))

	tm, _ := a.TurnMetrics(1)
	want := DefaultRate.PromptPer1K * 2.0
	if !approx(tm.Costs.LanguageModel, want) {
		t.Fatalf("fallback rate not applied: %v != %v", tm.Costs.LanguageModel, want)
	}
}

func TestLatencyFirstTTFBWinsProcessingAccumulates(t *testing.T) {
	a := NewAggregator(NewPriceTable(nil), nil)

	a.OnTurnStarted(turn.Boundary{TurnNumber: 1})
	a.RecordSample(sample(SampleTTFBMS, "deepgram_stt", "", 120))
	a.RecordSample(sample(SampleTTFBMS, "deepgram_stt", "", 250))
	a.RecordSample(sample(SampleProcessingMS, "elevenlabs_tts", "", 40))
	a.RecordSample(sample(SampleProcessingMS, "elevenlabs_tts", "", 60))

	tm, _ := a.TurnMetrics(1)
	if tm.Latency.RecognitionTTFBMS != 120 {
		t.Fatalf("first TTFB must win: %v", tm.Latency.RecognitionTTFBMS)
	}
	if tm.Latency.SynthesisProcessingMS != 100 {
		t.Fatalf("processing must accumulate: %v", tm.Latency.SynthesisProcessingMS)
	}
}

func TestSamplesBeforeFirstTurnDropped(t *testing.T) {
	a := NewAggregator(NewPriceTable(nil), nil)
	a.RecordSample(sample(SamplePromptTokens, "llm", "gpt-4o-mini", 100))

	costs, usage := a.SessionTotals()
	if costs.Total() != 0 || usage.PromptTokens != 0 {
		t.Fatalf("pre-turn sample must be dropped: %+v %+v", costs, usage)
	}
}
