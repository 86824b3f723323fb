package metering

import (
	"log/slog"
	"sync"

	"github.com/voxlane/parley/pkg/metrics"
	"github.com/voxlane/parley/pkg/turn"
)

// Sample names the aggregator understands.
const (
	SampleTTFBMS           = "ttfb_ms"
	SampleProcessingMS     = "processing_ms"
	SamplePromptTokens     = "prompt_tokens"
	SampleCompletionTokens = "completion_tokens"
	SampleAudioSeconds     = "audio_seconds"
	SampleCharacters       = "characters"
)

// Costs are dollars per stage bucket.
type Costs struct {
	Recognition   float64
	LanguageModel float64
	Synthesis     float64
}

func (c Costs) Total() float64 {
	return c.Recognition + c.LanguageModel + c.Synthesis
}

func (c *Costs) add(other Costs) {
	c.Recognition += other.Recognition
	c.LanguageModel += other.LanguageModel
	c.Synthesis += other.Synthesis
}

// Usage holds the raw counters the costs were computed from.
type Usage struct {
	PromptTokens        int64
	CompletionTokens    int64
	RecognitionSeconds  float64
	SynthesisCharacters int64
	AudioSeconds        float64
}

func (u *Usage) add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.RecognitionSeconds += other.RecognitionSeconds
	u.SynthesisCharacters += other.SynthesisCharacters
	u.AudioSeconds += other.AudioSeconds
}

// Latency is per-stage timing for one turn. TTFB keeps the first sample;
// processing durations accumulate.
type Latency struct {
	RecognitionTTFBMS         float64
	LanguageModelTTFBMS       float64
	SynthesisTTFBMS           float64
	RecognitionProcessingMS   float64
	LanguageModelProcessingMS float64
	SynthesisProcessingMS     float64
}

// TurnMetrics is everything attributed to one turn.
type TurnMetrics struct {
	TurnNumber int
	Costs      Costs
	Usage      Usage
	Latency    Latency
}

// Aggregator attributes cost/latency/usage samples to the currently open
// turn. It listens to turn boundaries for attribution and implements
// metrics.Observer for the samples themselves. Samples arriving after a
// turn ended but before the next one starts (a synthesizer finishing late)
// stay with the most recent turn.
type Aggregator struct {
	mu      sync.Mutex
	prices  PriceTable
	turns   map[int]*TurnMetrics
	order   []int
	current int
	costs   Costs
	usage   Usage
	log     *slog.Logger
}

func NewAggregator(prices PriceTable, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		prices: prices,
		turns:  make(map[int]*TurnMetrics),
		log:    log,
	}
}

// OnTurnStarted implements turn.Listener.
func (a *Aggregator) OnTurnStarted(b turn.Boundary) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = b.TurnNumber
	if _, ok := a.turns[b.TurnNumber]; !ok {
		a.turns[b.TurnNumber] = &TurnMetrics{TurnNumber: b.TurnNumber}
		a.order = append(a.order, b.TurnNumber)
	}
}

// OnTurnEnded implements turn.Listener. Attribution stays sticky on the
// ended turn until the next one opens.
func (a *Aggregator) OnTurnEnded(turn.Boundary) {}

// RecordSample implements metrics.Observer.
func (a *Aggregator) RecordSample(s metrics.Sample) {
	stage := ClassifyProcessor(s.Processor)

	a.mu.Lock()
	defer a.mu.Unlock()
	tm := a.turns[a.current]
	if tm == nil {
		// No turn has opened yet; nothing to attribute to.
		return
	}
	rate, known := a.prices.Lookup(s.Model)
	if !known && costBearing(s.Name) {
		a.log.Debug("price_table_miss", "model", s.Model, "processor", s.Processor)
	}

	var costs Costs
	var usage Usage
	switch s.Name {
	case SampleTTFBMS:
		setTTFB(&tm.Latency, stage, s.Value)
	case SampleProcessingMS:
		addProcessing(&tm.Latency, stage, s.Value)
	case SamplePromptTokens:
		usage.PromptTokens = int64(s.Value)
		costs.LanguageModel = rate.PromptPer1K * s.Value / 1000
	case SampleCompletionTokens:
		usage.CompletionTokens = int64(s.Value)
		costs.LanguageModel = rate.CompletionPer1K * s.Value / 1000
	case SampleAudioSeconds:
		usage.AudioSeconds = s.Value
		if stage == StageRecognition {
			usage.RecognitionSeconds = s.Value
			costs.Recognition = rate.PerMinute * s.Value / 60
		}
	case SampleCharacters:
		if stage == StageSynthesis {
			usage.SynthesisCharacters = int64(s.Value)
			costs.Synthesis = rate.PerCharacter * s.Value
		}
	default:
		return
	}

	tm.Costs.add(costs)
	tm.Usage.add(usage)
	a.costs.add(costs)
	a.usage.add(usage)
}

// TurnMetrics returns the bucket for one turn number.
func (a *Aggregator) TurnMetrics(turnNumber int) (TurnMetrics, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tm, ok := a.turns[turnNumber]
	if !ok {
		return TurnMetrics{}, false
	}
	return *tm, true
}

// Turns returns all per-turn buckets in turn order.
func (a *Aggregator) Turns() []TurnMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]TurnMetrics, 0, len(a.order))
	for _, n := range a.order {
		out = append(out, *a.turns[n])
	}
	return out
}

// SessionTotals mirrors the three cost buckets across all turns.
func (a *Aggregator) SessionTotals() (Costs, Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.costs, a.usage
}

func costBearing(name string) bool {
	switch name {
	case SamplePromptTokens, SampleCompletionTokens, SampleAudioSeconds, SampleCharacters:
		return true
	}
	return false
}

func setTTFB(l *Latency, stage Stage, v float64) {
	switch stage {
	case StageRecognition:
		if l.RecognitionTTFBMS == 0 {
			l.RecognitionTTFBMS = v
		}
	case StageLanguageModel:
		if l.LanguageModelTTFBMS == 0 {
			l.LanguageModelTTFBMS = v
		}
	case StageSynthesis:
		if l.SynthesisTTFBMS == 0 {
			l.SynthesisTTFBMS = v
		}
	}
}

func addProcessing(l *Latency, stage Stage, v float64) {
	switch stage {
	case StageRecognition:
		l.RecognitionProcessingMS += v
	case StageLanguageModel:
		l.LanguageModelProcessingMS += v
	case StageSynthesis:
		l.SynthesisProcessingMS += v
	}
}

var (
	_ metrics.Observer = (*Aggregator)(nil)
	_ turn.Listener    = (*Aggregator)(nil)
)
