package parley

import (
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/voxlane/parley/pkg/events"
)

func testEngineConfig() Config {
	return Config{
		Environment: "test",
		Dedup:       DedupConfig{WindowSize: 100},
		Turn:        TurnConfig{FinalizeDelayMS: 1000},
		Filler:      FillerConfig{Enabled: true, TimeoutMS: 500},
		Vendors: VendorsConfig{
			LLM: VendorConfig{
				Provider: "mock",
				Settings: map[string]any{"response_text": "Got it"},
			},
		},
	}
}

type chunkLog struct {
	mu     sync.Mutex
	chunks map[string][]events.SpeakableText
}

func newChunkLog() *chunkLog {
	return &chunkLog{chunks: make(map[string][]events.SpeakableText)}
}

func (c *chunkLog) speak(id string, chunk events.SpeakableText) {
	c.mu.Lock()
	c.chunks[id] = append(c.chunks[id], chunk)
	c.mu.Unlock()
}

func (c *chunkLog) joined(id, source string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	for _, chunk := range c.chunks[id] {
		if chunk.Source() == source {
			b.WriteString(chunk.Text())
		}
	}
	return b.String()
}

func TestEngineRoutesEventsPerSession(t *testing.T) {
	sink := newChunkLog()
	eng, err := NewEngine(EngineOptions{
		Config: testEngineConfig(),
		Speak:  sink.speak,
		Logger: slog.Default(),
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Close()

	if err := eng.Dispatch("call-1", events.NewUserStartedSpeaking()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := eng.Dispatch("call-1", events.NewModelResponseStart()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	_ = eng.Dispatch("call-1", events.NewModelTextDelta(`{"response":"All set."}`))
	_ = eng.Dispatch("call-1", events.NewModelResponseEnd())

	if got := sink.joined("call-1", events.SourceResponse); got != "All set." {
		t.Fatalf("response chunks = %q", got)
	}
	sess, ok := eng.Session("call-1")
	if !ok {
		t.Fatalf("session missing")
	}
	if sess.Meter() == nil {
		t.Fatalf("session meter not wired")
	}
	if got := len(sess.Tracker().Turns()); got != 1 {
		t.Fatalf("turns = %d, want 1", got)
	}
}

func TestEngineRefusesNewSessionsWhileDraining(t *testing.T) {
	eng, err := NewEngine(EngineOptions{Config: testEngineConfig(), Logger: slog.Default()})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Close()

	if err := eng.Dispatch("call-1", events.NewUserStartedSpeaking()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	eng.Registry().SetDraining(true)
	if err := eng.Dispatch("call-2", events.NewUserStartedSpeaking()); err == nil {
		t.Fatalf("expected refusal for new session while draining")
	}
	if err := eng.Dispatch("call-1", events.NewUserStoppedSpeaking()); err != nil {
		t.Fatalf("existing session must still dispatch: %v", err)
	}
}

func TestBuildLLMUnknownProvider(t *testing.T) {
	reg := NewProviderRegistry()
	if _, err := reg.BuildLLM("nope", Config{}); err == nil {
		t.Fatalf("expected error for unregistered provider")
	}
}

func TestBuildOpenAIRequiresAPIKey(t *testing.T) {
	reg := NewProviderRegistry()
	cfg := Config{Vendors: VendorsConfig{LLM: VendorConfig{
		Provider: "openai",
		Settings: map[string]any{"model": "gpt-4o-mini"},
	}}}
	if _, err := reg.BuildLLM("openai", cfg); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}
