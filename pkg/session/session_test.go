package session

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxlane/parley/pkg/events"
	"github.com/voxlane/parley/pkg/metering"
	"github.com/voxlane/parley/pkg/providers/mock"
	"github.com/voxlane/parley/pkg/turn"
)

// spokenSink collects outbound chunks; safe for the filler goroutine.
type spokenSink struct {
	mu     sync.Mutex
	chunks []events.SpeakableText
}

func (s *spokenSink) speak(t events.SpeakableText) {
	s.mu.Lock()
	s.chunks = append(s.chunks, t)
	s.mu.Unlock()
}

func (s *spokenSink) bySource(source string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.chunks {
		if c.Source() == source {
			out = append(out, c.Text())
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within deadline")
}

func TestDispatchDropsDuplicateDeliveries(t *testing.T) {
	sink := &spokenSink{}
	sess := New(Options{SessionID: "s1", Speak: sink.speak})

	start := events.NewUserStartedSpeaking()
	sess.Dispatch(start)
	sess.Dispatch(start)
	sess.Dispatch(events.NewUserStartedSpeaking())

	turns := sess.Tracker().Turns()
	if len(turns) != 1 {
		t.Fatalf("duplicate delivery must not roll the turn: got %d turns", len(turns))
	}
	sess.Close()
}

func TestResponseRoundTripThroughParser(t *testing.T) {
	sink := &spokenSink{}
	meter := metering.NewAggregator(metering.NewPriceTable(nil), nil)
	sess := New(Options{
		SessionID: "s1",
		Meter:     meter,
		Observer:  meter,
		Speak:     sink.speak,
	})

	sess.Dispatch(events.NewUserStartedSpeaking())
	sess.Dispatch(events.NewUserStoppedSpeaking())
	sess.Dispatch(events.NewModelResponseStart())
	payload := `{"spoke_response":"Hello there. How can I help?"}`
	for i := 0; i < len(payload); i += 7 {
		end := i + 7
		if end > len(payload) {
			end = len(payload)
		}
		sess.Dispatch(events.NewModelTextDelta(payload[i:end]))
	}
	sess.Dispatch(events.NewModelResponseEnd())

	got := strings.Join(sink.bySource(events.SourceResponse), "")
	if got != "Hello there. How can I help?" {
		t.Fatalf("round-trip mismatch: %q", got)
	}

	if _, ok := meter.TurnMetrics(1); !ok {
		t.Fatalf("turn 1 bucket missing")
	}
	if got := len(meter.Turns()); got != 1 {
		t.Fatalf("expected one metered turn, got %d", got)
	}
	sess.Close()
}

func TestFillerEmittedForSubstantiveUtterance(t *testing.T) {
	sink := &spokenSink{}
	sess := New(Options{
		SessionID:     "s1",
		FillerAdapter: mock.NewLLMAdapter(mock.LLMConfig{ResponseText: "Got it"}),
		Speak:         sink.speak,
	})

	sess.Dispatch(events.NewUserStartedSpeaking())
	sess.Dispatch(events.NewTranscription("what is the weather like today", true))
	sess.Dispatch(events.NewUserStoppedSpeaking())

	waitFor(t, func() bool { return sess.FillerStats().Generated == 1 })
	fillers := sink.bySource(events.SourceFiller)
	if len(fillers) != 1 || fillers[0] != "Got it" {
		t.Fatalf("expected one filler chunk, got %v", fillers)
	}
	sess.Close()
}

func TestFillerSkippedForGreeting(t *testing.T) {
	sink := &spokenSink{}
	sess := New(Options{
		FillerAdapter: mock.NewLLMAdapter(mock.LLMConfig{ResponseText: "Got it"}),
		Speak:         sink.speak,
	})

	sess.Dispatch(events.NewUserStartedSpeaking())
	sess.Dispatch(events.NewTranscription("hello", true))

	waitFor(t, func() bool { return sess.FillerStats().Skipped == 1 })
	if got := sink.bySource(events.SourceFiller); len(got) != 0 {
		t.Fatalf("greeting must not produce a filler, got %v", got)
	}
	sess.Close()
}

func TestInterruptionSuppressesInFlightFiller(t *testing.T) {
	sink := &spokenSink{}
	sess := New(Options{
		FillerAdapter: mock.NewLLMAdapter(mock.LLMConfig{
			ResponseText: "One moment",
			Delay:        50 * time.Millisecond,
		}),
		Speak: sink.speak,
	})

	sess.Dispatch(events.NewUserStartedSpeaking())
	sess.Dispatch(events.NewTranscription("can you look up my order status", true))
	sess.Dispatch(events.NewUserStoppedSpeaking())
	sess.Dispatch(events.NewSynthStarted())
	// Barge-in before the filler task resolves.
	sess.Dispatch(events.NewUserStartedSpeaking())
	sess.Close()

	if got := sink.bySource(events.SourceFiller); len(got) != 0 {
		t.Fatalf("interrupted filler must stay silent, got %v", got)
	}
	turns := sess.Tracker().Turns()
	if len(turns) != 2 || !turns[0].WasInterrupted {
		t.Fatalf("expected interrupted first turn, got %+v", turns)
	}
}

func TestResponseStartDropsPendingFiller(t *testing.T) {
	sink := &spokenSink{}
	sess := New(Options{
		FillerAdapter: mock.NewLLMAdapter(mock.LLMConfig{
			ResponseText: "Sure",
			Delay:        50 * time.Millisecond,
		}),
		Speak: sink.speak,
	})

	sess.Dispatch(events.NewUserStartedSpeaking())
	sess.Dispatch(events.NewTranscription("please check the account balance", true))
	sess.Dispatch(events.NewModelResponseStart())
	sess.Dispatch(events.NewModelTextDelta("Your balance is fine."))
	sess.Dispatch(events.NewModelResponseEnd())
	sess.Close()

	if got := sink.bySource(events.SourceFiller); len(got) != 0 {
		t.Fatalf("filler after response start must be dropped, got %v", got)
	}
}

func TestSilentSessionClosesWithoutTurns(t *testing.T) {
	boundaries := 0
	sess := New(Options{Listener: listenerFunc(func() { boundaries++ })})

	sess.Dispatch(events.NewSynthStarted())
	sess.Dispatch(events.NewSynthStopped())
	sess.Dispatch(events.NewPipelineEnd())

	if boundaries != 0 {
		t.Fatalf("session without user events must emit no boundaries, got %d", boundaries)
	}
	if got := len(sess.Tracker().Turns()); got != 0 {
		t.Fatalf("expected zero turns, got %d", got)
	}
}

// listenerFunc counts both boundary callbacks.
type listenerFunc func()

func (f listenerFunc) OnTurnStarted(turn.Boundary) { f() }
func (f listenerFunc) OnTurnEnded(turn.Boundary)   { f() }
