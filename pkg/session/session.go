package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxlane/parley/pkg/dedup"
	"github.com/voxlane/parley/pkg/events"
	"github.com/voxlane/parley/pkg/filler"
	"github.com/voxlane/parley/pkg/llm"
	"github.com/voxlane/parley/pkg/metering"
	"github.com/voxlane/parley/pkg/metrics"
	"github.com/voxlane/parley/pkg/parser"
	"github.com/voxlane/parley/pkg/turn"
)

// historyLimit caps the conversation history kept for filler prompts.
const historyLimit = 8

// Options wires one session together. Only Speak is required to get text
// out; everything else has working defaults.
type Options struct {
	SessionID     string
	DedupCapacity int
	FinalizeDelay time.Duration
	Parser        parser.Config
	Filler        filler.Config
	FillerAdapter llm.Adapter
	Meter         *metering.Aggregator
	Observer      metrics.Observer
	Listener      turn.Listener
	Logger        *slog.Logger

	// Speak receives every outbound chunk, responses and fillers alike.
	Speak func(events.SpeakableText)
}

// Session is the per-conversation engine: one dedup gate in front of the
// turn tracker, the response parser, the filler generator and the meter.
// Every inbound event passes the gate exactly once; consumers downstream
// of Dispatch never see a duplicate.
type Session struct {
	id      string
	gate    *dedup.Window
	tracker *turn.Tracker
	parser  *parser.Parser
	filler  *filler.Generator
	meter   *metering.Aggregator
	obs     metrics.Observer
	extra   turn.Listener
	speak   func(events.SpeakableText)
	log     *slog.Logger

	mu            sync.Mutex
	lastUtterance string
	history       []filler.Exchange
	assistant     strings.Builder
	respStart     time.Time
	firstChunk    bool
}

func New(opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.SessionID != "" {
		log = log.With(slog.String("session_id", opts.SessionID))
	}
	s := &Session{
		id:    opts.SessionID,
		gate:  dedup.NewWindow(opts.DedupCapacity),
		meter: opts.Meter,
		obs:   opts.Observer,
		extra: opts.Listener,
		speak: opts.Speak,
		log:   log,
	}
	if s.obs == nil {
		s.obs = metrics.NoopObserver{}
	}
	opts.Parser.Logger = log
	s.parser = parser.New(opts.Parser)
	s.tracker = turn.NewTracker(turn.Options{
		FinalizeDelay: opts.FinalizeDelay,
		Logger:        log,
	})
	s.filler = filler.NewGenerator(opts.FillerAdapter, opts.Filler, s.emitFiller, log)
	s.tracker.AddListener(s)
	return s
}

// Dispatch feeds one inbound event through the gate and fans it out to the
// interested components. Upstream events pass the gate untouched but are
// not routed; they belong to the outbound path.
func (s *Session) Dispatch(ev events.Event) {
	if ev == nil {
		return
	}
	if !s.gate.Observe(ev) {
		s.log.Debug("duplicate_event_dropped", "kind", string(ev.Kind()), "event_id", ev.ID())
		return
	}
	switch ev.Kind() {
	case events.KindUserStartedSpeaking:
		s.tracker.OnUserStartedSpeaking()
	case events.KindUserStoppedSpeaking:
		s.tracker.OnUserStoppedSpeaking()
	case events.KindSynthStarted:
		s.tracker.OnBotStartedSpeaking()
	case events.KindSynthStopped:
		s.tracker.OnBotStoppedSpeaking()
	case events.KindTranscription:
		if tr, ok := ev.(events.Transcription); ok {
			s.onTranscription(tr)
		}
	case events.KindModelResponseStart:
		s.onResponseStart()
	case events.KindModelTextDelta:
		if d, ok := ev.(events.ModelTextDelta); ok {
			s.onDelta(d.Text())
		}
	case events.KindModelResponseEnd:
		s.onResponseEnd()
	case events.KindPipelineEnd:
		s.Close()
	}
}

// OnTurnStarted implements turn.Listener. The filler guards reset before
// the meter opens its bucket so a filler fired in the new turn attributes
// correctly.
func (s *Session) OnTurnStarted(b turn.Boundary) {
	s.filler.OnTurnStarted()
	if s.meter != nil {
		s.meter.OnTurnStarted(b)
	}
	if s.extra != nil {
		s.extra.OnTurnStarted(b)
	}
}

// OnTurnEnded implements turn.Listener. An interrupted turn suppresses any
// filler still in flight.
func (s *Session) OnTurnEnded(b turn.Boundary) {
	if b.WasInterrupted {
		s.filler.CancelPending()
	}
	if s.meter != nil {
		s.meter.OnTurnEnded(b)
	}
	if s.extra != nil {
		s.extra.OnTurnEnded(b)
	}
}

// Close finalizes the open turn and suppresses pending work. Safe to call
// more than once; a session that saw no user events emits nothing.
func (s *Session) Close() {
	s.filler.CancelPending()
	s.tracker.Close()
	s.filler.Wait()
}

// Tracker exposes the underlying turn state for callers and tests.
func (s *Session) Tracker() *turn.Tracker { return s.tracker }

// Meter returns the session's aggregator, when one was wired.
func (s *Session) Meter() *metering.Aggregator { return s.meter }

// FillerStats returns the filler generator's counters.
func (s *Session) FillerStats() filler.Stats { return s.filler.Stats() }

func (s *Session) onTranscription(tr events.Transcription) {
	if !tr.IsFinal() {
		return
	}
	s.mu.Lock()
	s.lastUtterance = tr.Text()
	history := append([]filler.Exchange(nil), s.history...)
	s.mu.Unlock()
	s.filler.Trigger(context.Background(), tr.Text(), history)
}

func (s *Session) onResponseStart() {
	s.filler.OnResponseStarted()
	s.parser.Reset()
	s.mu.Lock()
	s.assistant.Reset()
	s.respStart = time.Now()
	s.firstChunk = true
	s.mu.Unlock()
}

func (s *Session) onDelta(text string) {
	s.emitResponse(s.parser.ProcessChunk(text))
}

func (s *Session) onResponseEnd() {
	s.emitResponse(s.parser.Flush())
	s.mu.Lock()
	ex := filler.Exchange{User: s.lastUtterance, Assistant: strings.TrimSpace(s.assistant.String())}
	if ex.User != "" || ex.Assistant != "" {
		s.history = append(s.history, ex)
		if len(s.history) > historyLimit {
			s.history = s.history[len(s.history)-historyLimit:]
		}
	}
	s.lastUtterance = ""
	s.assistant.Reset()
	s.mu.Unlock()
}

func (s *Session) emitResponse(chunks []string) {
	for _, chunk := range chunks {
		s.mu.Lock()
		first := s.firstChunk
		s.firstChunk = false
		ttfb := time.Since(s.respStart)
		s.assistant.WriteString(chunk)
		s.mu.Unlock()
		if first {
			s.obs.RecordSample(metrics.Sample{
				Name:      metering.SampleTTFBMS,
				Time:      time.Now(),
				Value:     float64(ttfb.Milliseconds()),
				Processor: "llm",
				Tags:      s.tags(),
			})
		}
		if s.speak != nil {
			s.speak(events.NewSpeakableText(chunk, events.SourceResponse))
		}
	}
}

func (s *Session) emitFiller(text string) {
	if s.speak != nil {
		s.speak(events.NewSpeakableText(text, events.SourceFiller))
	}
}

func (s *Session) tags() map[string]string {
	if s.id == "" {
		return nil
	}
	return map[string]string{"session_id": s.id}
}

var _ turn.Listener = (*Session)(nil)
