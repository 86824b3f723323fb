package turn

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voxlane/parley/pkg/dedup"
	"github.com/voxlane/parley/pkg/events"
)

const DefaultFinalizeDelay = 1000 * time.Millisecond

type Options struct {
	// FinalizeDelay is how long after the user stops speaking, with no bot
	// response yet, the turn is marked as awaiting a response.
	FinalizeDelay time.Duration
	// Gate drops events whose identifier was already observed. Optional;
	// when the tracker runs inside a session the session gates once for all
	// consumers.
	Gate   *dedup.Window
	Logger *slog.Logger
}

// Tracker is the state machine over user/bot speaking events. It owns the
// append-only turn sequence for the session and emits boundary
// notifications on turn start and end.
type Tracker struct {
	mu            sync.Mutex
	userSpeaking  bool
	botSpeaking   bool
	botHasSpoken  bool
	awaiting      bool
	turnOpen      bool
	turns         []Turn
	listeners     []Listener
	finalizeDelay time.Duration
	finalizeTimer *time.Timer
	timerGen      uint64
	gate          *dedup.Window
	log           *slog.Logger
}

func NewTracker(opts Options) *Tracker {
	if opts.FinalizeDelay <= 0 {
		opts.FinalizeDelay = DefaultFinalizeDelay
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		finalizeDelay: opts.FinalizeDelay,
		gate:          opts.Gate,
		log:           log,
	}
}

// AddListener registers a boundary listener.
func (t *Tracker) AddListener(l Listener) {
	t.mu.Lock()
	t.listeners = append(t.listeners, l)
	t.mu.Unlock()
}

// Handle routes an event to the matching transition. Events already seen by
// the gate are dropped before reaching the state machine.
func (t *Tracker) Handle(ev events.Event) {
	if t.gate != nil && !t.gate.Observe(ev) {
		return
	}
	switch ev.Kind() {
	case events.KindUserStartedSpeaking:
		t.OnUserStartedSpeaking()
	case events.KindUserStoppedSpeaking:
		t.OnUserStoppedSpeaking()
	case events.KindSynthStarted:
		t.OnBotStartedSpeaking()
	case events.KindSynthStopped:
		t.OnBotStoppedSpeaking()
	case events.KindPipelineEnd:
		t.Close()
	}
}

// OnUserStartedSpeaking opens a turn when none is active, rolls the turn
// after a completed bot response, and handles barge-in: a user starting
// while the bot is speaking ends the current turn as interrupted before a
// new one opens.
func (t *Tracker) OnUserStartedSpeaking() {
	t.mu.Lock()
	t.cancelFinalizeTimerLocked()
	t.awaiting = false
	var notify []func()
	switch {
	case !t.turnOpen:
		// Bot speaking flag may be set by a greeting that never opened a
		// turn; clear it before the first tracked turn opens.
		t.botSpeaking = false
		notify = append(notify, t.startTurnLocked())
	case t.botSpeaking:
		t.botSpeaking = false
		notify = append(notify, t.endTurnLocked(true))
		notify = append(notify, t.startTurnLocked())
	case t.botHasSpoken:
		notify = append(notify, t.endTurnLocked(false))
		notify = append(notify, t.startTurnLocked())
	}
	t.userSpeaking = true
	t.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
}

// OnUserStoppedSpeaking arms the finalize-delay timer when the bot has not
// yet responded. The timer is observational only: it marks the turn as
// awaiting a response and changes no state.
func (t *Tracker) OnUserStoppedSpeaking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userSpeaking = false
	if !t.turnOpen || t.botSpeaking || t.botHasSpoken {
		return
	}
	t.cancelFinalizeTimerLocked()
	t.timerGen++
	gen := t.timerGen
	t.finalizeTimer = time.AfterFunc(t.finalizeDelay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if gen != t.timerGen || t.userSpeaking || !t.turnOpen || t.botHasSpoken {
			return
		}
		t.awaiting = true
		t.log.Debug("turn_awaiting_response", "turn", len(t.turns))
	})
}

// OnBotStartedSpeaking marks the bot speaking. Any bot-speaking flag from
// before an interruption was already cleared by the interruption itself.
func (t *Tracker) OnBotStartedSpeaking() {
	t.mu.Lock()
	t.botSpeaking = true
	t.awaiting = false
	if t.turnOpen {
		t.botHasSpoken = true
	}
	t.mu.Unlock()
}

// OnBotStoppedSpeaking is only honored when the tracker believes the bot
// was speaking; a stray stop frame arriving after an interruption already
// cleared the flag is ignored.
func (t *Tracker) OnBotStoppedSpeaking() {
	t.mu.Lock()
	if !t.botSpeaking {
		t.log.Debug("stray_bot_stopped_speaking")
		t.mu.Unlock()
		return
	}
	t.botSpeaking = false
	t.mu.Unlock()
}

// Close finalizes the open turn, if any, and returns the tracker to idle.
// Closing a session that never opened a turn emits nothing.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.cancelFinalizeTimerLocked()
	t.userSpeaking = false
	t.botSpeaking = false
	t.awaiting = false
	var notify []func()
	if t.turnOpen {
		notify = append(notify, t.endTurnLocked(false))
	}
	t.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
}

// Turns returns a copy of the accumulated turn sequence.
func (t *Tracker) Turns() []Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Current returns the open turn, if any.
func (t *Tracker) Current() (Turn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.turnOpen {
		return Turn{}, false
	}
	return t.turns[len(t.turns)-1], true
}

func (t *Tracker) IsUserSpeaking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userSpeaking
}

func (t *Tracker) IsBotSpeaking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.botSpeaking
}

// AwaitingResponse reports whether the finalize-delay timer fired with no
// bot response for the open turn.
func (t *Tracker) AwaitingResponse() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.awaiting
}

func (t *Tracker) startTurnLocked() func() {
	now := time.Now()
	tn := Turn{Number: len(t.turns) + 1, StartedAt: now}
	t.turns = append(t.turns, tn)
	t.turnOpen = true
	t.botHasSpoken = false
	b := Boundary{TurnNumber: tn.Number, StartedAt: now}
	listeners := append([]Listener(nil), t.listeners...)
	t.log.Debug("turn_started", "turn", tn.Number)
	return func() {
		for _, l := range listeners {
			l.OnTurnStarted(b)
		}
	}
}

func (t *Tracker) endTurnLocked(interrupted bool) func() {
	if !t.turnOpen {
		return func() {}
	}
	now := time.Now()
	cur := &t.turns[len(t.turns)-1]
	cur.EndedAt = now
	cur.WasInterrupted = interrupted
	t.turnOpen = false
	t.awaiting = false
	b := Boundary{
		TurnNumber:     cur.Number,
		StartedAt:      cur.StartedAt,
		EndedAt:        now,
		WasInterrupted: interrupted,
	}
	listeners := append([]Listener(nil), t.listeners...)
	t.log.Debug("turn_ended", "turn", cur.Number, "interrupted", interrupted)
	return func() {
		for _, l := range listeners {
			l.OnTurnEnded(b)
		}
	}
}

func (t *Tracker) cancelFinalizeTimerLocked() {
	t.timerGen++
	if t.finalizeTimer != nil {
		t.finalizeTimer.Stop()
		t.finalizeTimer = nil
	}
}
