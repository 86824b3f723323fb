package filler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxlane/parley/pkg/errorsx"
	"github.com/voxlane/parley/pkg/llm"
)

const (
	DefaultMaxTokens = 10
	DefaultTimeout   = 500 * time.Millisecond
	DefaultMaxWords  = 7
	DefaultMinWords  = 2
)

// DefaultSkipPhrases covers greetings and bare acknowledgments where a
// filler would feel unnatural. Matching is exact or prefix on the cleaned
// utterance.
var DefaultSkipPhrases = []string{
	"hello", "hi", "hey",
	"good morning", "good afternoon", "good evening",
	"yes", "no", "yeah", "yep", "nope",
	"okay", "ok", "sure", "right",
	"thanks", "thank you",
	"bye", "goodbye",
}

// Exchange is one prior user/assistant pair included in the filler prompt.
type Exchange struct {
	User      string
	Assistant string
}

type Config struct {
	MaxTokens   int
	Timeout     time.Duration
	MaxWords    int
	MinWords    int
	SkipPhrases []string
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxWords <= 0 {
		c.MaxWords = DefaultMaxWords
	}
	if c.MinWords <= 0 {
		c.MinWords = DefaultMinWords
	}
	if c.SkipPhrases == nil {
		c.SkipPhrases = DefaultSkipPhrases
	}
	return c
}

// Stats are the generator's counters, exposed read-only.
type Stats struct {
	Requests       int64
	Generated      int64
	Skipped        int64
	TimedOut       int64
	Failed         int64
	Suppressed     int64
	TotalLatencyMS int64
}

// AverageLatency is the mean wall-clock time of successful generations.
func (s Stats) AverageLatency() time.Duration {
	if s.Generated == 0 {
		return 0
	}
	return time.Duration(s.TotalLatencyMS/s.Generated) * time.Millisecond
}

// task is the cancellable handle for one in-flight generation. The valid
// flag is checked at the moment of emission, not at spawn, resolving the
// race between task completion and interruption.
type task struct {
	cancel context.CancelFunc
	valid  bool
}

// Generator speaks a short acknowledgment concurrently with full-response
// generation to mask latency. At most one filler is produced per user turn
// and the triggering event is never blocked: generation runs as a
// background task.
type Generator struct {
	mu      sync.Mutex
	adapter llm.Adapter
	cfg     Config
	emit    func(text string)
	log     *slog.Logger

	pending         *task
	responseStarted bool
	firedThisTurn   bool
	wg              sync.WaitGroup

	requests   atomic.Int64
	generated  atomic.Int64
	skipped    atomic.Int64
	timedOut   atomic.Int64
	failed     atomic.Int64
	suppressed atomic.Int64
	latencyMS  atomic.Int64
}

func NewGenerator(adapter llm.Adapter, cfg Config, emit func(text string), log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		adapter: adapter,
		cfg:     cfg.withDefaults(),
		emit:    emit,
		log:     log,
	}
}

// OnTurnStarted resets the per-turn guards; a filler still in flight from
// the previous turn is invalidated.
func (g *Generator) OnTurnStarted() {
	g.mu.Lock()
	g.firedThisTurn = false
	g.responseStarted = false
	g.invalidateLocked()
	g.mu.Unlock()
}

// OnResponseStarted drops any filler that has not been emitted yet; a
// filler arriving after the response begins would sound like the agent
// talking over itself.
func (g *Generator) OnResponseStarted() {
	g.mu.Lock()
	g.responseStarted = true
	g.invalidateLocked()
	g.mu.Unlock()
}

// CancelPending suppresses the in-flight filler task, if any. Called
// synchronously on interruption.
func (g *Generator) CancelPending() {
	g.mu.Lock()
	g.invalidateLocked()
	g.mu.Unlock()
}

// Trigger evaluates the skip policy synchronously and, when the utterance
// qualifies, starts the background generation task. It never blocks the
// caller on the model call.
func (g *Generator) Trigger(ctx context.Context, utterance string, history []Exchange) {
	if g.adapter == nil {
		return
	}
	g.mu.Lock()
	if g.firedThisTurn || g.responseStarted {
		g.mu.Unlock()
		return
	}
	if g.shouldSkip(utterance) {
		g.mu.Unlock()
		g.skipped.Add(1)
		return
	}
	g.firedThisTurn = true
	g.invalidateLocked()
	if ctx == nil {
		ctx = context.Background()
	}
	genCtx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel, valid: true}
	g.pending = t
	g.mu.Unlock()

	g.requests.Add(1)
	g.wg.Add(1)
	go g.generate(genCtx, t, utterance, history)
}

// Stats returns a snapshot of the counters.
func (g *Generator) Stats() Stats {
	return Stats{
		Requests:       g.requests.Load(),
		Generated:      g.generated.Load(),
		Skipped:        g.skipped.Load(),
		TimedOut:       g.timedOut.Load(),
		Failed:         g.failed.Load(),
		Suppressed:     g.suppressed.Load(),
		TotalLatencyMS: g.latencyMS.Load(),
	}
}

// Wait blocks until in-flight tasks finish; used by tests and teardown.
func (g *Generator) Wait() {
	g.wg.Wait()
}

func (g *Generator) generate(ctx context.Context, t *task, utterance string, history []Exchange) {
	defer g.wg.Done()
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.adapter.Generate(ctx, g.buildRequest(utterance, history))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			g.timedOut.Add(1)
			g.log.Debug("filler_timeout", "reason_code", string(errorsx.ReasonFillerTimeout))
			return
		}
		if errors.Is(err, context.Canceled) {
			g.suppressed.Add(1)
			return
		}
		g.failed.Add(1)
		err = errorsx.Wrap(err, errorsx.ReasonFillerGenerate)
		g.log.Warn("filler_generate_error", "reason_code", string(errorsx.Reason(err)), "error", err)
		return
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" || wordCount(text) > g.cfg.MaxWords {
		g.failed.Add(1)
		g.log.Debug("filler_discarded_malformed", "words", wordCount(text))
		return
	}

	g.mu.Lock()
	ok := t.valid && !g.responseStarted
	g.mu.Unlock()
	if !ok {
		g.suppressed.Add(1)
		return
	}
	g.generated.Add(1)
	g.latencyMS.Add(time.Since(start).Milliseconds())
	if g.emit != nil {
		g.emit(text)
	}
}

func (g *Generator) buildRequest(utterance string, history []Exchange) llm.Request {
	if len(history) > 2 {
		history = history[len(history)-2:]
	}
	messages := make([]llm.Message, 0, len(history)*2+1)
	for _, ex := range history {
		if ex.User != "" {
			messages = append(messages, llm.Message{Role: "user", Content: ex.User})
		}
		if ex.Assistant != "" {
			messages = append(messages, llm.Message{Role: "assistant", Content: ex.Assistant})
		}
	}
	messages = append(messages, llm.Message{Role: "user", Content: utterance})
	return llm.Request{
		System: "Reply with a brief spoken acknowledgment of 1 to 5 words " +
			"(for example: \"Got it\", \"One moment\"). Do not answer the question.",
		Messages:  messages,
		MaxTokens: g.cfg.MaxTokens,
	}
}

func (g *Generator) shouldSkip(utterance string) bool {
	cleaned := clean(utterance)
	if wordCount(cleaned) < g.cfg.MinWords {
		return true
	}
	for _, phrase := range g.cfg.SkipPhrases {
		if cleaned == phrase || strings.HasPrefix(cleaned, phrase+" ") {
			return true
		}
	}
	return false
}

func (g *Generator) invalidateLocked() {
	if g.pending != nil {
		g.pending.valid = false
		g.pending.cancel()
		g.pending = nil
	}
}

func clean(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '\'':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
