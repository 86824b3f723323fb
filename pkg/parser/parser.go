package parser

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// state is the explicit finite-state enum of the character-level machine.
type state int

const (
	stateWaitingObjectStart state = iota
	stateWaitingKey
	stateInKey
	stateWaitingColon
	stateWaitingValue
	stateInStringValue
	stateInArrayValue
	stateInLiteralValue
	stateWaitingCommaOrEnd
	stateComplete
	statePlainText
)

func (s state) String() string {
	switch s {
	case stateWaitingObjectStart:
		return "waiting_object_start"
	case stateWaitingKey:
		return "waiting_key"
	case stateInKey:
		return "in_key"
	case stateWaitingColon:
		return "waiting_colon"
	case stateWaitingValue:
		return "waiting_value"
	case stateInStringValue:
		return "in_string_value"
	case stateInArrayValue:
		return "in_array_value"
	case stateInLiteralValue:
		return "in_literal_value"
	case stateWaitingCommaOrEnd:
		return "waiting_comma_or_end"
	case stateComplete:
		return "complete"
	case statePlainText:
		return "plain_text"
	default:
		return "unknown"
	}
}

// DefaultStreamFields are the keys whose string values are streamed to the
// synthesizer character-by-character; everything else is buffered whole.
var DefaultStreamFields = []string{"spoke_response", "response", "text", "answer", "content"}

const DefaultMinChunkSize = 1

// FieldHandler receives a buffered side-channel field once its closing
// delimiter is reached. Bracketed values arrive JSON-decoded.
type FieldHandler func(key string, value any)

type Config struct {
	StreamFields []string
	MinChunkSize int
	OnField      FieldHandler
	Logger       *slog.Logger
}

// Parser incrementally turns model-output deltas into speakable chunks.
// It auto-detects structured output (a flat JSON object) versus plain text:
// the first non-whitespace character decides, no lookahead buffer needed.
// State is owned by exactly one response; Reset is called at response start.
type Parser struct {
	cfg          Config
	streamFields map[string]bool
	log          *slog.Logger

	state     state
	key       strings.Builder
	value     strings.Builder
	pending   strings.Builder
	escaped   bool
	depth     int
	inString  bool
	streaming bool
	out       []string
}

func New(cfg Config) *Parser {
	if len(cfg.StreamFields) == 0 {
		cfg.StreamFields = DefaultStreamFields
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = DefaultMinChunkSize
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	fields := make(map[string]bool, len(cfg.StreamFields))
	for _, f := range cfg.StreamFields {
		fields[strings.ToLower(f)] = true
	}
	p := &Parser{cfg: cfg, streamFields: fields, log: log}
	p.Reset()
	return p
}

// Reset clears all accumulated state; called on every model response start.
func (p *Parser) Reset() {
	p.state = stateWaitingObjectStart
	p.key.Reset()
	p.value.Reset()
	p.pending.Reset()
	p.escaped = false
	p.depth = 0
	p.inString = false
	p.streaming = false
	p.out = nil
}

// ProcessChunk consumes one delta of model output and returns zero or more
// chunks ready for synthesis.
func (p *Parser) ProcessChunk(text string) []string {
	p.out = nil
	for _, r := range text {
		p.state = p.step(r)
	}
	out := p.out
	p.out = nil
	return out
}

// Flush emits whatever is still pending; mandatory at model response end or
// the tail of the last sentence is silently dropped.
func (p *Parser) Flush() []string {
	p.out = nil
	if p.state == stateInArrayValue || p.state == stateInLiteralValue {
		p.log.Warn("incomplete_buffered_field_dropped", "key", p.key.String())
	}
	p.emitPending()
	out := p.out
	p.out = nil
	return out
}

func (p *Parser) step(r rune) state {
	switch p.state {
	case stateWaitingObjectStart:
		return p.handleWaitingObjectStart(r)
	case stateWaitingKey:
		return p.handleWaitingKey(r)
	case stateInKey:
		return p.handleInKey(r)
	case stateWaitingColon:
		return p.handleWaitingColon(r)
	case stateWaitingValue:
		return p.handleWaitingValue(r)
	case stateInStringValue:
		return p.handleInStringValue(r)
	case stateInArrayValue:
		return p.handleInArrayValue(r)
	case stateInLiteralValue:
		return p.handleInLiteralValue(r)
	case stateWaitingCommaOrEnd:
		return p.handleWaitingCommaOrEnd(r)
	case statePlainText:
		return p.handlePlainText(r)
	default:
		return p.state
	}
}

func (p *Parser) handleWaitingObjectStart(r rune) state {
	if r == '{' {
		return stateWaitingKey
	}
	if isSpace(r) {
		return stateWaitingObjectStart
	}
	// Not JSON; fall back to raw passthrough starting with this character.
	p.appendStream(r)
	return statePlainText
}

func (p *Parser) handleWaitingKey(r rune) state {
	switch {
	case r == '"':
		p.key.Reset()
		return stateInKey
	case r == '}':
		return stateComplete
	default:
		return stateWaitingKey
	}
}

func (p *Parser) handleInKey(r rune) state {
	if r == '"' {
		p.streaming = p.streamFields[strings.ToLower(p.key.String())]
		return stateWaitingColon
	}
	p.key.WriteRune(r)
	return stateInKey
}

func (p *Parser) handleWaitingColon(r rune) state {
	if r == ':' {
		return stateWaitingValue
	}
	return stateWaitingColon
}

func (p *Parser) handleWaitingValue(r rune) state {
	switch {
	case isSpace(r):
		return stateWaitingValue
	case r == '"':
		p.value.Reset()
		p.escaped = false
		return stateInStringValue
	case r == '[' || r == '{':
		p.value.Reset()
		p.value.WriteRune(r)
		p.depth = 1
		p.inString = false
		p.escaped = false
		return stateInArrayValue
	default:
		p.value.Reset()
		p.value.WriteRune(r)
		return stateInLiteralValue
	}
}

func (p *Parser) handleInStringValue(r rune) state {
	if p.escaped {
		p.escaped = false
		p.writeValueRune(unescape(r))
		return stateInStringValue
	}
	switch r {
	case '\\':
		p.escaped = true
		return stateInStringValue
	case '"':
		p.finishStringValue()
		return stateWaitingCommaOrEnd
	default:
		p.writeValueRune(r)
		return stateInStringValue
	}
}

func (p *Parser) handleInArrayValue(r rune) state {
	p.value.WriteRune(r)
	if p.inString {
		switch {
		case p.escaped:
			p.escaped = false
		case r == '\\':
			p.escaped = true
		case r == '"':
			p.inString = false
		}
		return stateInArrayValue
	}
	switch r {
	case '"':
		p.inString = true
	case '[', '{':
		p.depth++
	case ']', '}':
		p.depth--
		if p.depth == 0 {
			p.finishBufferedValue()
			return stateWaitingCommaOrEnd
		}
	}
	return stateInArrayValue
}

func (p *Parser) handleInLiteralValue(r rune) state {
	if r == ',' || r == '}' {
		p.finishLiteralValue()
		if r == '}' {
			return stateComplete
		}
		return stateWaitingKey
	}
	p.value.WriteRune(r)
	return stateInLiteralValue
}

func (p *Parser) handleWaitingCommaOrEnd(r rune) state {
	switch r {
	case ',':
		return stateWaitingKey
	case '}':
		return stateComplete
	default:
		return stateWaitingCommaOrEnd
	}
}

func (p *Parser) handlePlainText(r rune) state {
	p.appendStream(r)
	return statePlainText
}

// writeValueRune routes a string-value character either to the streaming
// pending buffer or to the whole-value buffer, depending on the key.
func (p *Parser) writeValueRune(r rune) {
	if p.streaming {
		p.appendStream(r)
		return
	}
	p.value.WriteRune(r)
}

func (p *Parser) finishStringValue() {
	if p.streaming {
		p.streaming = false
		return
	}
	p.field(p.key.String(), p.value.String())
	p.value.Reset()
}

func (p *Parser) finishBufferedValue() {
	raw := p.value.String()
	p.value.Reset()
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		// A malformed side-channel field never aborts streaming of the
		// primary speakable text.
		p.log.Warn("side_channel_decode_failed", "key", p.key.String(), "error", err)
		return
	}
	p.field(p.key.String(), decoded)
}

func (p *Parser) finishLiteralValue() {
	raw := strings.TrimSpace(p.value.String())
	p.value.Reset()
	if raw == "" {
		return
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		p.log.Warn("side_channel_decode_failed", "key", p.key.String(), "error", err)
		return
	}
	p.field(p.key.String(), decoded)
}

func (p *Parser) field(key string, value any) {
	if p.cfg.OnField != nil {
		p.cfg.OnField(key, value)
	}
}

// appendStream adds one character to the pending speakable buffer and emits
// a chunk on a sentence terminator (preferred, for prosody) or once the
// buffer reaches the configured minimum size.
func (p *Parser) appendStream(r rune) {
	terminator := isSpace(r) && endsWithSentenceMark(p.pending.String())
	p.pending.WriteRune(r)
	if terminator || p.pending.Len() >= p.cfg.MinChunkSize {
		p.emitPending()
	}
}

func (p *Parser) emitPending() {
	if p.pending.Len() == 0 {
		return
	}
	p.out = append(p.out, p.pending.String())
	p.pending.Reset()
}

func endsWithSentenceMark(s string) bool {
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

func unescape(r rune) rune {
	switch r {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return r
	}
}
