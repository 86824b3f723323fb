package metering

// Rate is the price entry for one model: token rates for language models,
// per-minute for recognition, per-character for synthesis. Unused fields
// stay zero.
type Rate struct {
	PromptPer1K     float64 `mapstructure:"prompt_per_1k"`
	CompletionPer1K float64 `mapstructure:"completion_per_1k"`
	PerMinute       float64 `mapstructure:"per_minute"`
	PerCharacter    float64 `mapstructure:"per_character"`
}

// DefaultRate is the conservative fallback applied when a model is missing
// from the table; deliberately priced above typical vendor rates so a gap
// in configuration overstates rather than hides cost.
var DefaultRate = Rate{
	PromptPer1K:     0.01,
	CompletionPer1K: 0.03,
	PerMinute:       0.03,
	PerCharacter:    0.0003,
}

// PriceTable is a single configuration-driven table keyed by canonical
// model identifier, injected at construction time.
type PriceTable struct {
	rates    map[string]Rate
	fallback Rate
}

func NewPriceTable(rates map[string]Rate) PriceTable {
	copied := make(map[string]Rate, len(rates))
	for k, v := range rates {
		copied[canonical(k)] = v
	}
	return PriceTable{rates: copied, fallback: DefaultRate}
}

// WithFallback overrides the default fallback rate.
func (t PriceTable) WithFallback(r Rate) PriceTable {
	t.fallback = r
	return t
}

// Lookup returns the rate for a model, falling back to the conservative
// default when the entry is missing.
func (t PriceTable) Lookup(model string) (Rate, bool) {
	if r, ok := t.rates[canonical(model)]; ok {
		return r, true
	}
	return t.fallback, false
}

func canonical(model string) string {
	out := make([]rune, 0, len(model))
	for _, r := range model {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.', r == ':':
			out = append(out, r)
		}
	}
	return string(out)
}
