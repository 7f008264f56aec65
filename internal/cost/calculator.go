package cost

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/deep-research/internal/model"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    map[string]ModelRate `yaml:"openai" mapstructure:"openai"`
	Gemini    map[string]ModelRate `yaml:"gemini" mapstructure:"gemini"`
	WebSearch WebSearchRate        `yaml:"web_search" mapstructure:"web_search"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// WebSearchRate holds the per-call price of each provider's search tool.
type WebSearchRate struct {
	Anthropic float64 `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    float64 `yaml:"openai" mapstructure:"openai"`
	Gemini    float64 `yaml:"gemini" mapstructure:"gemini"`
}

// Usage is the billable consumption of one provider call.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheWriteTokens int
	CacheReadTokens  int
	SearchCalls      int
}

// Add returns the field-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + o.InputTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
		CacheReadTokens:  u.CacheReadTokens + o.CacheReadTokens,
		SearchCalls:      u.SearchCalls + o.SearchCalls,
	}
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Compute returns the USD cost of a call. Unknown models price tokens at
// zero; search calls are still charged.
func (c *Calculator) Compute(provider model.Provider, modelID string, u Usage) float64 {
	var table map[string]ModelRate
	var perSearch float64
	switch provider {
	case model.ProviderAnthropic:
		table, perSearch = c.rates.Anthropic, c.rates.WebSearch.Anthropic
	case model.ProviderOpenAI:
		table, perSearch = c.rates.OpenAI, c.rates.WebSearch.OpenAI
	case model.ProviderGemini:
		table, perSearch = c.rates.Gemini, c.rates.WebSearch.Gemini
	default:
		return 0
	}

	total := float64(u.SearchCalls) * perSearch

	rate, ok := table[modelID]
	if !ok {
		return total
	}

	total += (float64(u.InputTokens) / 1e6) * rate.Input
	total += (float64(u.OutputTokens) / 1e6) * rate.Output
	total += (float64(u.CacheWriteTokens) / 1e6) * rate.Input * rate.CacheWriteMul
	total += (float64(u.CacheReadTokens) / 1e6) * rate.Input * rate.CacheReadMul
	return total
}

// Tracker accumulates cost for one research run. Safe for concurrent use.
type Tracker struct {
	calc *Calculator

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	provider model.Provider
	model    string
	usage    Usage
	usd      float64
	calls    int
}

// NewTracker creates an empty Tracker backed by calc.
func NewTracker(calc *Calculator) *Tracker {
	return &Tracker{calc: calc, entries: make(map[string]*entry)}
}

// Record prices u and adds it to the running totals. It returns the cost
// of this call.
func (t *Tracker) Record(provider model.Provider, modelID string, u Usage) float64 {
	if t == nil {
		return 0
	}
	usd := t.calc.Compute(provider, modelID, u)

	t.mu.Lock()
	defer t.mu.Unlock()

	key := string(provider) + "/" + modelID
	e, ok := t.entries[key]
	if !ok {
		e = &entry{provider: provider, model: modelID}
		t.entries[key] = e
	}
	e.usage = e.usage.Add(u)
	e.usd += usd
	e.calls++
	return usd
}

// Total returns the accumulated USD cost.
func (t *Tracker) Total() float64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	var sum float64
	for _, e := range t.entries {
		sum += e.usd
	}
	return sum
}

// Log writes one line per provider/model plus the run total.
func (t *Tracker) Log(log *zap.Logger) {
	if t == nil {
		return
	}
	t.mu.Lock()
	keys := make([]string, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	snapshot := make([]entry, 0, len(keys))
	for _, k := range keys {
		snapshot = append(snapshot, *t.entries[k])
	}
	t.mu.Unlock()

	var total float64
	for _, e := range snapshot {
		total += e.usd
		log.Info("cost attribution",
			zap.String("provider", string(e.provider)),
			zap.String("model", e.model),
			zap.Int("calls", e.calls),
			zap.Int("input_tokens", e.usage.InputTokens),
			zap.Int("output_tokens", e.usage.OutputTokens),
			zap.Int("search_calls", e.usage.SearchCalls),
			zap.Float64("estimated_cost_usd", e.usd),
		)
	}
	log.Info("run cost total", zap.Float64("estimated_cost_usd", total))
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {Input: 1.00, Output: 5.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"claude-sonnet-4-6":         {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
		OpenAI: map[string]ModelRate{
			"gpt-4.1":                {Input: 2.00, Output: 8.00, CacheReadMul: 0.25},
			"text-embedding-3-small": {Input: 0.02},
		},
		Gemini: map[string]ModelRate{
			"gemini-2.5-flash": {Input: 0.30, Output: 2.50},
		},
		WebSearch: WebSearchRate{
			Anthropic: 0.010,
			OpenAI:    0.025,
			Gemini:    0.035,
		},
	}
}
