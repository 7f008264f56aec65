package cost

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/deep-research/internal/model"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"sonnet": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
		OpenAI: map[string]ModelRate{
			"gpt": {Input: 2.00, Output: 8.00},
		},
		Gemini: map[string]ModelRate{
			"flash": {Input: 0.30, Output: 2.50},
		},
		WebSearch: WebSearchRate{Anthropic: 0.01, OpenAI: 0.025, Gemini: 0.035},
	}
}

func TestCompute(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name     string
		provider model.Provider
		model    string
		usage    Usage
		want     float64
	}{
		{
			name: "anthropic tokens", provider: model.ProviderAnthropic, model: "sonnet",
			usage: Usage{InputTokens: 1_000_000, OutputTokens: 100_000},
			want:  3.00 + 1.50,
		},
		{
			name: "anthropic with cache and search", provider: model.ProviderAnthropic, model: "sonnet",
			usage: Usage{InputTokens: 500_000, CacheWriteTokens: 200_000, CacheReadTokens: 1_000_000, SearchCalls: 5},
			// 1.50 + 0.75 + 0.30 + 0.05
			want: 2.60,
		},
		{
			name: "openai", provider: model.ProviderOpenAI, model: "gpt",
			usage: Usage{InputTokens: 250_000, OutputTokens: 250_000, SearchCalls: 2},
			want:  0.50 + 2.00 + 0.05,
		},
		{
			name: "gemini", provider: model.ProviderGemini, model: "flash",
			usage: Usage{InputTokens: 1_000_000, SearchCalls: 1},
			want:  0.30 + 0.035,
		},
		{
			name: "unknown model charges search only", provider: model.ProviderGemini, model: "pro",
			usage: Usage{InputTokens: 1_000_000, SearchCalls: 2},
			want:  0.07,
		},
		{
			name: "unknown provider", provider: model.Provider("other"), model: "x",
			usage: Usage{InputTokens: 1_000_000, SearchCalls: 1},
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Compute(tt.provider, tt.model, tt.usage), 1e-9)
		})
	}
}

func TestUsageAdd(t *testing.T) {
	t.Parallel()
	got := Usage{InputTokens: 1, OutputTokens: 2, SearchCalls: 1}.Add(Usage{InputTokens: 10, CacheReadTokens: 4, SearchCalls: 2})
	assert.Equal(t, Usage{InputTokens: 11, OutputTokens: 2, CacheReadTokens: 4, SearchCalls: 3}, got)
}

func TestTracker_ConcurrentRecord(t *testing.T) {
	t.Parallel()
	tr := NewTracker(NewCalculator(testRates()))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record(model.ProviderOpenAI, "gpt", Usage{SearchCalls: 1})
		}()
	}
	wg.Wait()

	assert.InDelta(t, 50*0.025, tr.Total(), 1e-9)
}

func TestTracker_Log(t *testing.T) {
	t.Parallel()
	tr := NewTracker(NewCalculator(testRates()))
	tr.Record(model.ProviderGemini, "flash", Usage{SearchCalls: 1})
	tr.Record(model.ProviderAnthropic, "sonnet", Usage{InputTokens: 1_000_000})
	tr.Record(model.ProviderAnthropic, "sonnet", Usage{InputTokens: 1_000_000})

	core, logs := observer.New(zap.InfoLevel)
	tr.Log(zap.New(core))

	entries := logs.All()
	assert.Len(t, entries, 3)
	assert.Equal(t, "anthropic", entries[0].ContextMap()["provider"])
	assert.Equal(t, int64(2), entries[0].ContextMap()["calls"])
	assert.Equal(t, "run cost total", entries[2].Message)
	assert.InDelta(t, 6.035, entries[2].ContextMap()["estimated_cost_usd"], 1e-9)
}

func TestTracker_Nil(t *testing.T) {
	t.Parallel()
	var tr *Tracker
	assert.Zero(t, tr.Record(model.ProviderOpenAI, "gpt", Usage{SearchCalls: 1}))
	assert.Zero(t, tr.Total())
	tr.Log(zap.NewNop())
}

func TestDefaultRates(t *testing.T) {
	t.Parallel()
	r := DefaultRates()
	assert.Contains(t, r.Anthropic, "claude-sonnet-4-6")
	assert.Contains(t, r.Anthropic, "claude-haiku-4-5-20251001")
	assert.Contains(t, r.OpenAI, "gpt-4.1")
	assert.Contains(t, r.Gemini, "gemini-2.5-flash")
}
