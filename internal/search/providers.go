package search

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deep-research/internal/cost"
	"github.com/sells-group/deep-research/internal/model"
	"github.com/sells-group/deep-research/pkg/anthropic"
	"github.com/sells-group/deep-research/pkg/gemini"
	"github.com/sells-group/deep-research/pkg/openai"
)

// AnthropicConfig tunes the Anthropic adapter.
type AnthropicConfig struct {
	Model     string
	MaxTokens int64
	MaxUses   int64
}

// AnthropicProvider searches with Claude's server-side web_search tool.
// Deep mode also enables web_fetch.
type AnthropicProvider struct {
	client anthropic.Client
	cfg    AnthropicConfig
	guard  *Guard
}

// NewAnthropic creates the Anthropic adapter.
func NewAnthropic(client anthropic.Client, cfg AnthropicConfig, guard *Guard) *AnthropicProvider {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-6"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxUses <= 0 {
		cfg.MaxUses = 5
	}
	return &AnthropicProvider{client: client, cfg: cfg, guard: guard}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() model.Provider { return model.ProviderAnthropic }

// Search implements Provider.
func (p *AnthropicProvider) Search(ctx context.Context, opts Options) *Result {
	return p.guard.run(ctx, model.ProviderAnthropic, opts, p.search)
}

func (p *AnthropicProvider) search(ctx context.Context, opts Options) (*Result, error) {
	system, user := Prompts(opts)
	resp, err := p.client.WebSearch(ctx, anthropic.WebSearchRequest{
		Model:          p.cfg.Model,
		MaxTokens:      p.cfg.MaxTokens,
		System:         system,
		Prompt:         user,
		MaxUses:        p.cfg.MaxUses,
		AllowedDomains: opts.Domains,
		Fetch:          opts.Mode == ModeDeep,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Model: p.cfg.Model,
		Text:  resp.Text,
		Usage: cost.Usage{
			InputTokens:      int(resp.Usage.InputTokens),
			OutputTokens:     int(resp.Usage.OutputTokens),
			CacheWriteTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:  int(resp.Usage.CacheReadInputTokens),
			SearchCalls:      int(resp.Usage.WebSearchRequests),
		},
	}

	for _, c := range resp.Citations {
		res.Citations = append(res.Citations, Citation{URL: c.URL, Title: c.Title, CitedText: c.CitedText})
	}

	// Tool results carry page age; citations contribute quoted snippets.
	snippets := make(map[string]string)
	for _, c := range resp.Citations {
		if _, ok := snippets[c.URL]; !ok && c.CitedText != "" {
			snippets[c.URL] = c.CitedText
		}
	}
	for _, r := range resp.Results {
		res.Sources = append(res.Sources, SourceInfo{
			URL:     r.URL,
			Title:   r.Title,
			PageAge: r.PageAge,
			Snippet: snippets[r.URL],
		})
	}
	for _, c := range resp.Citations {
		res.Sources = append(res.Sources, SourceInfo{URL: c.URL, Title: c.Title, Snippet: c.CitedText})
	}
	return res, nil
}

// OpenAIConfig tunes the OpenAI adapter.
type OpenAIConfig struct {
	Model string
}

// OpenAIProvider searches with the Responses API web_search tool.
type OpenAIProvider struct {
	client openai.Client
	cfg    OpenAIConfig
	guard  *Guard
}

// NewOpenAI creates the OpenAI adapter.
func NewOpenAI(client openai.Client, cfg OpenAIConfig, guard *Guard) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = "gpt-4.1"
	}
	return &OpenAIProvider{client: client, cfg: cfg, guard: guard}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() model.Provider { return model.ProviderOpenAI }

// Search implements Provider.
func (p *OpenAIProvider) Search(ctx context.Context, opts Options) *Result {
	return p.guard.run(ctx, model.ProviderOpenAI, opts, p.search)
}

func (p *OpenAIProvider) search(ctx context.Context, opts Options) (*Result, error) {
	system, user := Prompts(opts)
	resp, err := p.client.WebSearch(ctx, openai.WebSearchRequest{
		Model:          p.cfg.Model,
		System:         system,
		Prompt:         user,
		AllowedDomains: opts.Domains,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Model: p.cfg.Model,
		Text:  resp.Text,
		Usage: cost.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			SearchCalls:  1,
		},
	}
	for _, c := range resp.Citations {
		res.Citations = append(res.Citations, Citation{
			URL:        c.URL,
			Title:      c.Title,
			StartIndex: c.StartIndex,
			EndIndex:   c.EndIndex,
		})
	}
	for _, s := range resp.Sources {
		res.Sources = append(res.Sources, SourceInfo{URL: s.URL, Title: s.Title, Snippet: s.Snippet})
	}
	return res, nil
}

// GeminiConfig tunes the Gemini adapter.
type GeminiConfig struct {
	Model string
}

// GeminiProvider searches with Google Search grounding.
type GeminiProvider struct {
	client gemini.Client
	cfg    GeminiConfig
	guard  *Guard
}

// NewGemini creates the Gemini adapter.
func NewGemini(client gemini.Client, cfg GeminiConfig, guard *Guard) *GeminiProvider {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	return &GeminiProvider{client: client, cfg: cfg, guard: guard}
}

// Name implements Provider.
func (p *GeminiProvider) Name() model.Provider { return model.ProviderGemini }

// Search implements Provider.
func (p *GeminiProvider) Search(ctx context.Context, opts Options) *Result {
	return p.guard.run(ctx, model.ProviderGemini, opts, p.search)
}

func (p *GeminiProvider) search(ctx context.Context, opts Options) (*Result, error) {
	// generateContent has no system role in this call shape; the system
	// prompt is prepended to the user turn.
	system, user := Prompts(opts)
	resp, err := p.client.GroundedSearch(ctx, gemini.GroundedSearchRequest{
		Model:  p.cfg.Model,
		Prompt: system + "\n\n" + user,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{
		Model: p.cfg.Model,
		Text:  resp.Text,
		Usage: cost.Usage{
			InputTokens:  resp.Usage.PromptTokenCount,
			OutputTokens: resp.Usage.CandidatesTokenCount,
			SearchCalls:  1,
		},
	}
	for _, c := range resp.Citations {
		res.Citations = append(res.Citations, Citation{
			URL:        c.URL,
			Title:      c.Title,
			CitedText:  c.CitedText,
			StartIndex: c.StartIndex,
			EndIndex:   c.EndIndex,
		})
	}
	for _, s := range resp.Sources {
		res.Sources = append(res.Sources, SourceInfo{URL: s.URL, Title: s.Title, Confidence: s.Confidence})
	}
	return res, nil
}

// ErrNoProviders is returned when a coordinator is built without providers.
var ErrNoProviders = eris.New("search: no providers configured")
