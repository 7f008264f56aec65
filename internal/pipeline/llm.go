package pipeline

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deep-research/internal/cost"
	"github.com/sells-group/deep-research/internal/model"
	"github.com/sells-group/deep-research/internal/resilience"
	"github.com/sells-group/deep-research/internal/search"
	"github.com/sells-group/deep-research/pkg/anthropic"
	"github.com/sells-group/deep-research/pkg/openai"
)

// LLM generates text. anthropic.Client satisfies it.
type LLM interface {
	CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
}

// Embedder turns text into a vector. openai.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) (*openai.EmbeddingResponse, error)
}

// Searcher is the web-search surface the pipeline needs.
// *search.Coordinator satisfies it.
type Searcher interface {
	Batch(ctx context.Context, queries []string, opts search.BatchOptions) (*search.Response, error)
	Search(ctx context.Context, provider model.Provider, opts search.Options) *search.Result
}

const (
	maxTokensDecompose = 1024
	maxTokensTask      = 4096
	maxTokensClaims    = 2048
	maxTokensSummary   = 1024
	maxTokensReport    = 8192

	defaultGenerationTimeout = 120 * time.Second
)

// generation is the outcome of one text generation call.
type generation struct {
	Text  string
	Model string
}

// generator issues single-turn LLM calls with a deadline and retry, and
// records their cost on the run's tracker.
type generator struct {
	llm     LLM
	retry   resilience.RetryConfig
	timeout time.Duration
}

func newGenerator(llm LLM, timeout time.Duration) *generator {
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	retry := resilience.DefaultRetryConfig()
	retry.AttemptTimeout = timeout
	retry.OnRetry = resilience.RetryLogger("anthropic", "create_message")
	return &generator{llm: llm, retry: retry, timeout: timeout}
}

func (g *generator) generate(ctx context.Context, tracker *cost.Tracker, modelID string, maxTokens int64, system, user string) (*generation, error) {
	resp, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return g.llm.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     modelID,
			MaxTokens: maxTokens,
			System:    system,
			Messages:  []anthropic.Message{{Role: "user", Content: user}},
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: generate")
	}

	tracker.Record(model.ProviderAnthropic, modelID, cost.Usage{
		InputTokens:      int(resp.Usage.InputTokens),
		OutputTokens:     int(resp.Usage.OutputTokens),
		CacheWriteTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadTokens:  int(resp.Usage.CacheReadInputTokens),
	})

	used := resp.Model
	if used == "" {
		used = modelID
	}
	return &generation{Text: resp.Text(), Model: used}, nil
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
