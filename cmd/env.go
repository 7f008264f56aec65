package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deep-research/internal/config"
	"github.com/sells-group/deep-research/internal/events"
	"github.com/sells-group/deep-research/internal/model"
	"github.com/sells-group/deep-research/internal/pipeline"
	"github.com/sells-group/deep-research/internal/resilience"
	"github.com/sells-group/deep-research/internal/scorer"
	"github.com/sells-group/deep-research/internal/search"
	"github.com/sells-group/deep-research/internal/store"
	anthropicpkg "github.com/sells-group/deep-research/pkg/anthropic"
	"github.com/sells-group/deep-research/pkg/gemini"
	"github.com/sells-group/deep-research/pkg/openai"
)

// researchEnv holds the store, clients, event fan-out and pipeline needed
// by the serve, run and report commands.
type researchEnv struct {
	Store     store.Store
	Pipeline  *pipeline.Pipeline
	Events    *events.Registry
	Publisher events.Publisher
	Bridge    *events.RedisBridge // nil without redis.url
	Embedder  pipeline.Embedder   // nil without an OpenAI key
	redis     *redis.Client
}

// Close releases resources held by the environment.
func (e *researchEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config, opens and migrates the store, builds every API
// client and wires the Pipeline. Callers should defer env.Close().
func initEnv(ctx context.Context) (*researchEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	var openaiClient openai.Client
	var embedder pipeline.Embedder
	if cfg.OpenAI.Key != "" {
		openaiClient = openai.NewClient(cfg.OpenAI.Key,
			openai.WithBaseURL(cfg.OpenAI.BaseURL),
			openai.WithModel(cfg.OpenAI.Model),
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
		)
		embedder = openaiClient
	} else {
		zap.L().Warn("RESEARCH_OPENAI_KEY not set, report embeddings and semantic search disabled")
	}

	var geminiClient gemini.Client
	if cfg.Gemini.Key != "" {
		geminiClient = gemini.NewClient(cfg.Gemini.Key,
			gemini.WithBaseURL(cfg.Gemini.BaseURL),
			gemini.WithModel(cfg.Gemini.Model),
		)
	}

	coordinator, err := buildCoordinator(cfg, anthropicClient, openaiClient, geminiClient)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	reg := events.NewRegistry()
	env := &researchEnv{
		Store:     st,
		Events:    reg,
		Publisher: reg,
		Embedder:  embedder,
	}

	if cfg.Redis.URL != "" {
		client, err := newRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		env.redis = client
		env.Bridge = events.NewRedisBridge(client, reg)
		env.Publisher = env.Bridge
		zap.L().Info("redis event relay enabled")
	}

	env.Pipeline = pipeline.New(cfg, st, anthropicClient, embedder, coordinator, env.Publisher)

	zap.L().Info("research environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.Int("providers", len(coordinator.Providers())),
	)
	return env, nil
}

// buildCoordinator wraps each configured provider in a shared Guard
// (retry, per-provider circuit breaker, rate limit) and returns the fan-out
// coordinator. Providers whose client is nil are skipped.
func buildCoordinator(c *config.Config, ac anthropicpkg.Client, oc openai.Client, gc gemini.Client) (*search.Coordinator, error) {
	guard := search.NewGuard(
		resilience.FromRetryConfig(c.Search.MaxRetries, c.Search.BaseDelayMs, c.Search.MaxDelayMs, c.Search.AttemptTimeoutSecs),
		resilience.NewServiceBreakers(resilience.FromCircuitConfig(c.Search.CircuitThreshold, c.Search.CircuitResetSecs)),
		c.Search.RequestsPerSecond,
		c.Search.Burst,
	)

	var providers []search.Provider
	for _, name := range c.Search.Providers {
		switch model.Provider(name) {
		case model.ProviderAnthropic:
			if ac != nil {
				providers = append(providers, search.NewAnthropic(ac, search.AnthropicConfig{
					Model:   c.Anthropic.SonnetModel,
					MaxUses: c.Anthropic.SearchMaxUses,
				}, guard))
			}
		case model.ProviderOpenAI:
			if oc != nil {
				providers = append(providers, search.NewOpenAI(oc, search.OpenAIConfig{Model: c.OpenAI.Model}, guard))
			}
		case model.ProviderGemini:
			if gc != nil {
				providers = append(providers, search.NewGemini(gc, search.GeminiConfig{Model: c.Gemini.Model}, guard))
			}
		default:
			zap.L().Warn("ignoring unknown search provider", zap.String("provider", name))
		}
	}

	coord, err := search.NewCoordinator(providers,
		search.WithProviderTimeout(time.Duration(c.Search.ProviderTimeoutSecs)*time.Second),
		search.WithScorer(scorer.New(c.Search.MinScore)),
	)
	if err != nil {
		return nil, eris.Wrap(err, "build search coordinator")
	}
	return coord, nil
}

// newRedisClient parses a redis:// URL and verifies the connection.
func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, eris.Wrap(err, "ping redis")
	}
	return client, nil
}
