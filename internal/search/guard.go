package search

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/deep-research/internal/metrics"
	"github.com/sells-group/deep-research/internal/model"
	"github.com/sells-group/deep-research/internal/resilience"
	"github.com/sells-group/deep-research/internal/scorer"
)

// Guard wraps provider calls with rate limiting, a circuit breaker and
// retry. One Guard is shared by every adapter.
type Guard struct {
	Retry    resilience.RetryConfig
	Breakers *resilience.ServiceBreakers
	limiters map[model.Provider]*rate.Limiter
}

// NewGuard builds a Guard. rps limits calls per provider per second; zero
// disables limiting.
func NewGuard(retry resilience.RetryConfig, breakers *resilience.ServiceBreakers, rps float64, burst int) *Guard {
	g := &Guard{
		Retry:    retry,
		Breakers: breakers,
		limiters: make(map[model.Provider]*rate.Limiter),
	}
	if burst <= 0 {
		burst = 1
	}
	for _, p := range model.AllProviders {
		limit := rate.Inf
		if rps > 0 {
			limit = rate.Limit(rps)
		}
		g.limiters[p] = rate.NewLimiter(limit, burst)
	}
	return g
}

type callFunc func(ctx context.Context, opts Options) (*Result, error)

// run executes fn for provider and converts every failure into Result.Err.
// Successful results are deduplicated by raw URL and capped at
// MaxResults*2 sources.
func (g *Guard) run(ctx context.Context, provider model.Provider, opts Options, fn callFunc) *Result {
	opts = opts.withDefaults()
	start := time.Now()

	res, err := g.call(ctx, provider, opts, fn)

	metrics.ProviderLatency.WithLabelValues(string(provider), string(opts.Mode)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ProviderRequests.WithLabelValues(string(provider), string(opts.Mode), "error").Inc()
		zap.L().Warn("search provider failed",
			zap.String("provider", string(provider)),
			zap.String("mode", string(opts.Mode)),
			zap.String("query", opts.Query),
			zap.Error(err),
		)
		return &Result{Provider: provider, Err: err}
	}

	metrics.ProviderRequests.WithLabelValues(string(provider), string(opts.Mode), "success").Inc()
	res.Provider = provider
	res.Sources = tidySources(res.Sources, opts.MaxResults*2)
	return res
}

func (g *Guard) call(ctx context.Context, provider model.Provider, opts Options, fn callFunc) (*Result, error) {
	if g == nil {
		return fn(ctx, opts)
	}

	if lim := g.limiters[provider]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrapf(err, "search: %s rate limit", provider)
		}
	}

	retry := g.Retry
	log := resilience.RetryLogger(string(provider), "search")
	retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.ProviderRetries.WithLabelValues(string(provider)).Inc()
		log(attempt, delay, err)
	}

	attempt := func(ctx context.Context) (*Result, error) {
		return fn(ctx, opts)
	}

	if g.Breakers == nil {
		return resilience.DoVal(ctx, retry, attempt)
	}
	cb := g.Breakers.Get(string(provider))
	return resilience.DoVal(ctx, retry, func(ctx context.Context) (*Result, error) {
		return resilience.Call(ctx, cb, attempt)
	})
}

// tidySources drops empty and repeated URLs, cleans snippets and caps the
// list at limit entries.
func tidySources(in []SourceInfo, limit int) []SourceInfo {
	seen := make(map[string]bool, len(in))
	out := make([]SourceInfo, 0, len(in))
	for _, s := range in {
		if s.URL == "" || seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		s.Snippet = scorer.CleanSnippet(s.Snippet)
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
