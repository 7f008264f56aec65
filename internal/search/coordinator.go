package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deep-research/internal/cost"
	"github.com/sells-group/deep-research/internal/model"
	"github.com/sells-group/deep-research/internal/scorer"
	"github.com/sells-group/deep-research/internal/urlnorm"
)

// DefaultProviderTimeout bounds one provider call within a pass.
const DefaultProviderTimeout = 90 * time.Second

// ErrProviderTimeout marks a provider that exceeded the per-pass timeout.
var ErrProviderTimeout = eris.New("search: provider timed out")

// MultiOptions configures a multi-provider search.
type MultiOptions struct {
	Providers []model.Provider
	Language  model.Language
	Mode      Mode
	Domains   []string
}

// Response is the merged outcome of one or more passes.
type Response struct {
	Query         string
	Results       []*Result
	Sources       []model.Source
	Summary       string
	Usage         cost.Usage
	Succeeded     []model.Provider
	Failed        []model.Provider
	LowConfidence bool
}

// Coordinator fans queries out to providers and merges their sources.
type Coordinator struct {
	providers map[model.Provider]Provider
	order     []model.Provider
	scorer    *scorer.Scorer
	timeout   time.Duration
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithProviderTimeout overrides DefaultProviderTimeout.
func WithProviderTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithScorer overrides the default source scorer.
func WithScorer(s *scorer.Scorer) CoordinatorOption {
	return func(c *Coordinator) {
		if s != nil {
			c.scorer = s
		}
	}
}

// NewCoordinator creates a Coordinator over providers. The order of
// providers is the default fan-out order.
func NewCoordinator(providers []Provider, opts ...CoordinatorOption) (*Coordinator, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	c := &Coordinator{
		providers: make(map[model.Provider]Provider, len(providers)),
		scorer:    scorer.New(0),
		timeout:   DefaultProviderTimeout,
	}
	for _, p := range providers {
		if _, dup := c.providers[p.Name()]; dup {
			continue
		}
		c.providers[p.Name()] = p
		c.order = append(c.order, p.Name())
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Providers returns the configured provider names in fan-out order.
func (c *Coordinator) Providers() []model.Provider {
	return append([]model.Provider(nil), c.order...)
}

// Search runs a single provider call under the per-provider timeout.
// Unknown providers yield a failed Result.
func (c *Coordinator) Search(ctx context.Context, provider model.Provider, opts Options) *Result {
	p, ok := c.providers[provider]
	if !ok {
		return &Result{Provider: provider, Err: eris.Errorf("search: provider %s not configured", provider)}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan *Result, 1)
	go func() {
		done <- p.Search(ctx, opts)
	}()

	select {
	case r := <-done:
		if r == nil {
			r = &Result{Err: eris.New("search: provider returned no result")}
		}
		r.Provider = provider
		return r
	case <-ctx.Done():
		return &Result{Provider: provider, Err: eris.Wrapf(ErrProviderTimeout, "%s after %s", provider, c.timeout)}
	}
}

// MultiSearch queries every requested provider. Language "both" runs a
// Korean and an English pass in parallel. A pass where every provider
// fails returns *AllProvidersFailedError.
func (c *Coordinator) MultiSearch(ctx context.Context, query string, opts MultiOptions) (*Response, error) {
	providers := opts.Providers
	if len(providers) == 0 {
		providers = c.order
	}

	languages := []model.Language{opts.Language}
	if opts.Language == "" || opts.Language == model.LangBoth {
		languages = []model.Language{model.LangKorean, model.LangEnglish}
	}

	passes := make([][]*Result, len(languages))
	g, gctx := errgroup.WithContext(ctx)
	for i, lang := range languages {
		g.Go(func() error {
			results := c.pass(gctx, providers, Options{
				Query:    query,
				Mode:     opts.Mode,
				Domains:  opts.Domains,
				Language: lang,
			})
			passes[i] = results
			if failed := allFailed(query, results); failed != nil {
				return failed
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var results []*Result
	langOf := make(map[*Result]model.Language)
	for i, pass := range passes {
		for _, r := range pass {
			langOf[r] = languages[i]
			results = append(results, r)
		}
	}

	resp := c.merge(query, results, langOf)
	if len(resp.Succeeded) == 1 {
		resp.LowConfidence = true
		zap.L().Warn("search: only one provider succeeded",
			zap.String("query", query),
			zap.String("provider", string(resp.Succeeded[0])),
		)
	}
	return resp, nil
}

// pass runs one language pass. Provider failures never cancel siblings.
func (c *Coordinator) pass(ctx context.Context, providers []model.Provider, opts Options) []*Result {
	results := make([]*Result, len(providers))
	var g errgroup.Group
	for i, name := range providers {
		g.Go(func() error {
			results[i] = c.Search(ctx, name, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func allFailed(query string, results []*Result) *AllProvidersFailedError {
	if len(results) == 0 {
		return &AllProvidersFailedError{Query: query, Errors: map[model.Provider]error{}}
	}
	e := &AllProvidersFailedError{Query: query, Errors: make(map[model.Provider]error, len(results))}
	for _, r := range results {
		if r.OK() {
			return nil
		}
		e.Errors[r.Provider] = r.Err
		e.order = append(e.order, r.Provider)
	}
	return e
}

type mergedSource struct {
	src       model.Source
	providers map[model.Provider]bool
}

// merge dedups sources by normalized URL in first-seen order, fills gaps
// from later sightings and scores the result.
func (c *Coordinator) merge(query string, results []*Result, langOf map[*Result]model.Language) *Response {
	resp := &Response{Query: query, Results: results}

	byURL := make(map[string]*mergedSource)
	var order []string
	succeeded := make(map[model.Provider]bool)
	failed := make(map[model.Provider]bool)
	var texts []string

	for _, r := range results {
		resp.Usage = resp.Usage.Add(r.Usage)
		if !r.OK() {
			failed[r.Provider] = true
			continue
		}
		succeeded[r.Provider] = true
		if r.Text != "" {
			texts = append(texts, r.Text)
		}

		for _, s := range r.Sources {
			key := urlnorm.Normalize(s.URL)
			if key == "" {
				continue
			}
			m, ok := byURL[key]
			if !ok {
				m = &mergedSource{
					src: model.Source{
						Provider:   r.Provider,
						Title:      s.Title,
						URL:        key,
						Snippet:    s.Snippet,
						PageAge:    s.PageAge,
						Language:   langOf[r],
						Confidence: s.Confidence,
					},
					providers: map[model.Provider]bool{r.Provider: true},
				}
				byURL[key] = m
				order = append(order, key)
				continue
			}
			mergeInto(&m.src, s)
			m.providers[r.Provider] = true
		}
	}

	resp.Sources = make([]model.Source, 0, len(order))
	for _, key := range order {
		m := byURL[key]
		m.src.Providers = sortedProviders(m.providers)
		m.src.CrossValidated = len(m.providers) >= 2
		resp.Sources = append(resp.Sources, m.src)
	}
	c.scorer.Apply(resp.Sources)

	resp.Summary = strings.Join(texts, "\n\n---\n\n")
	resp.Succeeded = providerList(c.order, succeeded)
	// A provider that succeeded in any pass is not reported as failed.
	for p := range succeeded {
		delete(failed, p)
	}
	resp.Failed = providerList(c.order, failed)
	return resp
}

func mergeInto(dst *model.Source, s SourceInfo) {
	if dst.Snippet == "" && s.Snippet != "" {
		dst.Snippet = s.Snippet
	}
	if dst.Title == "" && s.Title != "" {
		dst.Title = s.Title
	}
	if dst.PageAge == "" && s.PageAge != "" {
		dst.PageAge = s.PageAge
	}
	if s.Confidence != nil && (dst.Confidence == nil || *s.Confidence > *dst.Confidence) {
		v := *s.Confidence
		dst.Confidence = &v
	}
}

func sortedProviders(set map[model.Provider]bool) []model.Provider {
	out := make([]model.Provider, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// providerList returns members of set, known providers in order first.
func providerList(order []model.Provider, set map[model.Provider]bool) []model.Provider {
	var out []model.Provider
	seen := make(map[model.Provider]bool)
	for _, p := range order {
		if set[p] {
			out = append(out, p)
			seen[p] = true
		}
	}
	var rest []model.Provider
	for p := range set {
		if !seen[p] {
			rest = append(rest, p)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(out, rest...)
}

// mergeResponses folds several responses into one, re-deduplicating sources
// across them and recomputing cross-validation over the union of
// provenance sets.
func (c *Coordinator) mergeResponses(query string, responses []*Response) *Response {
	out := &Response{Query: query}
	byURL := make(map[string]*mergedSource)
	var order []string
	succeeded := make(map[model.Provider]bool)
	failed := make(map[model.Provider]bool)
	var summaries []string

	for _, r := range responses {
		if r == nil {
			continue
		}
		out.Results = append(out.Results, r.Results...)
		out.Usage = out.Usage.Add(r.Usage)
		if r.Summary != "" {
			summaries = append(summaries, r.Summary)
		}
		for _, p := range r.Succeeded {
			succeeded[p] = true
		}
		for _, p := range r.Failed {
			failed[p] = true
		}

		for _, s := range r.Sources {
			m, ok := byURL[s.URL]
			if !ok {
				cp := s
				cp.Providers = nil
				m = &mergedSource{src: cp, providers: make(map[model.Provider]bool)}
				byURL[s.URL] = m
				order = append(order, s.URL)
			} else {
				mergeInto(&m.src, SourceInfo{Title: s.Title, Snippet: s.Snippet, PageAge: s.PageAge, Confidence: s.Confidence})
			}
			for _, p := range s.Providers {
				m.providers[p] = true
			}
		}
	}

	out.Sources = make([]model.Source, 0, len(order))
	for _, key := range order {
		m := byURL[key]
		m.src.Providers = sortedProviders(m.providers)
		m.src.CrossValidated = len(m.providers) >= 2
		out.Sources = append(out.Sources, m.src)
	}
	c.scorer.Apply(out.Sources)

	out.Summary = strings.Join(summaries, "\n\n---\n\n")
	for p := range succeeded {
		delete(failed, p)
	}
	out.Succeeded = providerList(c.order, succeeded)
	out.Failed = providerList(c.order, failed)
	out.LowConfidence = len(out.Succeeded) == 1
	return out
}
