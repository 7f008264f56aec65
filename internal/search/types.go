// Package search fans a query out to the web-search capabilities of several
// LLM providers and merges what they find.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/deep-research/internal/cost"
	"github.com/sells-group/deep-research/internal/model"
)

// Mode selects the prompt family and default result budget.
type Mode string

const (
	ModeSearch Mode = "search"
	ModeVerify Mode = "verify"
	ModeDeep   Mode = "deep"
)

// DefaultMaxResults returns the per-mode result budget: verify 3, deep 8,
// search 5.
func (m Mode) DefaultMaxResults() int {
	switch m {
	case ModeVerify:
		return 3
	case ModeDeep:
		return 8
	default:
		return 5
	}
}

// Options configures a single provider call.
type Options struct {
	Query      string
	Mode       Mode
	Domains    []string
	Language   model.Language
	MaxResults int
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeSearch
	}
	if o.Language == "" {
		o.Language = model.LangBoth
	}
	if o.MaxResults <= 0 {
		o.MaxResults = o.Mode.DefaultMaxResults()
	}
	return o
}

// Citation ties a span of provider text to a URL.
type Citation struct {
	URL        string
	Title      string
	CitedText  string
	StartIndex int
	EndIndex   int
}

// SourceInfo is a page reported by one provider.
type SourceInfo struct {
	URL        string
	Title      string
	Snippet    string
	PageAge    string
	Confidence *float64
}

// Result is one provider's answer. A failed call carries Err with empty
// text and sources; adapters never return a Go error.
type Result struct {
	Provider  model.Provider
	Model     string
	Text      string
	Citations []Citation
	Sources   []SourceInfo
	Usage     cost.Usage
	Err       error
}

// OK reports whether the provider produced a usable answer.
func (r *Result) OK() bool {
	return r != nil && r.Err == nil
}

// Provider is a web-search capable LLM backend.
type Provider interface {
	Name() model.Provider
	Search(ctx context.Context, opts Options) *Result
}

// AllProvidersFailedError is returned when no provider in a pass succeeded.
type AllProvidersFailedError struct {
	Query  string
	Errors map[model.Provider]error
	order  []model.Provider
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.order))
	for _, p := range e.order {
		parts = append(parts, fmt.Sprintf("%s: %v", p, e.Errors[p]))
	}
	return fmt.Sprintf("all search providers failed for %q: %s", e.Query, strings.Join(parts, "; "))
}

// Providers lists the failed providers in fan-out order.
func (e *AllProvidersFailedError) Providers() []model.Provider {
	return append([]model.Provider(nil), e.order...)
}
