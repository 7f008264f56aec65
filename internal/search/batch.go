package search

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deep-research/internal/model"
)

// DefaultBatchConcurrency is how many sub-queries search at once.
const DefaultBatchConcurrency = 2

// QueryProgress reports one finished sub-query.
type QueryProgress struct {
	Index        int
	Total        int
	Completed    int
	Query        string
	SourcesFound int
	Succeeded    []model.Provider
	Failed       []model.Provider
}

// BatchOptions configures Batch.
type BatchOptions struct {
	Concurrency int
	Providers   []model.Provider
	Language    model.Language
	Mode        Mode
	Domains     []string
	// OnProgress is called after each sub-query completes. Calls are
	// serialized.
	OnProgress func(QueryProgress)
}

// Batch runs MultiSearch for every query with a bounded window and merges
// the responses. Any sub-query whose providers all fail aborts the batch.
func (c *Coordinator) Batch(ctx context.Context, queries []string, opts BatchOptions) (*Response, error) {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultBatchConcurrency
	}

	responses := make([]*Response, len(queries))
	var (
		mu        sync.Mutex
		completed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, q := range queries {
		g.Go(func() error {
			resp, err := c.MultiSearch(gctx, q, MultiOptions{
				Providers: opts.Providers,
				Language:  opts.Language,
				Mode:      opts.Mode,
				Domains:   opts.Domains,
			})
			if err != nil {
				return err
			}
			responses[i] = resp

			if opts.OnProgress != nil {
				mu.Lock()
				completed++
				opts.OnProgress(QueryProgress{
					Index:        i,
					Total:        len(queries),
					Completed:    completed,
					Query:        q,
					SourcesFound: len(resp.Sources),
					Succeeded:    resp.Succeeded,
					Failed:       resp.Failed,
				})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return c.mergeResponses(strings.Join(queries, " | "), responses), nil
}
