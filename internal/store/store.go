package store

import (
	"context"
	"errors"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deep-research/internal/model"
)

var (
	// ErrNotFound is returned when a research, report or share token does
	// not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrTerminal is returned when updating a research that is already
	// completed or failed.
	ErrTerminal = errors.New("store: research is in a terminal state")
)

// ResearchFilter specifies criteria for listing researches.
type ResearchFilter struct {
	UserID string               `json:"user_id,omitempty"`
	Status model.ResearchStatus `json:"status,omitempty"`
	Topic  string               `json:"topic,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (f ResearchFilter) limit() uint64 {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	}
	return uint64(f.Limit)
}

// Store persists researches and their child rows.
type Store interface {
	// Research
	CreateResearch(ctx context.Context, r *model.Research) error
	GetResearch(ctx context.Context, id string) (*model.Research, error)
	ListResearch(ctx context.Context, filter ResearchFilter) ([]model.Research, error)
	CountActive(ctx context.Context, userID string) (int, error)
	UpdateResearch(ctx context.Context, id string, u model.ResearchUpdate) error
	DeleteResearch(ctx context.Context, id string) error
	GetDetail(ctx context.Context, id string) (*model.ResearchDetail, error)

	// Tasks
	UpdateTask(ctx context.Context, researchID, taskID string, u model.TaskUpdate) error
	ListTasks(ctx context.Context, researchID string) ([]model.PhaseTask, error)

	// Sources and fact checks
	InsertSources(ctx context.Context, researchID string, sources []model.Source) error
	ListSources(ctx context.Context, researchID string) ([]model.Source, error)
	InsertFactChecks(ctx context.Context, researchID string, items []model.FactCheckItem) error
	ListFactChecks(ctx context.Context, researchID string) ([]model.FactCheckItem, error)

	// Reports
	SaveReport(ctx context.Context, r *model.Report) error
	CompleteResearch(ctx context.Context, r *model.Report, u model.ResearchUpdate) error
	GetReport(ctx context.Context, researchID string) (*model.Report, error)
	EnsureShareToken(ctx context.Context, researchID string) (string, error)
	GetSharedReport(ctx context.Context, token string) (*model.SharedReport, error)
	SearchReports(ctx context.Context, q SearchQuery) ([]model.SearchMatch, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// SearchQuery is a semantic search over a user's report embeddings.
type SearchQuery struct {
	UserID    string
	Embedding []float32
	Threshold float64
	Limit     int
}

func validateResearch(r *model.Research) error {
	if r.UserID == "" {
		return eris.New("store: research user_id is required")
	}
	if r.Topic == "" {
		return eris.New("store: research topic is required")
	}
	if r.Mode == "" {
		r.Mode = model.ModeFull
	}
	if !r.Mode.Valid() {
		return eris.Errorf("store: invalid mode %q", r.Mode)
	}
	if r.Status == "" {
		r.Status = model.StatusPending
	}
	return nil
}

// cosine returns the cosine similarity of a and b, or 0 when undefined.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func providerStrings(ps []model.Provider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

func toProviders(ss []string) []model.Provider {
	out := make([]model.Provider, len(ss))
	for i, s := range ss {
		out[i] = model.Provider(s)
	}
	return out
}
