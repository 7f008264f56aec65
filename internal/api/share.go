package api

import (
	"math"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/deep-research/internal/model"
	"github.com/sells-group/deep-research/internal/store"
)

const (
	maxQueryRunes       = 500
	defaultMaxMatches   = 10
	defaultSimThreshold = 0.7
)

type shareResponse struct {
	ShareToken string `json:"share_token"`
	URL        string `json:"url"`
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	research, ok := s.owned(w, r)
	if !ok {
		return
	}
	if research.Status != model.StatusCompleted {
		writeError(w, http.StatusConflict, "only completed research can be shared")
		return
	}
	token, err := s.store.EnsureShareToken(r.Context(), research.ID)
	if err != nil {
		writeStoreError(w, err, "share research")
		return
	}
	writeJSON(w, http.StatusOK, shareResponse{ShareToken: token, URL: "/api/share/" + token})
}

func (s *Server) handleGetShared(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if _, err := uuid.Parse(token); err != nil {
		writeError(w, http.StatusBadRequest, "invalid share token")
		return
	}
	shared, err := s.store.GetSharedReport(r.Context(), token)
	if err != nil {
		writeStoreError(w, err, "get shared report")
		return
	}
	writeJSON(w, http.StatusOK, shared)
}

type searchRequest struct {
	Query string `json:"query"`
}

// searchResult reports similarity as a whole percentage.
type searchResult struct {
	ResearchID       string `json:"research_id"`
	Topic            string `json:"topic"`
	ExecutiveSummary string `json:"executive_summary"`
	Similarity       int    `json:"similarity"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" || utf8.RuneCountInString(req.Query) > maxQueryRunes {
		writeError(w, http.StatusBadRequest, "query must be 1-500 characters")
		return
	}
	if s.embedder == nil {
		writeError(w, http.StatusServiceUnavailable, "semantic search is not configured")
		return
	}

	emb, err := s.embedder.Embed(r.Context(), req.Query)
	if err != nil {
		zap.L().Warn("api: embed search query", zap.Error(err))
		writeError(w, http.StatusBadGateway, "embedding service unavailable")
		return
	}

	threshold := s.cfg.Embedding.SimilarityThreshold
	if threshold <= 0 {
		threshold = defaultSimThreshold
	}
	limit := s.cfg.Embedding.MaxMatches
	if limit <= 0 {
		limit = defaultMaxMatches
	}
	matches, err := s.store.SearchReports(r.Context(), store.SearchQuery{
		UserID:    userID(r),
		Embedding: emb.Embedding,
		Threshold: threshold,
		Limit:     limit,
	})
	if err != nil {
		writeStoreError(w, err, "search reports")
		return
	}

	results := make([]searchResult, len(matches))
	for i, m := range matches {
		results[i] = searchResult{
			ResearchID:       m.ResearchID,
			Topic:            m.Topic,
			ExecutiveSummary: m.ExecutiveSummary,
			Similarity:       int(math.Round(m.Similarity * 100)),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
