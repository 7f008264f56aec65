package api

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deep-research/internal/model"
)

func TestShare_CreateAndResolve(t *testing.T) {
	env := newTestEnv(t)
	r := env.complete(t, "user-1", nil)

	rec := env.do(t, http.MethodPost, "/api/research/"+r.ID+"/share", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[shareResponse](t, rec)
	require.NotEmpty(t, first.ShareToken)
	assert.Equal(t, "/api/share/"+first.ShareToken, first.URL)

	rec = env.do(t, http.MethodPost, "/api/research/"+r.ID+"/share", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.ShareToken, decode[shareResponse](t, rec).ShareToken, "tokens are immutable once set")

	rec = env.do(t, http.MethodGet, first.URL, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	shared := decode[model.SharedReport](t, rec)
	assert.Equal(t, r.Topic, shared.Topic)
	assert.Equal(t, "# 보고서", shared.FullReport)
	assert.False(t, shared.ResearchCreatedAt.IsZero())
}

func TestShare_Rejections(t *testing.T) {
	env := newTestEnv(t)
	running := env.create(t, "user-1", model.StatusPhase4)
	done := env.complete(t, "user-1", nil)

	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/api/research/"+running.ID+"/share", "user-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/research/"+done.ID+"/share", "user-2", nil).Code)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/share/not-a-token", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/share/8a4b8a4e-5a43-4c43-9d8e-0b9d8c3a1f00", "", nil).Code)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	match := env.complete(t, "user-1", unitVector(0))
	env.complete(t, "user-1", unitVector(1))
	env.complete(t, "user-2", unitVector(0))

	rec := env.do(t, http.MethodPost, "/api/search", "user-1", map[string]string{"query": "AI 규제"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[struct {
		Results []searchResult `json:"results"`
	}](t, rec)
	require.Len(t, body.Results, 1)
	assert.Equal(t, match.ID, body.Results[0].ResearchID)
	assert.Equal(t, 100, body.Results[0].Similarity)
	assert.Equal(t, match.Topic, body.Results[0].Topic)
}

func TestSearch_Errors(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPost, "/api/search", "user-1", map[string]string{"query": " "}).Code)
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPost, "/api/search", "user-1", map[string]string{"query": strings.Repeat("q", 501)}).Code)

	env.srv.embedder = fakeEmbedder{err: errors.New("openai: 500")}
	assert.Equal(t, http.StatusBadGateway,
		env.do(t, http.MethodPost, "/api/search", "user-1", map[string]string{"query": "q"}).Code)

	env.srv.embedder = nil
	assert.Equal(t, http.StatusServiceUnavailable,
		env.do(t, http.MethodPost, "/api/search", "user-1", map[string]string{"query": "q"}).Code)
}
