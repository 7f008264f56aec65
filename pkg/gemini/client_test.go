package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const groundedFixture = `{
  "candidates": [{
    "content": {"role": "model", "parts": [{"text": "서울의 인구는 "}, {"text": "약 940만 명입니다."}]},
    "groundingMetadata": {
      "groundingChunks": [
        {"web": {"uri": "https://kosis.kr/stat", "title": "KOSIS"}},
        {"web": {"uri": "https://ko.wikipedia.org/wiki/서울", "title": "위키백과"}},
        {"web": {"uri": "https://kosis.kr/stat", "title": "KOSIS dup"}},
        {"retrievedContext": {}}
      ],
      "groundingSupports": [
        {"segment": {"text": "서울의 인구는", "startIndex": 0, "endIndex": 19}, "groundingChunkIndices": [0, 1], "confidenceScores": [0.62, 0.4]},
        {"segment": {"text": "약 940만 명", "startIndex": 20, "endIndex": 35}, "groundingChunkIndices": [2, 7], "confidenceScores": [0.91, 0.99]},
        {"groundingChunkIndices": [0], "confidenceScores": [1.0]}
      ]
    }
  }],
  "usageMetadata": {"promptTokenCount": 40, "candidatesTokenCount": 20, "totalTokenCount": 60},
  "modelVersion": "gemini-2.5-flash"
}`

func TestGroundedSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		tools := body["tools"].([]any)
		require.Len(t, tools, 1)
		assert.Contains(t, tools[0].(map[string]any), "google_search")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(groundedFixture))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.GroundedSearch(context.Background(), GroundedSearchRequest{Prompt: "서울 인구"})
	require.NoError(t, err)

	assert.Equal(t, "서울의 인구는 약 940만 명입니다.", resp.Text)
	assert.Equal(t, "gemini-2.5-flash", resp.Model)
	assert.Equal(t, 60, resp.Usage.TotalTokenCount)

	require.Len(t, resp.Sources, 2)
	assert.Equal(t, "KOSIS", resp.Sources[0].Title)
	require.NotNil(t, resp.Sources[0].Confidence)
	assert.InDelta(t, 0.91, *resp.Sources[0].Confidence, 1e-9)
	require.NotNil(t, resp.Sources[1].Confidence)
	assert.InDelta(t, 0.4, *resp.Sources[1].Confidence, 1e-9)

	require.Len(t, resp.Citations, 3)
	assert.Equal(t, "약 940만 명", resp.Citations[2].CitedText)
}

func TestGroundedSearch_NoGrounding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"plain"}]}}]}`))
	}))
	defer srv.Close()

	resp, err := NewClient("k", WithBaseURL(srv.URL), WithModel("gemini-x")).GroundedSearch(context.Background(), GroundedSearchRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "plain", resp.Text)
	assert.Equal(t, "gemini-x", resp.Model)
	assert.Empty(t, resp.Sources)
}

func TestGroundedSearch_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	resp, err := NewClient("k", WithBaseURL(srv.URL)).GroundedSearch(context.Background(), GroundedSearchRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Empty(t, resp.Text)
}

func TestGroundedSearch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "quota", status: http.StatusTooManyRequests, body: `{"error":{"code":429}}`, wantErr: "unexpected status 429"},
		{name: "server", status: http.StatusServiceUnavailable, body: `overloaded`, wantErr: "unexpected status 503"},
		{name: "malformed", status: http.StatusOK, body: `{`, wantErr: "unmarshal response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient("k", WithBaseURL(srv.URL)).GroundedSearch(context.Background(), GroundedSearchRequest{Prompt: "p"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var apiErr *APIError
			if tt.status != http.StatusOK {
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, tt.status, apiErr.HTTPStatus())
			}
		})
	}
}
