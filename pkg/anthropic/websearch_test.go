package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webSearchFixture = `{
  "id": "msg_ws_1",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-6",
  "stop_reason": "end_turn",
  "content": [
    {"type": "server_tool_use", "id": "srvtoolu_1", "name": "web_search", "input": {"query": "양자컴퓨팅"}},
    {"type": "web_search_tool_result", "tool_use_id": "srvtoolu_1", "content": [
      {"type": "web_search_result", "url": "https://www.nature.com/articles/q1", "title": "Quantum", "page_age": "2 days ago", "encrypted_content": "x"},
      {"type": "web_search_result", "url": "https://blog.naver.com/q/2", "title": "블로그", "encrypted_content": "y"}
    ]},
    {"type": "text", "text": "양자컴퓨팅은 "},
    {"type": "text", "text": "빠르게 발전하고 있습니다.", "citations": [
      {"type": "web_search_result_location", "url": "https://www.nature.com/articles/q1", "title": "Quantum", "cited_text": "Quantum advantage", "encrypted_index": "e"}
    ]},
    {"type": "web_search_tool_result", "tool_use_id": "srvtoolu_2", "content": {"type": "web_search_tool_result_error", "error_code": "max_uses_exceeded"}}
  ],
  "usage": {"input_tokens": 1200, "output_tokens": 300, "server_tool_use": {"web_search_requests": 2}}
}`

func TestParseWebSearchJSON(t *testing.T) {
	resp, err := parseWebSearchJSON([]byte(webSearchFixture))
	require.NoError(t, err)

	assert.Equal(t, "msg_ws_1", resp.ID)
	assert.Equal(t, "양자컴퓨팅은 빠르게 발전하고 있습니다.", resp.Text)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "https://www.nature.com/articles/q1", resp.Results[0].URL)
	assert.Equal(t, "2 days ago", resp.Results[0].PageAge)
	assert.Equal(t, "블로그", resp.Results[1].Title)

	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "Quantum advantage", resp.Citations[0].CitedText)
}

func TestParseWebSearchJSON_Invalid(t *testing.T) {
	_, err := parseWebSearchJSON([]byte("{not json"))
	require.Error(t, err)
}

func TestParseWebSearchJSON_FetchResult(t *testing.T) {
	resp, err := parseWebSearchJSON([]byte(`{"content":[
		{"type":"web_fetch_tool_result","content":{"type":"web_fetch_result","url":"https://example.com/doc"}},
		{"type":"web_fetch_tool_result","content":{"type":"web_fetch_tool_error","error_code":"url_not_accessible"}}
	]}`))
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "https://example.com/doc", resp.Results[0].URL)
}

func TestBuildWebSearchParams(t *testing.T) {
	p := buildWebSearchParams(WebSearchRequest{
		Model:          "claude-sonnet-4-6",
		MaxTokens:      4096,
		System:         "sys",
		Prompt:         "user",
		MaxUses:        5,
		AllowedDomains: []string{"nature.com"},
	})
	require.Len(t, p.Tools, 1)
	require.NotNil(t, p.Tools[0].OfWebSearchTool20250305)
	assert.Equal(t, int64(5), p.Tools[0].OfWebSearchTool20250305.MaxUses.Value)
	assert.Equal(t, []string{"nature.com"}, p.Tools[0].OfWebSearchTool20250305.AllowedDomains)
	assert.Empty(t, p.Betas)
	require.Len(t, p.System, 1)

	deep := buildWebSearchParams(WebSearchRequest{Model: "claude-sonnet-4-6", MaxTokens: 4096, Prompt: "p", MaxUses: 5, Fetch: true})
	require.Len(t, deep.Tools, 2)
	require.NotNil(t, deep.Tools[1].OfWebFetchTool20250910)
	assert.True(t, deep.Tools[1].OfWebFetchTool20250910.Citations.Enabled.Value)
	assert.Equal(t, webFetchBeta, deep.Betas[0])
	assert.Empty(t, deep.System)
}

func TestSDKClient_WebSearch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/messages")
		assert.Contains(t, r.Header.Get("anthropic-beta"), "web-fetch-2025-09-10")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		tools, ok := body["tools"].([]any)
		require.True(t, ok)
		assert.Len(t, tools, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(webSearchFixture))
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	resp, err := client.WebSearch(context.Background(), WebSearchRequest{
		Model:     "claude-sonnet-4-6",
		MaxTokens: 4096,
		System:    "sys",
		Prompt:    "양자컴퓨팅",
		MaxUses:   5,
		Fetch:     true,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, int64(2), resp.Usage.WebSearchRequests)
	assert.Equal(t, int64(1200), resp.Usage.InputTokens)
}
