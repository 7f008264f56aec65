// Package openai is a minimal client for the OpenAI Responses and
// Embeddings APIs.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultModel          = "gpt-4.1"
	defaultEmbeddingModel = "text-embedding-3-small"

	// EmbeddingDimensions is the vector width requested from the embeddings API.
	EmbeddingDimensions = 1536
)

// Client performs OpenAI API operations.
type Client interface {
	WebSearch(ctx context.Context, req WebSearchRequest) (*WebSearchResponse, error)
	Embed(ctx context.Context, text string) (*EmbeddingResponse, error)
}

// WebSearchRequest describes a Responses API call with the web_search tool.
type WebSearchRequest struct {
	Model          string
	System         string
	Prompt         string
	AllowedDomains []string
}

// WebSearchResponse is the flattened result of a web search call.
type WebSearchResponse struct {
	ID        string
	Model     string
	Text      string
	Citations []Citation
	Sources   []Source
	Usage     Usage
}

// Citation is a url_citation annotation on the output text.
type Citation struct {
	URL        string
	Title      string
	StartIndex int
	EndIndex   int
}

// Source is a page consulted by the web_search tool.
type Source struct {
	URL     string
	Title   string
	Snippet string
}

// Usage reports token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingResponse carries a single embedding vector.
type EmbeddingResponse struct {
	Model     string
	Embedding []float32
	Tokens    int
}

// APIError is a non-200 response from the OpenAI API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300]
	}
	return fmt.Sprintf("openai: unexpected status %d: %s", e.StatusCode, body)
}

// HTTPStatus exposes the status code to retry classification.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithModel overrides the default search model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		c.model = model
	}
}

// WithEmbeddingModel overrides the default embedding model.
func WithEmbeddingModel(model string) Option {
	return func(c *httpClient) {
		c.embeddingModel = model
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	http           *http.Client
}

// NewClient creates an OpenAI API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:         apiKey,
		baseURL:        defaultBaseURL,
		model:          defaultModel,
		embeddingModel: defaultEmbeddingModel,
		http: &http.Client{
			Timeout: 90 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type responsesRequest struct {
	Model   string          `json:"model"`
	Tools   []webSearchTool `json:"tools"`
	Include []string        `json:"include,omitempty"`
	Input   []inputMessage  `json:"input"`
}

type webSearchTool struct {
	Type    string         `json:"type"`
	Filters *searchFilters `json:"filters,omitempty"`
}

type searchFilters struct {
	AllowedDomains []string `json:"allowed_domains"`
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesResponse struct {
	ID     string       `json:"id"`
	Model  string       `json:"model"`
	Output []outputItem `json:"output"`
	Usage  Usage        `json:"usage"`
}

type outputItem struct {
	Type    string          `json:"type"`
	Content []outputContent `json:"content"`
	Action  *searchAction   `json:"action"`
}

type outputContent struct {
	Type        string       `json:"type"`
	Text        string       `json:"text"`
	Annotations []annotation `json:"annotations"`
}

type annotation struct {
	Type       string `json:"type"`
	URL        string `json:"url"`
	Title      string `json:"title"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

type searchAction struct {
	Sources []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"sources"`
}

func (c *httpClient) WebSearch(ctx context.Context, req WebSearchRequest) (*WebSearchResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	tool := webSearchTool{Type: "web_search"}
	if len(req.AllowedDomains) > 0 {
		tool.Filters = &searchFilters{AllowedDomains: req.AllowedDomains}
	}

	input := make([]inputMessage, 0, 2)
	if req.System != "" {
		input = append(input, inputMessage{Role: "system", Content: req.System})
	}
	input = append(input, inputMessage{Role: "user", Content: req.Prompt})

	var raw responsesResponse
	if err := c.post(ctx, "/responses", responsesRequest{
		Model:   model,
		Tools:   []webSearchTool{tool},
		Include: []string{"web_search_call.action.sources"},
		Input:   input,
	}, &raw); err != nil {
		return nil, err
	}

	return flattenResponse(&raw), nil
}

// flattenResponse collects output text, url_citation annotations and the
// sources attached to web_search_call items. Sources are unique by URL.
func flattenResponse(raw *responsesResponse) *WebSearchResponse {
	out := &WebSearchResponse{ID: raw.ID, Model: raw.Model, Usage: raw.Usage}
	seen := make(map[string]bool)
	var text strings.Builder

	addSource := func(s Source) {
		if s.URL == "" || seen[s.URL] {
			return
		}
		seen[s.URL] = true
		out.Sources = append(out.Sources, s)
	}

	for _, item := range raw.Output {
		switch item.Type {
		case "message":
			for _, content := range item.Content {
				if content.Type != "output_text" {
					continue
				}
				text.WriteString(content.Text)
				full := text.String()
				for _, a := range content.Annotations {
					if a.Type != "url_citation" {
						continue
					}
					out.Citations = append(out.Citations, Citation{
						URL:        a.URL,
						Title:      a.Title,
						StartIndex: a.StartIndex,
						EndIndex:   a.EndIndex,
					})
					addSource(Source{URL: a.URL, Title: a.Title, Snippet: citedSpan(full, a.StartIndex, a.EndIndex)})
				}
			}
		case "web_search_call":
			if item.Action == nil {
				continue
			}
			for _, s := range item.Action.Sources {
				addSource(Source{URL: s.URL, Title: s.Title, Snippet: s.Snippet})
			}
		}
	}

	out.Text = text.String()
	return out
}

// citedSpan returns the annotated span plus up to 100 bytes of leading
// context, clamped to the text and to rune boundaries.
func citedSpan(text string, start, end int) string {
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return ""
	}
	from := start - 100
	if from < 0 {
		from = 0
	}
	for from > 0 && from < len(text) && !isRuneStart(text[from]) {
		from--
	}
	for end < len(text) && !isRuneStart(text[end]) {
		end++
	}
	return strings.TrimSpace(text[from:end])
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

type embeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions"`
}

type embeddingResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *httpClient) Embed(ctx context.Context, text string) (*EmbeddingResponse, error) {
	var raw embeddingResponse
	if err := c.post(ctx, "/embeddings", embeddingRequest{
		Model:      c.embeddingModel,
		Input:      text,
		Dimensions: EmbeddingDimensions,
	}, &raw); err != nil {
		return nil, err
	}

	if len(raw.Data) == 0 || len(raw.Data[0].Embedding) == 0 {
		return nil, eris.New("openai: empty embedding response")
	}

	return &EmbeddingResponse{
		Model:     c.embeddingModel,
		Embedding: raw.Data[0].Embedding,
		Tokens:    raw.Usage.TotalTokens,
	}, nil
}

func (c *httpClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return eris.Wrap(err, "openai: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "openai: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return eris.Wrap(err, "openai: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "openai: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return eris.Wrap(&APIError{StatusCode: resp.StatusCode, Body: string(respBody)}, "openai: "+strings.TrimPrefix(path, "/"))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "openai: unmarshal response")
	}
	return nil
}
