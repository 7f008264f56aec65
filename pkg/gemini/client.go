package gemini

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
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash"
)

// Client performs Gemini API operations.
type Client interface {
	GroundedSearch(ctx context.Context, req GroundedSearchRequest) (*GroundedSearchResponse, error)
}

// GroundedSearchRequest is a single-turn generateContent call with the
// google_search tool enabled.
type GroundedSearchRequest struct {
	Model  string
	Prompt string
}

// GroundedSearchResponse is the flattened first candidate.
type GroundedSearchResponse struct {
	Model     string
	Text      string
	Sources   []Source
	Citations []Citation
	Usage     Usage
}

// Source is a grounding chunk. Confidence is the highest support score
// that referenced it, nil when none did.
type Source struct {
	URL        string
	Title      string
	Confidence *float64
}

// Citation is a grounding support segment attributed to a source.
type Citation struct {
	URL        string
	Title      string
	CitedText  string
	StartIndex int
	EndIndex   int
}

// Usage reports token consumption.
type Usage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// APIError is a non-200 response from the Gemini API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300]
	}
	return fmt.Sprintf("gemini: unexpected status %d: %s", e.StatusCode, body)
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

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		c.model = model
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

// NewClient creates a Gemini API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		model:   defaultModel,
		http: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type generateRequest struct {
	Contents []content `json:"contents"`
	Tools    []tool    `json:"tools"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type tool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type generateResponse struct {
	Candidates    []candidate `json:"candidates"`
	UsageMetadata Usage       `json:"usageMetadata"`
	ModelVersion  string      `json:"modelVersion"`
}

type candidate struct {
	Content           content            `json:"content"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata"`
}

type groundingMetadata struct {
	GroundingChunks []struct {
		Web *struct {
			URI   string `json:"uri"`
			Title string `json:"title"`
		} `json:"web"`
	} `json:"groundingChunks"`
	GroundingSupports []struct {
		Segment *struct {
			Text       string `json:"text"`
			StartIndex int    `json:"startIndex"`
			EndIndex   int    `json:"endIndex"`
		} `json:"segment"`
		GroundingChunkIndices []int     `json:"groundingChunkIndices"`
		ConfidenceScores      []float64 `json:"confidenceScores"`
	} `json:"groundingSupports"`
}

func (c *httpClient) GroundedSearch(ctx context.Context, req GroundedSearchRequest) (*GroundedSearchResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
		Tools:    []tool{{GoogleSearch: &struct{}{}}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "gemini: marshal request")
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrap(&APIError{StatusCode: resp.StatusCode, Body: string(respBody)}, "gemini: generate content")
	}

	var raw generateResponse
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, eris.Wrap(err, "gemini: unmarshal response")
	}

	out := flattenCandidate(&raw)
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

// flattenCandidate reads text and grounding metadata from the first
// candidate. Chunks become sources in order, unique by URI; each support
// yields one citation per referenced chunk and raises that source's
// confidence to the max score seen.
func flattenCandidate(raw *generateResponse) *GroundedSearchResponse {
	out := &GroundedSearchResponse{Model: raw.ModelVersion, Usage: raw.UsageMetadata}
	if len(raw.Candidates) == 0 {
		return out
	}
	cand := raw.Candidates[0]

	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}
	out.Text = text.String()

	gm := cand.GroundingMetadata
	if gm == nil {
		return out
	}

	index := make(map[string]int)
	for _, chunk := range gm.GroundingChunks {
		if chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		if _, ok := index[chunk.Web.URI]; ok {
			continue
		}
		index[chunk.Web.URI] = len(out.Sources)
		out.Sources = append(out.Sources, Source{URL: chunk.Web.URI, Title: chunk.Web.Title})
	}

	for _, support := range gm.GroundingSupports {
		if support.Segment == nil {
			continue
		}
		for i, ci := range support.GroundingChunkIndices {
			if ci < 0 || ci >= len(gm.GroundingChunks) {
				continue
			}
			web := gm.GroundingChunks[ci].Web
			if web == nil || web.URI == "" {
				continue
			}
			out.Citations = append(out.Citations, Citation{
				URL:        web.URI,
				Title:      web.Title,
				CitedText:  support.Segment.Text,
				StartIndex: support.Segment.StartIndex,
				EndIndex:   support.Segment.EndIndex,
			})
			if i >= len(support.ConfidenceScores) {
				continue
			}
			src := &out.Sources[index[web.URI]]
			score := support.ConfidenceScores[i]
			if src.Confidence == nil || score > *src.Confidence {
				src.Confidence = &score
			}
		}
	}

	return out
}
