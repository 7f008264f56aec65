package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
)

// webFetchBeta enables the server-side web_fetch tool.
const webFetchBeta = sdk.AnthropicBeta("web-fetch-2025-09-10")

// WebSearchRequest configures a server-side web search turn.
type WebSearchRequest struct {
	Model          string
	MaxTokens      int64
	System         string
	Prompt         string
	MaxUses        int64
	AllowedDomains []string
	// Fetch additionally enables web_fetch with citations.
	Fetch bool
}

// WebSearchResponse is the flattened result of a web search turn.
type WebSearchResponse struct {
	ID        string
	Model     string
	Text      string
	Citations []Citation
	Results   []SearchResult
	Usage     TokenUsage
}

// Citation links a span of generated text to a web page.
type Citation struct {
	URL       string
	Title     string
	CitedText string
}

// SearchResult is one page returned by the web_search tool.
type SearchResult struct {
	URL     string
	Title   string
	PageAge string
}

func (c *sdkClient) WebSearch(ctx context.Context, req WebSearchRequest) (*WebSearchResponse, error) {
	params := buildWebSearchParams(req)

	msg, err := c.client.Beta.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapSDKError(err, "anthropic: web search")
	}

	resp, err := parseWebSearchJSON([]byte(msg.RawJSON()))
	if err != nil {
		return nil, err
	}
	resp.Usage = TokenUsage{
		InputTokens:              msg.Usage.InputTokens,
		OutputTokens:             msg.Usage.OutputTokens,
		CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		WebSearchRequests:        msg.Usage.ServerToolUse.WebSearchRequests,
		WebFetchRequests:         msg.Usage.ServerToolUse.WebFetchRequests,
	}
	return resp, nil
}

func buildWebSearchParams(req WebSearchRequest) sdk.BetaMessageNewParams {
	search := &sdk.BetaWebSearchTool20250305Param{
		AllowedDomains: req.AllowedDomains,
	}
	if req.MaxUses > 0 {
		search.MaxUses = sdk.Int(req.MaxUses)
	}

	tools := []sdk.BetaToolUnionParam{{OfWebSearchTool20250305: search}}

	params := sdk.BetaMessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  []sdk.BetaMessageParam{sdk.NewBetaUserMessage(sdk.NewBetaTextBlock(req.Prompt))},
	}
	if req.System != "" {
		params.System = []sdk.BetaTextBlockParam{{Text: req.System}}
	}

	if req.Fetch {
		fetch := &sdk.BetaWebFetchTool20250910Param{
			AllowedDomains: req.AllowedDomains,
			Citations:      sdk.BetaCitationsConfigParam{Enabled: sdk.Bool(true)},
		}
		if req.MaxUses > 0 {
			fetch.MaxUses = sdk.Int(req.MaxUses)
		}
		tools = append(tools, sdk.BetaToolUnionParam{OfWebFetchTool20250910: fetch})
		params.Betas = []sdk.AnthropicBeta{webFetchBeta}
	}
	params.Tools = tools

	return params
}

// rawMessage mirrors the subset of a Messages API response we read.
// Tool result content is polymorphic (a list on success, an error object
// on failure), so it is decoded lazily.
type rawMessage struct {
	ID      string     `json:"id"`
	Model   string     `json:"model"`
	Content []rawBlock `json:"content"`
}

type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Citations []rawCitation   `json:"citations"`
	Content   json.RawMessage `json:"content"`
}

type rawCitation struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	CitedText string `json:"cited_text"`
}

type rawSearchResult struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	PageAge string `json:"page_age"`
}

type rawFetchResult struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// parseWebSearchJSON flattens text blocks, citations and tool results.
func parseWebSearchJSON(data []byte) (*WebSearchResponse, error) {
	var msg rawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, eris.Wrap(err, "anthropic: decode web search response")
	}

	resp := &WebSearchResponse{ID: msg.ID, Model: msg.Model}
	var text strings.Builder

	for _, b := range msg.Content {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
			for _, c := range b.Citations {
				if c.URL == "" {
					continue
				}
				resp.Citations = append(resp.Citations, Citation{
					URL:       c.URL,
					Title:     c.Title,
					CitedText: c.CitedText,
				})
			}
		case "web_search_tool_result":
			var results []rawSearchResult
			if json.Unmarshal(b.Content, &results) != nil {
				continue
			}
			for _, r := range results {
				if r.Type != "web_search_result" || r.URL == "" {
					continue
				}
				resp.Results = append(resp.Results, SearchResult{URL: r.URL, Title: r.Title, PageAge: r.PageAge})
			}
		case "web_fetch_tool_result":
			var fetched rawFetchResult
			if json.Unmarshal(b.Content, &fetched) != nil || fetched.URL == "" {
				continue
			}
			if fetched.Type == "web_fetch_result" {
				resp.Results = append(resp.Results, SearchResult{URL: fetched.URL})
			}
		}
	}

	resp.Text = text.String()
	return resp, nil
}
