package model

import "time"

// Provider identifies one of the web-search capable LLM backends.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// AllProviders is the default provider set, in fan-out order.
var AllProviders = []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGemini}

// SourceType is the content classification of a discovered source.
type SourceType string

const (
	SourceAcademic SourceType = "academic"
	SourceNews     SourceType = "news"
	SourceOfficial SourceType = "official"
	SourceBlog     SourceType = "blog"
	SourceOther    SourceType = "other"
)

// Language is the search language preference.
type Language string

const (
	LangKorean  Language = "ko"
	LangEnglish Language = "en"
	LangBoth    Language = "both"
)

// Source is a discovered web document, deduplicated by normalized URL.
type Source struct {
	ID               int64      `json:"id,omitempty"`
	ResearchID       string     `json:"research_id"`
	Provider         Provider   `json:"provider"`
	Providers        []Provider `json:"providers"`
	Title            string     `json:"title"`
	URL              string     `json:"url"`
	Snippet          string     `json:"snippet,omitempty"`
	SourceType       SourceType `json:"source_type"`
	ReliabilityScore float64    `json:"reliability_score"`
	CrossValidated   bool       `json:"cross_validated"`
	PageAge          string     `json:"page_age,omitempty"`
	Language         Language   `json:"language,omitempty"`
	Confidence       *float64   `json:"confidence,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
