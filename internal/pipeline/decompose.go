package pipeline

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/deep-research/internal/cost"
	"github.com/sells-group/deep-research/internal/model"
)

// Decomposition is a topic split into independently searchable
// sub-queries.
type Decomposition struct {
	Original   string
	SubQueries []string
	Mode       model.Mode
	// Fallback is set when the fixed templates were used instead of the LLM.
	Fallback bool
}

var jsonArrayRe = regexp.MustCompile(`\[[\s\S]*\]`)

// SubQueryCount returns how many sub-queries a mode searches.
func SubQueryCount(mode model.Mode) int {
	if mode == model.ModeQuick {
		return 3
	}
	return 5
}

// topicContext joins a topic and its optional description.
func topicContext(topic, description string) string {
	if d := strings.TrimSpace(description); d != "" {
		return topic + ". " + d
	}
	return topic
}

// Decompose asks the fast model to split topic into sub-queries covering
// definition, players, trends, risks and outlook. Any failure yields the
// templated fallback; Decompose never returns an error.
func (p *Pipeline) Decompose(ctx context.Context, tracker *cost.Tracker, topic, description string, mode model.Mode) *Decomposition {
	count := SubQueryCount(mode)
	original := topicContext(topic, description)
	log := zap.L().With(zap.String("topic", topic), zap.String("mode", string(mode)))

	system, user, err := p.prompts.decompose.render(decomposePromptData{Topic: original, Count: count})
	if err != nil {
		log.Warn("pipeline: render decompose prompt", zap.Error(err))
		return fallbackDecomposition(topic, mode)
	}

	gen, err := p.gen.generate(ctx, tracker, p.cfg.Anthropic.HaikuModel, maxTokensDecompose, system, user)
	if err != nil {
		log.Warn("pipeline: decompose call failed, using fallback", zap.Error(err))
		return fallbackDecomposition(topic, mode)
	}

	queries, ok := parseSubQueries(gen.Text)
	if !ok {
		log.Warn("pipeline: decompose reply unparseable, using fallback")
		return fallbackDecomposition(topic, mode)
	}
	if len(queries) > count {
		queries = queries[:count]
	}

	return &Decomposition{Original: original, SubQueries: queries, Mode: mode}
}

// parseSubQueries extracts the first-to-last bracketed JSON array of
// strings from text. Blank entries are dropped.
func parseSubQueries(text string) ([]string, bool) {
	match := jsonArrayRe.FindString(text)
	if match == "" {
		return nil, false
	}
	var raw []string
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, q := range raw {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out, len(out) > 0
}

func fallbackDecomposition(topic string, mode model.Mode) *Decomposition {
	suffixes := []string{"정의 개념 설명", "주요 기업 플레이어", "최신 동향 뉴스 2024 2025", "문제점 비판 리스크", "미래 전망 예측"}
	if mode == model.ModeQuick {
		suffixes = []string{"개요 정의", "최신 동향 2024 2025", "전망 분석"}
	}
	queries := make([]string, len(suffixes))
	for i, s := range suffixes {
		queries[i] = topic + " " + s
	}
	return &Decomposition{Original: topic, SubQueries: queries, Mode: mode, Fallback: true}
}
