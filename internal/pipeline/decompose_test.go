package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deep-research/internal/cost"
	"github.com/sells-group/deep-research/internal/model"
	"github.com/sells-group/deep-research/pkg/anthropic"
	anthropicmocks "github.com/sells-group/deep-research/pkg/anthropic/mocks"
)

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Model:   testHaiku,
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 40, OutputTokens: 20},
	}
}

func newDecomposePipeline(t *testing.T, client *anthropicmocks.MockClient) *Pipeline {
	t.Helper()
	return New(testConfig(), nil, client, nil, nil, nil)
}

func TestDecompose_ParsesArray(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == testHaiku &&
			req.MaxTokens == maxTokensDecompose &&
			req.Messages[0].Role == "user" &&
			strings.Contains(req.Messages[0].Content, "AI 반도체. 국내 팹리스 중심") &&
			strings.Contains(req.Messages[0].Content, "5개")
	})).Return(textResponse("다음과 같습니다:\n[\"AI 반도체 정의\", \" \", \"AI 반도체 주요 기업\", \"AI 반도체 동향\", \"AI 반도체 리스크\", \"AI 반도체 전망\", \"여분\"]"), nil)

	p := newDecomposePipeline(t, client)
	tracker := cost.NewTracker(p.costCalc)
	d := p.Decompose(context.Background(), tracker, "AI 반도체", "국내 팹리스 중심", model.ModeFull)

	assert.False(t, d.Fallback)
	assert.Equal(t, "AI 반도체. 국내 팹리스 중심", d.Original)
	assert.Equal(t, model.ModeFull, d.Mode)
	assert.Equal(t, []string{"AI 반도체 정의", "AI 반도체 주요 기업", "AI 반도체 동향", "AI 반도체 리스크", "AI 반도체 전망"}, d.SubQueries)
}

func TestDecompose_Fallback(t *testing.T) {
	tests := []struct {
		name  string
		reply *anthropic.MessageResponse
		err   error
	}{
		{name: "call error", err: errors.New("bad request")},
		{name: "no array", reply: textResponse("서브쿼리를 만들 수 없습니다")},
		{name: "invalid json", reply: textResponse(`["a", b]`)},
		{name: "empty array", reply: textResponse(`[]`)},
		{name: "blank entries", reply: textResponse(`["", "  "]`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := anthropicmocks.NewMockClient(t)
			client.On("CreateMessage", mock.Anything, mock.Anything).Return(tt.reply, tt.err)

			p := newDecomposePipeline(t, client)
			d := p.Decompose(context.Background(), nil, "메타버스", "", model.ModeQuick)

			assert.True(t, d.Fallback)
			assert.Equal(t, []string{"메타버스 개요 정의", "메타버스 최신 동향 2024 2025", "메타버스 전망 분석"}, d.SubQueries)
		})
	}
}

func TestFallbackDecomposition_FullMode(t *testing.T) {
	d := fallbackDecomposition("핀테크", model.ModeFull)
	require.Len(t, d.SubQueries, 5)
	assert.Equal(t, "핀테크 정의 개념 설명", d.SubQueries[0])
	assert.Equal(t, "핀테크 미래 전망 예측", d.SubQueries[4])
	assert.Equal(t, "핀테크", d.Original)
}

func TestSubQueryCount(t *testing.T) {
	assert.Equal(t, 3, SubQueryCount(model.ModeQuick))
	assert.Equal(t, 5, SubQueryCount(model.ModeFull))
}

func TestTopicContext(t *testing.T) {
	assert.Equal(t, "주제", topicContext("주제", "  "))
	assert.Equal(t, "주제. 설명", topicContext("주제", "설명"))
}
