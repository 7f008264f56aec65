package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/deep-research/internal/config"
	"github.com/sells-group/deep-research/internal/cost"
	"github.com/sells-group/deep-research/internal/model"
	"github.com/sells-group/deep-research/internal/search"
	"github.com/sells-group/deep-research/internal/store"
	"github.com/sells-group/deep-research/pkg/anthropic"
	"github.com/sells-group/deep-research/pkg/openai"
)

const (
	testHaiku  = "claude-haiku-test"
	testSonnet = "claude-sonnet-test"
)

var testClaims = []string{
	"양자 오류 정정 기술이 2025년에 임계점을 넘었다",
	"초전도 큐비트 방식이 상용 시장을 주도하고 있다",
	"양자 컴퓨터는 2030년 이전에 RSA-2048을 해독할 수 없다",
}

func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{HaikuModel: testHaiku, SonnetModel: testSonnet},
		Search: config.SearchConfig{
			Providers:        []string{"openai", "anthropic", "gemini"},
			MinScore:         0.2,
			BatchConcurrency: 2,
		},
		Pipeline: config.PipelineConfig{
			MaxActivePerUser:      3,
			FactCheckConcurrency:  3,
			MaxClaims:             5,
			GenerationTimeoutSecs: 5,
		},
		Pricing: cost.DefaultRates(),
	}
}

// scriptedLLM answers each call by its role, identified from the model
// and token budget the pipeline requests.
type scriptedLLM struct {
	mu    sync.Mutex
	calls []anthropic.MessageRequest

	decompose func() (string, error)
	task      func(taskID string) (string, error)
	claims    func() (string, error)
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{
		decompose: func() (string, error) {
			return `["양자 컴퓨팅 정의", "양자 컴퓨팅 주요 기업", "양자 컴퓨팅 최신 동향", "양자 컴퓨팅 리스크", "양자 컴퓨팅 전망"]`, nil
		},
		task: func(taskID string) (string, error) {
			if taskID == "1.1" {
				return "Task 1.1 분석\n" + testClaims[0], nil
			}
			if taskID == "2.1" {
				return "Task 2.1 분석\n" + testClaims[1], nil
			}
			return "Task " + taskID + " 분석 결과", nil
		},
		claims: func() (string, error) {
			var lines []string
			for i, c := range testClaims {
				lines = append(lines, fmt.Sprintf("%d. %s", i+1, c))
			}
			return strings.Join(lines, "\n"), nil
		},
	}
}

// taskRequests maps the request line of each task prompt to its task ID.
var taskRequests = map[string]string{
	"요청: 핵심 인사이트 및 통념 타파":    "1.1",
	"요청: 논리적 엄밀성 및 근거 강도 평가": "1.2",
	"요청: 데이터 교차 검증 및 모순점 추적": "1.3",
	"요청: 약점 공격":              "2.1",
	"요청: 숨겨진 전제 조건 역추적":      "2.2",
	"요청: 학술적/실무적 공백 탐색":      "2.3",
	"요청: MECE 메타 프레임워크 구축":   "3.1",
	"요청: 진화 타임라인 및 미래 예측":    "3.2",
	"요청: 다중 이해관계자 맞춤형 메시지":   "4.1",
	"요청: SMART 실행 마스터플랜":     "4.2",
}

func taskOf(user string) string {
	for line, id := range taskRequests {
		if strings.Contains(user, line) {
			return id
		}
	}
	return ""
}

func (s *scriptedLLM) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()

	user := req.Messages[0].Content
	var (
		text string
		err  error
	)
	switch {
	case req.Model == testHaiku:
		text, err = s.decompose()
	case req.MaxTokens == maxTokensClaims:
		text, err = s.claims()
	case req.MaxTokens == maxTokensReport:
		text = "# 최종 보고서\n\n" + truncate(user, 40)
	case req.MaxTokens == maxTokensSummary:
		text = "요약: 핵심 발견과 권고사항"
	case req.MaxTokens == maxTokensTask:
		text, err = s.task(taskOf(user))
	default:
		err = fmt.Errorf("unexpected request: model=%s max_tokens=%d", req.Model, req.MaxTokens)
	}
	if err != nil {
		return nil, err
	}
	return &anthropic.MessageResponse{
		Model:   req.Model,
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

func (s *scriptedLLM) callsWithTokens(n int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int
	for _, c := range s.calls {
		if c.MaxTokens == n && c.Model == testSonnet {
			count++
		}
	}
	return count
}

// fakeProvider answers web searches from a function.
type fakeProvider struct {
	name model.Provider
	fn   func(opts search.Options) *search.Result
}

func (f *fakeProvider) Name() model.Provider { return f.name }

func (f *fakeProvider) Search(_ context.Context, opts search.Options) *search.Result {
	return f.fn(opts)
}

func okProvider(name model.Provider, verdict string) *fakeProvider {
	return &fakeProvider{name: name, fn: func(opts search.Options) *search.Result {
		if opts.Mode == search.ModeVerify {
			conf := 0.9
			return &search.Result{
				Provider: name,
				Model:    string(name) + "-model",
				Text:     verdict,
				Sources:  []search.SourceInfo{{URL: "https://www.nature.com/verify", Confidence: &conf}},
			}
		}
		return &search.Result{
			Provider: name,
			Model:    string(name) + "-model",
			Text:     string(name) + " 검색 결과: " + opts.Query,
			Sources: []search.SourceInfo{
				{URL: "https://www.nature.com/articles/quantum", Title: "Quantum advantage", PageAge: "2 days ago"},
				{URL: "https://arxiv.org/abs/2501." + string(name), Title: "Preprint " + string(name)},
			},
			Usage: cost.Usage{InputTokens: 200, OutputTokens: 80, SearchCalls: 1},
		}
	}}
}

func failingProvider(name model.Provider) *fakeProvider {
	return &fakeProvider{name: name, fn: func(search.Options) *search.Result {
		return &search.Result{Provider: name, Err: fmt.Errorf("%s: 503 service unavailable", name)}
	}}
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

func (r *recorder) ofType(t model.EventType) []model.Event {
	var out []model.Event
	for _, ev := range r.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type stubEmbedder struct {
	err error
}

func (e stubEmbedder) Embed(_ context.Context, _ string) (*openai.EmbeddingResponse, error) {
	if e.err != nil {
		return nil, e.err
	}
	vec := make([]float32, openai.EmbeddingDimensions)
	vec[0] = 1
	return &openai.EmbeddingResponse{Model: "text-embedding-3-small", Embedding: vec, Tokens: 12}, nil
}

// progressStore records every persisted progress value on top of a real
// store.
type progressStore struct {
	*store.SQLiteStore
	mu             sync.Mutex
	progress       []int
	onUpdate       func(u model.ResearchUpdate)
	beforeComplete func()
}

func (s *progressStore) UpdateResearch(ctx context.Context, id string, u model.ResearchUpdate) error {
	if s.onUpdate != nil {
		s.onUpdate(u)
	}
	err := s.SQLiteStore.UpdateResearch(ctx, id, u)
	if err == nil && u.ProgressPercent != nil {
		s.mu.Lock()
		s.progress = append(s.progress, *u.ProgressPercent)
		s.mu.Unlock()
	}
	return err
}

func (s *progressStore) CompleteResearch(ctx context.Context, r *model.Report, u model.ResearchUpdate) error {
	if s.beforeComplete != nil {
		s.beforeComplete()
	}
	err := s.SQLiteStore.CompleteResearch(ctx, r, u)
	if err == nil && u.ProgressPercent != nil {
		s.mu.Lock()
		s.progress = append(s.progress, *u.ProgressPercent)
		s.mu.Unlock()
	}
	return err
}

type harness struct {
	p   *Pipeline
	st  *progressStore
	llm *scriptedLLM
	rec *recorder
	req Request
}

func newHarness(t *testing.T, mode model.Mode, providers ...search.Provider) *harness {
	t.Helper()
	sqlite, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() }) //nolint:errcheck
	require.NoError(t, sqlite.Migrate(context.Background()))

	if len(providers) == 0 {
		providers = []search.Provider{
			okProvider(model.ProviderOpenAI, "이 주장은 사실로 확인됨"),
			okProvider(model.ProviderAnthropic, "공식 자료와 일치합니다"),
			okProvider(model.ProviderGemini, "정확한 내용입니다"),
		}
	}
	coord, err := search.NewCoordinator(providers, search.WithProviderTimeout(2*time.Second))
	require.NoError(t, err)

	r := &model.Research{UserID: "user-1", Topic: "양자 컴퓨팅의 현재와 미래", Mode: mode}
	require.NoError(t, sqlite.CreateResearch(context.Background(), r))

	st := &progressStore{SQLiteStore: sqlite}
	llm := newScriptedLLM()
	rec := &recorder{}
	p := New(testConfig(), st, llm, stubEmbedder{}, coord, rec)

	return &harness{
		p:   p,
		st:  st,
		llm: llm,
		rec: rec,
		req: Request{ResearchID: r.ID, Topic: r.Topic, Mode: mode},
	}
}

func (h *harness) research(t *testing.T) *model.Research {
	t.Helper()
	r, err := h.st.GetResearch(context.Background(), h.req.ResearchID)
	require.NoError(t, err)
	return r
}
