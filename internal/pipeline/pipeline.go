package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deep-research/internal/config"
	"github.com/sells-group/deep-research/internal/cost"
	"github.com/sells-group/deep-research/internal/events"
	"github.com/sells-group/deep-research/internal/metrics"
	"github.com/sells-group/deep-research/internal/model"
	"github.com/sells-group/deep-research/internal/scorer"
	"github.com/sells-group/deep-research/internal/search"
	"github.com/sells-group/deep-research/internal/store"
)

// Progress checkpoints persisted outside the phase windows.
const (
	progressCollecting     = 5
	progressSearched       = 15
	progressFactCheck      = 87
	progressFactChecked    = 92
	progressReport         = 93
	progressComplete       = 100
	sourceSummarySeparator = "\n\n---\n\n"
)

// errCancelled aborts a run whose research was failed by a user cancel.
var errCancelled = errors.New("pipeline: research cancelled")

// Store is the persistence surface the pipeline writes through.
type Store interface {
	GetResearch(ctx context.Context, id string) (*model.Research, error)
	UpdateResearch(ctx context.Context, id string, u model.ResearchUpdate) error
	UpdateTask(ctx context.Context, researchID, taskID string, u model.TaskUpdate) error
	ListTasks(ctx context.Context, researchID string) ([]model.PhaseTask, error)
	InsertSources(ctx context.Context, researchID string, sources []model.Source) error
	InsertFactChecks(ctx context.Context, researchID string, items []model.FactCheckItem) error
	ListFactChecks(ctx context.Context, researchID string) ([]model.FactCheckItem, error)
	SaveReport(ctx context.Context, r *model.Report) error
	CompleteResearch(ctx context.Context, r *model.Report, u model.ResearchUpdate) error
}

// Pipeline runs researches end to end: decomposition, multi-provider
// search, the four analysis phases, fact checking and the report.
type Pipeline struct {
	cfg       *config.Config
	store     Store
	embedder  Embedder
	search    Searcher
	events    events.Publisher
	scorer    *scorer.Scorer
	prompts   *Catalog
	gen       *generator
	costCalc  *cost.Calculator
	providers []model.Provider
	now       func() time.Time
}

// New creates a Pipeline. embedder and pub may be nil.
func New(cfg *config.Config, st Store, llm LLM, embedder Embedder, searcher Searcher, pub events.Publisher) *Pipeline {
	providers := make([]model.Provider, 0, len(cfg.Search.Providers))
	for _, name := range cfg.Search.Providers {
		providers = append(providers, model.Provider(name))
	}
	if len(providers) == 0 {
		providers = model.AllProviders
	}
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		embedder:  embedder,
		search:    searcher,
		events:    pub,
		scorer:    scorer.New(cfg.Search.MinScore),
		prompts:   defaultCatalog,
		gen:       newGenerator(llm, time.Duration(cfg.Pipeline.GenerationTimeoutSecs)*time.Second),
		costCalc:  cost.NewCalculator(cfg.Pricing),
		providers: providers,
		now:       time.Now,
	}
}

// Request identifies the research a run executes.
type Request struct {
	ResearchID  string
	Topic       string
	Description string
	Mode        model.Mode
}

// runState is the per-run context shared by the pipeline stages.
type runState struct {
	req     Request
	log     *zap.Logger
	tracker *cost.Tracker
	ac      *AnalysisContext
	pub     events.Publisher
	now     func() time.Time
}

func (r *runState) emit(ev model.Event) {
	if r.pub == nil {
		return
	}
	ev.ResearchID = r.req.ResearchID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now()
	}
	r.pub.Publish(ev)
}

// Run executes the whole pipeline for one research. It returns nothing:
// outcomes are observable only through the store and published events.
// Run is meant to be started on its own goroutine after submission.
func (p *Pipeline) Run(ctx context.Context, req Request) {
	if !req.Mode.Valid() {
		req.Mode = model.ModeFull
	}
	run := &runState{
		req:     req,
		log:     zap.L().With(zap.String("research_id", req.ResearchID), zap.String("mode", string(req.Mode))),
		tracker: cost.NewTracker(p.costCalc),
		ac:      &AnalysisContext{Topic: req.Topic},
		pub:     p.events,
		now:     p.now,
	}

	start := p.now()
	metrics.RunsStarted.WithLabelValues(string(req.Mode)).Inc()
	run.log.Info("pipeline: starting research", zap.String("topic", req.Topic))

	status := model.StatusCompleted
	err := p.execute(ctx, run)
	switch {
	case err == nil:
	case errors.Is(err, errCancelled), errors.Is(err, store.ErrTerminal):
		status = model.StatusFailed
		run.log.Info("pipeline: research cancelled, stopping")
	default:
		status = model.StatusFailed
		p.fail(ctx, run, err)
	}

	elapsed := p.now().Sub(start)
	total := run.tracker.Total()
	metrics.RunsFinished.WithLabelValues(string(req.Mode), string(status)).Inc()
	metrics.RunDuration.WithLabelValues(string(req.Mode)).Observe(elapsed.Seconds())
	metrics.RunCostUSD.Observe(total)
	run.tracker.Log(run.log)
	run.log.Info("pipeline: research finished",
		zap.String("status", string(status)),
		zap.Duration("elapsed", elapsed),
		zap.Float64("cost_usd", total),
	)
}

func (p *Pipeline) execute(ctx context.Context, run *runState) error {
	req := run.req

	started := p.now()
	if err := p.advance(ctx, run, model.ResearchUpdate{
		Status:          statusPtr(model.StatusCollecting),
		CurrentStep:     strPtr("3사 AI 웹 검색 시작"),
		ProgressPercent: model.Pct(progressCollecting),
		StartedAt:       &started,
	}); err != nil {
		return err
	}
	run.emit(model.Event{
		Type:     model.EventSearchProgress,
		Message:  "3사 AI 웹 검색을 시작합니다",
		Progress: model.Pct(progressCollecting),
	})

	if err := p.collect(ctx, run); err != nil {
		return err
	}

	for _, def := range model.Phases {
		if req.Mode == model.ModeQuick && def.Phase > 1 {
			p.skipPhase(ctx, run, def)
			continue
		}
		if err := p.checkpoint(ctx, run); err != nil {
			return err
		}
		win := phaseWindows[def.Phase]
		if err := p.advance(ctx, run, model.ResearchUpdate{
			Status:          statusPtr(model.PhaseStatus(def.Phase)),
			CurrentPhase:    intPtr(def.Phase),
			CurrentStep:     strPtr(fmt.Sprintf("Phase %d: %s", def.Phase, def.Name)),
			ProgressPercent: model.Pct(win.start),
		}); err != nil {
			return err
		}
		run.emit(model.Event{
			Type:     model.EventPhaseStart,
			Phase:    def.Phase,
			Message:  fmt.Sprintf("Phase %d: %s 시작", def.Phase, def.Name),
			Progress: model.Pct(win.start),
		})
		if err := p.runPhase(ctx, run, def); err != nil {
			return err
		}
	}

	if err := p.checkpoint(ctx, run); err != nil {
		return err
	}
	if err := p.advance(ctx, run, model.ResearchUpdate{
		Status:          statusPtr(model.StatusFinalizing),
		CurrentStep:     strPtr("팩트체크 진행 중"),
		ProgressPercent: model.Pct(progressFactCheck),
	}); err != nil {
		return err
	}
	run.emit(model.Event{
		Type:     model.EventFactCheckStart,
		Message:  "팩트체크를 시작합니다",
		Progress: model.Pct(progressFactCheck),
	})

	checks, err := p.FactCheck(ctx, run)
	if err != nil {
		return eris.Wrap(err, "pipeline: fact check")
	}
	if err := p.store.InsertFactChecks(ctx, req.ResearchID, checks); err != nil {
		return eris.Wrap(err, "pipeline: save fact checks")
	}
	run.emit(model.Event{
		Type:     model.EventFactCheckComplete,
		Message:  fmt.Sprintf("팩트체크 완료: %d개 주장 검증", len(checks)),
		Progress: model.Pct(progressFactChecked),
	})
	if err := p.advance(ctx, run, model.ResearchUpdate{ProgressPercent: model.Pct(progressFactChecked)}); err != nil {
		return err
	}

	if err := p.advance(ctx, run, model.ResearchUpdate{
		CurrentStep:     strPtr("최종 보고서 생성 중"),
		ProgressPercent: model.Pct(progressReport),
	}); err != nil {
		return err
	}
	draft, err := p.GenerateReport(ctx, run.tracker, req.Topic, run.ac.Tasks(), checks)
	if err != nil {
		return eris.Wrap(err, "pipeline: report")
	}
	embedding := p.embed(ctx, run.tracker, run.log, draft.ExecutiveSummary)

	if err := p.checkpoint(ctx, run); err != nil {
		return err
	}
	// A cancel landing after the checkpoint still wins: the report and the
	// completed status are written together or not at all.
	done := p.now()
	if err := p.store.CompleteResearch(ctx, &model.Report{
		ResearchID:       req.ResearchID,
		ExecutiveSummary: draft.ExecutiveSummary,
		FullReport:       draft.FullReport,
		Embedding:        embedding,
	}, model.ResearchUpdate{
		CurrentStep:     strPtr("완료"),
		ProgressPercent: model.Pct(progressComplete),
		CompletedAt:     &done,
	}); err != nil {
		return eris.Wrap(err, "pipeline: complete research")
	}
	run.emit(model.Event{
		Type:     model.EventPipelineComplete,
		Message:  "리서치가 완료되었습니다!",
		Progress: model.Pct(progressComplete),
	})
	return nil
}

// collect decomposes the topic, runs the bilingual batch search, and
// persists the scored sources. Its aggregated text seeds the analysis.
func (p *Pipeline) collect(ctx context.Context, run *runState) error {
	req := run.req
	dec := p.Decompose(ctx, run.tracker, req.Topic, req.Description, req.Mode)
	run.log.Info("pipeline: topic decomposed",
		zap.Int("sub_queries", len(dec.SubQueries)),
		zap.Bool("fallback", dec.Fallback),
	)

	resp, err := p.search.Batch(ctx, dec.SubQueries, search.BatchOptions{
		Concurrency: p.cfg.Search.BatchConcurrency,
		Providers:   p.providers,
		Language:    model.LangBoth,
		Mode:        search.ModeSearch,
		OnProgress: func(qp search.QueryProgress) {
			pct := progressCollecting + int(math.Round(float64(progressSearched-progressCollecting)*float64(qp.Completed)/float64(qp.Total)))
			run.emit(model.Event{
				Type:     model.EventSearchProgress,
				Message:  fmt.Sprintf("검색 %d/%d 완료: %s (%d개 소스)", qp.Completed, qp.Total, qp.Query, qp.SourcesFound),
				Progress: model.Pct(pct),
			})
		},
	})
	if err != nil {
		return eris.Wrap(err, "pipeline: search")
	}
	for _, r := range resp.Results {
		if r != nil {
			run.tracker.Record(r.Provider, r.Model, r.Usage)
		}
	}

	sources := p.scorer.Filter(resp.Sources)
	if err := p.store.InsertSources(ctx, req.ResearchID, sources); err != nil {
		return eris.Wrap(err, "pipeline: save sources")
	}
	run.ac.Sources = sourceSummary(resp.Results)
	run.log.Info("pipeline: sources collected",
		zap.Int("merged", len(resp.Sources)),
		zap.Int("kept", len(sources)),
		zap.Int("failed_providers", len(resp.Failed)),
		zap.Bool("low_confidence", resp.LowConfidence),
	)

	return p.advance(ctx, run, model.ResearchUpdate{
		CurrentStep:     strPtr(fmt.Sprintf("웹 검색 완료: %d개 소스 수집", len(sources))),
		ProgressPercent: model.Pct(progressSearched),
	})
}

// sourceSummary renders every successful provider answer as
// "[provider]\ntext" blocks.
func sourceSummary(results []*search.Result) string {
	var parts []string
	for _, r := range results {
		if !r.OK() || strings.TrimSpace(r.Text) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s]\n%s", r.Provider, r.Text))
	}
	return strings.Join(parts, sourceSummarySeparator)
}

// checkpoint aborts the run when the research has been cancelled.
func (p *Pipeline) checkpoint(ctx context.Context, run *runState) error {
	r, err := p.store.GetResearch(ctx, run.req.ResearchID)
	if err != nil {
		return eris.Wrap(err, "pipeline: checkpoint")
	}
	if r.Status == model.StatusFailed {
		return errCancelled
	}
	return nil
}

// advance persists progress. Only a terminal research stops the run;
// other store errors are logged and the run continues.
func (p *Pipeline) advance(ctx context.Context, run *runState, u model.ResearchUpdate) error {
	err := p.store.UpdateResearch(ctx, run.req.ResearchID, u)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrTerminal) {
		return err
	}
	run.log.Warn("pipeline: progress update failed", zap.Error(err))
	return nil
}

func (p *Pipeline) updateTask(ctx context.Context, run *runState, taskID string, u model.TaskUpdate) {
	if err := p.store.UpdateTask(ctx, run.req.ResearchID, taskID, u); err != nil {
		run.log.Warn("pipeline: task update failed", zap.String("task", taskID), zap.Error(err))
	}
}

// fail marks the research failed and notifies subscribers. It runs even
// when ctx is already cancelled.
func (p *Pipeline) fail(ctx context.Context, run *runState, cause error) {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	var apf *search.AllProvidersFailedError
	if errors.As(cause, &apf) {
		msg = apf.Error()
	}
	run.log.Error("pipeline: research failed", zap.Error(cause))

	if err := p.store.UpdateResearch(ctx, run.req.ResearchID, model.ResearchUpdate{
		Status:       statusPtr(model.StatusFailed),
		ErrorMessage: &msg,
	}); err != nil && !errors.Is(err, store.ErrTerminal) {
		run.log.Error("pipeline: persist failure", zap.Error(err))
	}
	run.emit(model.Event{
		Type:    model.EventPipelineError,
		Message: "파이프라인 오류: " + msg,
		Error:   msg,
	})
}

func statusPtr(s model.ResearchStatus) *model.ResearchStatus { return &s }

func intPtr(n int) *int { return &n }
