package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/deep-research/internal/cost"
	"github.com/sells-group/deep-research/internal/model"
)

const (
	summaryPhaseBudget = 8000
	reportPhaseBudget  = 15000
	emptyTaskContent   = "[결과 없음]"
)

// GradeDistribution counts fact checks per trust grade.
type GradeDistribution struct {
	A, B, C, D, F int
}

// Distribution tallies checks by grade.
func Distribution(checks []model.FactCheckItem) GradeDistribution {
	var d GradeDistribution
	for _, fc := range checks {
		switch fc.Grade {
		case model.GradeA:
			d.A++
		case model.GradeB:
			d.B++
		case model.GradeC:
			d.C++
		case model.GradeD:
			d.D++
		case model.GradeF:
			d.F++
		}
	}
	return d
}

// ReportDraft is the generated text of a report.
type ReportDraft struct {
	ExecutiveSummary string
	FullReport       string
}

// PhaseDigest renders task outputs grouped by phase, phases ascending and
// tasks in the given order. Tasks that never ran are left out.
func PhaseDigest(tasks []model.PhaseTask) string {
	byPhase := make(map[int][]model.PhaseTask)
	for _, t := range tasks {
		if t.Status == model.TaskPending || t.Status == model.TaskSkipped {
			continue
		}
		byPhase[t.Phase] = append(byPhase[t.Phase], t)
	}

	var sections []string
	for _, def := range model.Phases {
		list := byPhase[def.Phase]
		if len(list) == 0 {
			continue
		}
		parts := make([]string, len(list))
		for i, t := range list {
			content := t.Content
			if strings.TrimSpace(content) == "" {
				content = emptyTaskContent
			}
			parts[i] = fmt.Sprintf("### Task %s: %s\n%s", t.TaskID, t.TaskName, content)
		}
		sections = append(sections, fmt.Sprintf("## Phase %d\n%s", def.Phase, strings.Join(parts, "\n\n")))
	}
	return strings.Join(sections, "\n\n---\n\n")
}

// FactCheckDigest renders one "n. [grade] claim" line per check.
func FactCheckDigest(checks []model.FactCheckItem) string {
	lines := make([]string, len(checks))
	for i, fc := range checks {
		lines[i] = fmt.Sprintf("%d. [%s] %s", i+1, fc.Grade, fc.Claim)
	}
	return strings.Join(lines, "\n")
}

// GenerateReport writes the executive summary, then the full eight-section
// report that embeds it.
func (p *Pipeline) GenerateReport(ctx context.Context, tracker *cost.Tracker, topic string, tasks []model.PhaseTask, checks []model.FactCheckItem) (*ReportDraft, error) {
	phases := PhaseDigest(tasks)
	facts := FactCheckDigest(checks)

	system, user, err := p.prompts.summary.render(summaryPromptData{
		Topic:      topic,
		Phases:     truncate(phases, summaryPhaseBudget),
		FactChecks: facts,
	})
	if err != nil {
		return nil, err
	}
	summary, err := p.gen.generate(ctx, tracker, p.cfg.Anthropic.SonnetModel, maxTokensSummary, system, user)
	if err != nil {
		return nil, err
	}

	system, user, err = p.prompts.report.render(reportPromptData{
		Topic:      topic,
		Summary:    summary.Text,
		Phases:     truncate(phases, reportPhaseBudget),
		FactChecks: facts,
		Grades:     Distribution(checks),
	})
	if err != nil {
		return nil, err
	}
	full, err := p.gen.generate(ctx, tracker, p.cfg.Anthropic.SonnetModel, maxTokensReport, system, user)
	if err != nil {
		return nil, err
	}

	return &ReportDraft{ExecutiveSummary: summary.Text, FullReport: full.Text}, nil
}

// embed returns the summary embedding, or nil when the embedder is
// missing or fails. Reports are saved either way.
func (p *Pipeline) embed(ctx context.Context, tracker *cost.Tracker, log *zap.Logger, text string) []float32 {
	if p.embedder == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	resp, err := p.embedder.Embed(ctx, text)
	if err != nil {
		log.Warn("pipeline: embedding failed, saving report without vector", zap.Error(err))
		return nil
	}
	tracker.Record(model.ProviderOpenAI, resp.Model, cost.Usage{InputTokens: resp.Tokens})
	return resp.Embedding
}

// Regenerate rebuilds the summary, full report and embedding of a research
// from its stored tasks and fact checks, then upserts the report.
func (p *Pipeline) Regenerate(ctx context.Context, researchID string) (*model.Report, error) {
	log := zap.L().With(zap.String("research_id", researchID))

	r, err := p.store.GetResearch(ctx, researchID)
	if err != nil {
		return nil, err
	}
	tasks, err := p.store.ListTasks(ctx, researchID)
	if err != nil {
		return nil, err
	}
	checks, err := p.store.ListFactChecks(ctx, researchID)
	if err != nil {
		return nil, err
	}
	log.Info("pipeline: regenerating report", zap.Int("tasks", len(tasks)), zap.Int("fact_checks", len(checks)))

	tracker := cost.NewTracker(p.costCalc)
	draft, err := p.GenerateReport(ctx, tracker, r.Topic, tasks, checks)
	if err != nil {
		return nil, err
	}

	report := &model.Report{
		ResearchID:       researchID,
		ExecutiveSummary: draft.ExecutiveSummary,
		FullReport:       draft.FullReport,
		Embedding:        p.embed(ctx, tracker, log, draft.ExecutiveSummary),
	}
	if err := p.store.SaveReport(ctx, report); err != nil {
		return nil, err
	}
	tracker.Log(log)
	return report, nil
}
