package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/deep-research/internal/metrics"
	"github.com/sells-group/deep-research/internal/model"
)

// Budget caps how many characters of each context part a phase's prompts
// receive.
type Budget struct {
	Sources int
	Phase1  int
	Phase2  int
	Phase3  int
}

// PhaseBudgets is the per-phase context budget.
var PhaseBudgets = map[int]Budget{
	1: {Sources: 15000},
	2: {Sources: 12000, Phase1: 6000},
	3: {Sources: 10000, Phase1: 5000, Phase2: 5000},
	4: {Phase1: 4000, Phase2: 4000, Phase3: 4000},
}

// phaseWindow is the progress range a phase advances through.
type phaseWindow struct{ start, end int }

var phaseWindows = map[int]phaseWindow{
	1: {20, 35},
	2: {40, 55},
	3: {60, 70},
	4: {75, 85},
}

// taskVerb is the in-progress label shown while a phase's task runs.
var taskVerb = map[int]string{
	1: "AI 분석 중...",
	2: "레드팀 분석 중...",
	3: "지식 통합 중...",
	4: "전략 수립 중...",
}

// AnalysisContext accumulates the aggregated search text and every task
// output of a run. Phases read it through their Budget.
type AnalysisContext struct {
	Topic   string
	Sources string
	tasks   []model.PhaseTask
}

// Add records a finished task, successful or not.
func (c *AnalysisContext) Add(t model.PhaseTask) {
	c.tasks = append(c.tasks, t)
}

// Tasks returns the recorded tasks in execution order.
func (c *AnalysisContext) Tasks() []model.PhaseTask {
	return c.tasks
}

// PhaseContent joins the contents of a phase's tasks.
func (c *AnalysisContext) PhaseContent(phase int) string {
	var parts []string
	for _, t := range c.tasks {
		if t.Phase == phase {
			parts = append(parts, t.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// AllContent joins every task's content in execution order.
func (c *AnalysisContext) AllContent() string {
	parts := make([]string, len(c.tasks))
	for i, t := range c.tasks {
		parts[i] = t.Content
	}
	return strings.Join(parts, "\n\n")
}

// PromptData returns the budgeted template input for phase.
func (c *AnalysisContext) PromptData(phase int) TaskPromptData {
	b := PhaseBudgets[phase]
	return TaskPromptData{
		Topic:   c.Topic,
		Sources: truncate(c.Sources, b.Sources),
		Phase1:  truncate(c.PhaseContent(1), b.Phase1),
		Phase2:  truncate(c.PhaseContent(2), b.Phase2),
		Phase3:  truncate(c.PhaseContent(3), b.Phase3),
	}
}

// runTask renders and executes one analysis task.
func (p *Pipeline) runTask(ctx context.Context, run *runState, phase int, taskID string) (*generation, error) {
	system, user, err := p.prompts.Task(taskID, run.ac.PromptData(phase))
	if err != nil {
		return nil, err
	}
	return p.gen.generate(ctx, run.tracker, p.cfg.Anthropic.SonnetModel, maxTokensTask, system, user)
}

// runPhase executes def's tasks strictly in order. A failed task is
// recorded with "[Error] <msg>" content and does not stop the phase.
func (p *Pipeline) runPhase(ctx context.Context, run *runState, def model.PhaseDef) error {
	win := phaseWindows[def.Phase]
	step := float64(win.end-win.start) / float64(len(def.Tasks))
	at := func(i int) int { return win.start + int(math.Round(step*float64(i))) }

	for i, task := range def.Tasks {
		run.emit(model.Event{
			Type:     model.EventTaskStart,
			Phase:    def.Phase,
			Task:     task.ID,
			Message:  fmt.Sprintf("Phase %d Task %s %s", def.Phase, task.ID, taskVerb[def.Phase]),
			Progress: model.Pct(at(i)),
		})

		started := p.now()
		p.updateTask(ctx, run, task.ID, model.TaskUpdate{Status: model.TaskRunning, StartedAt: &started})

		out := model.PhaseTask{
			ResearchID: run.req.ResearchID,
			Phase:      def.Phase,
			TaskID:     task.ID,
			TaskName:   task.Name,
		}

		gen, err := p.runTask(ctx, run, def.Phase, task.ID)
		done := p.now()
		out.StartedAt, out.CompletedAt = &started, &done

		if err != nil {
			out.Status = model.TaskFailed
			out.Content = "[Error] " + err.Error()
			run.log.Warn("pipeline: task failed",
				zap.String("task", task.ID),
				zap.Duration("elapsed", done.Sub(started)),
				zap.Error(err),
			)
			p.updateTask(ctx, run, task.ID, model.TaskUpdate{
				Status:      model.TaskFailed,
				Content:     &out.Content,
				CompletedAt: &done,
			})
			run.emit(model.Event{
				Type:     model.EventTaskComplete,
				Phase:    def.Phase,
				Task:     task.ID,
				Message:  fmt.Sprintf("Task %s 실패", task.ID),
				Progress: model.Pct(at(i + 1)),
				Error:    err.Error(),
			})
		} else {
			out.Status = model.TaskCompleted
			out.Content = gen.Text
			out.ModelUsed = gen.Model
			run.log.Info("pipeline: task complete",
				zap.String("task", task.ID),
				zap.Duration("elapsed", done.Sub(started)),
				zap.Int("chars", len(gen.Text)),
			)
			p.updateTask(ctx, run, task.ID, model.TaskUpdate{
				Status:      model.TaskCompleted,
				Content:     &out.Content,
				ModelUsed:   &out.ModelUsed,
				CompletedAt: &done,
			})
			run.emit(model.Event{
				Type:     model.EventTaskComplete,
				Phase:    def.Phase,
				Task:     task.ID,
				Message:  fmt.Sprintf("Task %s 완료", task.ID),
				Progress: model.Pct(at(i + 1)),
			})
		}
		metrics.TasksFinished.WithLabelValues(task.ID, string(out.Status)).Inc()
		run.ac.Add(out)

		if err := p.advance(ctx, run, model.ResearchUpdate{
			ProgressPercent: model.Pct(at(i + 1)),
			CurrentStep:     strPtr(fmt.Sprintf("Phase %d Task %s %s", def.Phase, task.ID, statusLabel(out.Status))),
		}); err != nil {
			return err
		}
	}

	run.emit(model.Event{
		Type:     model.EventPhaseComplete,
		Phase:    def.Phase,
		Message:  fmt.Sprintf("Phase %d 완료", def.Phase),
		Progress: model.Pct(win.end),
	})
	return p.advance(ctx, run, model.ResearchUpdate{ProgressPercent: model.Pct(win.end)})
}

// skipPhase closes out the tasks of a phase the run's mode leaves out.
func (p *Pipeline) skipPhase(ctx context.Context, run *runState, def model.PhaseDef) {
	for _, task := range def.Tasks {
		p.updateTask(ctx, run, task.ID, model.TaskUpdate{Status: model.TaskSkipped})
	}
}

func statusLabel(s model.TaskStatus) string {
	if s == model.TaskFailed {
		return "실패"
	}
	return "완료"
}

func strPtr(s string) *string { return &s }
