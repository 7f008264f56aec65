package store

import (
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/sells-group/deep-research/internal/model"
)

// dialect holds the per-driver differences of the shared query builders.
type dialect struct {
	sb       sq.StatementBuilderType
	greatest string
}

var (
	postgresDialect = dialect{sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar), greatest: "GREATEST"}
	sqliteDialect   = dialect{sb: sq.StatementBuilder.PlaceholderFormat(sq.Question), greatest: "MAX"}
)

var researchColumns = []string{
	"id", "user_id", "topic", "description", "mode", "status",
	"current_phase", "current_step", "progress_percent", "error_message",
	"parent_id", "started_at", "completed_at", "created_at", "updated_at",
}

var taskColumns = []string{
	"research_id", "phase", "task_id", "task_name", "status",
	"content", "model_used", "started_at", "completed_at",
}

var sourceColumns = []string{
	"research_id", "provider", "providers", "title", "url", "snippet",
	"source_type", "reliability_score", "cross_validated", "page_age",
	"language", "confidence", "created_at",
}

var factCheckColumns = []string{
	"research_id", "phase", "claim", "openai_result", "anthropic_result",
	"gemini_result", "grade", "confidence_score", "notes", "created_at",
}

var terminalStatuses = []string{string(model.StatusCompleted), string(model.StatusFailed)}

func activeStatuses() []string {
	out := make([]string, len(model.ActiveStatuses))
	for i, s := range model.ActiveStatuses {
		out[i] = string(s)
	}
	return out
}

func (d dialect) getResearch(id string) (string, []any, error) {
	return d.sb.Select(researchColumns...).From("research").Where(sq.Eq{"id": id}).ToSql()
}

func (d dialect) listResearch(f ResearchFilter) (string, []any, error) {
	q := d.sb.Select(researchColumns...).From("research")
	if f.UserID != "" {
		q = q.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.Topic != "" {
		q = q.Where(sq.Like{"LOWER(topic)": "%" + strings.ToLower(f.Topic) + "%"})
	}
	q = q.OrderBy("created_at DESC").Limit(f.limit())
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q.ToSql()
}

func (d dialect) countActive(userID string) (string, []any, error) {
	return d.sb.Select("COUNT(*)").From("research").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Eq{"status": activeStatuses()}).
		ToSql()
}

// updateResearch builds a partial update that never lowers progress and
// never touches a terminal row.
func (d dialect) updateResearch(id string, u model.ResearchUpdate, now time.Time) (string, []any, error) {
	q := d.sb.Update("research")
	if u.Status != nil {
		q = q.Set("status", string(*u.Status))
	}
	if u.CurrentPhase != nil {
		q = q.Set("current_phase", *u.CurrentPhase)
	}
	if u.CurrentStep != nil {
		q = q.Set("current_step", *u.CurrentStep)
	}
	if u.ProgressPercent != nil {
		q = q.Set("progress_percent", sq.Expr(d.greatest+"(progress_percent, ?)", clampPercent(*u.ProgressPercent)))
	}
	if u.ErrorMessage != nil {
		q = q.Set("error_message", *u.ErrorMessage)
	}
	if u.StartedAt != nil {
		q = q.Set("started_at", *u.StartedAt)
	}
	if u.CompletedAt != nil {
		q = q.Set("completed_at", *u.CompletedAt)
	}
	return q.Set("updated_at", now).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": terminalStatuses}).
		ToSql()
}

func (d dialect) updateTask(researchID, taskID string, u model.TaskUpdate) (string, []any, error) {
	if u.Status == "" {
		return "", nil, eris.New("store: task update requires a status")
	}
	q := d.sb.Update("phase_results").Set("status", string(u.Status))
	if u.Content != nil {
		q = q.Set("content", *u.Content)
	}
	if u.ModelUsed != nil {
		q = q.Set("model_used", *u.ModelUsed)
	}
	if u.StartedAt != nil {
		q = q.Set("started_at", *u.StartedAt)
	}
	if u.CompletedAt != nil {
		q = q.Set("completed_at", *u.CompletedAt)
	}
	return q.Where(sq.Eq{"research_id": researchID}).Where(sq.Eq{"task_id": taskID}).ToSql()
}

func (d dialect) listTasks(researchID string) (string, []any, error) {
	return d.sb.Select(taskColumns...).From("phase_results").
		Where(sq.Eq{"research_id": researchID}).
		OrderBy("phase", "task_id").
		ToSql()
}

func (d dialect) listSources(researchID string) (string, []any, error) {
	return d.sb.Select(append([]string{"id"}, sourceColumns...)...).From("sources").
		Where(sq.Eq{"research_id": researchID}).
		OrderBy("reliability_score DESC", "id").
		ToSql()
}

func (d dialect) listFactChecks(researchID string) (string, []any, error) {
	return d.sb.Select(append([]string{"id"}, factCheckColumns...)...).From("fact_checks").
		Where(sq.Eq{"research_id": researchID}).
		OrderBy("id").
		ToSql()
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
