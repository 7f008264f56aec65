package model

import (
	"time"
)

// ResearchStatus represents the current state of a research run.
type ResearchStatus string

const (
	StatusPending    ResearchStatus = "pending"
	StatusCollecting ResearchStatus = "collecting"
	StatusPhase1     ResearchStatus = "phase1"
	StatusPhase2     ResearchStatus = "phase2"
	StatusPhase3     ResearchStatus = "phase3"
	StatusPhase4     ResearchStatus = "phase4"
	StatusFinalizing ResearchStatus = "finalizing"
	StatusCompleted  ResearchStatus = "completed"
	StatusFailed     ResearchStatus = "failed"
)

// CancelledMessage is the error_message stored when a user cancels a run.
const CancelledMessage = "사용자에 의해 취소됨"

var statusOrder = map[ResearchStatus]int{
	StatusPending:    0,
	StatusCollecting: 1,
	StatusPhase1:     2,
	StatusPhase2:     3,
	StatusPhase3:     4,
	StatusPhase4:     5,
	StatusFinalizing: 6,
	StatusCompleted:  7,
}

// ActiveStatuses are the statuses of a run that is currently executing.
var ActiveStatuses = []ResearchStatus{
	StatusCollecting,
	StatusPhase1,
	StatusPhase2,
	StatusPhase3,
	StatusPhase4,
	StatusFinalizing,
}

// IsActive reports whether the status belongs to a running pipeline.
func (s ResearchStatus) IsActive() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s ResearchStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is allowed: forward
// along the linear chain, or to failed from any non-terminal state.
func (s ResearchStatus) CanTransition(next ResearchStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// PhaseStatus returns the research status for an analysis phase number.
func PhaseStatus(phase int) ResearchStatus {
	switch phase {
	case 1:
		return StatusPhase1
	case 2:
		return StatusPhase2
	case 3:
		return StatusPhase3
	case 4:
		return StatusPhase4
	}
	return StatusCollecting
}

// Mode selects how much of the pipeline runs.
type Mode string

const (
	ModeQuick Mode = "quick" // Phase 1 + fact check + report
	ModeFull  Mode = "full"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeQuick || m == ModeFull
}

// Research is one pipeline run.
type Research struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Topic           string         `json:"topic"`
	Description     string         `json:"description,omitempty"`
	Mode            Mode           `json:"mode"`
	Status          ResearchStatus `json:"status"`
	CurrentPhase    int            `json:"current_phase"`
	CurrentStep     string         `json:"current_step"`
	ProgressPercent int            `json:"progress_percent"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ParentID        string         `json:"parent_id,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ResearchUpdate is a partial update applied to a Research row. Nil fields
// are left untouched.
type ResearchUpdate struct {
	Status          *ResearchStatus
	CurrentPhase    *int
	CurrentStep     *string
	ProgressPercent *int
	ErrorMessage    *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// TaskStatus is the lifecycle state of a PhaseTask.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped" // phase not run in quick mode
)

// PhaseTask is one unit of LLM work within a phase.
type PhaseTask struct {
	ResearchID  string     `json:"research_id"`
	Phase       int        `json:"phase"`
	TaskID      string     `json:"task_id"`
	TaskName    string     `json:"task_name"`
	Status      TaskStatus `json:"status"`
	Content     string     `json:"content,omitempty"`
	ModelUsed   string     `json:"model_used,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskUpdate is a partial update applied to a PhaseTask row.
type TaskUpdate struct {
	Status      TaskStatus
	Content     *string
	ModelUsed   *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// TrustGrade summarizes cross-provider agreement on a claim.
type TrustGrade string

const (
	GradeA TrustGrade = "A"
	GradeB TrustGrade = "B"
	GradeC TrustGrade = "C"
	GradeD TrustGrade = "D"
	GradeF TrustGrade = "F"
)

// Grades lists every trust grade in descending order.
var Grades = []TrustGrade{GradeA, GradeB, GradeC, GradeD, GradeF}

// Note returns the short verdict label stored alongside a fact check.
func (g TrustGrade) Note() string {
	switch g {
	case GradeA:
		return "검증 결과: 3사 일치"
	case GradeB:
		return "검증 결과: 2사 확인"
	case GradeC:
		return "검증 결과: 1사 확인"
	case GradeD:
		return "검증 결과: 부분 불일치"
	}
	return "검증 결과: 오류/상충"
}

// FactCheckItem is one verified claim.
type FactCheckItem struct {
	ID              int64      `json:"id,omitempty"`
	ResearchID      string     `json:"research_id"`
	Phase           int        `json:"phase"`
	Claim           string     `json:"claim"`
	OpenAIResult    *string    `json:"openai_result"`
	AnthropicResult *string    `json:"anthropic_result"`
	GeminiResult    *string    `json:"gemini_result"`
	Grade           TrustGrade `json:"grade"`
	ConfidenceScore *float64   `json:"confidence_score,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Report is the synthesized artifact of a completed run.
type Report struct {
	ResearchID       string    `json:"research_id"`
	ExecutiveSummary string    `json:"executive_summary"`
	FullReport       string    `json:"full_report"`
	Embedding        []float32 `json:"-"`
	ShareToken       string    `json:"share_token,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SharedReport is a report resolved through its share token.
type SharedReport struct {
	Report
	Topic             string    `json:"topic"`
	ResearchCreatedAt time.Time `json:"research_created_at"`
}

// SearchMatch is one semantic search hit.
type SearchMatch struct {
	ResearchID       string  `json:"research_id"`
	Topic            string  `json:"topic"`
	ExecutiveSummary string  `json:"executive_summary"`
	Similarity       float64 `json:"similarity"`
}

// ResearchDetail bundles a research with all of its child rows.
type ResearchDetail struct {
	Research
	Sources    []Source        `json:"sources"`
	Tasks      []PhaseTask     `json:"phase_results"`
	FactChecks []FactCheckItem `json:"fact_checks"`
	Report     *Report         `json:"report"`
}
