package model

import "time"

// EventType is the fixed set of live progress events.
type EventType string

const (
	EventPhaseStart        EventType = "phase_start"
	EventTaskStart         EventType = "task_start"
	EventSearchProgress    EventType = "search_progress"
	EventTaskComplete      EventType = "task_complete"
	EventPhaseComplete     EventType = "phase_complete"
	EventFactCheckStart    EventType = "fact_check_start"
	EventFactCheckComplete EventType = "fact_check_complete"
	EventPipelineComplete  EventType = "pipeline_complete"
	EventPipelineError     EventType = "pipeline_error"
)

// Terminal reports whether no events follow this one for the run.
func (t EventType) Terminal() bool {
	return t == EventPipelineComplete || t == EventPipelineError
}

// Event is a progress notification delivered to live subscribers.
type Event struct {
	Type       EventType `json:"type"`
	ResearchID string    `json:"research_id"`
	Phase      int       `json:"phase,omitempty"`
	Task       string    `json:"task,omitempty"`
	Message    string    `json:"message"`
	Progress   *int      `json:"progress,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Pct is a helper for populating Event.Progress.
func Pct(p int) *int {
	return &p
}
