package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResearchStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from ResearchStatus
		to   ResearchStatus
		want bool
	}{
		{StatusPending, StatusCollecting, true},
		{StatusCollecting, StatusPhase1, true},
		{StatusPhase1, StatusFinalizing, true},
		{StatusPhase4, StatusFinalizing, true},
		{StatusFinalizing, StatusCompleted, true},
		{StatusPhase2, StatusPhase1, false},
		{StatusPhase1, StatusPhase1, false},
		{StatusPhase3, StatusFailed, true},
		{StatusPending, StatusFailed, true},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCollecting, false},
		{StatusFailed, StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestResearchStatusActive(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusPending.IsActive())
	assert.True(t, StatusCollecting.IsActive())
	assert.True(t, StatusFinalizing.IsActive())
	assert.False(t, StatusCompleted.IsActive())
	assert.False(t, StatusFailed.IsActive())

	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPhase2.IsTerminal())
}

func TestPhaseStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StatusPhase1, PhaseStatus(1))
	assert.Equal(t, StatusPhase4, PhaseStatus(4))
	assert.Equal(t, StatusCollecting, PhaseStatus(0))
}

func TestInitialTasks(t *testing.T) {
	t.Parallel()

	tasks := InitialTasks("r-1")
	assert.Len(t, tasks, 10)

	perPhase := map[int]int{}
	for _, task := range tasks {
		assert.Equal(t, "r-1", task.ResearchID)
		assert.Equal(t, TaskPending, task.Status)
		assert.NotEmpty(t, task.TaskName)
		perPhase[task.Phase]++
	}
	assert.Equal(t, map[int]int{1: 3, 2: 3, 3: 2, 4: 2}, perPhase)
	assert.Equal(t, "1.1", tasks[0].TaskID)
	assert.Equal(t, "4.2", tasks[9].TaskID)
}

func TestPhaseByNumber(t *testing.T) {
	t.Parallel()

	p, ok := PhaseByNumber(3)
	assert.True(t, ok)
	assert.Equal(t, "지식 통합", p.Name)
	assert.Len(t, p.Tasks, 2)

	_, ok = PhaseByNumber(5)
	assert.False(t, ok)
}

func TestTrustGradeNote(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "검증 결과: 3사 일치", GradeA.Note())
	assert.Equal(t, "검증 결과: 부분 불일치", GradeD.Note())
	assert.Equal(t, "검증 결과: 오류/상충", GradeF.Note())
}

func TestEventTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, EventPipelineComplete.Terminal())
	assert.True(t, EventPipelineError.Terminal())
	assert.False(t, EventTaskComplete.Terminal())
	assert.Equal(t, 42, *Pct(42))
}

func TestModeValid(t *testing.T) {
	t.Parallel()

	assert.True(t, ModeQuick.Valid())
	assert.True(t, ModeFull.Valid())
	assert.False(t, Mode("turbo").Valid())
}
