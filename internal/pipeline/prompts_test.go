package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deep-research/internal/model"
)

func TestDefaultCatalog_CoversEveryTask(t *testing.T) {
	for _, p := range model.Phases {
		for _, task := range p.Tasks {
			system, user, err := defaultCatalog.Task(task.ID, TaskPromptData{
				Topic:   "전기차 배터리",
				Sources: "SOURCES-MARKER",
				Phase1:  "PHASE1-MARKER",
				Phase2:  "PHASE2-MARKER",
				Phase3:  "PHASE3-MARKER",
			})
			require.NoError(t, err, task.ID)
			assert.NotEmpty(t, system, task.ID)
			assert.Contains(t, user, "전기차 배터리", task.ID)
			assert.NotContains(t, user, "{{", task.ID)

			switch p.Phase {
			case 1:
				assert.Contains(t, user, "SOURCES-MARKER", task.ID)
			case 4:
				assert.NotContains(t, user, "SOURCES-MARKER", task.ID)
				assert.Contains(t, user, "PHASE3-MARKER", task.ID)
			}
		}
	}
}

func TestCatalog_UnknownTask(t *testing.T) {
	_, _, err := defaultCatalog.Task("9.9", TaskPromptData{})
	assert.Error(t, err)
}

func TestCatalog_RenderReport(t *testing.T) {
	_, user, err := defaultCatalog.report.render(reportPromptData{
		Topic:      "주제",
		Summary:    "요약",
		Phases:     "phases",
		FactChecks: "1. [A] claim",
		Grades:     GradeDistribution{A: 2, B: 1, F: 1},
	})
	require.NoError(t, err)
	assert.Contains(t, user, "A(2) B(1) C(0) D(0) F(1)")
	assert.Contains(t, user, "1. [A] claim")
}

func TestLoadCatalog_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "invalid yaml", yaml: "decompose: [", want: "parse catalog"},
		{name: "missing user", yaml: "decompose:\n  system: s\n", want: "needs both system and user"},
		{name: "bad template", yaml: validHeader() + "tasks:\n  \"1.1\":\n    system: s\n    user: \"{{.Topic\"\n", want: "parse task 1.1"},
		{name: "missing task", yaml: validHeader() + "tasks: {}\n", want: "missing task 1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalog([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompiled_MissingKey(t *testing.T) {
	c, err := compile("broken", promptPair{System: "s", User: "{{.Nope}}"})
	require.NoError(t, err)
	_, _, err = c.render(map[string]string{})
	assert.Error(t, err)
}

func validHeader() string {
	var sb strings.Builder
	for _, key := range []string{"decompose", "claims", "summary", "report"} {
		sb.WriteString(key + ":\n  system: s\n  user: u\n")
	}
	return sb.String()
}
