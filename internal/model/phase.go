package model

// TaskDef is a fixed analysis task.
type TaskDef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PhaseDef is a fixed analysis phase and its ordered tasks.
type PhaseDef struct {
	Phase       int       `json:"phase"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Tasks       []TaskDef `json:"tasks"`
}

// Phases is the hard-coded phase/task layout. Ten tasks total: 3+3+2+2.
var Phases = []PhaseDef{
	{
		Phase:       1,
		Name:        "심층 분석",
		Description: "핵심 인사이트 및 논리 검증",
		Tasks: []TaskDef{
			{ID: "1.1", Name: "핵심 인사이트 및 통념 타파"},
			{ID: "1.2", Name: "논리적 엄밀성 및 근거 강도 평가"},
			{ID: "1.3", Name: "데이터 교차 검증 및 모순점 추적"},
		},
	},
	{
		Phase:       2,
		Name:        "비판적 사고",
		Description: "사각지대 발굴 및 레드팀 분석",
		Tasks: []TaskDef{
			{ID: "2.1", Name: "레드팀식 약점 공격"},
			{ID: "2.2", Name: "숨겨진 전제 조건 역추적"},
			{ID: "2.3", Name: "학술적/실무적 공백 탐색"},
		},
	},
	{
		Phase:       3,
		Name:        "지식 통합",
		Description: "거시적 프레임워크 및 예측",
		Tasks: []TaskDef{
			{ID: "3.1", Name: "메타 프레임워크 구축"},
			{ID: "3.2", Name: "진화 타임라인 및 미래 예측"},
		},
	},
	{
		Phase:       4,
		Name:        "실전 적용",
		Description: "실행 계획 및 커뮤니케이션",
		Tasks: []TaskDef{
			{ID: "4.1", Name: "다중 이해관계자 맞춤형 메시지"},
			{ID: "4.2", Name: "실행 마스터플랜"},
		},
	},
}

// PhaseByNumber returns the definition for phase n.
func PhaseByNumber(n int) (PhaseDef, bool) {
	for _, p := range Phases {
		if p.Phase == n {
			return p, true
		}
	}
	return PhaseDef{}, false
}

// InitialTasks builds the ten pending task rows created at submission.
func InitialTasks(researchID string) []PhaseTask {
	var tasks []PhaseTask
	for _, p := range Phases {
		for _, t := range p.Tasks {
			tasks = append(tasks, PhaseTask{
				ResearchID: researchID,
				Phase:      p.Phase,
				TaskID:     t.ID,
				TaskName:   t.Name,
				Status:     TaskPending,
			})
		}
	}
	return tasks
}
