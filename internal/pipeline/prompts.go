package pipeline

import (
	_ "embed"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/deep-research/internal/model"
)

//go:embed prompts.yaml
var promptsYAML []byte

// promptPair is a system prompt plus a templated user message.
type promptPair struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type catalogFile struct {
	Decompose promptPair            `yaml:"decompose"`
	Tasks     map[string]promptPair `yaml:"tasks"`
	Claims    promptPair            `yaml:"claims"`
	Summary   promptPair            `yaml:"summary"`
	Report    promptPair            `yaml:"report"`
}

type compiled struct {
	system string
	user   *template.Template
}

// Catalog holds the compiled prompt templates.
type Catalog struct {
	decompose compiled
	tasks     map[string]compiled
	claims    compiled
	summary   compiled
	report    compiled
}

// LoadCatalog parses a YAML prompt catalog. Every task in model.Phases
// must have an entry.
func LoadCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "prompts: parse catalog")
	}

	c := &Catalog{tasks: make(map[string]compiled, len(f.Tasks))}
	var err error
	if c.decompose, err = compile("decompose", f.Decompose); err != nil {
		return nil, err
	}
	if c.claims, err = compile("claims", f.Claims); err != nil {
		return nil, err
	}
	if c.summary, err = compile("summary", f.Summary); err != nil {
		return nil, err
	}
	if c.report, err = compile("report", f.Report); err != nil {
		return nil, err
	}

	for _, p := range model.Phases {
		for _, t := range p.Tasks {
			pair, ok := f.Tasks[t.ID]
			if !ok {
				return nil, eris.Errorf("prompts: missing task %s", t.ID)
			}
			ct, err := compile("task "+t.ID, pair)
			if err != nil {
				return nil, err
			}
			c.tasks[t.ID] = ct
		}
	}
	return c, nil
}

func compile(name string, p promptPair) (compiled, error) {
	if strings.TrimSpace(p.System) == "" || strings.TrimSpace(p.User) == "" {
		return compiled{}, eris.Errorf("prompts: %s needs both system and user", name)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(p.User)
	if err != nil {
		return compiled{}, eris.Wrapf(err, "prompts: parse %s", name)
	}
	return compiled{system: p.System, user: tmpl}, nil
}

func (c compiled) render(data any) (system, user string, err error) {
	var sb strings.Builder
	if err := c.user.Execute(&sb, data); err != nil {
		return "", "", eris.Wrapf(err, "prompts: render %s", c.user.Name())
	}
	return c.system, sb.String(), nil
}

// Task renders the prompt for an analysis task.
func (c *Catalog) Task(taskID string, data TaskPromptData) (system, user string, err error) {
	t, ok := c.tasks[taskID]
	if !ok {
		return "", "", eris.Errorf("prompts: unknown task %s", taskID)
	}
	return t.render(data)
}

// TaskPromptData is the template input of an analysis task. Fields a
// task does not reference are ignored.
type TaskPromptData struct {
	Topic   string
	Sources string
	Phase1  string
	Phase2  string
	Phase3  string
}

type decomposePromptData struct {
	Topic string
	Count int
}

type claimsPromptData struct {
	Topic   string
	Count   int
	Content string
}

type summaryPromptData struct {
	Topic      string
	Phases     string
	FactChecks string
}

type reportPromptData struct {
	Topic      string
	Summary    string
	Phases     string
	FactChecks string
	Grades     GradeDistribution
}

var defaultCatalog = mustLoadCatalog(promptsYAML)

func mustLoadCatalog(data []byte) *Catalog {
	c, err := LoadCatalog(data)
	if err != nil {
		panic(err)
	}
	return c
}
