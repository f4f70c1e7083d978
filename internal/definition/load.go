package definition

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlCase is the on-disk shape of a case definition.
type yamlCase struct {
	Case     string         `yaml:"case"`
	Roles    []yamlRole     `yaml:"roles"`
	CaseFile []yamlFileItem `yaml:"caseFile"`
	Inputs   []yamlInput    `yaml:"inputs"`
	Plan     yamlStage      `yaml:"plan"`
}

type yamlRole struct {
	Name      string   `yaml:"name"`
	Singleton bool     `yaml:"singleton"`
	Mutex     []string `yaml:"mutex"`
}

type yamlFileItem struct {
	Name         string         `yaml:"name"`
	Multiplicity string         `yaml:"multiplicity"`
	Children     []yamlFileItem `yaml:"children"`
}

type yamlInput struct {
	Name   string `yaml:"name"`
	BindTo string `yaml:"bindTo"`
}

type yamlStage struct {
	AutoComplete  bool       `yaml:"autoComplete"`
	Items         []yamlItem `yaml:"items"`
	PlanningTable []yamlItem `yaml:"planningTable"`
}

type yamlItem struct {
	Name             string          `yaml:"name"`
	Type             string          `yaml:"type"`
	Repetition       string          `yaml:"repetition"`
	Required         string          `yaml:"required"`
	ManualActivation string          `yaml:"manualActivation"`
	Entry            []yamlCriterion `yaml:"entry"`
	Exit             []yamlCriterion `yaml:"exit"`
	AutoComplete     bool            `yaml:"autoComplete"`
	Items            []yamlItem      `yaml:"items"`
	PlanningTable    []yamlItem      `yaml:"planningTable"`
	Roles            []string        `yaml:"roles"`
	Applicability    string          `yaml:"applicability"`
}

type yamlCriterion struct {
	On []yamlOnPart `yaml:"on"`
	If string       `yaml:"if"`
}

type yamlOnPart struct {
	Source string `yaml:"source"`
	File   string `yaml:"file"`
	Event  string `yaml:"event"`
}

// LoadFile reads, parses and resolves a case definition from a YAML
// file.
func LoadFile(path string) (*CaseDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Load reads, parses and resolves a case definition from YAML.
func Load(r io.Reader) (*CaseDefinition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var raw yamlCase
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	def, err := build(&raw)
	if err != nil {
		return nil, err
	}
	if err := def.Resolve(); err != nil {
		return nil, err
	}
	return def, nil
}

func build(raw *yamlCase) (*CaseDefinition, error) {
	if raw.Case == "" {
		return nil, fmt.Errorf("definition: case name is required")
	}
	def := &CaseDefinition{Name: raw.Case}

	for _, r := range raw.Roles {
		def.Roles = append(def.Roles, &RoleDefinition{
			Name:      r.Name,
			Singleton: r.Singleton,
			MutexRaw:  r.Mutex,
		})
	}

	for _, fi := range raw.CaseFile {
		item, err := buildFileItem(fi)
		if err != nil {
			return nil, err
		}
		def.CaseFile = append(def.CaseFile, item)
	}

	for _, in := range raw.Inputs {
		def.Inputs = append(def.Inputs, &InputDefinition{Name: in.Name, BindRaw: in.BindTo})
	}

	plan, err := buildStage(raw.Plan)
	if err != nil {
		return nil, err
	}
	def.CasePlan = plan
	return def, nil
}

func buildFileItem(raw yamlFileItem) (*CaseFileItemDefinition, error) {
	if raw.Name == "" {
		return nil, fmt.Errorf("definition: case file item without a name")
	}
	item := &CaseFileItemDefinition{Name: raw.Name}
	switch raw.Multiplicity {
	case "", string(ExactlyOne):
		item.Multiplicity = ExactlyOne
	case string(ZeroOrMore):
		item.Multiplicity = ZeroOrMore
	default:
		return nil, fmt.Errorf("definition: case file item %q: unknown multiplicity %q", raw.Name, raw.Multiplicity)
	}
	for _, c := range raw.Children {
		child, err := buildFileItem(c)
		if err != nil {
			return nil, err
		}
		child.Parent = item
		item.Children = append(item.Children, child)
	}
	return item, nil
}

func buildStage(raw yamlStage) (*StageDefinition, error) {
	stage := &StageDefinition{AutoComplete: raw.AutoComplete}
	for _, it := range raw.Items {
		item, err := buildItem(it, false)
		if err != nil {
			return nil, err
		}
		stage.Items = append(stage.Items, item)
	}
	for _, it := range raw.PlanningTable {
		item, err := buildItem(it, true)
		if err != nil {
			return nil, err
		}
		stage.PlanningTable = append(stage.PlanningTable, item)
	}
	return stage, nil
}

func buildItem(raw yamlItem, discretionary bool) (*ItemDefinition, error) {
	if raw.Name == "" {
		return nil, fmt.Errorf("definition: plan item without a name")
	}
	item := &ItemDefinition{
		Name:          raw.Name,
		Discretionary: discretionary,
		RolesRaw:      raw.Roles,
		Applicability: raw.Applicability,
		Control: ItemControl{
			Repetition:       raw.Repetition,
			Required:         raw.Required,
			ManualActivation: raw.ManualActivation,
		},
	}
	switch raw.Type {
	case "", string(TaskType):
		item.Type = TaskType
	case string(StageType):
		item.Type = StageType
	case string(MilestoneType):
		item.Type = MilestoneType
	case string(UserEventType):
		item.Type = UserEventType
	default:
		return nil, fmt.Errorf("definition: item %q: unknown type %q", raw.Name, raw.Type)
	}

	if item.Type == StageType {
		body, err := buildStage(yamlStage{
			AutoComplete:  raw.AutoComplete,
			Items:         raw.Items,
			PlanningTable: raw.PlanningTable,
		})
		if err != nil {
			return nil, err
		}
		item.Stage = body
	} else if len(raw.Items) > 0 || len(raw.PlanningTable) > 0 {
		return nil, fmt.Errorf("definition: item %q: only stages may contain items", raw.Name)
	}

	for i, c := range raw.Entry {
		item.EntryCriteria = append(item.EntryCriteria, buildCriterion(item.Name, "entry", i, c))
	}
	for i, c := range raw.Exit {
		item.ExitCriteria = append(item.ExitCriteria, buildCriterion(item.Name, "exit", i, c))
	}
	return item, nil
}

func buildCriterion(itemName, kind string, seq int, raw yamlCriterion) *CriterionDefinition {
	crit := &CriterionDefinition{
		ID:     fmt.Sprintf("%s/%s[%d]", itemName, kind, seq),
		IfPart: raw.If,
	}
	for _, on := range raw.On {
		part := &OnPartDefinition{StandardEvent: on.Event}
		if on.File != "" {
			part.Kind = CaseFileSource
			part.SourceRef = on.File
		} else {
			part.Kind = PlanItemSource
			part.SourceRef = on.Source
		}
		crit.OnParts = append(crit.OnParts, part)
	}
	return crit
}
