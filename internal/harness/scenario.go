package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario: a case definition, a
// sequence of commands and assertions on the final case.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden trace files are
	// keyed by it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definition is the path to the case definition YAML, relative to
	// the scenario file.
	Definition string `yaml:"definition"`

	// CaseID is the id the scenario's case runs under. Defaults to
	// "case-1".
	CaseID string `yaml:"caseId,omitempty"`

	// Actor is the default user sending the commands. Individual steps
	// may override it.
	Actor string `yaml:"actor"`

	// Steps is the command sequence.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state and the event trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one command submitted to the engine.
type Step struct {
	// Command names the operation: start, transition, complete,
	// file.create, file.update, file.replace, file.delete, team.put,
	// team.remove, plan.add.
	Command string `yaml:"command"`

	// By overrides the scenario's actor for this step.
	By string `yaml:"by,omitempty"`

	// Item addresses a plan item instance id (transition, complete).
	Item string `yaml:"item,omitempty"`

	// Name addresses plan items by definition name (transition) or a
	// discretionary definition (plan.add).
	Name string `yaml:"name,omitempty"`

	// Transition is the lifecycle transition for the transition
	// command.
	Transition string `yaml:"transition,omitempty"`

	// Path is the case file path for file commands.
	Path string `yaml:"path,omitempty"`

	// Value is the payload for file commands and start inputs.
	Value map[string]any `yaml:"value,omitempty"`

	// Inputs are the case inputs for start.
	Inputs map[string]any `yaml:"inputs,omitempty"`

	// Outputs are the task outputs for complete, keyed by file path.
	Outputs map[string]any `yaml:"outputs,omitempty"`

	// User, Roles and Owner parameterize team commands.
	User  string   `yaml:"user,omitempty"`
	Roles []string `yaml:"roles,omitempty"`
	Owner bool     `yaml:"owner,omitempty"`

	// Stage is the target stage instance for plan.add.
	Stage string `yaml:"stage,omitempty"`

	// Expect is the expected outcome: ok (default), invalid,
	// unauthorized or fault.
	Expect string `yaml:"expect,omitempty"`
}

// Step outcome constants.
const (
	ExpectOK           = "ok"
	ExpectInvalid      = "invalid"
	ExpectUnauthorized = "unauthorized"
	ExpectFault        = "fault"
)

// Assertion validates the final case or the event trace.
type Assertion struct {
	// Type is one of plan_state, file_value, trace_count, trace_order.
	Type string `yaml:"type"`

	// Item and Index address a plan item instance for plan_state.
	// Index defaults to 0.
	Item  string `yaml:"item,omitempty"`
	Index int    `yaml:"index,omitempty"`

	// State is the expected lifecycle state for plan_state.
	State string `yaml:"state,omitempty"`

	// Path and Equals check one case file value for file_value.
	Path   string `yaml:"path,omitempty"`
	Equals any    `yaml:"equals,omitempty"`

	// Kind and Count check event occurrences for trace_count.
	Kind  string `yaml:"kind,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Kinds is the expected subsequence of event kinds for
	// trace_order.
	Kinds []string `yaml:"kinds,omitempty"`
}

// Assertion type constants.
const (
	AssertPlanState  = "plan_state"
	AssertFileValue  = "file_value"
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
)

// LoadScenario reads and parses a scenario YAML file. The definition
// path is resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if !filepath.IsAbs(scenario.Definition) && scenario.Definition != "" {
		scenario.Definition = filepath.Join(filepath.Dir(path), scenario.Definition)
	}
	if scenario.CaseID == "" {
		scenario.CaseID = "case-1"
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Definition == "" {
		return fmt.Errorf("definition is required")
	}
	if _, err := os.Stat(s.Definition); err != nil {
		return fmt.Errorf("definition file: %w", err)
	}
	if s.Actor == "" {
		return fmt.Errorf("actor is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required")
	}
	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step) error {
	switch step.Command {
	case "start":
	case "transition":
		if step.Item == "" && step.Name == "" {
			return fmt.Errorf("steps[%d]: transition needs item or name", index)
		}
		if step.Transition == "" {
			return fmt.Errorf("steps[%d]: transition name is required", index)
		}
	case "complete":
		if step.Item == "" {
			return fmt.Errorf("steps[%d]: complete needs item", index)
		}
	case "file.create", "file.update", "file.replace", "file.delete":
		if step.Path == "" {
			return fmt.Errorf("steps[%d]: %s needs path", index, step.Command)
		}
	case "team.put", "team.remove":
		if step.User == "" {
			return fmt.Errorf("steps[%d]: %s needs user", index, step.Command)
		}
	case "plan.add":
		if step.Name == "" || step.Stage == "" {
			return fmt.Errorf("steps[%d]: plan.add needs name and stage", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: command is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown command %q", index, step.Command)
	}

	switch step.Expect {
	case "", ExpectOK, ExpectInvalid, ExpectUnauthorized, ExpectFault:
	default:
		return fmt.Errorf("steps[%d]: unknown expect %q", index, step.Expect)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertPlanState:
		if a.Item == "" || a.State == "" {
			return fmt.Errorf("assertions[%d]: plan_state needs item and state", index)
		}
	case AssertFileValue:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: file_value needs path", index)
		}
	case AssertTraceCount:
		if a.Kind == "" || a.Count < 0 {
			return fmt.Errorf("assertions[%d]: trace_count needs kind and a non-negative count", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: trace_order needs kinds", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
