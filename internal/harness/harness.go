// Package harness runs conformance scenarios against the engine.
//
// A scenario names a case definition, a sequence of commands and a set
// of assertions. The harness drives the real runtime over a fresh
// in-memory journal with deterministic ids and timestamps, so the same
// scenario produces the same event trace on every run. Golden trace
// files pin that trace down byte for byte.
package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/stagehand/internal/definition"
	"github.com/roach88/stagehand/internal/engine"
	"github.com/roach88/stagehand/internal/store"
	"github.com/roach88/stagehand/internal/testutil"
	"github.com/roach88/stagehand/internal/value"
)

// TraceEvent is one journaled event in a scenario's trace.
type TraceEvent struct {
	Seq  int64           `json:"seq"`
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Result is the outcome of one scenario execution.
type Result struct {
	// Pass is true when every step met its expected outcome and every
	// assertion held.
	Pass bool `json:"pass"`

	// Errors lists everything that went wrong. Empty when Pass.
	Errors []string `json:"errors,omitempty"`

	// Trace is every journaled event, in sequence order.
	Trace []TraceEvent `json:"trace"`

	// State is the final case state, nil when the case never started.
	State *engine.CaseState `json:"state,omitempty"`
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Run executes a scenario against a fresh in-memory journal and
// evaluates its assertions.
func Run(scenario *Scenario) (*Result, error) {
	def, err := definition.LoadFile(scenario.Definition)
	if err != nil {
		return nil, fmt.Errorf("load definition: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewDeterministicClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt := engine.NewRuntime(st, []*definition.CaseDefinition{def},
		engine.WithIDGenerator(engine.NewSequenceGenerator("item")),
		engine.WithNow(clock.Now),
		engine.WithLogger(logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rt.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	result := &Result{Pass: true}
	for i, step := range scenario.Steps {
		cmd, err := buildCommand(scenario, def.Name, &step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		_, err = rt.Submit(ctx, cmd)
		checkOutcome(result, i, &step, err)
	}

	// The trace comes from the journal, not the responses, so faulted
	// commands contribute their diagnostic marker too.
	envelopes, err := st.Replay(ctx, scenario.CaseID)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	for _, env := range envelopes {
		result.Trace = append(result.Trace, TraceEvent{Seq: env.Seq, Kind: env.Kind, Data: env.Data})
	}

	get := &engine.GetCaseState{}
	get.Case = scenario.CaseID
	get.By = scenario.Actor
	if resp, err := rt.Submit(ctx, get); err == nil {
		result.State = resp.Payload.(*engine.CaseState)
	}

	evaluateAssertions(scenario, result)
	return result, nil
}

func actor(scenario *Scenario, step *Step) string {
	if step.By != "" {
		return step.By
	}
	return scenario.Actor
}

func buildCommand(scenario *Scenario, defName string, step *Step) (engine.Command, error) {
	caseID := scenario.CaseID
	by := actor(scenario, step)

	switch step.Command {
	case "start":
		inputs, err := toValueMap(step.Inputs)
		if err != nil {
			return nil, err
		}
		cmd := &engine.StartCase{Definition: defName, Inputs: inputs}
		cmd.Case, cmd.By = caseID, by
		return cmd, nil
	case "transition":
		cmd := &engine.MakePlanItemTransition{
			ItemID:     step.Item,
			ItemName:   step.Name,
			Transition: engine.Transition(step.Transition),
		}
		cmd.Case, cmd.By = caseID, by
		return cmd, nil
	case "complete":
		outputs, err := toValueMap(step.Outputs)
		if err != nil {
			return nil, err
		}
		cmd := &engine.CompleteTask{ItemID: step.Item, Output: outputs}
		cmd.Case, cmd.By = caseID, by
		return cmd, nil
	case "file.create", "file.update", "file.replace":
		v, err := value.FromGo(mapOrNull(step.Value))
		if err != nil {
			return nil, err
		}
		switch step.Command {
		case "file.create":
			cmd := &engine.CreateCaseFileItem{Path: step.Path, Value: v}
			cmd.Case, cmd.By = caseID, by
			return cmd, nil
		case "file.update":
			cmd := &engine.UpdateCaseFileItem{Path: step.Path, Value: v}
			cmd.Case, cmd.By = caseID, by
			return cmd, nil
		default:
			cmd := &engine.ReplaceCaseFileItem{Path: step.Path, Value: v}
			cmd.Case, cmd.By = caseID, by
			return cmd, nil
		}
	case "file.delete":
		cmd := &engine.DeleteCaseFileItem{Path: step.Path}
		cmd.Case, cmd.By = caseID, by
		return cmd, nil
	case "team.put":
		cmd := &engine.PutTeamMember{UserID: step.User, Roles: step.Roles, Owner: step.Owner}
		cmd.Case, cmd.By = caseID, by
		return cmd, nil
	case "team.remove":
		cmd := &engine.RemoveTeamMember{UserID: step.User}
		cmd.Case, cmd.By = caseID, by
		return cmd, nil
	case "plan.add":
		cmd := &engine.AddDiscretionaryItem{DefinitionID: step.Name, StageID: step.Stage, ItemID: step.Item}
		cmd.Case, cmd.By = caseID, by
		return cmd, nil
	}
	return nil, fmt.Errorf("unknown command %q", step.Command)
}

func mapOrNull(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

func toValueMap(m map[string]any) (map[string]value.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(map[string]value.Value, len(m))
	for k, raw := range m {
		v, err := value.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func checkOutcome(result *Result, index int, step *Step, err error) {
	expect := step.Expect
	if expect == "" {
		expect = ExpectOK
	}

	got := ExpectOK
	switch {
	case err == nil:
	case engine.IsInvalidCommand(err):
		got = ExpectInvalid
	case engine.IsAuthorizationError(err):
		got = ExpectUnauthorized
	case engine.IsEngineFault(err):
		got = ExpectFault
	default:
		result.addError("steps[%d] %s: %v", index, step.Command, err)
		return
	}

	if got != expect {
		if err != nil {
			result.addError("steps[%d] %s: expected %s, got %s (%v)", index, step.Command, expect, got, err)
		} else {
			result.addError("steps[%d] %s: expected %s, got %s", index, step.Command, expect, got)
		}
	}
}
