package harness

import (
	"github.com/roach88/stagehand/internal/engine"
	"github.com/roach88/stagehand/internal/value"
)

func evaluateAssertions(scenario *Scenario, result *Result) {
	for i, a := range scenario.Assertions {
		switch a.Type {
		case AssertPlanState:
			assertPlanState(result, i, &a)
		case AssertFileValue:
			assertFileValue(result, i, &a)
		case AssertTraceCount:
			assertTraceCount(result, i, &a)
		case AssertTraceOrder:
			assertTraceOrder(result, i, &a)
		}
	}
}

func assertPlanState(result *Result, index int, a *Assertion) {
	if result.State == nil {
		result.addError("assertions[%d]: no case state", index)
		return
	}
	pi := findPlanItem(result.State, a.Item, a.Index)
	if pi == nil {
		result.addError("assertions[%d]: no instance %d of %q", index, a.Index, a.Item)
		return
	}
	if pi.State != a.State {
		result.addError("assertions[%d]: %s[%d] is %s, want %s", index, a.Item, a.Index, pi.State, a.State)
	}
}

func findPlanItem(state *engine.CaseState, name string, index int) *engine.PlanItemState {
	for i := range state.PlanItems {
		pi := &state.PlanItems[i]
		if pi.Name == name && pi.Index == index {
			return pi
		}
	}
	return nil
}

func assertFileValue(result *Result, index int, a *Assertion) {
	if result.State == nil {
		result.addError("assertions[%d]: no case state", index)
		return
	}
	path, err := value.ParsePath(a.Path)
	if err != nil {
		result.addError("assertions[%d]: bad path %q: %v", index, a.Path, err)
		return
	}
	got, ok := lookupFile(result.State.File, path)
	if !ok {
		result.addError("assertions[%d]: no file value at %s", index, a.Path)
		return
	}
	gotValue, err := value.FromGo(got)
	if err != nil {
		result.addError("assertions[%d]: file value at %s: %v", index, a.Path, err)
		return
	}
	wantValue, err := value.FromGo(a.Equals)
	if err != nil {
		result.addError("assertions[%d]: equals: %v", index, err)
		return
	}
	if !value.Equal(gotValue, wantValue) {
		result.addError("assertions[%d]: %s is %v, want %v", index, a.Path, got, a.Equals)
	}
}

// lookupFile walks the snapshot's plain-Go file tree along a path.
func lookupFile(file map[string]any, path value.Path) (any, bool) {
	var current any = file
	for _, part := range path.Parts() {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part.Name]
		if !ok {
			return nil, false
		}
		if part.Index >= 0 {
			arr, ok := current.([]any)
			if !ok || part.Index >= len(arr) {
				return nil, false
			}
			current = arr[part.Index]
		}
	}
	return current, true
}

func assertTraceCount(result *Result, index int, a *Assertion) {
	count := 0
	for _, ev := range result.Trace {
		if ev.Kind == a.Kind {
			count++
		}
	}
	if count != a.Count {
		result.addError("assertions[%d]: %s appears %d times, want %d", index, a.Kind, count, a.Count)
	}
}

// assertTraceOrder checks the kinds appear as a subsequence of the
// trace.
func assertTraceOrder(result *Result, index int, a *Assertion) {
	next := 0
	for _, ev := range result.Trace {
		if next < len(a.Kinds) && ev.Kind == a.Kinds[next] {
			next++
		}
	}
	if next != len(a.Kinds) {
		result.addError("assertions[%d]: trace does not contain %v in order (matched %d)", index, a.Kinds, next)
	}
}
