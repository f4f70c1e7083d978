package harness

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/stagehand/internal/value"
)

// TraceSnapshot is the canonical form of a scenario's trace, the
// payload golden files pin down.
type TraceSnapshot struct {
	ScenarioName string
	CaseID       string
	Trace        []TraceEvent
}

// MarshalCanonical renders the snapshot as canonical JSON: sorted
// keys, NFC strings, no floats. Event payloads are re-canonicalized
// so golden files stay stable across encoder changes.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	events := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		data, err := value.DecodeJSON(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("trace[%d]: %w", i, err)
		}
		events[i] = map[string]any{
			"seq":  int64(ev.Seq),
			"kind": ev.Kind,
			"data": data,
		}
	}
	snapshot, err := value.FromGo(map[string]any{
		"scenario": s.ScenarioName,
		"caseId":   s.CaseID,
		"trace":    events,
	})
	if err != nil {
		return nil, err
	}
	return value.MarshalCanonical(snapshot)
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		CaseID:       scenario.CaseID,
		Trace:        result.Trace,
	}
	data, err := snapshot.MarshalCanonical()
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result, nil
}
