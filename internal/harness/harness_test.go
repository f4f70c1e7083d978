package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name))
	require.NoError(t, err)
	return s
}

func TestRun_TravelApproval(t *testing.T) {
	result, err := Run(loadTestScenario(t, "travel-approval.yaml"))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	require.NotNil(t, result.State)
	assert.Equal(t, "Completed", result.State.State)
	assert.NotEmpty(t, result.Trace)
	assert.Equal(t, "case.started", result.Trace[0].Kind)
}

func TestRun_ExpenseFile(t *testing.T) {
	result, err := Run(loadTestScenario(t, "expense-file.yaml"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_TeamGuard(t *testing.T) {
	result, err := Run(loadTestScenario(t, "team-guard.yaml"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_UnexpectedOutcomeFails(t *testing.T) {
	s := loadTestScenario(t, "travel-approval.yaml")
	// Completing Approve before Submit is invalid; the scenario does
	// not expect that.
	s.Steps[1], s.Steps[2] = s.Steps[2], s.Steps[1]

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "expected ok, got invalid")
}

func TestRun_FailedAssertionFails(t *testing.T) {
	s := loadTestScenario(t, "travel-approval.yaml")
	s.Assertions = append(s.Assertions, Assertion{
		Type:  AssertPlanState,
		Item:  "Submit",
		State: "Active",
	})

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[len(result.Errors)-1], "Submit[0] is Completed, want Active")
}

func TestRun_TraceIsDeterministic(t *testing.T) {
	s := loadTestScenario(t, "travel-approval.yaml")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	firstSnap := TraceSnapshot{ScenarioName: s.Name, CaseID: s.CaseID, Trace: first.Trace}
	secondSnap := TraceSnapshot{ScenarioName: s.Name, CaseID: s.CaseID, Trace: second.Trace}
	firstData, err := firstSnap.MarshalCanonical()
	require.NoError(t, err)
	secondData, err := secondSnap.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t, string(firstData), string(secondData))
}

func TestRun_ScenariosAgainstGolden(t *testing.T) {
	for _, name := range []string{"travel-approval", "expense-file", "team-guard"} {
		t.Run(name, func(t *testing.T) {
			result, err := RunWithGolden(t, loadTestScenario(t, name+".yaml"))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}
