package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagehand/internal/value"
)

const plannedCase = `
case: planned
roles:
  - name: expert
caseFile:
  - name: Request
plan:
  items:
    - name: Work
      type: Task
  planningTable:
    - name: Consult
      type: Task
      roles: [expert]
    - name: Audit
      type: Task
      applicability: "file.Request.amount > 1000"
`

func TestPlanning_ListShowsApplicableEntries(t *testing.T) {
	c := startedCase(t, plannedCase)

	resp := mustPerform(t, c, &ListDiscretionaryItems{commandBase: commandBase{Case: c.ID(), By: "alice"}})
	items := resp.Payload.([]DiscretionaryItem)
	require.Len(t, items, 1)
	assert.Equal(t, "Consult", items[0].Name)
	assert.Equal(t, []string{"expert"}, items[0].Roles)

	// A large enough request makes Audit applicable too.
	mustPerform(t, c, &CreateCaseFileItem{
		commandBase: commandBase{Case: c.ID(), By: "alice"},
		Path:        "Request",
		Value:       value.Object{"amount": value.Int(5000)},
	})
	resp = mustPerform(t, c, &ListDiscretionaryItems{commandBase: commandBase{Case: c.ID(), By: "alice"}})
	assert.Len(t, resp.Payload.([]DiscretionaryItem), 2)
}

func TestPlanning_AddCreatesDiscretionaryInstance(t *testing.T) {
	c := startedCase(t, plannedCase)
	mustPerform(t, c, &PutTeamMember{
		commandBase: commandBase{Case: c.ID(), By: "alice"},
		UserID:      "erin",
		Roles:       []string{"expert"},
	})

	resp := mustPerform(t, c, &AddDiscretionaryItem{
		commandBase:  commandBase{Case: c.ID(), By: "erin"},
		DefinitionID: "Consult",
		StageID:      c.PlanItemsByName("planned")[0].ID(),
	})
	result := resp.Payload.(*TransitionResult)
	require.Len(t, result.Affected, 1)

	consult := c.PlanItemByID(result.Affected[0])
	assert.Equal(t, StateActive, consult.State())

	snap := c.Snapshot()
	for _, pi := range snap.PlanItems {
		if pi.Name == "Consult" {
			assert.True(t, pi.Discretionary)
		}
	}
}

func TestPlanning_AddHonorsSuppliedItemID(t *testing.T) {
	c := startedCase(t, plannedCase)
	mustPerform(t, c, &PutTeamMember{
		commandBase: commandBase{Case: c.ID(), By: "alice"},
		UserID:      "erin",
		Roles:       []string{"expert"},
	})
	stageID := c.PlanItemsByName("planned")[0].ID()

	resp := mustPerform(t, c, &AddDiscretionaryItem{
		commandBase:  commandBase{Case: c.ID(), By: "erin"},
		DefinitionID: "Consult",
		StageID:      stageID,
		ItemID:       "consult-7",
	})
	assert.Equal(t, []string{"consult-7"}, resp.Payload.(*TransitionResult).Affected)
	assert.Equal(t, StateActive, c.PlanItemByID("consult-7").State())

	// The supplied id must be unused, existing plan items included.
	for _, taken := range []string{"consult-7", c.PlanItemsByName("Work")[0].ID()} {
		_, err := c.Perform(&AddDiscretionaryItem{
			commandBase:  commandBase{Case: c.ID(), By: "erin"},
			DefinitionID: "Consult",
			StageID:      stageID,
			ItemID:       taken,
		}, testTime)
		assert.True(t, IsInvalidCommand(err), "id %q", taken)
	}
}

func TestPlanning_AddFailures(t *testing.T) {
	c := startedCase(t, plannedCase)
	stageID := c.PlanItemsByName("planned")[0].ID()
	workID := c.PlanItemsByName("Work")[0].ID()

	tests := map[string]struct {
		cmd        *AddDiscretionaryItem
		authorized bool
	}{
		"unknown definition": {
			cmd: &AddDiscretionaryItem{
				commandBase:  commandBase{Case: c.ID(), By: "alice"},
				DefinitionID: "Nope",
				StageID:      stageID,
			},
			authorized: true,
		},
		"regular item is not plannable": {
			cmd: &AddDiscretionaryItem{
				commandBase:  commandBase{Case: c.ID(), By: "alice"},
				DefinitionID: "Work",
				StageID:      stageID,
			},
			authorized: true,
		},
		"unknown stage instance": {
			cmd: &AddDiscretionaryItem{
				commandBase:  commandBase{Case: c.ID(), By: "alice"},
				DefinitionID: "Audit",
				StageID:      "missing",
			},
			authorized: true,
		},
		"target is not a stage": {
			cmd: &AddDiscretionaryItem{
				commandBase:  commandBase{Case: c.ID(), By: "alice"},
				DefinitionID: "Audit",
				StageID:      workID,
			},
			authorized: true,
		},
		"not applicable": {
			cmd: &AddDiscretionaryItem{
				commandBase:  commandBase{Case: c.ID(), By: "alice"},
				DefinitionID: "Audit",
				StageID:      stageID,
			},
			authorized: true,
		},
		"missing authorized role": {
			cmd: &AddDiscretionaryItem{
				commandBase:  commandBase{Case: c.ID(), By: "alice"},
				DefinitionID: "Consult",
				StageID:      stageID,
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := c.Perform(tc.cmd, testTime)
			require.Error(t, err)
			if tc.authorized {
				assert.True(t, IsInvalidCommand(err))
			} else {
				assert.True(t, IsAuthorizationError(err))
			}
		})
	}
}

func TestPlanning_DiscretionaryItemsDoNotAutoRepeat(t *testing.T) {
	c := startedCase(t, `
case: adhoc
roles:
  - name: expert
plan:
  items:
    - name: Work
      type: Task
  planningTable:
    - name: Extra
      type: Task
      repetition: "true"
`)
	resp := mustPerform(t, c, &AddDiscretionaryItem{
		commandBase:  commandBase{Case: c.ID(), By: "alice"},
		DefinitionID: "Extra",
		StageID:      c.PlanItemsByName("adhoc")[0].ID(),
	})
	extraID := resp.Payload.(*TransitionResult).Affected[0]

	mustPerform(t, c, &MakePlanItemTransition{
		commandBase: commandBase{Case: c.ID(), By: "alice"},
		ItemID:      extraID,
		Transition:  TransitionComplete,
	})
	assert.Len(t, c.PlanItemsByName("Extra"), 1)
}
