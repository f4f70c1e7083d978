package definition

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagehand/internal/expr"
)

func scopeless() expr.Scope { return expr.Scope{} }

const travelRequest = `
case: TravelRequest
roles:
  - name: Requester
  - name: Approver
    singleton: true
    mutex: [Requester]
caseFile:
  - name: Request
    children:
      - name: Trip
  - name: Receipts
    multiplicity: zeroOrMore
inputs:
  - name: Request
    bindTo: Request
plan:
  autoComplete: true
  items:
    - name: SubmitRequest
      type: Task
      required: "true"
    - name: Review
      type: Stage
      autoComplete: true
      entry:
        - on:
            - source: SubmitRequest
              event: Complete
      items:
        - name: ApproveRequest
          type: Task
          repetition: "index < 4"
          entry:
            - on:
                - file: Request
                  event: Update
      planningTable:
        - name: Escalate
          type: Task
          roles: [Approver]
          applicability: "true"
    - name: Approved
      type: Milestone
      entry:
        - on:
            - source: ApproveRequest
              event: Complete
          if: "file.Request.amount < 1000"
`

func mustLoad(t *testing.T, src string) *CaseDefinition {
	t.Helper()
	def, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	return def
}

func TestLoadResolvesReferences(t *testing.T) {
	def := mustLoad(t, travelRequest)

	assert.Equal(t, "TravelRequest", def.Name)

	approver := def.Role("Approver")
	require.NotNil(t, approver)
	assert.True(t, approver.Singleton)
	require.Len(t, approver.Mutex, 1)
	assert.Same(t, def.Role("Requester"), approver.Mutex[0])

	trip := def.FileItem("Request/Trip")
	require.NotNil(t, trip)
	assert.Equal(t, "Request/Trip", trip.Path().String())
	assert.Same(t, def.FileChild("Request"), trip.Parent)
	assert.True(t, def.FileChild("Receipts").IsArray())

	require.Len(t, def.Inputs, 1)
	assert.Same(t, def.FileChild("Request"), def.Inputs[0].Bind)

	review := def.Item("Review")
	require.NotNil(t, review)
	assert.Equal(t, StageType, review.Type)
	require.NotNil(t, review.Stage)
	assert.True(t, review.Stage.AutoComplete)
	require.Len(t, review.EntryCriteria, 1)
	on := review.EntryCriteria[0].OnParts[0]
	assert.Equal(t, PlanItemSource, on.Kind)
	assert.Same(t, def.Item("SubmitRequest"), on.SourceItem)

	approve := def.Item("ApproveRequest")
	require.NotNil(t, approve)
	assert.False(t, approve.Control.RepetitionRule.IsConstant())
	filePart := approve.EntryCriteria[0].OnParts[0]
	assert.Equal(t, CaseFileSource, filePart.Kind)
	assert.Same(t, def.FileChild("Request"), filePart.SourceFile)

	approved := def.Item("Approved")
	require.NotNil(t, approved)
	require.NotNil(t, approved.EntryCriteria[0].IfRule)
	assert.False(t, approved.EntryCriteria[0].IfRule.IsConstant())

	escalate := def.Item("Escalate")
	require.NotNil(t, escalate)
	assert.True(t, escalate.Discretionary)
	require.Len(t, escalate.AuthorizedRoles, 1)
	assert.Same(t, approver, escalate.AuthorizedRoles[0])
}

func TestLoadDefaultRules(t *testing.T) {
	def := mustLoad(t, travelRequest)
	submit := def.Item("SubmitRequest")

	rep, err := submit.Control.RepetitionRule.Evaluate(scopeless())
	require.NoError(t, err)
	assert.False(t, rep)

	req, err := submit.Control.RequiredRule.Evaluate(scopeless())
	require.NoError(t, err)
	assert.True(t, req)

	man, err := submit.Control.ManualActivationRule.Evaluate(scopeless())
	require.NoError(t, err)
	assert.False(t, man)
}

func TestLoadRejectsUnknownReferences(t *testing.T) {
	for name, src := range map[string]string{
		"unknown on-part source": `
case: C
plan:
  items:
    - name: A
      entry:
        - on:
            - source: Missing
              event: Complete
`,
		"unknown case file source": `
case: C
plan:
  items:
    - name: A
      entry:
        - on:
            - file: Missing
              event: Create
`,
		"unknown role": `
case: C
plan:
  items:
    - name: A
  planningTable:
    - name: D
      roles: [Nobody]
`,
		"unknown mutex role": `
case: C
roles:
  - name: R
    mutex: [Gone]
plan:
  items:
    - name: A
`,
		"unknown input binding": `
case: C
inputs:
  - name: X
    bindTo: Nope
plan:
  items:
    - name: A
`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsBadShapes(t *testing.T) {
	for name, src := range map[string]string{
		"missing case name": `
plan:
  items:
    - name: A
`,
		"duplicate item names": `
case: C
plan:
  items:
    - name: A
    - name: A
`,
		"duplicate role names": `
case: C
roles:
  - name: R
  - name: R
plan:
  items:
    - name: A
`,
		"items on a non-stage": `
case: C
plan:
  items:
    - name: A
      type: Task
      items:
        - name: B
`,
		"empty criterion": `
case: C
plan:
  items:
    - name: A
      entry:
        - if: ""
`,
		"bad multiplicity": `
case: C
caseFile:
  - name: F
    multiplicity: sometimes
plan:
  items:
    - name: A
`,
		"bad event for case file source": `
case: C
caseFile:
  - name: F
plan:
  items:
    - name: A
      entry:
        - on:
            - file: F
              event: Complete
`,
		"malformed rule expression": `
case: C
plan:
  items:
    - name: A
      repetition: "index <"
`,
		"unknown yaml field": `
case: C
plam: {}
`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}
