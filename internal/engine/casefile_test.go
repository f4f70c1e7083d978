package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagehand/internal/value"
)

const expenseCase = `
case: expenses
caseFile:
  - name: Request
    children:
      - name: Lines
        multiplicity: zeroOrMore
  - name: Receipts
    multiplicity: zeroOrMore
inputs:
  - name: request
    bindTo: Request
plan:
  items:
    - name: Handle
      type: Task
`

func fileCmd(c *Case) commandBase {
	return commandBase{Case: c.ID(), By: "alice"}
}

func TestCaseFile_CreateAndRead(t *testing.T) {
	c := startedCase(t, expenseCase)

	mustPerform(t, c, &CreateCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Request",
		Value:       value.Object{"amount": value.Int(120)},
	})

	file := c.Snapshot().File
	require.NotNil(t, file)
	request := file["Request"].(map[string]any)
	assert.Equal(t, int64(120), request["amount"])
}

func TestCaseFile_CreateRejectsExistingSingleton(t *testing.T) {
	c := startedCase(t, expenseCase)
	mustPerform(t, c, &CreateCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Request",
		Value:       value.Object{"amount": value.Int(1)},
	})

	_, err := c.Perform(&CreateCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Request",
		Value:       value.Object{"amount": value.Int(2)},
	}, testTime)
	assert.True(t, IsInvalidCommand(err))
}

func TestCaseFile_ArrayCreateAppends(t *testing.T) {
	c := startedCase(t, expenseCase)
	for i := 0; i < 3; i++ {
		mustPerform(t, c, &CreateCaseFileItem{
			commandBase: fileCmd(c),
			Path:        "Receipts",
			Value:       value.Object{"n": value.Int(i)},
		})
	}

	receipts := c.Snapshot().File["Receipts"].([]any)
	require.Len(t, receipts, 3)
	assert.Equal(t, int64(2), receipts[2].(map[string]any)["n"])
}

func TestCaseFile_EmptyArrayLevelIsAbsent(t *testing.T) {
	c := startedCase(t, expenseCase)

	// Never created: not in the snapshot.
	assert.NotContains(t, c.Snapshot().File, "Receipts")

	mustPerform(t, c, &CreateCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Receipts",
		Value:       value.Object{"n": value.Int(1)},
	})
	assert.Contains(t, c.Snapshot().File, "Receipts")

	// All instances discarded: absent again.
	mustPerform(t, c, &DeleteCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Receipts[0]",
	})
	assert.NotContains(t, c.Snapshot().File, "Receipts")
}

func TestCaseFile_ArrayCreateRejectsExplicitIndex(t *testing.T) {
	c := startedCase(t, expenseCase)
	_, err := c.Perform(&CreateCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Receipts[0]",
		Value:       value.Object{"n": value.Int(0)},
	}, testTime)
	assert.True(t, IsInvalidCommand(err))
}

func TestCaseFile_UpdateMergesObjectFields(t *testing.T) {
	c := startedCase(t, expenseCase)
	mustPerform(t, c, &CreateCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Request",
		Value:       value.Object{"amount": value.Int(120), "currency": value.String("EUR")},
	})

	mustPerform(t, c, &UpdateCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Request",
		Value:       value.Object{"amount": value.Int(90)},
	})

	request := c.Snapshot().File["Request"].(map[string]any)
	assert.Equal(t, int64(90), request["amount"])
	assert.Equal(t, "EUR", request["currency"])
}

func TestCaseFile_UpdateRequiresExistingItem(t *testing.T) {
	c := startedCase(t, expenseCase)
	_, err := c.Perform(&UpdateCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Request",
		Value:       value.Object{"amount": value.Int(1)},
	}, testTime)
	assert.True(t, IsInvalidCommand(err))
}

func TestCaseFile_ReplaceDeletesChildrenFirst(t *testing.T) {
	c := startedCase(t, expenseCase)
	mustPerform(t, c, &CreateCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Request",
		Value:       value.Object{"amount": value.Int(120)},
	})
	mustPerform(t, c, &CreateCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Request/Lines",
		Value:       value.Object{"desc": value.String("taxi")},
	})

	resp := mustPerform(t, c, &ReplaceCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Request",
		Value:       value.Object{"amount": value.Int(50)},
	})

	// One Delete for the line, then the Replace, then the marker.
	var kinds []string
	for _, env := range resp.Events {
		kinds = append(kinds, env.Kind)
	}
	assert.Equal(t, []string{"casefile.transitioned", "casefile.transitioned", "case.modified"}, kinds)

	request := c.Snapshot().File["Request"].(map[string]any)
	assert.Equal(t, int64(50), request["amount"])
	assert.NotContains(t, request, "Lines")
}

func TestCaseFile_DeleteDiscardsSubtree(t *testing.T) {
	c := startedCase(t, expenseCase)
	mustPerform(t, c, &CreateCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Request",
		Value:       value.Object{"amount": value.Int(120)},
	})
	mustPerform(t, c, &CreateCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Request/Lines",
		Value:       value.Object{"desc": value.String("taxi")},
	})

	resp := mustPerform(t, c, &DeleteCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Request",
	})

	// The whole subtree goes with one journaled Delete.
	var kinds []string
	for _, env := range resp.Events {
		kinds = append(kinds, env.Kind)
	}
	assert.Equal(t, []string{"casefile.transitioned", "case.modified"}, kinds)
	assert.NotContains(t, c.Snapshot().File, "Request")
}

func TestCaseFile_UnknownPathRejected(t *testing.T) {
	c := startedCase(t, expenseCase)
	_, err := c.Perform(&CreateCaseFileItem{
		commandBase: fileCmd(c),
		Path:        "Nonsense",
		Value:       value.Object{},
	}, testTime)
	assert.True(t, IsInvalidCommand(err))
}

func TestCase_StartBindsInputs(t *testing.T) {
	c := newTestCase(t, loadDef(t, expenseCase))
	mustPerform(t, c, &StartCase{
		commandBase: commandBase{Case: c.ID(), By: "alice"},
		Inputs:      map[string]value.Value{"request": value.Object{"amount": value.Int(300)}},
	})

	request := c.Snapshot().File["Request"].(map[string]any)
	assert.Equal(t, int64(300), request["amount"])
}

func TestCase_StartRejectsUnknownInput(t *testing.T) {
	c := newTestCase(t, loadDef(t, expenseCase))
	_, err := c.Perform(&StartCase{
		commandBase: commandBase{Case: c.ID(), By: "alice"},
		Inputs:      map[string]value.Value{"bogus": value.Int(1)},
	}, testTime)
	assert.True(t, IsInvalidCommand(err))
}
