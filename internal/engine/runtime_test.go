package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagehand/internal/definition"
	"github.com/roach88/stagehand/internal/value"
)

var errDiskFull = errors.New("disk full")

// memJournal is an in-memory Journal for runtime tests.
type memJournal struct {
	mu    sync.Mutex
	byID  map[string][]Envelope
	order []string

	failAppend error
}

func newMemJournal() *memJournal {
	return &memJournal{byID: make(map[string][]Envelope)}
}

func (j *memJournal) AppendBatch(_ context.Context, envelopes []Envelope) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failAppend != nil {
		return j.failAppend
	}
	for _, env := range envelopes {
		existing := j.byID[env.CaseID]
		if len(existing) == 0 {
			j.order = append(j.order, env.CaseID)
		}
		if int64(len(existing)) >= env.Seq {
			continue // idempotent per (case, seq)
		}
		j.byID[env.CaseID] = append(existing, env)
	}
	return nil
}

func (j *memJournal) Replay(_ context.Context, caseID string) ([]Envelope, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	envelopes := j.byID[caseID]
	out := make([]Envelope, len(envelopes))
	copy(out, envelopes)
	return out, nil
}

func (j *memJournal) LastSeq(_ context.Context, caseID string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	envelopes := j.byID[caseID]
	if len(envelopes) == 0 {
		return 0, nil
	}
	return envelopes[len(envelopes)-1].Seq, nil
}

func (j *memJournal) Cases(_ context.Context) ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.order))
	copy(out, j.order)
	return out, nil
}

func (j *memJournal) lastKind(caseID string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	envelopes := j.byID[caseID]
	if len(envelopes) == 0 {
		return ""
	}
	return envelopes[len(envelopes)-1].Kind
}

func startRuntime(t *testing.T, journal Journal, defs ...*definition.CaseDefinition) *Runtime {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRuntime(journal, defs,
		WithIDGenerator(NewSequenceGenerator("item")),
		WithNow(func() time.Time { return testTime }),
		WithLogger(logger),
	)
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func TestRuntime_StartAndTransition(t *testing.T) {
	journal := newMemJournal()
	r := startRuntime(t, journal, loadDef(t, travelCase))
	ctx := context.Background()

	resp, err := r.Submit(ctx, &StartCase{
		commandBase: commandBase{Case: "trip-1", By: "alice"},
		Definition:  "travel",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Events)
	assert.Equal(t, (&CaseModified{}).Kind(), journal.lastKind("trip-1"))

	_, err = r.Submit(ctx, &MakePlanItemTransition{
		commandBase: commandBase{Case: "trip-1", By: "alice"},
		ItemName:    "Submit",
		Transition:  TransitionComplete,
	})
	require.NoError(t, err)

	state, err := r.Submit(ctx, &GetCaseState{commandBase: commandBase{Case: "trip-1", By: "alice"}})
	require.NoError(t, err)
	snapshot := state.Payload.(*CaseState)
	assert.Equal(t, StateActive, snapshot.stateOf(t, "Approve"))
}

func TestRuntime_RejectsDuplicateStart(t *testing.T) {
	journal := newMemJournal()
	r := startRuntime(t, journal, loadDef(t, travelCase))
	ctx := context.Background()

	start := func() error {
		_, err := r.Submit(ctx, &StartCase{
			commandBase: commandBase{Case: "trip-1", By: "alice"},
			Definition:  "travel",
		})
		return err
	}
	require.NoError(t, start())
	assert.True(t, IsInvalidCommand(start()))
}

func TestRuntime_RejectsUnknownDefinition(t *testing.T) {
	r := startRuntime(t, newMemJournal(), loadDef(t, travelCase))

	_, err := r.Submit(context.Background(), &StartCase{
		commandBase: commandBase{Case: "trip-1", By: "alice"},
		Definition:  "no-such-model",
	})
	assert.True(t, IsInvalidCommand(err))
}

func TestRuntime_RecoversCaseFromJournal(t *testing.T) {
	journal := newMemJournal()
	def := loadDef(t, travelCase)
	ctx := context.Background()

	first := startRuntime(t, journal, def)
	_, err := first.Submit(ctx, &StartCase{
		commandBase: commandBase{Case: "trip-1", By: "alice"},
		Definition:  "travel",
	})
	require.NoError(t, err)
	_, err = first.Submit(ctx, &MakePlanItemTransition{
		commandBase: commandBase{Case: "trip-1", By: "alice"},
		ItemName:    "Submit",
		Transition:  TransitionComplete,
	})
	require.NoError(t, err)
	first.Stop()

	// A fresh runtime over the same journal picks up where we left off.
	second := startRuntime(t, journal, def)
	resp, err := second.Submit(ctx, &MakePlanItemTransition{
		commandBase: commandBase{Case: "trip-1", By: "alice"},
		ItemName:    "Approve",
		Transition:  TransitionComplete,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Events)

	state, err := second.Submit(ctx, &GetCaseState{commandBase: commandBase{Case: "trip-1", By: "alice"}})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state.Payload.(*CaseState).stateOf(t, "Done"))
}

func TestRuntime_UnknownCase(t *testing.T) {
	r := startRuntime(t, newMemJournal(), loadDef(t, travelCase))

	_, err := r.Submit(context.Background(), &GetCaseState{
		commandBase: commandBase{Case: "nope", By: "alice"},
	})
	assert.True(t, IsInvalidCommand(err))
}

const faultableCase = `
case: faulty
plan:
  items:
    - name: Work
      type: Task
      repetition: file.missing.count > 0
`

func TestRuntime_FaultRecordsDiagnosticAndRebuilds(t *testing.T) {
	journal := newMemJournal()
	r := startRuntime(t, journal, loadDef(t, faultableCase), loadDef(t, travelCase))
	ctx := context.Background()

	_, err := r.Submit(ctx, &StartCase{
		commandBase: commandBase{Case: "f-1", By: "alice"},
		Definition:  "faulty",
	})
	require.NoError(t, err)

	_, err = r.Submit(ctx, &MakePlanItemTransition{
		commandBase: commandBase{Case: "f-1", By: "alice"},
		ItemName:    "Work",
		Transition:  TransitionComplete,
	})
	require.Error(t, err)
	assert.True(t, IsEngineFault(err))
	assert.Equal(t, (&CaseFaultRecorded{}).Kind(), journal.lastKind("f-1"))

	// The poisoned instance was dropped; the journal still has the
	// healthy prefix, so reading state works again.
	state, err := r.Submit(ctx, &GetCaseState{commandBase: commandBase{Case: "f-1", By: "alice"}})
	require.NoError(t, err)
	assert.Equal(t, StateActive, state.Payload.(*CaseState).stateOf(t, "Work"))
}

func TestRuntime_AppendFailureDropsCase(t *testing.T) {
	journal := newMemJournal()
	r := startRuntime(t, journal, loadDef(t, travelCase))
	ctx := context.Background()

	_, err := r.Submit(ctx, &StartCase{
		commandBase: commandBase{Case: "trip-1", By: "alice"},
		Definition:  "travel",
	})
	require.NoError(t, err)

	journal.mu.Lock()
	journal.failAppend = errDiskFull
	journal.mu.Unlock()

	_, err = r.Submit(ctx, &MakePlanItemTransition{
		commandBase: commandBase{Case: "trip-1", By: "alice"},
		ItemName:    "Submit",
		Transition:  TransitionComplete,
	})
	require.ErrorIs(t, err, errDiskFull)

	journal.mu.Lock()
	journal.failAppend = nil
	journal.mu.Unlock()

	// The dropped instance rebuilds from the journal, which never saw
	// the failed batch, so the transition applies cleanly now.
	resp, err := r.Submit(ctx, &MakePlanItemTransition{
		commandBase: commandBase{Case: "trip-1", By: "alice"},
		ItemName:    "Submit",
		Transition:  TransitionComplete,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Events)
}

func TestRuntime_SubmitAfterStop(t *testing.T) {
	r := startRuntime(t, newMemJournal(), loadDef(t, travelCase))
	r.Stop()

	_, err := r.Submit(context.Background(), &GetCaseState{
		commandBase: commandBase{Case: "trip-1", By: "alice"},
	})
	assert.ErrorIs(t, err, ErrRuntimeStopped)
}

func TestRuntime_StartBindsInputsThroughSubmit(t *testing.T) {
	journal := newMemJournal()
	r := startRuntime(t, journal, loadDef(t, expenseCase))
	ctx := context.Background()

	_, err := r.Submit(ctx, &StartCase{
		commandBase: commandBase{Case: "exp-1", By: "alice"},
		Definition:  "expenses",
		Inputs: map[string]value.Value{
			"request": value.Object{"amount": value.Int(120)},
		},
	})
	require.NoError(t, err)

	state, err := r.Submit(ctx, &GetCaseState{commandBase: commandBase{Case: "exp-1", By: "alice"}})
	require.NoError(t, err)
	file := state.Payload.(*CaseState).File
	require.NotNil(t, file)
	request := file["Request"].(map[string]any)
	assert.Equal(t, int64(120), request["amount"])
}
