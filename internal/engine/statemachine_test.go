package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStageMachine_Transitions(t *testing.T) {
	tests := []struct {
		from    State
		via     Transition
		history State
		want    State
		ok      bool
	}{
		{StateNull, TransitionCreate, StateNull, StateAvailable, true},
		{StateAvailable, TransitionStart, StateNull, StateActive, true},
		{StateAvailable, TransitionEnable, StateNull, StateEnabled, true},
		{StateEnabled, TransitionManualStart, StateAvailable, StateActive, true},
		{StateEnabled, TransitionDisable, StateAvailable, StateDisabled, true},
		{StateDisabled, TransitionReenable, StateEnabled, StateEnabled, true},
		{StateActive, TransitionSuspend, StateAvailable, StateSuspended, true},
		{StateActive, TransitionFault, StateAvailable, StateFailed, true},
		{StateActive, TransitionComplete, StateAvailable, StateCompleted, true},
		{StateActive, TransitionTerminate, StateAvailable, StateTerminated, true},
		{StateSuspended, TransitionResume, StateActive, StateActive, true},
		{StateFailed, TransitionReactivate, StateActive, StateActive, true},
		{StateAvailable, TransitionExit, StateNull, StateTerminated, true},
		{StateFailed, TransitionExit, StateActive, StateTerminated, true},
		{StateAvailable, TransitionParentSuspend, StateNull, StateSuspended, true},
		// ParentResume returns to the state held before the suspend.
		{StateSuspended, TransitionParentResume, StateEnabled, StateEnabled, true},
		{StateCompleted, TransitionStart, StateActive, StateNull, false},
		{StateNull, TransitionComplete, StateNull, StateNull, false},
	}
	for _, tc := range tests {
		got, ok := taskStageMachine.target(tc.from, tc.via, tc.history)
		assert.Equal(t, tc.ok, ok, "%s via %s", tc.from, tc.via)
		if tc.ok {
			assert.Equal(t, tc.want, got, "%s via %s", tc.from, tc.via)
		}
	}
}

func TestEventMilestoneMachine_Transitions(t *testing.T) {
	tests := []struct {
		from State
		via  Transition
		want State
		ok   bool
	}{
		{StateNull, TransitionCreate, StateAvailable, true},
		{StateAvailable, TransitionOccur, StateCompleted, true},
		{StateAvailable, TransitionSuspend, StateSuspended, true},
		{StateSuspended, TransitionResume, StateAvailable, true},
		{StateAvailable, TransitionTerminate, StateTerminated, true},
		{StateAvailable, TransitionParentTerminate, StateTerminated, true},
		{StateSuspended, TransitionParentTerminate, StateTerminated, true},
		{StateAvailable, TransitionStart, StateNull, false},
		{StateCompleted, TransitionOccur, StateNull, false},
	}
	for _, tc := range tests {
		got, ok := eventMilestoneMachine.target(tc.from, tc.via, StateNull)
		assert.Equal(t, tc.ok, ok, "%s via %s", tc.from, tc.via)
		if tc.ok {
			assert.Equal(t, tc.want, got, "%s via %s", tc.from, tc.via)
		}
	}
}

func TestCasePlanMachine_Transitions(t *testing.T) {
	tests := []struct {
		from State
		via  Transition
		want State
		ok   bool
	}{
		{StateNull, TransitionCreate, StateActive, true},
		{StateActive, TransitionSuspend, StateSuspended, true},
		{StateActive, TransitionComplete, StateCompleted, true},
		{StateActive, TransitionTerminate, StateTerminated, true},
		{StateActive, TransitionFault, StateFailed, true},
		{StateCompleted, TransitionReactivate, StateActive, true},
		{StateTerminated, TransitionReactivate, StateActive, true},
		{StateFailed, TransitionReactivate, StateActive, true},
		{StateSuspended, TransitionReactivate, StateActive, true},
		{StateCompleted, TransitionClose, StateClosed, true},
		{StateTerminated, TransitionClose, StateClosed, true},
		{StateClosed, TransitionReactivate, StateNull, false},
	}
	for _, tc := range tests {
		got, ok := casePlanMachine.target(tc.from, tc.via, StateNull)
		assert.Equal(t, tc.ok, ok, "%s via %s", tc.from, tc.via)
		if tc.ok {
			assert.Equal(t, tc.want, got, "%s via %s", tc.from, tc.via)
		}
	}
}

func TestState_SemiTerminal(t *testing.T) {
	semi := []State{StateClosed, StateCompleted, StateTerminated, StateFailed, StateDisabled}
	for _, s := range semi {
		assert.True(t, s.IsSemiTerminal(), s)
	}
	for _, s := range []State{StateNull, StateAvailable, StateEnabled, StateActive, StateSuspended} {
		assert.False(t, s.IsSemiTerminal(), s)
	}
}

func TestMachineFamilies(t *testing.T) {
	assert.Equal(t, TransitionExit, taskStageMachine.exit)
	assert.Equal(t, TransitionExit, taskStageMachine.termination)
	assert.Equal(t, TransitionExit, eventMilestoneMachine.exit)
	assert.Equal(t, TransitionParentTerminate, eventMilestoneMachine.termination)
	assert.Equal(t, TransitionTerminate, casePlanMachine.exit)
	assert.Equal(t, TransitionExit, casePlanMachine.termination)
}
