package engine

// historyState is the table marker for "go back to the state the item
// was in before it was suspended". Only the item knows that state.
const historyState State = "<history>"

// stateMachine is the transition table for one family of plan items.
// Three instances exist: tasks and stages, events and milestones, and
// the case plan itself. Tables are fixed at package init and never
// change, so they are safe for concurrent reads.
type stateMachine struct {
	table map[State]map[Transition]State

	// exit is the transition an exit criterion invokes on the item.
	exit Transition

	// termination is the transition the parent stage propagates to
	// the item when the stage terminates.
	termination Transition
}

func newStateMachine(exit, termination Transition) *stateMachine {
	return &stateMachine{
		table:       make(map[State]map[Transition]State),
		exit:        exit,
		termination: termination,
	}
}

func (m *stateMachine) add(t Transition, target State, from ...State) {
	for _, s := range from {
		row := m.table[s]
		if row == nil {
			row = make(map[Transition]State)
			m.table[s] = row
		}
		row[t] = target
	}
}

// target resolves the transition from the current state. The boolean
// is false when the table defines no such transition, in which case
// the transition has no effect.
func (m *stateMachine) target(current State, t Transition, history State) (State, bool) {
	next, ok := m.table[current][t]
	if !ok {
		return current, false
	}
	if next == historyState {
		return history, true
	}
	return next, true
}

var (
	taskStageMachine      = newStateMachine(TransitionExit, TransitionExit)
	eventMilestoneMachine = newStateMachine(TransitionExit, TransitionParentTerminate)
	casePlanMachine       = newStateMachine(TransitionTerminate, TransitionExit)
)

func init() {
	m := taskStageMachine
	m.add(TransitionCreate, StateAvailable, StateNull)
	m.add(TransitionEnable, StateEnabled, StateAvailable)
	m.add(TransitionStart, StateActive, StateAvailable)
	m.add(TransitionDisable, StateDisabled, StateEnabled)
	m.add(TransitionManualStart, StateActive, StateEnabled)
	m.add(TransitionSuspend, StateSuspended, StateActive)
	m.add(TransitionFault, StateFailed, StateActive)
	m.add(TransitionComplete, StateCompleted, StateActive)
	m.add(TransitionTerminate, StateTerminated, StateActive)
	m.add(TransitionExit, StateTerminated,
		StateAvailable, StateActive, StateEnabled, StateDisabled, StateSuspended, StateFailed)
	m.add(TransitionResume, StateActive, StateSuspended)
	m.add(TransitionReactivate, StateActive, StateFailed)
	m.add(TransitionReenable, StateEnabled, StateDisabled)
	m.add(TransitionParentSuspend, StateSuspended,
		StateAvailable, StateActive, StateEnabled, StateDisabled)
	m.add(TransitionParentResume, historyState, StateSuspended)

	m = eventMilestoneMachine
	m.add(TransitionCreate, StateAvailable, StateNull)
	m.add(TransitionSuspend, StateSuspended, StateAvailable)
	m.add(TransitionParentSuspend, StateSuspended, StateAvailable)
	m.add(TransitionTerminate, StateTerminated, StateAvailable)
	m.add(TransitionOccur, StateCompleted, StateAvailable)
	m.add(TransitionResume, StateAvailable, StateSuspended)
	m.add(TransitionParentResume, StateAvailable, StateSuspended)
	m.add(TransitionParentTerminate, StateTerminated, StateAvailable, StateSuspended)

	m = casePlanMachine
	m.add(TransitionCreate, StateActive, StateNull)
	m.add(TransitionSuspend, StateSuspended, StateActive)
	m.add(TransitionTerminate, StateTerminated, StateActive)
	m.add(TransitionComplete, StateCompleted, StateActive)
	m.add(TransitionFault, StateFailed, StateActive)
	m.add(TransitionReactivate, StateActive,
		StateCompleted, StateTerminated, StateFailed, StateSuspended)
	m.add(TransitionClose, StateClosed,
		StateCompleted, StateTerminated, StateFailed, StateSuspended)
}
