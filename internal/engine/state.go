package engine

// State is the lifecycle state of a plan item instance.
type State string

const (
	StateNull       State = "Null"
	StateAvailable  State = "Available"
	StateEnabled    State = "Enabled"
	StateDisabled   State = "Disabled"
	StateActive     State = "Active"
	StateFailed     State = "Failed"
	StateSuspended  State = "Suspended"
	StateCompleted  State = "Completed"
	StateTerminated State = "Terminated"
	StateClosed     State = "Closed"
)

// IsSemiTerminal reports whether the state ends the item's normal
// lifecycle. Semi-terminal children are what stage completion counts.
func (s State) IsSemiTerminal() bool {
	switch s {
	case StateClosed, StateCompleted, StateTerminated, StateFailed, StateDisabled:
		return true
	}
	return false
}

// IsActive reports whether the item is doing work.
func (s State) IsActive() bool { return s == StateActive }

// IsNull reports whether the item's lifecycle has not begun.
func (s State) IsNull() bool { return s == StateNull }

// IsAvailable reports whether the item awaits its entry criteria.
func (s State) IsAvailable() bool { return s == StateAvailable }

// Transition is a lifecycle transition of a plan item instance.
type Transition string

const (
	TransitionNone            Transition = ""
	TransitionCreate          Transition = "Create"
	TransitionEnable          Transition = "Enable"
	TransitionDisable         Transition = "Disable"
	TransitionReenable        Transition = "Reenable"
	TransitionManualStart     Transition = "ManualStart"
	TransitionStart           Transition = "Start"
	TransitionComplete        Transition = "Complete"
	TransitionFault           Transition = "Fault"
	TransitionSuspend         Transition = "Suspend"
	TransitionResume          Transition = "Resume"
	TransitionReactivate      Transition = "Reactivate"
	TransitionTerminate       Transition = "Terminate"
	TransitionExit            Transition = "Exit"
	TransitionOccur           Transition = "Occur"
	TransitionParentSuspend   Transition = "ParentSuspend"
	TransitionParentResume    Transition = "ParentResume"
	TransitionParentTerminate Transition = "ParentTerminate"
	TransitionClose           Transition = "Close"
)

// ParseTransition maps a transition name to its Transition, reporting
// whether the name is known.
func ParseTransition(name string) (Transition, bool) {
	switch t := Transition(name); t {
	case TransitionCreate, TransitionEnable, TransitionDisable, TransitionReenable,
		TransitionManualStart, TransitionStart, TransitionComplete, TransitionFault,
		TransitionSuspend, TransitionResume, TransitionReactivate, TransitionTerminate,
		TransitionExit, TransitionOccur, TransitionParentSuspend, TransitionParentResume,
		TransitionParentTerminate, TransitionClose:
		return t, true
	}
	return TransitionNone, false
}

// FileTransition is a lifecycle transition of a case file item.
type FileTransition string

const (
	FileCreate  FileTransition = "Create"
	FileUpdate  FileTransition = "Update"
	FileReplace FileTransition = "Replace"
	FileDelete  FileTransition = "Delete"
)
