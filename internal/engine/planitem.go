package engine

import (
	"github.com/roach88/stagehand/internal/definition"
	"github.com/roach88/stagehand/internal/expr"
)

// PlanItem is one live plan item instance: a task, stage, milestone,
// user event or the case plan itself. The same definition can have
// many instances at different indexes when the item repeats.
//
// All mutation happens through events: commands call makeTransition,
// which journals a PlanItemTransitioned; applying that event updates
// the instance and, on a live case, schedules the sentry behavior.
type PlanItem struct {
	c       *Case
	id      string
	def     *definition.ItemDefinition
	stage   *PlanItem // containing stage instance; nil for the case plan
	index   int
	machine *stateMachine

	isCasePlan    bool
	discretionary bool
	plannedBy     string

	state          State
	history        State
	lastTransition Transition
	lastEvent      *PlanItemTransitioned
	nextTransition Transition

	repetition bool
	required   bool

	entryCriteria []*criterion
	exitCriteria  []*criterion
	earlyBird     *criterion

	// on-parts elsewhere in the case that watch this instance
	entryOnParts []*onPart
	exitOnParts  []*onPart

	children []*PlanItem // stage children, in creation order
}

// ID returns the instance identifier.
func (pi *PlanItem) ID() string { return pi.id }

// Name returns the definition name of the item.
func (pi *PlanItem) Name() string { return pi.def.Name }

// State returns the current lifecycle state.
func (pi *PlanItem) State() State { return pi.state }

// Index returns the repeat index of this instance.
func (pi *PlanItem) Index() int { return pi.index }

// Stage returns the containing stage instance, nil for the case plan.
func (pi *PlanItem) Stage() *PlanItem { return pi.stage }

// Type returns the definition type of the item.
func (pi *PlanItem) Type() definition.ItemType { return pi.def.Type }

func machineFor(t definition.ItemType, isCasePlan bool) *stateMachine {
	if isCasePlan {
		return casePlanMachine
	}
	switch t {
	case definition.MilestoneType, definition.UserEventType:
		return eventMilestoneMachine
	default:
		return taskStageMachine
	}
}

// addPlanItem builds the instance from its creation event, registers
// it with the case and wires it into the sentry network. Both live
// processing and replay come through here.
func (c *Case) addPlanItem(ev *PlanItemCreated) (*PlanItem, error) {
	def := c.def.Item(ev.DefinitionID)
	if def == nil && ev.StageID == "" && ev.DefinitionID == c.def.CasePlanItem().ID {
		def = c.def.CasePlanItem()
	}
	if def == nil {
		return nil, invalidf("apply", "unknown plan item definition %q", ev.DefinitionID)
	}
	var stage *PlanItem
	if ev.StageID != "" {
		stage = c.byID[ev.StageID]
		if stage == nil {
			return nil, invalidf("apply", "unknown stage instance %q", ev.StageID)
		}
	}
	pi := &PlanItem{
		c:             c,
		id:            ev.ItemID,
		def:           def,
		stage:         stage,
		index:         ev.Index,
		isCasePlan:    stage == nil,
		discretionary: ev.Discretionary,
		plannedBy:     ev.PlannedBy,
		state:         StateNull,
		history:       StateNull,
	}
	pi.machine = machineFor(def.Type, pi.isCasePlan)

	c.planItems = append(c.planItems, pi)
	c.byID[pi.id] = pi
	if stage != nil {
		stage.children = append(stage.children, pi)
	} else {
		c.casePlan = pi
		c.planCreated = true
	}

	// Existing on-parts may be waiting for an instance of this
	// definition.
	for _, cr := range c.criteria {
		for _, op := range cr.onParts {
			op.connectPlanItem(pi)
		}
	}

	// Fresh criteria with unfired memory; a repeat instance never
	// inherits its predecessor's satisfaction.
	for _, cd := range def.EntryCriteria {
		pi.entryCriteria = append(pi.entryCriteria, newCriterion(c, pi, cd, true))
	}
	for _, cd := range def.ExitCriteria {
		pi.exitCriteria = append(pi.exitCriteria, newCriterion(c, pi, cd, false))
	}

	// A sibling takes over the repeat duty: the predecessor stops
	// listening with its entry criteria.
	if ev.Index > 0 && stage != nil {
		for _, prior := range stage.children {
			if prior.def == def && prior.index == ev.Index-1 {
				prior.releaseEntryCriteria()
			}
		}
	}
	return pi, nil
}

func (pi *PlanItem) releaseEntryCriteria() {
	for _, cr := range pi.entryCriteria {
		cr.release()
	}
	pi.entryCriteria = nil
}

// connectOnPart registers a watcher. The watcher learns this item's
// most recent transition right away, but only for the first instance
// of its target: repeat instances must not fire on stale history.
func (pi *PlanItem) connectOnPart(op *onPart) {
	if op.crit.isEntry {
		pi.entryOnParts = append(pi.entryOnParts, op)
	} else {
		pi.exitOnParts = append(pi.exitOnParts, op)
	}
	if pi.lastEvent != nil && op.crit.target.index == 0 {
		op.informPlanItem(pi.lastEvent)
	}
}

func (pi *PlanItem) releaseOnPart(op *onPart) {
	pi.entryOnParts = removeOnPart(pi.entryOnParts, op)
	pi.exitOnParts = removeOnPart(pi.exitOnParts, op)
}

func removeOnPart(ops []*onPart, op *onPart) []*onPart {
	for i, existing := range ops {
		if existing == op {
			return append(ops[:i], ops[i+1:]...)
		}
	}
	return ops
}

// prepareTransition locks the item onto its next transition. A sentry
// that tries a different transition while the lock is held is ignored;
// see CompleteTask, where writing output may trigger an exit criterion
// on the completing task itself.
func (pi *PlanItem) prepareTransition(t Transition) bool {
	if pi.nextTransition != TransitionNone {
		return false
	}
	pi.nextTransition = t
	return true
}

func (pi *PlanItem) takeLock(t Transition) bool {
	if pi.nextTransition != TransitionNone && pi.nextTransition != t {
		return false
	}
	pi.nextTransition = TransitionNone
	return true
}

// makeTransition journals the transition if the state machine allows
// it from the current state. Reports whether a state change happened.
func (pi *PlanItem) makeTransition(t Transition) bool {
	if !pi.takeLock(t) {
		return false
	}
	target, ok := pi.machine.target(pi.state, t, pi.history)
	if !ok {
		return false
	}
	pi.c.emit(&PlanItemTransitioned{
		ItemID:       pi.id,
		Transition:   t,
		CurrentState: target,
		HistoryState: pi.state,
	})
	return true
}

// applyTransitioned updates instance state from the journaled event.
// On a live case the sentry behavior frame is scheduled; during
// recovery only watcher memory is brought up to date.
func (pi *PlanItem) applyTransitioned(ev *PlanItemTransitioned) {
	pi.state = ev.CurrentState
	pi.history = ev.HistoryState
	pi.lastTransition = ev.Transition
	pi.lastEvent = ev

	if isEntryFire(ev.Transition) && ev.HistoryState == StateAvailable && pi.willNotRepeat() {
		pi.releaseEntryCriteria()
	}

	if pi.c.recovering {
		for _, op := range snapshotOnParts(pi.entryOnParts) {
			op.informPlanItem(ev)
		}
		for _, op := range snapshotOnParts(pi.exitOnParts) {
			op.informPlanItem(ev)
		}
		return
	}
	pi.c.stack.push(pi.c, &planItemTransitionEvent{item: pi, ev: ev})
}

func isEntryFire(t Transition) bool {
	switch t {
	case TransitionStart, TransitionManualStart, TransitionEnable, TransitionOccur:
		return true
	}
	return false
}

// willNotRepeat reports whether the repetition rule is the constant
// default false. Items with a real rule keep their entry criteria for
// repeat firing.
func (pi *PlanItem) willNotRepeat() bool {
	outcome, constant := pi.def.Control.RepetitionRule.Constant()
	return constant && !outcome
}

// planItemTransitionEvent is the sentry frame for a plan item
// transition.
type planItemTransitionEvent struct {
	item *PlanItem
	ev   *PlanItemTransitioned
}

func (f *planItemTransitionEvent) runImmediate(c *Case) {
	f.item.runStateMachineAction(f.ev)
	for _, op := range snapshotOnParts(f.item.entryOnParts) {
		op.informPlanItem(f.ev)
	}
	f.item.runStageCompletionCheck(f.ev)
}

func (f *planItemTransitionEvent) runDelayed(c *Case) {
	for _, op := range snapshotOnParts(f.item.exitOnParts) {
		op.informPlanItem(f.ev)
	}
}

func (pi *PlanItem) runStageCompletionCheck(ev *PlanItemTransitioned) {
	if pi.stage != nil && ev.CurrentState.IsSemiTerminal() {
		pi.stage.tryCompletion()
	}
}

// runStateMachineAction executes the behavior of the state just
// entered. This is the Go rendering of the per-state actions of the
// three transition tables.
func (pi *PlanItem) runStateMachineAction(ev *PlanItemTransitioned) {
	t := ev.Transition
	if pi.isCasePlan {
		switch ev.CurrentState {
		case StateActive:
			if t == TransitionCreate {
				pi.startInstance()
			} else {
				pi.resumeInstance()
			}
		case StateSuspended:
			pi.suspendInstance()
		case StateCompleted, StateTerminated:
			pi.terminateChildrenFor(t == TransitionTerminate)
		}
		return
	}

	switch pi.machine {
	case taskStageMachine:
		switch ev.CurrentState {
		case StateAvailable:
			pi.createInstance()
		case StateActive:
			switch t {
			case TransitionStart, TransitionManualStart:
				pi.startInstance()
			case TransitionResume, TransitionParentResume:
				pi.resumeInstance()
			case TransitionReactivate:
				pi.reactivateInstance()
			}
		case StateSuspended:
			pi.suspendInstance()
		case StateCompleted:
			pi.terminateChildrenFor(false)
			if len(pi.def.EntryCriteria) == 0 {
				pi.repeat()
			}
		case StateTerminated:
			pi.terminateChildrenFor(true)
			if len(pi.def.EntryCriteria) == 0 {
				pi.repeat()
			}
		}
	case eventMilestoneMachine:
		switch ev.CurrentState {
		case StateAvailable:
			if t == TransitionCreate {
				pi.createInstance()
			}
		}
	}
}

// createInstance runs when the item becomes available: evaluate the
// item control rules, then begin the lifecycle.
func (pi *PlanItem) createInstance() {
	pi.evaluateRepetitionRule(true)
	pi.evaluateRequiredRule()
	pi.beginLifeCycle()
}

// beginLifeCycle decides how the freshly available item proceeds: no
// entry criteria means transition immediately; an early bird satisfied
// while the item was still Null counts; otherwise the item waits.
func (pi *PlanItem) beginLifeCycle() {
	if len(pi.def.EntryCriteria) == 0 {
		pi.makeTransition(pi.entryTransition())
		return
	}
	if pi.earlyBird != nil {
		cr := pi.earlyBird
		pi.earlyBird = nil
		pi.handleCriterionSatisfied(cr)
		return
	}
	for _, cr := range pi.entryCriteria {
		if cr.isSatisfied() {
			pi.handleCriterionSatisfied(cr)
			return
		}
	}
}

// entryTransition is the transition an entry criterion (or the lack of
// any) invokes: Occur for milestones, nothing for user events, Start
// or Enable for tasks and stages depending on the manual activation
// rule.
func (pi *PlanItem) entryTransition() Transition {
	switch pi.def.Type {
	case definition.MilestoneType:
		return TransitionOccur
	case definition.UserEventType:
		return TransitionNone
	}
	manual, err := pi.def.Control.ManualActivationRule.Evaluate(pi.ruleScope())
	if err != nil {
		pi.c.logger.Debug("manual activation rule defaulted", "item", pi.id, "error", err)
		return TransitionStart
	}
	if manual {
		return TransitionEnable
	}
	return TransitionStart
}

func (pi *PlanItem) ruleScope() expr.Scope {
	return expr.Scope{File: pi.c.file.asGo(), Index: pi.index}
}

func (pi *PlanItem) evaluateRepetitionRule(first bool) {
	outcome, err := pi.def.Control.RepetitionRule.Evaluate(pi.ruleScope())
	if err != nil {
		if !first {
			pi.c.noteFault(err)
			return
		}
		// At creation the case file is usually still unpopulated; a
		// rule reading data that only arrives later takes its
		// default, like a missing property resolving to null. The
		// re-evaluation on repeat is strict.
		pi.c.logger.Debug("repetition rule defaulted", "item", pi.id, "error", err)
		outcome = false
	}
	if first || outcome != pi.repetition {
		pi.c.emit(&RepetitionRuleEvaluated{ItemID: pi.id, Outcome: outcome})
	}
}

func (pi *PlanItem) evaluateRequiredRule() {
	outcome, err := pi.def.Control.RequiredRule.Evaluate(pi.ruleScope())
	if err != nil {
		pi.c.logger.Debug("required rule defaulted", "item", pi.id, "error", err)
		outcome = false
	}
	pi.c.emit(&RequiredRuleEvaluated{ItemID: pi.id, Outcome: outcome})
}

// entryCriterionSatisfied handles a firing entry criterion. While the
// item is still Null the firing is stashed until the lifecycle begins.
func (pi *PlanItem) entryCriterionSatisfied(cr *criterion) {
	if pi.state.IsNull() {
		pi.earlyBird = cr
		return
	}
	pi.handleCriterionSatisfied(cr)
}

// handleCriterionSatisfied distinguishes the very first firing on the
// very first instance, which just makes the entry transition, from
// every later firing, which goes through repetition.
func (pi *PlanItem) handleCriterionSatisfied(cr *criterion) {
	if pi.index == 0 && pi.state.IsAvailable() {
		pi.makeTransition(pi.entryTransition())
		return
	}
	pi.repeat()
}

// exitCriterionSatisfied terminates the item the way its family
// defines: Exit for items, Terminate for the case plan.
func (pi *PlanItem) exitCriterionSatisfied() {
	pi.makeTransition(pi.machine.exit)
}

// repeat evaluates the repetition rule and, when it holds, creates the
// next instance at index+1 and fires its entry transition. Runs on
// completion or termination for items without entry criteria, and on
// criterion firing for the rest.
func (pi *PlanItem) repeat() {
	if pi.stage == nil || !pi.stage.state.IsActive() {
		return
	}
	pi.evaluateRepetitionRule(false)
	if !pi.repetition || pi.discretionary {
		return
	}
	sibling := pi.stage.createChild(pi.def, pi.index+1, pi.discretionary, pi.plannedBy)
	sibling.makeTransition(TransitionCreate)
	sibling.makeTransition(sibling.entryTransition())
}
