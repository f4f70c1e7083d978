package engine

import (
	"github.com/roach88/stagehand/internal/definition"
	"github.com/roach88/stagehand/internal/expr"
)

// Stage behavior of a plan item: creating children, propagating
// parent transitions and the auto-complete check. These methods are
// no-ops for plan items that are not stages.

func (pi *PlanItem) stageBody() *definition.StageDefinition {
	if pi.isCasePlan {
		return pi.c.def.CasePlan
	}
	if pi.def.Type == definition.StageType {
		return pi.def.Stage
	}
	return nil
}

// startInstance activates the item. For stages that means creating
// and starting every child of the stage body.
func (pi *PlanItem) startInstance() {
	body := pi.stageBody()
	if body == nil {
		return
	}
	for _, childDef := range body.Items {
		child := pi.createChild(childDef, 0, false, "")
		child.makeTransition(TransitionCreate)
	}
}

// createChild journals the creation of a child instance and returns
// the live instance the apply produced.
func (pi *PlanItem) createChild(def *definition.ItemDefinition, index int, discretionary bool, plannedBy string) *PlanItem {
	return pi.createChildWithID(pi.c.ids.Generate(), def, index, discretionary, plannedBy)
}

// createChildWithID is createChild for callers that bring their own
// instance id, such as discretionary planning.
func (pi *PlanItem) createChildWithID(id string, def *definition.ItemDefinition, index int, discretionary bool, plannedBy string) *PlanItem {
	pi.c.emit(&PlanItemCreated{
		ItemID:        id,
		DefinitionID:  def.ID,
		Type:          string(def.Type),
		StageID:       pi.id,
		Index:         index,
		Discretionary: discretionary,
		PlannedBy:     plannedBy,
	})
	return pi.c.byID[id]
}

// suspendInstance propagates the parent suspend to every child.
func (pi *PlanItem) suspendInstance() {
	if pi.stageBody() == nil {
		return
	}
	for _, child := range snapshotItems(pi.children) {
		child.makeTransition(TransitionParentSuspend)
	}
}

// resumeInstance propagates the parent resume, then gives items that
// never left Null another chance to begin their lifecycle.
func (pi *PlanItem) resumeInstance() {
	if pi.stageBody() == nil {
		return
	}
	for _, child := range snapshotItems(pi.children) {
		child.makeTransition(TransitionParentResume)
	}
	pi.createNullChildren()
}

// reactivateInstance restarts a failed stage: children that never got
// created are created now.
func (pi *PlanItem) reactivateInstance() {
	pi.createNullChildren()
}

func (pi *PlanItem) createNullChildren() {
	for _, child := range snapshotItems(pi.children) {
		if child.state.IsNull() {
			child.makeTransition(TransitionCreate)
		}
	}
}

// terminateChildrenFor ends the children's lifecycle with the stage.
// A terminating stage propagates each child's termination transition:
// Exit for tasks and stages, ParentTerminate for events and
// milestones. A completing stage propagates nothing; its children are
// already semi-terminal.
func (pi *PlanItem) terminateChildrenFor(terminate bool) {
	if pi.stageBody() == nil || !terminate {
		return
	}
	for _, child := range snapshotItems(pi.children) {
		child.makeTransition(child.machine.termination)
	}
}

// tryCompletion runs the auto-complete check after a child reached a
// semi-terminal state.
func (pi *PlanItem) tryCompletion() {
	if pi.stageBody() == nil || pi.state.IsSemiTerminal() {
		return
	}
	if pi.isCompletionAllowed(false) {
		pi.makeTransition(TransitionComplete)
	}
}

// isCompletionAllowed implements CMMN 1.1 chapter 8.6.1. With
// autoComplete, the stage completes when no child is active and every
// required child is semi-terminal. Without it, every child must be
// semi-terminal and no discretionary item may be left, unless the
// completion is manual, which relaxes back to the required-only rule.
func (pi *PlanItem) isCompletionAllowed(manual bool) bool {
	body := pi.stageBody()
	autoComplete := body.AutoComplete
	for _, child := range pi.children {
		if child.state.IsActive() {
			return false
		}
		if child.state.IsSemiTerminal() {
			continue
		}
		if autoComplete || manual {
			if child.required {
				return false
			}
		} else {
			return false
		}
	}
	if !autoComplete && !manual && pi.hasDiscretionaryItems() {
		return false
	}
	return true
}

// hasDiscretionaryItems reports whether the stage still offers
// applicable planning table entries.
func (pi *PlanItem) hasDiscretionaryItems() bool {
	body := pi.stageBody()
	for _, dd := range body.PlanningTable {
		if pi.isApplicable(dd) {
			return true
		}
	}
	return false
}

// isApplicable evaluates a planning table entry's applicability rule.
// Evaluation errors read as not applicable; rules over case file
// values that do not exist yet must not fault the case.
func (pi *PlanItem) isApplicable(dd *definition.ItemDefinition) bool {
	applicable, err := dd.ApplicabilityRule.Evaluate(expr.Scope{File: pi.c.file.asGo(), Index: pi.index})
	if err != nil {
		pi.c.logger.Debug("applicability rule not satisfiable", "item", dd.Name, "error", err)
		return false
	}
	return applicable
}

func snapshotItems(items []*PlanItem) []*PlanItem {
	out := make([]*PlanItem, len(items))
	copy(out, items)
	return out
}
