package engine

import (
	"github.com/roach88/stagehand/internal/definition"
	"github.com/roach88/stagehand/internal/expr"
)

// criterion is one live entry or exit criterion: the on-part instances
// watching their sources, plus the optional if-part guard. Criteria
// are per plan item instance; a repeat instance gets fresh criteria
// with unfired memory.
type criterion struct {
	c       *Case
	def     *definition.CriterionDefinition
	target  *PlanItem
	isEntry bool

	onParts  []*onPart
	inactive map[*onPart]bool
}

// onPart watches one source definition for one standard event. Its
// memory is level based: active tracks whether the last observed
// transition equals the standard event, and flips back when the source
// transitions to anything else.
type onPart struct {
	crit   *criterion
	def    *definition.OnPartDefinition
	active bool

	planSources []*PlanItem
	fileSources []*caseFileItem
}

func newCriterion(c *Case, target *PlanItem, def *definition.CriterionDefinition, isEntry bool) *criterion {
	cr := &criterion{
		c:        c,
		def:      def,
		target:   target,
		isEntry:  isEntry,
		inactive: make(map[*onPart]bool),
	}
	for _, pd := range def.OnParts {
		op := &onPart{crit: cr, def: pd}
		cr.onParts = append(cr.onParts, op)
		cr.inactive[op] = true
	}
	c.criteria = append(c.criteria, cr)
	for _, op := range cr.onParts {
		op.connectToCase()
	}
	return cr
}

// release disconnects the criterion from the sentry network. Typically
// invoked when the criterion fired for good, or when its target
// reached a semi-terminal state.
func (cr *criterion) release() {
	for i, other := range cr.c.criteria {
		if other == cr {
			cr.c.criteria = append(cr.c.criteria[:i], cr.c.criteria[i+1:]...)
			break
		}
	}
	for _, op := range cr.onParts {
		op.disconnect()
	}
}

// activate is invoked by an on-part that became active. When that
// leaves no inactive on-parts and the if-part agrees, the criterion
// fires at its target.
func (cr *criterion) activate(op *onPart) {
	delete(cr.inactive, op)
	if cr.isSatisfied() {
		cr.fire()
	}
}

func (cr *criterion) deactivate(op *onPart) {
	cr.inactive[op] = true
}

// isSatisfied implements the CMMN sentry rule: all on-parts active and
// the if-part true; with no on-parts, the if-part alone decides.
func (cr *criterion) isSatisfied() bool {
	if len(cr.onParts) > 0 && len(cr.inactive) > 0 {
		return false
	}
	return cr.evaluateIfPart()
}

// evaluateIfPart treats evaluation errors as an unsatisfied guard: an
// if-part over case file values the case has not produced yet is a
// normal condition, not a fault.
func (cr *criterion) evaluateIfPart() bool {
	outcome, err := cr.def.IfRule.Evaluate(expr.Scope{
		File:  cr.c.file.asGo(),
		Index: cr.target.index,
	})
	if err != nil {
		cr.c.logger.Debug("if part not satisfiable", "criterion", cr.def.ID, "error", err)
		return false
	}
	return outcome
}

func (cr *criterion) fire() {
	if cr.c.recovering {
		return
	}
	if cr.isEntry {
		cr.target.entryCriterionSatisfied(cr)
	} else {
		cr.target.exitCriterionSatisfied()
	}
}

// connectToCase wires the on-part to every matching source already in
// the case.
func (op *onPart) connectToCase() {
	switch op.def.Kind {
	case definition.PlanItemSource:
		for _, item := range op.crit.c.planItemsSnapshot() {
			op.connectPlanItem(item)
		}
	case definition.CaseFileSource:
		for _, node := range op.crit.c.file.instancesOf(op.def.SourceFile) {
			op.connectFileItem(node)
		}
	}
}

// connectPlanItem links a plan item source if it matches the on-part's
// source definition and does not belong to a sibling stage of the
// target.
func (op *onPart) connectPlanItem(source *PlanItem) {
	if op.def.Kind != definition.PlanItemSource || source.def != op.def.SourceItem {
		return
	}
	for _, existing := range op.planSources {
		if existing == source {
			return
		}
	}
	if !isNotSomewhereSibling(source, op.crit.target) {
		return
	}
	op.planSources = append(op.planSources, source)
	source.connectOnPart(op)
}

func (op *onPart) connectFileItem(source *caseFileItem) {
	if op.def.Kind != definition.CaseFileSource || source.def != op.def.SourceFile {
		return
	}
	for _, existing := range op.fileSources {
		if existing == source {
			return
		}
	}
	op.fileSources = append(op.fileSources, source)
	source.connectOnPart(op)
}

func (op *onPart) disconnect() {
	for _, source := range op.planSources {
		source.releaseOnPart(op)
	}
	for _, source := range op.fileSources {
		source.releaseOnPart(op)
	}
	op.planSources = nil
	op.fileSources = nil
}

// informPlanItem observes a source transition. The on-part is active
// exactly while the last observed transition equals the standard
// event.
func (op *onPart) informPlanItem(ev *PlanItemTransitioned) {
	op.active = ev.Transition == Transition(op.def.StandardEvent)
	if op.active {
		op.crit.activate(op)
	} else {
		op.crit.deactivate(op)
	}
}

// informFileItem observes a case file transition.
func (op *onPart) informFileItem(t FileTransition) {
	op.active = t == FileTransition(op.def.StandardEvent)
	if op.active {
		op.crit.activate(op)
	} else {
		op.crit.deactivate(op)
	}
}

// isNotSomewhereSibling reports whether the source plan item shares no
// sibling-stage relation with the target or any of the target's
// ancestors. A criterion must not observe an instance that lives in a
// parallel repeat of its own stage hierarchy.
func isNotSomewhereSibling(source, target *PlanItem) bool {
	if target == nil {
		return true
	}
	for ancestor := source; ancestor != nil; ancestor = ancestor.stage {
		if ancestor.def == target.def && ancestor != target {
			return false
		}
	}
	return isNotSomewhereSibling(source, target.stage)
}
