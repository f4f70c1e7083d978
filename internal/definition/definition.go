// Package definition holds the typed, immutable definition tree for a
// case: the case file model, the case plan with its nested stages and
// plan items, sentries with their on-parts and if-parts, case roles and
// planning tables.
//
// Definitions are loaded from YAML (Load) and then resolved (Resolve):
// after a successful Resolve every cross-reference is non-nil, every
// rule expression has been compiled, and the tree never changes again.
// A dangling reference or malformed expression is a definition-time
// fatal error, never a runtime one.
package definition

import (
	"github.com/roach88/stagehand/internal/expr"
	"github.com/roach88/stagehand/internal/value"
)

// ItemType classifies a plan item definition.
type ItemType string

const (
	TaskType      ItemType = "Task"
	StageType     ItemType = "Stage"
	MilestoneType ItemType = "Milestone"
	UserEventType ItemType = "UserEvent"
)

// Multiplicity of a case file item.
type Multiplicity string

const (
	ExactlyOne Multiplicity = "exactlyOne"
	ZeroOrMore Multiplicity = "zeroOrMore"
)

// OnPartKind distinguishes the two source kinds an on-part can watch.
type OnPartKind string

const (
	PlanItemSource OnPartKind = "planItem"
	CaseFileSource OnPartKind = "caseFile"
)

// PlanItemEvents are the standard events an on-part may observe on a
// plan item source.
var PlanItemEvents = []string{
	"Create", "Enable", "Disable", "Reenable", "ManualStart", "Start",
	"Complete", "Fault", "Suspend", "Resume", "Reactivate", "Terminate",
	"Exit", "Occur", "ParentSuspend", "ParentResume", "ParentTerminate",
}

// CaseFileEvents are the standard events an on-part may observe on a
// case file item source.
var CaseFileEvents = []string{"Create", "Update", "Replace", "Delete"}

// CaseDefinition is the root of a definition tree.
type CaseDefinition struct {
	Name     string
	Roles    []*RoleDefinition
	CaseFile []*CaseFileItemDefinition
	Inputs   []*InputDefinition
	CasePlan *StageDefinition

	roleIndex    map[string]*RoleDefinition
	itemIndex    map[string]*ItemDefinition
	fileIndex    map[string]*CaseFileItemDefinition
	casePlanItem *ItemDefinition
	resolved     bool
}

// CasePlanItem returns the synthetic item wrapping the case plan, so
// the plan root runs on the same instance machinery as its children.
// Valid after Resolve.
func (d *CaseDefinition) CasePlanItem() *ItemDefinition {
	return d.casePlanItem
}

// RoleDefinition declares a case role.
type RoleDefinition struct {
	Name      string
	Singleton bool
	MutexRaw  []string

	Mutex []*RoleDefinition
}

// CaseFileItemDefinition describes one node of the case file model.
type CaseFileItemDefinition struct {
	Name         string
	Multiplicity Multiplicity
	Children     []*CaseFileItemDefinition

	Parent *CaseFileItemDefinition
	path   value.Path
}

// Path returns the definition's location in the case file model.
// Valid after Resolve.
func (d *CaseFileItemDefinition) Path() value.Path {
	return d.path
}

// Child returns the child definition with the given name, or nil.
func (d *CaseFileItemDefinition) Child(name string) *CaseFileItemDefinition {
	for _, child := range d.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}

// IsArray reports whether the item holds multiple indexed instances.
func (d *CaseFileItemDefinition) IsArray() bool {
	return d.Multiplicity == ZeroOrMore
}

// InputDefinition binds a case input parameter to a case file path.
type InputDefinition struct {
	Name    string
	BindRaw string

	Bind *CaseFileItemDefinition
}

// StageDefinition is the body of a stage: its children in definition
// order, its auto-complete flag and its planning table.
type StageDefinition struct {
	AutoComplete  bool
	Items         []*ItemDefinition
	PlanningTable []*ItemDefinition
}

// ItemDefinition describes one plan item or discretionary item.
type ItemDefinition struct {
	ID            string
	Name          string
	Type          ItemType
	Control       ItemControl
	EntryCriteria []*CriterionDefinition
	ExitCriteria  []*CriterionDefinition

	// Stage body, non-nil only when Type is StageType.
	Stage *StageDefinition

	// Discretionary marks planning-table membership.
	Discretionary bool
	RolesRaw      []string
	Applicability string

	AuthorizedRoles   []*RoleDefinition
	ApplicabilityRule *expr.Rule
}

// ItemControl carries the per-item rule expressions. Empty expressions
// take the CMMN defaults: repetition false, required false, manual
// activation false.
type ItemControl struct {
	Repetition       string
	Required         string
	ManualActivation string

	RepetitionRule       *expr.Rule
	RequiredRule         *expr.Rule
	ManualActivationRule *expr.Rule
}

// CriterionDefinition is an entry or exit criterion: a set of on-parts
// plus an optional if-part guard expression.
type CriterionDefinition struct {
	ID      string
	OnParts []*OnPartDefinition
	IfPart  string

	IfRule *expr.Rule
}

// OnPartDefinition binds a criterion to one source and one standard
// event.
type OnPartDefinition struct {
	SourceRef     string
	StandardEvent string

	Kind       OnPartKind
	SourceItem *ItemDefinition
	SourceFile *CaseFileItemDefinition
}

// Role returns the role definition with the given name, or nil.
func (d *CaseDefinition) Role(name string) *RoleDefinition {
	return d.roleIndex[name]
}

// Item returns the plan item or discretionary definition with the
// given name, or nil. Item names are unique within a case.
func (d *CaseDefinition) Item(name string) *ItemDefinition {
	return d.itemIndex[name]
}

// FileItem returns the case file item definition at the given path
// (textual form without indexes), or nil.
func (d *CaseDefinition) FileItem(path string) *CaseFileItemDefinition {
	return d.fileIndex[path]
}

// FileChild returns the top-level case file definition with the given
// name, or nil.
func (d *CaseDefinition) FileChild(name string) *CaseFileItemDefinition {
	for _, child := range d.CaseFile {
		if child.Name == name {
			return child
		}
	}
	return nil
}
