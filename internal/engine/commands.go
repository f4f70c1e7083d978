package engine

import (
	"slices"

	"github.com/roach88/stagehand/internal/definition"
	"github.com/roach88/stagehand/internal/value"
)

// commandBase carries the addressing every command shares.
type commandBase struct {
	Case string
	By   string
}

func (b commandBase) CaseID() string { return b.Case }
func (b commandBase) User() string   { return b.By }

// Authorize's baseline, team membership, lives in Case.authorize;
// commands override this only to demand more.
func (commandBase) Authorize(*Case) error { return nil }

// MemberSpec declares one initial team member for StartCase.
type MemberSpec struct {
	UserID string
	Roles  []string
	Owner  bool
}

// StartCase creates the case: it journals the start marker, the
// initial team, the bound inputs and the whole initial plan. The
// sender becomes a case owner.
type StartCase struct {
	commandBase
	Definition string
	Inputs     map[string]value.Value
	Members    []MemberSpec
}

func (cmd *StartCase) Name() string { return "StartCase" }

func (cmd *StartCase) Validate(c *Case) error {
	if c.started {
		return invalidf(cmd.Name(), "case %s already started", c.id)
	}
	for name := range cmd.Inputs {
		in := inputDefinition(c.def, name)
		if in == nil {
			return invalidf(cmd.Name(), "unknown case input %q", name)
		}
		if _, err := c.file.validateFileCreate(cmd.Name(), in.Bind.Path()); err != nil {
			return err
		}
	}
	// The member list is one batch: each entry must hold against the
	// members before it, or two entries could share a singleton role.
	scratch := newTeam(c)
	for _, m := range cmd.Members {
		if err := scratch.validatePut(cmd.Name(), m.UserID, m.Roles, m.Owner); err != nil {
			return err
		}
		scratch.applyPut(&TeamMemberPut{UserID: m.UserID, Roles: m.Roles, Owner: m.Owner})
	}
	return nil
}

func inputDefinition(def *definition.CaseDefinition, name string) *definition.InputDefinition {
	for _, in := range def.Inputs {
		if in.Name == name {
			return in
		}
	}
	return nil
}

func (cmd *StartCase) Process(c *Case) (any, error) {
	c.emit(&CaseStarted{CaseName: c.def.Name, Definition: c.def.Name, CreatedBy: cmd.By})

	// Team first: membership must exist before anything else happens
	// in the case's name. The sender is an owner even when the member
	// list says otherwise.
	creator := MemberSpec{UserID: cmd.By, Owner: true}
	for _, m := range cmd.Members {
		if m.UserID == cmd.By {
			creator.Roles = m.Roles
		}
	}
	c.emit(&TeamMemberPut{UserID: creator.UserID, Roles: creator.Roles, Owner: true})
	for _, m := range cmd.Members {
		if m.UserID == cmd.By {
			continue
		}
		c.emit(&TeamMemberPut{UserID: m.UserID, Roles: m.Roles, Owner: m.Owner})
	}

	// Inputs bind to the case file before the plan exists. The
	// resulting transitions buffer until the plan is connected.
	for _, in := range c.def.Inputs {
		v, ok := cmd.Inputs[in.Name]
		if !ok {
			continue
		}
		target, err := c.file.validateFileCreate(cmd.Name(), in.Bind.Path())
		if err != nil {
			return nil, err
		}
		if err := emitFileValue(c, target, FileCreate, v); err != nil {
			return nil, err
		}
	}

	// The plan: one creation event for the case plan, a Create
	// transition, and the whole child cascade follows live.
	c.emit(&PlanItemCreated{
		ItemID:       c.ids.Generate(),
		DefinitionID: c.def.CasePlanItem().ID,
		Type:         string(definition.StageType),
		Index:        0,
	})
	c.casePlan.makeTransition(TransitionCreate)
	c.flushBootstrap()
	return nil, nil
}

// TransitionResult reports which instances a transition command
// actually moved.
type TransitionResult struct {
	Affected []string `json:"affected"`
}

// MakePlanItemTransition moves one plan item, addressed by instance id
// or by definition name. By-name addressing attempts the transition on
// every existing instance in reverse creation order, each at most
// once; instances created by those very transitions are not visited.
type MakePlanItemTransition struct {
	commandBase
	ItemID     string
	ItemName   string
	Transition Transition
}

func (cmd *MakePlanItemTransition) Name() string { return "MakePlanItemTransition" }

func (cmd *MakePlanItemTransition) Validate(c *Case) error {
	if !c.started {
		return invalidf(cmd.Name(), "case %s is not started", c.id)
	}
	if _, ok := ParseTransition(string(cmd.Transition)); !ok {
		return invalidf(cmd.Name(), "unknown transition %q", cmd.Transition)
	}
	if cmd.ItemID == "" && cmd.ItemName == "" {
		return invalidf(cmd.Name(), "either an item id or an item name is required")
	}
	if cmd.ItemID != "" {
		pi := c.byID[cmd.ItemID]
		if pi == nil {
			return invalidf(cmd.Name(), "unknown plan item %q", cmd.ItemID)
		}
		if cmd.Transition == TransitionComplete && pi.stageBody() != nil && !pi.isCompletionAllowed(true) {
			return invalidf(cmd.Name(), "stage %s cannot complete yet", pi.def.Name)
		}
		return nil
	}
	if len(c.PlanItemsByName(cmd.ItemName)) == 0 {
		return invalidf(cmd.Name(), "no plan item named %q", cmd.ItemName)
	}
	return nil
}

func (cmd *MakePlanItemTransition) Process(c *Case) (any, error) {
	if cmd.ItemID != "" {
		pi := c.byID[cmd.ItemID]
		if !pi.makeTransition(cmd.Transition) {
			return nil, invalidf(cmd.Name(), "transition %s has no effect on %s in state %s",
				cmd.Transition, pi.def.Name, pi.state)
		}
		return &TransitionResult{Affected: []string{pi.id}}, nil
	}

	// Snapshot before transitioning: a repeat instance created by an
	// earlier iteration must not be visited.
	instances := c.PlanItemsByName(cmd.ItemName)
	var affected []string
	for i := len(instances) - 1; i >= 0; i-- {
		pi := instances[i]
		if cmd.Transition == TransitionComplete && pi.stageBody() != nil && !pi.isCompletionAllowed(true) {
			continue
		}
		if pi.makeTransition(cmd.Transition) {
			affected = append(affected, pi.id)
		}
	}
	if len(affected) == 0 {
		return nil, invalidf(cmd.Name(), "transition %s has no effect on any instance of %q",
			cmd.Transition, cmd.ItemName)
	}
	return &TransitionResult{Affected: affected}, nil
}

// CompleteTask completes an active task, optionally writing task
// output into the case file first. The task holds a transition lock
// while the output lands, so an exit criterion triggered by the very
// output cannot terminate the completing task mid flight.
type CompleteTask struct {
	commandBase
	ItemID string
	Output map[string]value.Value
}

func (cmd *CompleteTask) Name() string { return "CompleteTask" }

func (cmd *CompleteTask) Validate(c *Case) error {
	if !c.started {
		return invalidf(cmd.Name(), "case %s is not started", c.id)
	}
	pi := c.byID[cmd.ItemID]
	if pi == nil {
		return invalidf(cmd.Name(), "unknown plan item %q", cmd.ItemID)
	}
	if pi.def.Type != definition.TaskType {
		return invalidf(cmd.Name(), "%s is not a task", pi.def.Name)
	}
	if !pi.state.IsActive() {
		return invalidf(cmd.Name(), "task %s is not active", pi.def.Name)
	}
	for path := range cmd.Output {
		if _, err := value.ParsePath(path); err != nil {
			return invalidf(cmd.Name(), "bad output path %q: %v", path, err)
		}
	}
	return nil
}

func (cmd *CompleteTask) Process(c *Case) (any, error) {
	pi := c.byID[cmd.ItemID]
	if !pi.prepareTransition(TransitionComplete) {
		return nil, invalidf(cmd.Name(), "task %s is already transitioning", pi.def.Name)
	}
	for _, path := range sortedKeys(cmd.Output) {
		p := value.MustParsePath(path)
		v := cmd.Output[path]
		if node := c.file.resolve(p); node != nil && node.state == fileAvailable {
			merged, err := c.file.validateFileUpdate(cmd.Name(), p, v)
			if err != nil {
				return nil, err
			}
			if err := emitFileValue(c, p, FileUpdate, merged); err != nil {
				return nil, err
			}
			continue
		}
		target, err := c.file.validateFileCreate(cmd.Name(), p)
		if err != nil {
			return nil, err
		}
		if err := emitFileValue(c, target, FileCreate, v); err != nil {
			return nil, err
		}
	}
	if !pi.makeTransition(TransitionComplete) {
		return nil, invalidf(cmd.Name(), "task %s could not complete", pi.def.Name)
	}
	return &TransitionResult{Affected: []string{pi.id}}, nil
}

func sortedKeys(m map[string]value.Value) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func emitFileValue(c *Case, p value.Path, t FileTransition, v value.Value) error {
	data, err := value.MarshalCanonical(v)
	if err != nil {
		return err
	}
	c.emit(&CaseFileItemTransitioned{Path: p.String(), Transition: t, Value: data})
	return nil
}

// CreateCaseFileItem creates a case file item. Array paths append the
// next instance.
type CreateCaseFileItem struct {
	commandBase
	Path  string
	Value value.Value

	target value.Path
}

func (cmd *CreateCaseFileItem) Name() string { return "CreateCaseFileItem" }

func (cmd *CreateCaseFileItem) Validate(c *Case) error {
	if !c.started {
		return invalidf(cmd.Name(), "case %s is not started", c.id)
	}
	p, err := value.ParsePath(cmd.Path)
	if err != nil {
		return invalidf(cmd.Name(), "bad path %q: %v", cmd.Path, err)
	}
	cmd.target, err = c.file.validateFileCreate(cmd.Name(), p)
	return err
}

func (cmd *CreateCaseFileItem) Process(c *Case) (any, error) {
	return nil, emitFileValue(c, cmd.target, FileCreate, cmd.Value)
}

// UpdateCaseFileItem merges new content into an available item:
// object fields merge shallowly, anything else replaces the value.
type UpdateCaseFileItem struct {
	commandBase
	Path  string
	Value value.Value

	target value.Path
	merged value.Value
}

func (cmd *UpdateCaseFileItem) Name() string { return "UpdateCaseFileItem" }

func (cmd *UpdateCaseFileItem) Validate(c *Case) error {
	if !c.started {
		return invalidf(cmd.Name(), "case %s is not started", c.id)
	}
	p, err := value.ParsePath(cmd.Path)
	if err != nil {
		return invalidf(cmd.Name(), "bad path %q: %v", cmd.Path, err)
	}
	cmd.target = p
	cmd.merged, err = c.file.validateFileUpdate(cmd.Name(), p, cmd.Value)
	return err
}

func (cmd *UpdateCaseFileItem) Process(c *Case) (any, error) {
	return nil, emitFileValue(c, cmd.target, FileUpdate, cmd.merged)
}

// ReplaceCaseFileItem swaps an item's content wholesale. Children of
// the item are removed; the journal carries one Delete per removed
// child, then the Replace itself.
type ReplaceCaseFileItem struct {
	commandBase
	Path  string
	Value value.Value

	target  value.Path
	removed []*caseFileItem
}

func (cmd *ReplaceCaseFileItem) Name() string { return "ReplaceCaseFileItem" }

func (cmd *ReplaceCaseFileItem) Validate(c *Case) error {
	if !c.started {
		return invalidf(cmd.Name(), "case %s is not started", c.id)
	}
	p, err := value.ParsePath(cmd.Path)
	if err != nil {
		return invalidf(cmd.Name(), "bad path %q: %v", cmd.Path, err)
	}
	cmd.target = p
	cmd.removed, err = c.file.validateFileReplace(cmd.Name(), p)
	return err
}

func (cmd *ReplaceCaseFileItem) Process(c *Case) (any, error) {
	for _, child := range cmd.removed {
		c.emit(&CaseFileItemTransitioned{Path: child.path().String(), Transition: FileDelete})
	}
	return nil, emitFileValue(c, cmd.target, FileReplace, cmd.Value)
}

// DeleteCaseFileItem discards an item and its whole subtree. The
// journal carries the one Delete; descendants are discarded in memory.
type DeleteCaseFileItem struct {
	commandBase
	Path string

	target value.Path
}

func (cmd *DeleteCaseFileItem) Name() string { return "DeleteCaseFileItem" }

func (cmd *DeleteCaseFileItem) Validate(c *Case) error {
	if !c.started {
		return invalidf(cmd.Name(), "case %s is not started", c.id)
	}
	p, err := value.ParsePath(cmd.Path)
	if err != nil {
		return invalidf(cmd.Name(), "bad path %q: %v", cmd.Path, err)
	}
	cmd.target = p
	return c.file.validateFileDelete(cmd.Name(), p)
}

func (cmd *DeleteCaseFileItem) Process(c *Case) (any, error) {
	c.emit(&CaseFileItemTransitioned{Path: cmd.target.String(), Transition: FileDelete})
	return nil, nil
}

// PutTeamMember upserts a team membership. Owners only.
type PutTeamMember struct {
	commandBase
	UserID string
	Roles  []string
	Owner  bool
}

func (cmd *PutTeamMember) Name() string { return "PutTeamMember" }

func (cmd *PutTeamMember) Authorize(c *Case) error {
	if !c.team.IsOwner(cmd.By) {
		return unauthorizedf(cmd.By, "only case owners manage the team")
	}
	return nil
}

func (cmd *PutTeamMember) Validate(c *Case) error {
	if !c.started {
		return invalidf(cmd.Name(), "case %s is not started", c.id)
	}
	return c.team.validatePut(cmd.Name(), cmd.UserID, cmd.Roles, cmd.Owner)
}

func (cmd *PutTeamMember) Process(c *Case) (any, error) {
	c.emit(&TeamMemberPut{UserID: cmd.UserID, Roles: cmd.Roles, Owner: cmd.Owner})
	return nil, nil
}

// RemoveTeamMember removes a membership. Owners only; the last owner
// stays.
type RemoveTeamMember struct {
	commandBase
	UserID string
}

func (cmd *RemoveTeamMember) Name() string { return "RemoveTeamMember" }

func (cmd *RemoveTeamMember) Authorize(c *Case) error {
	if !c.team.IsOwner(cmd.By) {
		return unauthorizedf(cmd.By, "only case owners manage the team")
	}
	return nil
}

func (cmd *RemoveTeamMember) Validate(c *Case) error {
	if !c.started {
		return invalidf(cmd.Name(), "case %s is not started", c.id)
	}
	return c.team.validateRemove(cmd.Name(), cmd.UserID)
}

func (cmd *RemoveTeamMember) Process(c *Case) (any, error) {
	c.emit(&TeamMemberRemoved{UserID: cmd.UserID})
	return nil, nil
}

// GetCaseState returns the case snapshot. Read-only.
type GetCaseState struct {
	commandBase
}

func (cmd *GetCaseState) Name() string { return "GetCaseState" }

func (cmd *GetCaseState) Validate(c *Case) error {
	if !c.started {
		return invalidf(cmd.Name(), "case %s is not started", c.id)
	}
	return nil
}

func (cmd *GetCaseState) Process(c *Case) (any, error) {
	return c.Snapshot(), nil
}

// DiscretionaryItem is one currently applicable planning table entry.
type DiscretionaryItem struct {
	DefinitionID string   `json:"definitionId"`
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	StageID      string   `json:"stageId"`
	Roles        []string `json:"roles,omitempty"`
}

// ListDiscretionaryItems returns the planning table entries currently
// open for planning: entries of active stages whose applicability rule
// holds. Read-only.
type ListDiscretionaryItems struct {
	commandBase
}

func (cmd *ListDiscretionaryItems) Name() string { return "ListDiscretionaryItems" }

func (cmd *ListDiscretionaryItems) Validate(c *Case) error {
	if !c.started {
		return invalidf(cmd.Name(), "case %s is not started", c.id)
	}
	return nil
}

func (cmd *ListDiscretionaryItems) Process(c *Case) (any, error) {
	items := []DiscretionaryItem{}
	for _, pi := range c.planItems {
		body := pi.stageBody()
		if body == nil || !pi.state.IsActive() {
			continue
		}
		for _, dd := range body.PlanningTable {
			if !pi.isApplicable(dd) {
				continue
			}
			var roles []string
			for _, r := range dd.AuthorizedRoles {
				roles = append(roles, r.Name)
			}
			items = append(items, DiscretionaryItem{
				DefinitionID: dd.ID,
				Name:         dd.Name,
				Type:         string(dd.Type),
				StageID:      pi.id,
				Roles:        roles,
			})
		}
	}
	return items, nil
}

// AddDiscretionaryItem plans one planning table entry into a live
// stage instance. The planner needs one of the entry's authorized
// roles, or case ownership when the entry names none. The planner may
// supply the new instance's id; an id already in use is rejected, and
// an empty id lets the engine mint one.
type AddDiscretionaryItem struct {
	commandBase
	DefinitionID string
	StageID      string
	ItemID       string
}

func (cmd *AddDiscretionaryItem) Name() string { return "AddDiscretionaryItem" }

func (cmd *AddDiscretionaryItem) Authorize(c *Case) error {
	dd := c.def.Item(cmd.DefinitionID)
	if dd == nil || !dd.Discretionary {
		// Leave the full story to validation; authorization only
		// rejects users, not shapes.
		return nil
	}
	if len(dd.AuthorizedRoles) == 0 {
		return nil
	}
	for _, r := range dd.AuthorizedRoles {
		if c.team.HasRole(cmd.By, r.Name) {
			return nil
		}
	}
	return unauthorizedf(cmd.By, "planning %s requires one of its authorized roles", cmd.DefinitionID)
}

func (cmd *AddDiscretionaryItem) Validate(c *Case) error {
	if !c.started {
		return invalidf(cmd.Name(), "case %s is not started", c.id)
	}
	dd := c.def.Item(cmd.DefinitionID)
	if dd == nil || !dd.Discretionary {
		return invalidf(cmd.Name(), "%q is not a discretionary item", cmd.DefinitionID)
	}
	stage := c.byID[cmd.StageID]
	if stage == nil {
		return invalidf(cmd.Name(), "unknown stage instance %q", cmd.StageID)
	}
	body := stage.stageBody()
	if body == nil {
		return invalidf(cmd.Name(), "%s is not a stage", stage.def.Name)
	}
	if !stage.state.IsActive() {
		return invalidf(cmd.Name(), "stage %s is not active", stage.def.Name)
	}
	found := false
	for _, entry := range body.PlanningTable {
		if entry == dd {
			found = true
			break
		}
	}
	if !found {
		return invalidf(cmd.Name(), "%q is not in the planning table of %s", cmd.DefinitionID, stage.def.Name)
	}
	if !stage.isApplicable(dd) {
		return invalidf(cmd.Name(), "%q is not applicable right now", cmd.DefinitionID)
	}
	if cmd.ItemID != "" && c.byID[cmd.ItemID] != nil {
		return invalidf(cmd.Name(), "plan item id %q is already in use", cmd.ItemID)
	}
	return nil
}

func (cmd *AddDiscretionaryItem) Process(c *Case) (any, error) {
	stage := c.byID[cmd.StageID]
	dd := c.def.Item(cmd.DefinitionID)
	index := 0
	for _, existing := range stage.children {
		if existing.def == dd {
			index++
		}
	}
	id := cmd.ItemID
	if id == "" {
		id = c.ids.Generate()
	}
	child := stage.createChildWithID(id, dd, index, true, cmd.By)
	child.makeTransition(TransitionCreate)
	return &TransitionResult{Affected: []string{child.id}}, nil
}
