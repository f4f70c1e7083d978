package definition

import (
	"fmt"
	"slices"

	"github.com/roach88/stagehand/internal/expr"
	"github.com/roach88/stagehand/internal/value"
)

// Resolve walks the tree once: it builds the lookup indexes, resolves
// every cross-reference (roles, on-part sources, input bindings) and
// compiles every rule expression. Load calls it; callers constructing
// trees by hand must call it themselves before use.
func (d *CaseDefinition) Resolve() error {
	if d.resolved {
		return nil
	}
	if d.CasePlan == nil {
		return fmt.Errorf("definition %s: case plan is required", d.Name)
	}

	d.roleIndex = make(map[string]*RoleDefinition)
	for _, role := range d.Roles {
		if role.Name == "" {
			return fmt.Errorf("definition %s: role without a name", d.Name)
		}
		if _, dup := d.roleIndex[role.Name]; dup {
			return fmt.Errorf("definition %s: duplicate role %q", d.Name, role.Name)
		}
		d.roleIndex[role.Name] = role
	}
	for _, role := range d.Roles {
		for _, ref := range role.MutexRaw {
			other := d.roleIndex[ref]
			if other == nil {
				return fmt.Errorf("definition %s: role %q: unknown mutex role %q", d.Name, role.Name, ref)
			}
			if other == role {
				return fmt.Errorf("definition %s: role %q is mutex with itself", d.Name, role.Name)
			}
			role.Mutex = append(role.Mutex, other)
		}
	}

	d.fileIndex = make(map[string]*CaseFileItemDefinition)
	for _, item := range d.CaseFile {
		if err := d.indexFileItem(item, value.Path{}); err != nil {
			return err
		}
	}

	for _, in := range d.Inputs {
		target := d.fileIndex[in.BindRaw]
		if target == nil {
			return fmt.Errorf("definition %s: input %q binds to unknown case file item %q", d.Name, in.Name, in.BindRaw)
		}
		in.Bind = target
	}

	d.itemIndex = make(map[string]*ItemDefinition)
	if err := d.indexStage(d.CasePlan); err != nil {
		return err
	}
	if err := d.resolveStage(d.CasePlan); err != nil {
		return err
	}

	// The plan root is a stage like any other, wrapped in a synthetic
	// item with default control rules.
	d.casePlanItem = &ItemDefinition{
		ID:    d.Name,
		Name:  d.Name,
		Type:  StageType,
		Stage: d.CasePlan,
	}
	if err := d.resolveItem(d.casePlanItem); err != nil {
		return err
	}

	d.resolved = true
	return nil
}

func (d *CaseDefinition) indexFileItem(item *CaseFileItemDefinition, parent value.Path) error {
	item.path = parent.Child(item.Name)
	key := item.path.String()
	if _, dup := d.fileIndex[key]; dup {
		return fmt.Errorf("definition %s: duplicate case file item %q", d.Name, key)
	}
	d.fileIndex[key] = item
	for _, child := range item.Children {
		if err := d.indexFileItem(child, item.path); err != nil {
			return err
		}
	}
	return nil
}

func (d *CaseDefinition) indexStage(stage *StageDefinition) error {
	for _, item := range append(slices.Clone(stage.Items), stage.PlanningTable...) {
		if _, dup := d.itemIndex[item.Name]; dup {
			return fmt.Errorf("definition %s: duplicate plan item name %q", d.Name, item.Name)
		}
		item.ID = item.Name
		d.itemIndex[item.Name] = item
		if item.Stage != nil {
			if err := d.indexStage(item.Stage); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *CaseDefinition) resolveStage(stage *StageDefinition) error {
	for _, item := range append(slices.Clone(stage.Items), stage.PlanningTable...) {
		if err := d.resolveItem(item); err != nil {
			return err
		}
		if item.Stage != nil {
			if err := d.resolveStage(item.Stage); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *CaseDefinition) resolveItem(item *ItemDefinition) error {
	var err error
	ctl := &item.Control
	if ctl.RepetitionRule, err = expr.Compile(ctl.Repetition, false); err != nil {
		return fmt.Errorf("definition %s: item %q: repetition rule: %w", d.Name, item.Name, err)
	}
	if ctl.RequiredRule, err = expr.Compile(ctl.Required, false); err != nil {
		return fmt.Errorf("definition %s: item %q: required rule: %w", d.Name, item.Name, err)
	}
	if ctl.ManualActivationRule, err = expr.Compile(ctl.ManualActivation, false); err != nil {
		return fmt.Errorf("definition %s: item %q: manual activation rule: %w", d.Name, item.Name, err)
	}

	if item.Discretionary {
		if item.ApplicabilityRule, err = expr.Compile(item.Applicability, true); err != nil {
			return fmt.Errorf("definition %s: item %q: applicability rule: %w", d.Name, item.Name, err)
		}
		for _, ref := range item.RolesRaw {
			role := d.roleIndex[ref]
			if role == nil {
				return fmt.Errorf("definition %s: item %q: unknown role %q", d.Name, item.Name, ref)
			}
			item.AuthorizedRoles = append(item.AuthorizedRoles, role)
		}
	} else if len(item.RolesRaw) > 0 || item.Applicability != "" {
		return fmt.Errorf("definition %s: item %q: roles and applicability apply to discretionary items only", d.Name, item.Name)
	}

	for _, crit := range item.EntryCriteria {
		if err := d.resolveCriterion(item, crit); err != nil {
			return err
		}
	}
	for _, crit := range item.ExitCriteria {
		if err := d.resolveCriterion(item, crit); err != nil {
			return err
		}
	}
	return nil
}

func (d *CaseDefinition) resolveCriterion(item *ItemDefinition, crit *CriterionDefinition) error {
	if len(crit.OnParts) == 0 && crit.IfPart == "" {
		return fmt.Errorf("definition %s: criterion %s is empty", d.Name, crit.ID)
	}
	var err error
	if crit.IfRule, err = expr.Compile(crit.IfPart, true); err != nil {
		return fmt.Errorf("definition %s: criterion %s: if part: %w", d.Name, crit.ID, err)
	}
	for _, part := range crit.OnParts {
		switch part.Kind {
		case PlanItemSource:
			source := d.itemIndex[part.SourceRef]
			if source == nil {
				return fmt.Errorf("definition %s: criterion %s: unknown plan item %q", d.Name, crit.ID, part.SourceRef)
			}
			if source == item && slices.ContainsFunc(item.ExitCriteria, func(c *CriterionDefinition) bool { return c == crit }) {
				return fmt.Errorf("definition %s: criterion %s: item cannot watch itself for exit", d.Name, crit.ID)
			}
			if !slices.Contains(PlanItemEvents, part.StandardEvent) {
				return fmt.Errorf("definition %s: criterion %s: unknown plan item event %q", d.Name, crit.ID, part.StandardEvent)
			}
			part.SourceItem = source
		case CaseFileSource:
			source := d.fileIndex[part.SourceRef]
			if source == nil {
				return fmt.Errorf("definition %s: criterion %s: unknown case file item %q", d.Name, crit.ID, part.SourceRef)
			}
			if !slices.Contains(CaseFileEvents, part.StandardEvent) {
				return fmt.Errorf("definition %s: criterion %s: unknown case file event %q", d.Name, crit.ID, part.StandardEvent)
			}
			part.SourceFile = source
		default:
			return fmt.Errorf("definition %s: criterion %s: on part without a source", d.Name, crit.ID)
		}
	}
	return nil
}
