package engine

import (
	"github.com/roach88/stagehand/internal/definition"
	"github.com/roach88/stagehand/internal/value"
)

// Case file mutations follow command semantics: validation happens
// against the current tree without touching it, the emitted event
// carries the full resulting value, and apply is a pure function of
// the event. Replay therefore never re-runs a merge or a diff.

// definitionAt resolves the case file item definition a path
// addresses, checking indexes against multiplicity on the way.
func (f *CaseFile) definitionAt(command string, p value.Path) (*definition.CaseFileItemDefinition, error) {
	parts := p.Parts()
	if len(parts) == 0 {
		return nil, invalidf(command, "empty case file path")
	}
	var def *definition.CaseFileItemDefinition
	for i, part := range parts {
		if i == 0 {
			def = f.c.def.FileChild(part.Name)
		} else {
			def = def.Child(part.Name)
		}
		if def == nil {
			return nil, invalidf(command, "unknown case file item %s", p)
		}
		if part.Index >= 0 && !def.IsArray() {
			return nil, invalidf(command, "case file item %s is not an array", p)
		}
	}
	return def, nil
}

// resolveParent resolves every path step but the last to an available
// node. The root has no parent and resolves to nil.
func (f *CaseFile) resolveParent(command string, p value.Path) (*caseFileItem, error) {
	parentPath := p.Parent()
	if parentPath.IsRoot() {
		return nil, nil
	}
	parent := f.resolve(parentPath)
	if parent == nil || parent.state != fileAvailable {
		return nil, invalidf(command, "parent case file item %s is not available", parentPath)
	}
	return parent, nil
}

// validateFileCreate checks a Create against the current tree and
// returns the concrete instance path the event will carry. For array
// items the next free index is appended.
func (f *CaseFile) validateFileCreate(command string, p value.Path) (value.Path, error) {
	def, err := f.definitionAt(command, p)
	if err != nil {
		return value.Path{}, err
	}
	parent, err := f.resolveParent(command, p)
	if err != nil {
		return value.Path{}, err
	}
	if def.IsArray() {
		if p.Index() >= 0 {
			return value.Path{}, invalidf(command, "cannot create %s at an explicit index", p)
		}
		return p.WithIndex(f.instanceCount(parent, def)), nil
	}
	if node := f.resolve(p); node != nil && node.state == fileAvailable {
		return value.Path{}, invalidf(command, "case file item %s already exists", p)
	}
	return p, nil
}

// validateFileUpdate returns the merged value an Update will journal:
// a shallow object merge when both sides are objects, the new value
// otherwise.
func (f *CaseFile) validateFileUpdate(command string, p value.Path, v value.Value) (value.Value, error) {
	node := f.resolve(p)
	if node == nil || node.state != fileAvailable {
		return nil, invalidf(command, "case file item %s is not available", p)
	}
	if current, ok := node.val.(value.Object); ok {
		if update, ok := v.(value.Object); ok {
			merged := value.Clone(current).(value.Object)
			for _, k := range update.SortedKeys() {
				merged[k] = value.Clone(update[k])
			}
			return merged, nil
		}
	}
	return v, nil
}

// validateFileReplace returns the live child nodes a Replace removes.
// The command emits one Delete per child before the Replace itself, so
// the journal spells out the whole effect.
func (f *CaseFile) validateFileReplace(command string, p value.Path) ([]*caseFileItem, error) {
	node := f.resolve(p)
	if node == nil || node.state != fileAvailable {
		return nil, invalidf(command, "case file item %s is not available", p)
	}
	var removed []*caseFileItem
	for _, childDef := range node.def.Children {
		for _, child := range node.children[childDef.Name] {
			if child.state == fileAvailable {
				removed = append(removed, child)
			}
		}
	}
	return removed, nil
}

func (f *CaseFile) validateFileDelete(command string, p value.Path) error {
	node := f.resolve(p)
	if node == nil || node.state != fileAvailable {
		return invalidf(command, "case file item %s is not available", p)
	}
	return nil
}

func (f *CaseFile) instanceCount(parent *caseFileItem, def *definition.CaseFileItemDefinition) int {
	if parent != nil {
		return len(parent.children[def.Name])
	}
	return len(f.children[def.Name])
}

// applyTransition mutates the tree from a journaled file event. Nodes
// are created on demand; a Delete discards the whole subtree in
// memory with the single journaled event.
func (f *CaseFile) applyTransition(ev *CaseFileItemTransitioned) error {
	p, err := value.ParsePath(ev.Path)
	if err != nil {
		return err
	}
	node, err := f.materialize(p)
	if err != nil {
		return err
	}

	switch ev.Transition {
	case FileCreate, FileUpdate, FileReplace:
		v := value.Value(value.Null{})
		if len(ev.Value) > 0 {
			if v, err = value.DecodeJSON(ev.Value); err != nil {
				return err
			}
		}
		node.state = fileAvailable
		node.val = v
	case FileDelete:
		node.discard()
	}
	node.lastTransition = ev.Transition

	if f.c.recovering {
		node.informOnParts(ev.Transition)
	} else {
		node.handleTransition(ev.Transition)
	}
	return nil
}

// materialize resolves the path, creating missing nodes along the way.
func (f *CaseFile) materialize(p value.Path) (*caseFileItem, error) {
	parts := p.Parts()
	var parent *caseFileItem
	var node *caseFileItem
	children := f.children
	var def *definition.CaseFileItemDefinition
	for i, part := range parts {
		if i == 0 {
			def = f.c.def.FileChild(part.Name)
		} else {
			def = def.Child(part.Name)
		}
		if def == nil {
			return nil, invalidf("apply", "unknown case file item %s", p)
		}
		node = nil
		for _, cand := range children[part.Name] {
			if (!cand.def.IsArray() && part.Index < 0) || (cand.def.IsArray() && cand.index == part.Index) {
				node = cand
				break
			}
		}
		if node == nil {
			node = f.newItem(def, parent, part.Index)
			children[part.Name] = append(children[part.Name], node)
		}
		parent = node
		children = node.children
	}
	return node, nil
}

// discard drops the node and its whole subtree from availability. No
// events are emitted for descendants; the single Delete covers them.
func (n *caseFileItem) discard() {
	n.state = fileDiscarded
	n.val = value.Null{}
	for _, nodes := range n.children {
		for _, child := range nodes {
			if child.state == fileAvailable {
				child.discard()
			}
		}
	}
}
