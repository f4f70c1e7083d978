package engine

import (
	"github.com/roach88/stagehand/internal/definition"
	"github.com/roach88/stagehand/internal/value"
)

// fileState is the lifecycle of one case file item instance.
type fileState string

const (
	fileNull      fileState = "Null"
	fileAvailable fileState = "Available"
	fileDiscarded fileState = "Discarded"
)

// CaseFile is the root of the case's structured data. It holds one
// node tree per top-level case file item definition; array items hold
// one node per created instance.
type CaseFile struct {
	c        *Case
	children map[string][]*caseFileItem
}

// caseFileItem is one live case file item instance.
type caseFileItem struct {
	c      *Case
	def    *definition.CaseFileItemDefinition
	parent *caseFileItem
	index  int // instance index for array items, -1 otherwise

	state          fileState
	val            value.Value
	lastTransition FileTransition
	children       map[string][]*caseFileItem
	onParts        []*onPart
}

func newCaseFile(c *Case) *CaseFile {
	return &CaseFile{c: c, children: make(map[string][]*caseFileItem)}
}

func (f *CaseFile) newItem(def *definition.CaseFileItemDefinition, parent *caseFileItem, index int) *caseFileItem {
	node := &caseFileItem{
		c:        f.c,
		def:      def,
		parent:   parent,
		index:    index,
		state:    fileNull,
		val:      value.Null{},
		children: make(map[string][]*caseFileItem),
	}
	// Late joiners: wire the node into any criteria already watching
	// this definition.
	for _, cr := range f.c.criteria {
		for _, op := range cr.onParts {
			op.connectFileItem(node)
		}
	}
	return node
}

// path returns the node's location, array indexes included.
func (n *caseFileItem) path() value.Path {
	var p value.Path
	if n.parent != nil {
		p = n.parent.path().Child(n.def.Name)
	} else {
		p = value.Path{}.Child(n.def.Name)
	}
	if n.def.IsArray() {
		p = p.WithIndex(n.index)
	}
	return p
}

func (n *caseFileItem) connectOnPart(op *onPart) {
	n.onParts = append(n.onParts, op)
	// A freshly connected on-part learns the most recent transition,
	// but only for the first instance of its target: repeat instances
	// must not fire on stale history.
	if n.lastTransition != "" && op.crit.target.index == 0 {
		op.informFileItem(n.lastTransition)
	}
}

func (n *caseFileItem) releaseOnPart(op *onPart) {
	for i, existing := range n.onParts {
		if existing == op {
			n.onParts = append(n.onParts[:i], n.onParts[i+1:]...)
			return
		}
	}
}

// instancesOf collects every live node for the given definition.
func (f *CaseFile) instancesOf(def *definition.CaseFileItemDefinition) []*caseFileItem {
	var out []*caseFileItem
	var walk func(nodes []*caseFileItem)
	walk = func(nodes []*caseFileItem) {
		for _, n := range nodes {
			if n.def == def {
				out = append(out, n)
			}
			for _, children := range n.children {
				walk(children)
			}
		}
	}
	for _, nodes := range f.children {
		walk(nodes)
	}
	return out
}

// resolve finds the node at the path, or nil.
func (f *CaseFile) resolve(p value.Path) *caseFileItem {
	parts := p.Parts()
	if len(parts) == 0 {
		return nil
	}
	nodes := f.children
	var node *caseFileItem
	for _, part := range parts {
		candidates := nodes[part.Name]
		node = nil
		for _, cand := range candidates {
			if !cand.def.IsArray() && part.Index < 0 {
				node = cand
				break
			}
			if cand.def.IsArray() && cand.index == part.Index {
				node = cand
				break
			}
		}
		if node == nil {
			return nil
		}
		nodes = node.children
	}
	return node
}

// asGo renders the case file as plain Go values for rule evaluation.
// A node with children renders as an object holding its own object
// fields plus one field per child name; array children render as
// slices of the instances still available.
func (f *CaseFile) asGo() any {
	out := make(map[string]any)
	for _, def := range f.c.def.CaseFile {
		if v, ok := renderFileLevel(f.children[def.Name], def); ok {
			out[def.Name] = v
		}
	}
	return out
}

func renderFileLevel(nodes []*caseFileItem, def *definition.CaseFileItemDefinition) (any, bool) {
	if def.IsArray() {
		arr := make([]any, 0, len(nodes))
		for _, n := range nodes {
			if n.state == fileAvailable {
				arr = append(arr, n.asGo())
			}
		}
		// No live instances means the level does not exist, the same
		// as a singleton that was deleted or never created.
		if len(arr) == 0 {
			return nil, false
		}
		return arr, true
	}
	for _, n := range nodes {
		if n.state == fileAvailable {
			return n.asGo(), true
		}
	}
	return nil, false
}

func (n *caseFileItem) asGo() any {
	own := value.ToGo(n.val)
	if len(n.def.Children) == 0 {
		return own
	}
	out := make(map[string]any)
	if obj, ok := own.(map[string]any); ok {
		for k, v := range obj {
			out[k] = v
		}
	}
	for _, childDef := range n.def.Children {
		if v, ok := renderFileLevel(n.children[childDef.Name], childDef); ok {
			out[childDef.Name] = v
		}
	}
	return out
}

// handleTransition routes the sentry behavior for a file transition.
// Transitions made while the case plan is still being built (input
// binding during case start) are buffered and replayed in order once
// the plan exists, so early file events still reach criteria that are
// only created with the plan.
func (n *caseFileItem) handleTransition(t FileTransition) {
	ev := &fileTransitionEvent{node: n, transition: t}
	if !n.c.planCreated {
		n.c.bootstrapBuffer = append(n.c.bootstrapBuffer, ev)
		return
	}
	n.c.stack.push(n.c, ev)
}

// informOnParts updates watcher memory without sentry behavior. Used
// during recovery, where firing is suppressed and only the level
// memory must converge with the live run.
func (n *caseFileItem) informOnParts(t FileTransition) {
	for _, op := range snapshotOnParts(n.onParts) {
		op.informFileItem(t)
	}
}

// fileTransitionEvent is the sentry frame for one case file
// transition.
type fileTransitionEvent struct {
	node       *caseFileItem
	transition FileTransition
}

func (ev *fileTransitionEvent) runImmediate(c *Case) {
	for _, op := range snapshotOnParts(ev.node.onParts) {
		if op.crit.isEntry {
			op.informFileItem(ev.transition)
		}
	}
}

func (ev *fileTransitionEvent) runDelayed(c *Case) {
	for _, op := range snapshotOnParts(ev.node.onParts) {
		if !op.crit.isEntry {
			op.informFileItem(ev.transition)
		}
	}
}

// snapshotOnParts copies the watcher list: informing an on-part can
// release criteria and shrink the original slice mid-iteration.
func snapshotOnParts(ops []*onPart) []*onPart {
	out := make([]*onPart, len(ops))
	copy(out, ops)
	return out
}
