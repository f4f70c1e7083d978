package engine

// standardEvent is a transition that carries sentry behavior: plan
// item transitions and case file transitions both implement it.
//
// Behavior is split in two phases. The immediate phase runs depth
// first, inside the transition that caused it: the state action, the
// informs of entry criteria and the stage completion check. The
// delayed phase, informing exit criteria, is postponed: a nested
// transition's delayed phase runs only after its parent's, and nested
// frames run in reverse order of creation.
type standardEvent interface {
	runImmediate(c *Case)
	runDelayed(c *Case)
}

type frame struct {
	event    standardEvent
	children []*frame
}

// callStack sequences the two behavior phases across nested
// transitions. One instance lives per case; it is only touched from
// the case's single writer.
type callStack struct {
	current *frame
}

// push runs the event's immediate behavior now. The delayed behavior
// runs immediately when this is a top-level transition; otherwise it
// is postponed onto the enclosing frame.
func (s *callStack) push(c *Case, ev standardEvent) {
	f := &frame{event: ev}

	prev := s.current
	s.current = f
	ev.runImmediate(c)
	s.current = prev

	if s.current == nil {
		f.runDelayed(c, s)
	} else {
		// Prepend: postponed frames run newest-first after the
		// enclosing frame's own delayed behavior.
		s.current.children = append([]*frame{f}, s.current.children...)
	}
}

func (f *frame) runDelayed(c *Case, s *callStack) {
	prev := s.current
	s.current = f
	f.event.runDelayed(c)
	for _, child := range f.children {
		child.runDelayed(c, s)
	}
	s.current = prev
}
