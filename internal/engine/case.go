package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/stagehand/internal/definition"
)

// Case is one live case instance: the plan item graph, the case file,
// the team and the sentry network, all derived from the journaled
// events.
//
// CRITICAL: a Case is not safe for concurrent use. The runtime
// guarantees a single writer per case; every command and every replay
// runs on that writer.
type Case struct {
	id       string
	def      *definition.CaseDefinition
	registry *Registry
	ids      IDGenerator
	clock    *Clock
	logger   *slog.Logger

	planItems []*PlanItem
	byID      map[string]*PlanItem
	casePlan  *PlanItem
	file      *CaseFile
	team      *Team
	criteria  []*criterion
	stack     *callStack

	planCreated     bool
	bootstrapBuffer []*fileTransitionEvent

	recovering  bool
	uncommitted []Envelope
	fault       error
	started     bool
	lastSeq     int64
	modifiedAt  time.Time
}

// NewCase builds an empty case bound to its definition. The instance
// holds no state until events are applied, either live through
// Perform or journaled through Recover.
func NewCase(id string, def *definition.CaseDefinition, registry *Registry, ids IDGenerator, logger *slog.Logger) *Case {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Case{
		id:       id,
		def:      def,
		registry: registry,
		ids:      ids,
		clock:    NewClock(),
		logger:   logger.With("case", id),
		byID:     make(map[string]*PlanItem),
		stack:    &callStack{},
	}
	c.file = newCaseFile(c)
	c.team = newTeam(c)
	return c
}

// ID returns the case identifier.
func (c *Case) ID() string { return c.id }

// Definition returns the case definition.
func (c *Case) Definition() *definition.CaseDefinition { return c.def }

// Team returns the case team.
func (c *Case) Team() *Team { return c.team }

// LastSeq returns the sequence number of the last applied event.
func (c *Case) LastSeq() int64 { return c.lastSeq }

// Started reports whether the case has a journaled CaseStarted.
func (c *Case) Started() bool { return c.started }

// PlanItemByID returns the live instance with the given id, or nil.
func (c *Case) PlanItemByID(id string) *PlanItem { return c.byID[id] }

// PlanItemsByName returns every instance of the named definition, in
// creation order.
func (c *Case) PlanItemsByName(name string) []*PlanItem {
	var out []*PlanItem
	for _, pi := range c.planItems {
		if pi.def.Name == name {
			out = append(out, pi)
		}
	}
	return out
}

func (c *Case) planItemsSnapshot() []*PlanItem {
	return snapshotItems(c.planItems)
}

// noteFault records the first behavior failure (a rule that errored
// mid propagation). Perform turns it into an engine fault after the
// command finishes.
func (c *Case) noteFault(err error) {
	if c.fault == nil {
		c.fault = err
	}
	c.logger.Error("behavior fault", "error", err)
}

// emit journals and applies one event. The sentry behavior a live
// apply schedules can emit further events, so the uncommitted batch
// grows depth first in causal order.
func (c *Case) emit(ev Event) {
	seq := c.clock.Next()
	env, err := c.registry.Encode(c.id, seq, ev)
	if err != nil {
		c.noteFault(err)
		return
	}
	c.uncommitted = append(c.uncommitted, env)
	if err := c.apply(ev, seq); err != nil {
		c.noteFault(err)
	}
}

// apply mutates case state from one event. Replay and live processing
// share this path: everything replay needs is a journaled fact, never
// a re-derivation.
func (c *Case) apply(ev Event, seq int64) error {
	c.lastSeq = seq
	switch e := ev.(type) {
	case *CaseStarted:
		c.started = true
	case *PlanItemCreated:
		_, err := c.addPlanItem(e)
		return err
	case *PlanItemTransitioned:
		pi := c.byID[e.ItemID]
		if pi == nil {
			return fmt.Errorf("apply: unknown plan item %q", e.ItemID)
		}
		pi.applyTransitioned(e)
	case *RepetitionRuleEvaluated:
		pi := c.byID[e.ItemID]
		if pi == nil {
			return fmt.Errorf("apply: unknown plan item %q", e.ItemID)
		}
		pi.repetition = e.Outcome
	case *RequiredRuleEvaluated:
		pi := c.byID[e.ItemID]
		if pi == nil {
			return fmt.Errorf("apply: unknown plan item %q", e.ItemID)
		}
		pi.required = e.Outcome
	case *CaseFileItemTransitioned:
		return c.file.applyTransition(e)
	case *TeamMemberPut:
		c.team.applyPut(e)
	case *TeamMemberRemoved:
		c.team.applyRemove(e)
	case *CaseModified:
		c.modifiedAt = e.ModifiedAt
	case *CaseFaultRecorded:
		// Diagnostics only; no state to mutate.
	default:
		return fmt.Errorf("apply: unhandled event kind %q", ev.Kind())
	}
	return nil
}

// flushBootstrap replays the case file transitions that happened
// before the case plan existed, in order, against the now-connected
// sentry network.
func (c *Case) flushBootstrap() {
	pending := c.bootstrapBuffer
	c.bootstrapBuffer = nil
	for _, ev := range pending {
		c.stack.push(c, ev)
	}
}

// Recover rebuilds the case from journaled envelopes. Behavior stays
// disabled: events are applied and watcher memory is informed, but no
// criterion fires and no new event is produced. After recovery the
// clock resumes after the last journaled sequence number.
func (c *Case) Recover(envelopes []Envelope) error {
	c.recovering = true
	defer func() { c.recovering = false }()
	for _, env := range envelopes {
		ev, err := c.registry.Decode(env)
		if err != nil {
			return err
		}
		if err := c.apply(ev, env.Seq); err != nil {
			return fmt.Errorf("recover case %s at seq %d: %w", c.id, env.Seq, err)
		}
	}
	c.clock = NewClockAt(c.lastSeq)
	return nil
}

// Command is one unit of work against a case. Commands pass three
// gates in order: Authorize rejects callers that may not talk to the
// case at all, Validate rejects commands the current state cannot
// accept, and Process produces events. Only Process may mutate.
type Command interface {
	CaseID() string
	Name() string
	User() string
	Authorize(c *Case) error
	Validate(c *Case) error
	Process(c *Case) (any, error)
}

// Response is the reply to one command.
type Response struct {
	CaseID string
	// LastSeq is the case's journal position after the command.
	LastSeq int64
	// Events are the envelopes the command produced, CaseModified
	// marker included. The runtime appends them to the journal.
	Events []Envelope
	// Payload is the command-specific answer, if any.
	Payload any
}

// Perform runs one command through the three gates. Failures before
// any event leave the case untouched. A failure after events were
// produced poisons the in-memory instance: the returned EngineFault
// tells the runtime to journal diagnostics and rebuild from the
// journal.
func (c *Case) Perform(cmd Command, now time.Time) (*Response, error) {
	if err := c.authorize(cmd); err != nil {
		return nil, err
	}
	if err := cmd.Validate(c); err != nil {
		return nil, err
	}

	c.uncommitted = nil
	c.fault = nil
	payload, err := cmd.Process(c)
	if err == nil && c.fault != nil {
		err = c.fault
	}
	if err != nil {
		if len(c.uncommitted) > 0 || c.fault != nil {
			c.logger.Error("command failed after producing events",
				"command", cmd.Name(), "events", len(c.uncommitted), "error", err)
			return nil, &EngineFaultError{Command: cmd.Name(), Err: err}
		}
		return nil, err
	}

	if len(c.uncommitted) > 0 {
		c.emit(&CaseModified{Source: cmd.Name(), ModifiedAt: now.UTC()})
		if c.fault != nil {
			return nil, &EngineFaultError{Command: cmd.Name(), Err: c.fault}
		}
	}
	events := c.uncommitted
	c.uncommitted = nil

	c.logger.Info("command processed",
		"command", cmd.Name(), "user", cmd.User(), "events", len(events), "seq", c.lastSeq)
	return &Response{
		CaseID:  c.id,
		LastSeq: c.lastSeq,
		Events:  events,
		Payload: payload,
	}, nil
}

// authorize applies the command's own rule after the baseline: every
// command except the case-starting one requires team membership.
func (c *Case) authorize(cmd Command) error {
	if cmd.User() == "" {
		return unauthorizedf("", "command without a user")
	}
	if c.started && c.team.Member(cmd.User()) == nil {
		return unauthorizedf(cmd.User(), "user is not a member of the case team")
	}
	return cmd.Authorize(c)
}

// Snapshot renders the externally visible case state.
func (c *Case) Snapshot() *CaseState {
	st := &CaseState{
		CaseID:     c.id,
		Definition: c.def.Name,
		LastSeq:    c.lastSeq,
		ModifiedAt: c.modifiedAt,
	}
	if c.casePlan != nil {
		st.State = string(c.casePlan.state)
	}
	for _, pi := range c.planItems {
		stageID := ""
		if pi.stage != nil {
			stageID = pi.stage.id
		}
		st.PlanItems = append(st.PlanItems, PlanItemState{
			ID:            pi.id,
			Name:          pi.def.Name,
			Type:          string(pi.def.Type),
			StageID:       stageID,
			Index:         pi.index,
			State:         string(pi.state),
			Transition:    string(pi.lastTransition),
			Required:      pi.required,
			Repeating:     pi.repetition,
			Discretionary: pi.discretionary,
		})
	}
	if file, ok := c.file.asGo().(map[string]any); ok {
		st.File = file
	}
	for _, m := range c.team.Members() {
		roles := make([]string, 0, len(m.Roles))
		for r := range m.Roles {
			roles = append(roles, r)
		}
		sort.Strings(roles)
		st.Team = append(st.Team, TeamMemberState{UserID: m.UserID, Roles: roles, Owner: m.Owner})
	}
	return st
}

// CaseState is the JSON-friendly view of a case.
type CaseState struct {
	CaseID     string            `json:"caseId"`
	Definition string            `json:"definition"`
	State      string            `json:"state,omitempty"`
	LastSeq    int64             `json:"lastSeq"`
	ModifiedAt time.Time         `json:"modifiedAt"`
	PlanItems  []PlanItemState   `json:"planItems,omitempty"`
	File       map[string]any    `json:"file,omitempty"`
	Team       []TeamMemberState `json:"team,omitempty"`
}

// PlanItemState is the JSON-friendly view of one plan item instance.
type PlanItemState struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	StageID       string `json:"stageId,omitempty"`
	Index         int    `json:"index"`
	State         string `json:"state"`
	Transition    string `json:"transition,omitempty"`
	Required      bool   `json:"required,omitempty"`
	Repeating     bool   `json:"repeating,omitempty"`
	Discretionary bool   `json:"discretionary,omitempty"`
}

// TeamMemberState is the JSON-friendly view of one team member.
type TeamMemberState struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles,omitempty"`
	Owner  bool     `json:"owner,omitempty"`
}
