package engine

import (
	"encoding/json"
	"time"
)

// Event is one journaled fact about a case. Events are the only way
// case state changes: commands produce events, events mutate state,
// and replaying the journal rebuilds the exact same state.
//
// Every derivation the engine makes while live (rule outcomes,
// generated ids, propagated transitions) is persisted as its own
// event, so replay applies events without re-deriving anything.
type Event interface {
	// Kind is the stable journal tag of the event type.
	Kind() string
}

// Envelope is the journaled form of an event: the stable kind tag, the
// schema version the payload was written with, and the canonical JSON
// payload. Envelopes are ordered per case by Seq.
type Envelope struct {
	CaseID  string          `json:"caseId"`
	Seq     int64           `json:"seq"`
	Kind    string          `json:"kind"`
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// CaseStarted is the first event of every case.
type CaseStarted struct {
	CaseName   string `json:"caseName"`
	Definition string `json:"definition"`
	CreatedBy  string `json:"createdBy"`
}

func (*CaseStarted) Kind() string { return "case.started" }

// PlanItemCreated records a new plan item instance, including the id
// the generator handed out, so replay reuses it.
type PlanItemCreated struct {
	ItemID        string `json:"itemId"`
	DefinitionID  string `json:"definitionId"`
	Type          string `json:"type"`
	StageID       string `json:"stageId,omitempty"`
	Index         int    `json:"index"`
	Discretionary bool   `json:"discretionary,omitempty"`
	PlannedBy     string `json:"plannedBy,omitempty"`
}

func (*PlanItemCreated) Kind() string { return "planitem.created" }

// PlanItemTransitioned records one step of a plan item's state
// machine.
type PlanItemTransitioned struct {
	ItemID       string     `json:"itemId"`
	Transition   Transition `json:"transition"`
	CurrentState State      `json:"currentState"`
	HistoryState State      `json:"historyState"`
}

func (*PlanItemTransitioned) Kind() string { return "planitem.transitioned" }

// RepetitionRuleEvaluated records a repetition rule outcome. Emitted
// on first evaluation and whenever the outcome flips.
type RepetitionRuleEvaluated struct {
	ItemID  string `json:"itemId"`
	Outcome bool   `json:"outcome"`
}

func (*RepetitionRuleEvaluated) Kind() string { return "planitem.repetition-evaluated" }

// RequiredRuleEvaluated records a required rule outcome. Stage
// completion consults this outcome, so it must be journaled.
type RequiredRuleEvaluated struct {
	ItemID  string `json:"itemId"`
	Outcome bool   `json:"outcome"`
}

func (*RequiredRuleEvaluated) Kind() string { return "planitem.required-evaluated" }

// CaseFileItemTransitioned records one case file mutation. Path
// carries array indexes ("Receipts[2]"). Value is the canonical JSON
// of the item's content after the transition; empty for Delete.
type CaseFileItemTransitioned struct {
	Path       string          `json:"path"`
	Transition FileTransition  `json:"transition"`
	Value      json.RawMessage `json:"value,omitempty"`
}

func (*CaseFileItemTransitioned) Kind() string { return "casefile.transitioned" }

// TeamMemberPut records a case team member upsert: the member's full
// role set and ownership flag after the change.
type TeamMemberPut struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles,omitempty"`
	Owner  bool     `json:"owner,omitempty"`
}

func (*TeamMemberPut) Kind() string { return "team.member-put" }

// TeamMemberRemoved records a case team member removal.
type TeamMemberRemoved struct {
	UserID string `json:"userId"`
}

func (*TeamMemberRemoved) Kind() string { return "team.member-removed" }

// CaseModified is the per-command marker: it closes the batch of
// events one command produced. It is appended only when the command
// produced at least one other event.
type CaseModified struct {
	Source     string    `json:"source"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

func (*CaseModified) Kind() string { return "case.modified" }

// CaseFaultRecorded is the diagnostics event the runtime journals when
// command processing fails after events were already produced. The
// produced events are discarded; only this record is appended.
type CaseFaultRecorded struct {
	Command string `json:"command"`
	Error   string `json:"error"`
}

func (*CaseFaultRecorded) Kind() string { return "case.fault-recorded" }
