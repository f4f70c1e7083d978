package engine

import (
	"encoding/json"
	"fmt"
)

// Migrator rewrites an event payload from one schema version to the
// next. Migrators run in order when a journaled envelope carries an
// older version than the registry's current one.
type Migrator struct {
	// FromVersion is the payload version this migrator consumes. It
	// produces FromVersion+1.
	FromVersion int

	Migrate func(json.RawMessage) (json.RawMessage, error)
}

// Manifest declares one event type to the registry: its stable kind
// tag, its current schema version, a factory for decoding, and the
// migrator chain that lifts older payloads to the current version.
type Manifest struct {
	Kind      string
	Version   int
	New       func() Event
	Migrators []Migrator
}

// Registry maps event kinds to manifests. It is an explicit value,
// injected into whatever decodes journal contents; there is no global
// registration.
//
// Construction validates every manifest: a migrator chain that does
// not cover versions 1 through Version-1 contiguously is a
// construction error, not a decode-time surprise.
type Registry struct {
	manifests map[string]Manifest
}

// NewRegistry builds a Registry from manifests.
func NewRegistry(manifests ...Manifest) (*Registry, error) {
	r := &Registry{manifests: make(map[string]Manifest, len(manifests))}
	for _, m := range manifests {
		if m.Kind == "" {
			return nil, fmt.Errorf("registry: manifest without a kind")
		}
		if _, dup := r.manifests[m.Kind]; dup {
			return nil, fmt.Errorf("registry: duplicate kind %q", m.Kind)
		}
		if m.Version < 1 {
			return nil, fmt.Errorf("registry: kind %q: version %d is below 1", m.Kind, m.Version)
		}
		if m.New == nil {
			return nil, fmt.Errorf("registry: kind %q: missing factory", m.Kind)
		}
		if len(m.Migrators) != m.Version-1 {
			return nil, fmt.Errorf("registry: kind %q: version %d needs %d migrators, found %d",
				m.Kind, m.Version, m.Version-1, len(m.Migrators))
		}
		for i, mig := range m.Migrators {
			if mig.FromVersion != i+1 {
				return nil, fmt.Errorf("registry: kind %q: migrator %d covers version %d, want %d",
					m.Kind, i, mig.FromVersion, i+1)
			}
			if mig.Migrate == nil {
				return nil, fmt.Errorf("registry: kind %q: migrator from version %d has no function", m.Kind, mig.FromVersion)
			}
		}
		r.manifests[m.Kind] = m
	}
	return r, nil
}

// MustRegistry is NewRegistry for manifests known to be valid.
func MustRegistry(manifests ...Manifest) *Registry {
	r, err := NewRegistry(manifests...)
	if err != nil {
		panic(err)
	}
	return r
}

// Encode wraps an event into an envelope at the kind's current
// version.
func (r *Registry) Encode(caseID string, seq int64, ev Event) (Envelope, error) {
	m, ok := r.manifests[ev.Kind()]
	if !ok {
		return Envelope{}, fmt.Errorf("registry: unknown kind %q", ev.Kind())
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("registry: encode %s: %w", ev.Kind(), err)
	}
	return Envelope{
		CaseID:  caseID,
		Seq:     seq,
		Kind:    ev.Kind(),
		Version: m.Version,
		Data:    data,
	}, nil
}

// Decode unwraps an envelope into a typed event, running the migrator
// chain when the payload was written with an older schema version. An
// envelope written with a newer version than the registry knows is an
// error: old binaries must not guess at future payloads.
func (r *Registry) Decode(env Envelope) (Event, error) {
	m, ok := r.manifests[env.Kind]
	if !ok {
		return nil, fmt.Errorf("registry: unknown kind %q at seq %d", env.Kind, env.Seq)
	}
	if env.Version > m.Version {
		return nil, fmt.Errorf("registry: kind %q seq %d: version %d is newer than supported %d",
			env.Kind, env.Seq, env.Version, m.Version)
	}
	data := env.Data
	for v := env.Version; v < m.Version; v++ {
		migrated, err := m.Migrators[v-1].Migrate(data)
		if err != nil {
			return nil, fmt.Errorf("registry: kind %q seq %d: migrate v%d to v%d: %w",
				env.Kind, env.Seq, v, v+1, err)
		}
		data = migrated
	}
	ev := m.New()
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("registry: decode %s at seq %d: %w", env.Kind, env.Seq, err)
	}
	return ev, nil
}

// DefaultRegistry returns the registry covering every built-in event.
//
// planitem.transitioned is at version 2: version 1 journaled the
// target state under "state", version 2 renames it to "currentState".
func DefaultRegistry() *Registry {
	return MustRegistry(
		Manifest{Kind: (*CaseStarted)(nil).Kind(), Version: 1, New: func() Event { return &CaseStarted{} }},
		Manifest{Kind: (*PlanItemCreated)(nil).Kind(), Version: 1, New: func() Event { return &PlanItemCreated{} }},
		Manifest{
			Kind:    (*PlanItemTransitioned)(nil).Kind(),
			Version: 2,
			New:     func() Event { return &PlanItemTransitioned{} },
			Migrators: []Migrator{
				{FromVersion: 1, Migrate: renameField("state", "currentState")},
			},
		},
		Manifest{Kind: (*RepetitionRuleEvaluated)(nil).Kind(), Version: 1, New: func() Event { return &RepetitionRuleEvaluated{} }},
		Manifest{Kind: (*RequiredRuleEvaluated)(nil).Kind(), Version: 1, New: func() Event { return &RequiredRuleEvaluated{} }},
		Manifest{Kind: (*CaseFileItemTransitioned)(nil).Kind(), Version: 1, New: func() Event { return &CaseFileItemTransitioned{} }},
		Manifest{Kind: (*TeamMemberPut)(nil).Kind(), Version: 1, New: func() Event { return &TeamMemberPut{} }},
		Manifest{Kind: (*TeamMemberRemoved)(nil).Kind(), Version: 1, New: func() Event { return &TeamMemberRemoved{} }},
		Manifest{Kind: (*CaseModified)(nil).Kind(), Version: 1, New: func() Event { return &CaseModified{} }},
		Manifest{Kind: (*CaseFaultRecorded)(nil).Kind(), Version: 1, New: func() Event { return &CaseFaultRecorded{} }},
	)
}

// renameField returns a migrator step that renames one top-level JSON
// field. Absent fields are left alone.
func renameField(from, to string) func(json.RawMessage) (json.RawMessage, error) {
	return func(data json.RawMessage) (json.RawMessage, error) {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, err
		}
		if v, ok := obj[from]; ok {
			delete(obj, from)
			obj[to] = v
		}
		return json.Marshal(obj)
	}
}
