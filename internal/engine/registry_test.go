package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RoundTrip(t *testing.T) {
	reg := DefaultRegistry()

	env, err := reg.Encode("case-1", 7, &PlanItemTransitioned{
		ItemID:       "item-1",
		Transition:   TransitionStart,
		CurrentState: StateActive,
		HistoryState: StateAvailable,
	})
	require.NoError(t, err)
	assert.Equal(t, "planitem.transitioned", env.Kind)
	assert.Equal(t, 2, env.Version)

	ev, err := reg.Decode(env)
	require.NoError(t, err)
	pit := ev.(*PlanItemTransitioned)
	assert.Equal(t, StateActive, pit.CurrentState)
	assert.Equal(t, StateAvailable, pit.HistoryState)
}

func TestRegistry_MigratesOldTransitionedPayload(t *testing.T) {
	reg := DefaultRegistry()

	// Version 1 journaled the current state under "state".
	env := Envelope{
		CaseID:  "case-1",
		Seq:     3,
		Kind:    "planitem.transitioned",
		Version: 1,
		Data:    json.RawMessage(`{"itemId":"item-1","transition":"Start","state":"Active","historyState":"Available"}`),
	}
	ev, err := reg.Decode(env)
	require.NoError(t, err)
	pit := ev.(*PlanItemTransitioned)
	assert.Equal(t, StateActive, pit.CurrentState)
}

func TestRegistry_RejectsFutureVersions(t *testing.T) {
	reg := DefaultRegistry()
	_, err := reg.Decode(Envelope{Kind: "planitem.transitioned", Version: 9, Data: json.RawMessage(`{}`)})
	assert.Error(t, err)
}

func TestRegistry_RejectsUnknownKind(t *testing.T) {
	reg := DefaultRegistry()
	_, err := reg.Decode(Envelope{Kind: "case.renamed", Version: 1, Data: json.RawMessage(`{}`)})
	assert.Error(t, err)
}

func TestNewRegistry_ValidatesMigratorChains(t *testing.T) {
	newEvent := func() Event { return &CaseStarted{} }
	rename := func(data json.RawMessage) (json.RawMessage, error) { return data, nil }

	tests := map[string]struct {
		manifests []Manifest
	}{
		"duplicate kind": {manifests: []Manifest{
			{Kind: "a", Version: 1, New: newEvent},
			{Kind: "a", Version: 1, New: newEvent},
		}},
		"missing factory": {manifests: []Manifest{
			{Kind: "a", Version: 1},
		}},
		"version below one": {manifests: []Manifest{
			{Kind: "a", Version: 0, New: newEvent},
		}},
		"chain too short": {manifests: []Manifest{
			{Kind: "a", Version: 3, New: newEvent, Migrators: []Migrator{{FromVersion: 1, Migrate: rename}}},
		}},
		"chain with a gap": {manifests: []Manifest{
			{Kind: "a", Version: 3, New: newEvent, Migrators: []Migrator{
				{FromVersion: 1, Migrate: rename},
				{FromVersion: 3, Migrate: rename},
			}},
		}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewRegistry(tc.manifests...)
			assert.Error(t, err)
		})
	}
}
