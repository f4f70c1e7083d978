package engine

import (
	"sort"

	"github.com/roach88/stagehand/internal/definition"
)

// Team is the case team: the users allowed to act on the case, each
// with a set of case roles and an ownership flag.
//
// Invariants, enforced at command validation: the team always keeps at
// least one owner, every role exists in the definition, a singleton
// role has at most one member, and no member holds two mutually
// exclusive roles.
type Team struct {
	c       *Case
	members map[string]*TeamMember
}

// TeamMember is one user's membership.
type TeamMember struct {
	UserID string
	Roles  map[string]bool
	Owner  bool
}

func newTeam(c *Case) *Team {
	return &Team{c: c, members: make(map[string]*TeamMember)}
}

// Member returns the membership for the user, or nil.
func (t *Team) Member(userID string) *TeamMember {
	return t.members[userID]
}

// Members returns the memberships ordered by user id.
func (t *Team) Members() []*TeamMember {
	out := make([]*TeamMember, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// HasRole reports whether the user holds the case role.
func (t *Team) HasRole(userID, role string) bool {
	m := t.members[userID]
	return m != nil && m.Roles[role]
}

// IsOwner reports whether the user owns the case.
func (t *Team) IsOwner(userID string) bool {
	m := t.members[userID]
	return m != nil && m.Owner
}

func (t *Team) ownerCount() int {
	n := 0
	for _, m := range t.members {
		if m.Owner {
			n++
		}
	}
	return n
}

// validatePut checks the team invariants for an upsert of the given
// membership.
func (t *Team) validatePut(command, userID string, roles []string, owner bool) error {
	if userID == "" {
		return invalidf(command, "member without a user id")
	}
	seen := make(map[string]*definition.RoleDefinition, len(roles))
	for _, name := range roles {
		role := t.c.def.Role(name)
		if role == nil {
			return invalidf(command, "unknown case role %q", name)
		}
		seen[name] = role
	}
	for name, role := range seen {
		for _, mutex := range role.Mutex {
			if seen[mutex.Name] != nil {
				return invalidf(command, "roles %q and %q are mutually exclusive", name, mutex.Name)
			}
		}
		if role.Singleton {
			for _, m := range t.members {
				if m.UserID != userID && m.Roles[name] {
					return invalidf(command, "role %q is singleton and already held by %s", name, m.UserID)
				}
			}
		}
	}
	if !owner {
		if m := t.members[userID]; m != nil && m.Owner && t.ownerCount() == 1 {
			return invalidf(command, "cannot demote the last case owner")
		}
	}
	return nil
}

// validateRemove checks that removing the user keeps an owner around.
func (t *Team) validateRemove(command, userID string) error {
	m := t.members[userID]
	if m == nil {
		return invalidf(command, "user %s is not a team member", userID)
	}
	if m.Owner && t.ownerCount() == 1 {
		return invalidf(command, "cannot remove the last case owner")
	}
	return nil
}

func (t *Team) applyPut(ev *TeamMemberPut) {
	roles := make(map[string]bool, len(ev.Roles))
	for _, r := range ev.Roles {
		roles[r] = true
	}
	t.members[ev.UserID] = &TeamMember{UserID: ev.UserID, Roles: roles, Owner: ev.Owner}
}

func (t *Team) applyRemove(ev *TeamMemberRemoved) {
	delete(t.members, ev.UserID)
}
