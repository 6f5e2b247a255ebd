// Package retention implements the file manager that owns the set of
// open indexed files (§4.E): a filesystem watch keeping the open-files
// table current, and a periodic pass that drops or rewrites data
// according to declarative retention policies.
package retention

import (
	"github.com/openinstrument/store/internal/datastore"
	"github.com/openinstrument/store/pkg/variable"
)

// Action is what a matching policy dictates for a (variable, age) pair.
type Action int

const (
	Drop Action = iota
	Keep
)

// Policy is one rule: if Pattern matches a variable and its age lies in
// [MinAge, MaxAge), Action applies, optionally after running Mutations.
// Grounded on the original's RetentionPolicyItem
// (lib/retention_policy.h): ordered list, first match wins, default is
// DROP when nothing matches.
type Policy struct {
	Pattern   *variable.Variable
	MinAge    int64 // inclusive, milliseconds
	MaxAge    int64 // exclusive, milliseconds; 0 means unbounded
	Action    Action
	Mutations []datastore.Mutation
}

// Manager holds an ordered list of policies.
type Manager struct {
	Policies []Policy
}

// GetPolicy returns the first policy whose pattern matches v and whose
// range contains age, or ok == false if none matches (caller should
// then apply the default: Drop).
func (m *Manager) GetPolicy(v *variable.Variable, age int64) (Policy, bool) {
	for _, p := range m.Policies {
		if !v.Match(p.Pattern) {
			continue
		}
		if age < p.MinAge {
			continue
		}
		if p.MaxAge > 0 && age >= p.MaxAge {
			continue
		}
		return p, true
	}
	return Policy{}, false
}

// ShouldDrop reports whether v at the given age should be dropped: true
// if no policy matches (the default), or if the matching policy's
// Action is Drop.
func (m *Manager) ShouldDrop(v *variable.Variable, age int64) bool {
	p, ok := m.GetPolicy(v, age)
	if !ok {
		return true
	}
	return p.Action == Drop
}
