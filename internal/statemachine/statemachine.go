package statemachine

import "fmt"

// InvalidTransitionError is returned when a disallowed transition is
// attempted. It signals a business-rule violation, not a system fault,
// and must never be retried.
type InvalidTransitionError struct {
	Current string
	Target  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transition not allowed: %s -> %s", e.Current, e.Target)
}

// Machine validates transitions against a fixed adjacency map built once
// at construction. A state missing from the map has no outgoing edges
// (terminal); that is not an error.
type Machine struct {
	transitions map[string]map[string]struct{}
}

// New builds a Machine from an adjacency map of state -> allowed targets.
// The input is copied so later mutation of the argument has no effect.
func New(transitions map[string][]string) *Machine {
	m := make(map[string]map[string]struct{}, len(transitions))
	for state, targets := range transitions {
		set := make(map[string]struct{}, len(targets))
		for _, t := range targets {
			set[t] = struct{}{}
		}
		m[state] = set
	}
	return &Machine{transitions: m}
}

// CanTransition reports whether an edge current -> target exists.
func (m *Machine) CanTransition(current, target string) bool {
	targets, ok := m.transitions[current]
	if !ok {
		return false
	}
	_, ok = targets[target]
	return ok
}

// AssertTransition returns an *InvalidTransitionError if the edge
// current -> target does not exist.
func (m *Machine) AssertTransition(current, target string) error {
	if !m.CanTransition(current, target) {
		return &InvalidTransitionError{Current: current, Target: target}
	}
	return nil
}

// IsTerminal reports whether state has no outgoing edges.
func (m *Machine) IsTerminal(state string) bool {
	return len(m.transitions[state]) == 0
}
