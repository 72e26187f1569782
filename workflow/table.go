package workflow

import (
	"fmt"
	"sort"

	"github.com/draftline/draftline-go/schema"
)

// Rule maps a (source state, action) pair to a target state and an
// optional payload schema the transition payload must satisfy.
type Rule struct {
	SourceState string
	Action      string
	TargetState string
	Payload     *schema.Definition
}

type ruleKey struct {
	state  string
	action string
}

// Table is the immutable transition table. Built once at startup and
// shared by reference; it is never mutated afterwards, so concurrent
// lookups need no synchronization.
type Table struct {
	initial string
	rules   map[ruleKey]Rule
}

// NewTable builds a transition table from an initial state and a rule
// list. Registering the same (state, action) pair twice keeps the
// last registration.
func NewTable(initialState string, rules []Rule) (*Table, error) {
	if initialState == "" {
		return nil, fmt.Errorf("initial state is required")
	}

	table := &Table{
		initial: initialState,
		rules:   make(map[ruleKey]Rule, len(rules)),
	}
	for i, r := range rules {
		if r.SourceState == "" {
			return nil, fmt.Errorf("rule %d: source state is required", i)
		}
		if r.Action == "" {
			return nil, fmt.Errorf("rule %d: action is required", i)
		}
		if r.TargetState == "" {
			return nil, fmt.Errorf("rule %d: target state is required", i)
		}
		table.rules[ruleKey{state: r.SourceState, action: r.Action}] = r
	}
	return table, nil
}

// InitialState returns the state every new version starts in.
func (t *Table) InitialState() string {
	return t.initial
}

// Lookup returns the rule for a (state, action) pair.
func (t *Table) Lookup(state, action string) (Rule, bool) {
	r, ok := t.rules[ruleKey{state: state, action: action}]
	return r, ok
}

// ActionsFrom returns the actions available from a state, sorted.
func (t *Table) ActionsFrom(state string) []string {
	var actions []string
	for key := range t.rules {
		if key.state == state {
			actions = append(actions, key.action)
		}
	}
	sort.Strings(actions)
	return actions
}

// IsTerminal reports whether a state has no outgoing rules.
func (t *Table) IsTerminal(state string) bool {
	for key := range t.rules {
		if key.state == state {
			return false
		}
	}
	return true
}

// States returns every state named by the table, sources and targets
// alike, sorted.
func (t *Table) States() []string {
	set := map[string]bool{t.initial: true}
	for key, r := range t.rules {
		set[key.state] = true
		set[r.TargetState] = true
	}
	states := make([]string, 0, len(set))
	for s := range set {
		states = append(states, s)
	}
	sort.Strings(states)
	return states
}
