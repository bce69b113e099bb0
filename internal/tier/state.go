package tier

import (
	"sync"

	"statusbot/internal/probe"
)

// State is the per-target flag record. At most one of Down, Amber and Red is
// set after Apply; the Old* fields hold the previous cycle's flags.
type State struct {
	Down  bool
	Amber bool
	Red   bool

	OldDown  bool
	OldAmber bool
	OldRed   bool
}

// Apply records t as the current tier and reports whether the flags changed.
func (s *State) Apply(t Tier) Code {
	s.OldDown, s.OldAmber, s.OldRed = s.Down, s.Amber, s.Red
	s.Down, s.Amber, s.Red = false, false, false

	switch t {
	case Down:
		s.Down = true
	case Amber:
		s.Amber = true
	case Red:
		s.Red = true
	}

	if s.Down != s.OldDown || s.Amber != s.OldAmber || s.Red != s.OldRed {
		return t.Code()
	}
	return NoChange
}

func (s State) Current() Tier {
	switch {
	case s.Down:
		return Down
	case s.Red:
		return Red
	case s.Amber:
		return Amber
	default:
		return Green
	}
}

// Table holds classification state keyed by target name.
type Table struct {
	thresholds Thresholds

	mu     sync.Mutex
	states map[string]*State
}

func NewTable(thresholds Thresholds) *Table {
	return &Table{
		thresholds: thresholds,
		states:     make(map[string]*State),
	}
}

// Observe classifies result for the named target and applies it to the
// target's state. The tier is returned alongside the edge code.
func (t *Table) Observe(name string, result probe.Result) (Tier, Code) {
	current := t.thresholds.Classify(result)

	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[name]
	if !ok {
		state = &State{}
		t.states[name] = state
	}
	return current, state.Apply(current)
}

// Current returns the last applied tier for name.
func (t *Table) Current(name string) (Tier, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[name]
	if !ok {
		return Green, false
	}
	return state.Current(), true
}

func (t *Table) Forget(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, name)
}

// Retain drops state for every target not in names.
func (t *Table) Retain(names []string) {
	keep := make(map[string]struct{}, len(names))
	for _, name := range names {
		keep[name] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for name := range t.states {
		if _, ok := keep[name]; !ok {
			delete(t.states, name)
		}
	}
}
