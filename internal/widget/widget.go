// Package widget models the floating memo widget of a tab:
// hidden, visible or minimized.
package widget

import (
	"context"
	"fmt"
	"sync"
)

// State of a widget.
type State string

const (
	Hidden    State = "hidden"
	Visible   State = "visible"
	Minimized State = "minimized"
)

// Initial returns the state a freshly loaded tab starts in.
func Initial(isVisible bool) State {
	if isVisible {
		return Visible
	}
	return Hidden
}

// Op is a widget command.
type Op string

const (
	OpShow     Op = "show"
	OpHide     Op = "hide"
	OpMinimize Op = "minimize"
	OpRestore  Op = "restore"
	OpToggle   Op = "toggle"
)

// ParseOp validates an op name.
func ParseOp(s string) (Op, error) {
	switch op := Op(s); op {
	case OpShow, OpHide, OpMinimize, OpRestore, OpToggle:
		return op, nil
	}
	return "", fmt.Errorf("unknown widget op %q", s)
}

// Transition is the pure result of applying an op to a state.
type Transition struct {
	From, To State
	Changed  bool
	// Persist is non-nil when the op writes isVisible.
	Persist *bool
}

// Next computes the transition for op from state. Transitions that do not
// apply leave the state unchanged.
func Next(from State, op Op) Transition {
	t := Transition{From: from, To: from}
	if op == OpToggle {
		switch from {
		case Hidden:
			op = OpShow
		case Visible:
			op = OpHide
		case Minimized:
			op = OpRestore
		}
	}

	switch op {
	case OpShow:
		if from == Hidden || from == Minimized {
			t.To = Visible
			t.Persist = ptr(true)
		}
	case OpHide:
		if from == Visible || from == Minimized {
			t.To = Hidden
			t.Persist = ptr(false)
		}
	case OpMinimize:
		if from == Visible {
			t.To = Minimized
		}
	case OpRestore:
		if from == Minimized {
			t.To = Visible
		}
	}
	t.Changed = t.To != t.From
	return t
}

func ptr(b bool) *bool { return &b }

// Persister stores a memo's isVisible flag.
type Persister interface {
	SetVisibility(ctx context.Context, origin string, visible bool) error
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, origin string, visible bool) error

func (f PersisterFunc) SetVisibility(ctx context.Context, origin string, visible bool) error {
	return f(ctx, origin, visible)
}

// Machine is the widget of one tab.
type Machine struct {
	origin  string
	persist Persister

	mu    sync.Mutex
	state State
}

// New returns a widget for origin in state initial. persist may be nil.
func New(origin string, initial State, persist Persister) *Machine {
	return &Machine{origin: origin, state: initial, persist: persist}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Origin() string { return m.origin }

// Apply runs op. The state only changes once persistence succeeded.
func (m *Machine) Apply(ctx context.Context, op Op) (Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := Next(m.state, op)
	if t.Changed && t.Persist != nil && m.persist != nil {
		if err := m.persist.SetVisibility(ctx, m.origin, *t.Persist); err != nil {
			return Transition{From: m.state, To: m.state}, err
		}
	}
	m.state = t.To
	return t, nil
}

func (m *Machine) Show(ctx context.Context) (bool, error)     { return m.changed(ctx, OpShow) }
func (m *Machine) Hide(ctx context.Context) (bool, error)     { return m.changed(ctx, OpHide) }
func (m *Machine) Minimize(ctx context.Context) (bool, error) { return m.changed(ctx, OpMinimize) }
func (m *Machine) Restore(ctx context.Context) (bool, error)  { return m.changed(ctx, OpRestore) }
func (m *Machine) Toggle(ctx context.Context) (bool, error)   { return m.changed(ctx, OpToggle) }

func (m *Machine) changed(ctx context.Context, op Op) (bool, error) {
	t, err := m.Apply(ctx, op)
	return t.Changed, err
}

// set forces the state without persisting, used by the registry after it
// persisted once for several tabs.
func (m *Machine) set(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
