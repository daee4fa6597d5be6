package widget

import (
	"context"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/sitememo/internal/bus"
	"github.com/nextlevelbuilder/sitememo/pkg/protocol"
)

// Registry mirrors the widget of every connected tab and pushes widget
// events to the tabs whose state changed.
type Registry struct {
	persist Persister
	bus     *bus.MessageBus

	mu       sync.RWMutex
	machines map[string]*Machine // client ID → widget
}

func NewRegistry(persist Persister, mb *bus.MessageBus) *Registry {
	return &Registry{persist: persist, bus: mb, machines: make(map[string]*Machine)}
}

// Register starts mirroring the widget of tab clientID.
func (r *Registry) Register(clientID, origin string, initial State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines[clientID] = New(origin, initial, r.persist)
}

// Unregister drops the mirror of clientID.
func (r *Registry) Unregister(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.machines, clientID)
}

// Get returns the mirror of clientID.
func (r *Registry) Get(clientID string) (*Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[clientID]
	return m, ok
}

// Result reports what Apply did.
type Result struct {
	Delivered int   `json:"delivered"`
	State     State `json:"state,omitempty"`
}

type target struct {
	id string
	m  *Machine
}

func (r *Registry) targets(origin, clientID string) []target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []target
	for id, m := range r.machines {
		if clientID != "" {
			if id == clientID {
				out = append(out, target{id, m})
			}
			continue
		}
		if m.Origin() == origin {
			out = append(out, target{id, m})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Apply runs op on the tab clientID, or on every tab of origin when
// clientID is empty. isVisible is persisted at most once. With no tab
// connected, show and hide still persist isVisible.
func (r *Registry) Apply(ctx context.Context, origin, clientID string, op Op) (Result, error) {
	targets := r.targets(origin, clientID)
	if len(targets) == 0 {
		if op != OpShow && op != OpHide {
			return Result{}, nil
		}
		visible := op == OpShow
		if r.persist != nil && origin != "" {
			if err := r.persist.SetVisibility(ctx, origin, visible); err != nil {
				return Result{}, err
			}
		}
		return Result{State: Initial(visible)}, nil
	}

	transitions := make([]Transition, len(targets))
	var persist *bool
	for i, t := range targets {
		transitions[i] = Next(t.m.State(), op)
		if persist == nil && transitions[i].Changed {
			persist = transitions[i].Persist
		}
	}
	if persist != nil && r.persist != nil {
		if err := r.persist.SetVisibility(ctx, targets[0].m.Origin(), *persist); err != nil {
			return Result{}, err
		}
	}

	res := Result{State: transitions[0].To}
	for i, t := range targets {
		tr := transitions[i]
		if !tr.Changed {
			continue
		}
		t.m.set(tr.To)
		if r.bus != nil {
			r.bus.Broadcast(bus.Event{
				Name:     EventName(tr),
				Origin:   t.m.Origin(),
				ClientID: t.id,
				Audience: bus.AudienceClient,
				Payload:  map[string]State{"state": tr.To},
			})
		}
		res.Delivered++
	}
	return res, nil
}

// EventName maps a transition to the event a tab expects.
func EventName(t Transition) string {
	switch {
	case t.To == Hidden:
		return protocol.EventHideMemo
	case t.To == Minimized:
		return protocol.EventMinimizeMemo
	case t.To == Visible && t.From == Minimized:
		return protocol.EventRestoreMemo
	default:
		return protocol.EventShowMemo
	}
}
