// Package bus fans events out from the dispatcher to connected contexts.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/nextlevelbuilder/sitememo/pkg/protocol"
)

// Audience selects which subscribers receive an event.
type Audience int

const (
	// AudienceAll reaches every subscriber.
	AudienceAll Audience = iota
	// AudienceTabs reaches every tab context.
	AudienceTabs
	// AudienceOriginTabs reaches tab contexts whose origin equals Event.Origin.
	AudienceOriginTabs
	// AudienceClient reaches the single subscriber Event.ClientID.
	AudienceClient
)

// Event is one notification on the bus.
type Event struct {
	Name     string
	Origin   string
	ClientID string
	Audience Audience
	Payload  any
}

// Frame converts the event to its wire form.
func (e Event) Frame(seq int64) *protocol.EventFrame {
	f := protocol.NewEvent(e.Name, e.Origin, e.Payload)
	f.Seq = seq
	return f
}

// Filter describes a subscriber.
type Filter struct {
	Kind   string // protocol.Context*
	Origin string // tabs only
}

// EventHandler receives matching events. Handlers must not block.
type EventHandler func(seq int64, event Event)

type subscription struct {
	filter  Filter
	handler EventHandler
}

// MessageBus broadcasts events to subscribers by audience.
type MessageBus struct {
	subscribers map[string]subscription
	subMu       sync.RWMutex
	seq         atomic.Int64
}

func New() *MessageBus {
	return &MessageBus{subscribers: make(map[string]subscription)}
}

// Subscribe registers or replaces subscriber id.
func (mb *MessageBus) Subscribe(id string, filter Filter, handler EventHandler) {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	mb.subscribers[id] = subscription{filter: filter, handler: handler}
}

// SetOrigin updates the origin of a tab subscriber, after a navigation.
func (mb *MessageBus) SetOrigin(id, origin string) {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	if sub, ok := mb.subscribers[id]; ok {
		sub.filter.Origin = origin
		mb.subscribers[id] = sub
	}
}

// Unsubscribe removes a subscriber.
func (mb *MessageBus) Unsubscribe(id string) {
	mb.subMu.Lock()
	defer mb.subMu.Unlock()
	delete(mb.subscribers, id)
}

// Count returns the number of subscribers.
func (mb *MessageBus) Count() int {
	mb.subMu.RLock()
	defer mb.subMu.RUnlock()
	return len(mb.subscribers)
}

// Broadcast delivers event to every matching subscriber and returns how
// many received it.
func (mb *MessageBus) Broadcast(event Event) int {
	seq := mb.seq.Add(1)

	mb.subMu.RLock()
	defer mb.subMu.RUnlock()
	delivered := 0
	for id, sub := range mb.subscribers {
		if !matches(event, id, sub.filter) {
			continue
		}
		sub.handler(seq, event)
		delivered++
	}
	return delivered
}

func matches(e Event, id string, f Filter) bool {
	switch e.Audience {
	case AudienceAll:
		return true
	case AudienceTabs:
		return f.Kind == protocol.ContextTab
	case AudienceOriginTabs:
		return f.Kind == protocol.ContextTab && f.Origin != "" && f.Origin == e.Origin
	case AudienceClient:
		return id == e.ClientID
	default:
		return false
	}
}
