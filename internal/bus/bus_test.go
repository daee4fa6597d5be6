package bus

import (
	"sort"
	"testing"

	"github.com/nextlevelbuilder/sitememo/pkg/protocol"
)

func collect(mb *MessageBus, got map[string][]string) {
	subs := map[string]Filter{
		"tab-a1": {Kind: protocol.ContextTab, Origin: "a.com"},
		"tab-a2": {Kind: protocol.ContextTab, Origin: "a.com"},
		"tab-b":  {Kind: protocol.ContextTab, Origin: "b.com"},
		"popup":  {Kind: protocol.ContextPopup},
	}
	for id, f := range subs {
		mb.Subscribe(id, f, func(_ int64, e Event) {
			got[id] = append(got[id], e.Name)
		})
	}
}

func receivers(got map[string][]string, name string) []string {
	var out []string
	for id, names := range got {
		for _, n := range names {
			if n == name {
				out = append(out, id)
			}
		}
	}
	sort.Strings(out)
	return out
}

func TestBroadcastAudiences(t *testing.T) {
	mb := New()
	got := map[string][]string{}
	collect(mb, got)

	tests := []struct {
		event Event
		want  []string
	}{
		{Event{Name: "e1", Audience: AudienceOriginTabs, Origin: "a.com"}, []string{"tab-a1", "tab-a2"}},
		{Event{Name: "e2", Audience: AudienceTabs}, []string{"tab-a1", "tab-a2", "tab-b"}},
		{Event{Name: "e3", Audience: AudienceAll}, []string{"popup", "tab-a1", "tab-a2", "tab-b"}},
		{Event{Name: "e4", Audience: AudienceClient, ClientID: "tab-b"}, []string{"tab-b"}},
		{Event{Name: "e5", Audience: AudienceOriginTabs, Origin: "nobody.com"}, nil},
	}
	for _, tt := range tests {
		n := mb.Broadcast(tt.event)
		r := receivers(got, tt.event.Name)
		if len(r) != len(tt.want) || n != len(tt.want) {
			t.Errorf("%s: delivered to %v (n=%d), want %v", tt.event.Name, r, n, tt.want)
			continue
		}
		for i := range r {
			if r[i] != tt.want[i] {
				t.Errorf("%s: delivered to %v, want %v", tt.event.Name, r, tt.want)
			}
		}
	}
}

func TestSetOriginAndUnsubscribe(t *testing.T) {
	mb := New()
	var hits int
	mb.Subscribe("t", Filter{Kind: protocol.ContextTab, Origin: "a.com"}, func(int64, Event) { hits++ })

	mb.SetOrigin("t", "b.com")
	mb.Broadcast(Event{Name: "x", Audience: AudienceOriginTabs, Origin: "a.com"})
	mb.Broadcast(Event{Name: "x", Audience: AudienceOriginTabs, Origin: "b.com"})
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}

	mb.Unsubscribe("t")
	mb.Broadcast(Event{Name: "x", Audience: AudienceAll})
	if hits != 1 || mb.Count() != 0 {
		t.Errorf("unsubscribed handler still called (hits=%d, count=%d)", hits, mb.Count())
	}
}

func TestSequenceIncreases(t *testing.T) {
	mb := New()
	var seqs []int64
	mb.Subscribe("s", Filter{Kind: protocol.ContextPopup}, func(seq int64, _ Event) { seqs = append(seqs, seq) })
	for i := 0; i < 3; i++ {
		mb.Broadcast(Event{Name: "x", Audience: AudienceAll})
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("sequence not increasing: %v", seqs)
		}
	}
	if f := (Event{Name: "n", Origin: "o"}).Frame(7); f.Seq != 7 || f.Type != protocol.FrameTypeEvent {
		t.Errorf("Frame = %+v", f)
	}
}
