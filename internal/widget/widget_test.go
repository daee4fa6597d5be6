package widget

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/sitememo/internal/bus"
	"github.com/nextlevelbuilder/sitememo/pkg/protocol"
)

type recorder struct {
	calls []bool
	err   error
}

func (r *recorder) SetVisibility(_ context.Context, _ string, visible bool) error {
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, visible)
	return nil
}

func TestNext(t *testing.T) {
	tests := []struct {
		from    State
		op      Op
		to      State
		persist *bool
	}{
		{Hidden, OpShow, Visible, ptr(true)},
		{Minimized, OpShow, Visible, ptr(true)},
		{Visible, OpShow, Visible, nil},
		{Visible, OpHide, Hidden, ptr(false)},
		{Minimized, OpHide, Hidden, ptr(false)},
		{Hidden, OpHide, Hidden, nil},
		{Visible, OpMinimize, Minimized, nil},
		{Hidden, OpMinimize, Hidden, nil},
		{Minimized, OpRestore, Visible, nil},
		{Visible, OpRestore, Visible, nil},
		{Hidden, OpToggle, Visible, ptr(true)},
		{Visible, OpToggle, Hidden, ptr(false)},
		{Minimized, OpToggle, Visible, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_"+string(tt.op), func(t *testing.T) {
			got := Next(tt.from, tt.op)
			if got.To != tt.to {
				t.Errorf("to = %s, want %s", got.To, tt.to)
			}
			if got.Changed != (tt.from != tt.to) {
				t.Errorf("changed = %v", got.Changed)
			}
			switch {
			case tt.persist == nil && got.Persist != nil:
				t.Errorf("unexpected persist %v", *got.Persist)
			case tt.persist != nil && (got.Persist == nil || *got.Persist != *tt.persist):
				t.Errorf("persist = %v, want %v", got.Persist, *tt.persist)
			}
		})
	}
}

func TestMachineLifecycle(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	m := New("a.com", Hidden, rec)

	steps := []struct {
		run     func(context.Context) (bool, error)
		changed bool
		state   State
	}{
		{m.Show, true, Visible},
		{m.Minimize, true, Minimized},
		{m.Minimize, false, Minimized},
		{m.Restore, true, Visible},
		{m.Hide, true, Hidden},
		{m.Restore, false, Hidden},
		{m.Toggle, true, Visible},
	}
	for i, s := range steps {
		changed, err := s.run(ctx)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if changed != s.changed || m.State() != s.state {
			t.Errorf("step %d: changed=%v state=%s, want %v %s", i, changed, m.State(), s.changed, s.state)
		}
	}
	want := []bool{true, false, true}
	if len(rec.calls) != len(want) {
		t.Fatalf("persist calls = %v, want %v", rec.calls, want)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Errorf("persist calls = %v, want %v", rec.calls, want)
		}
	}
}

func TestMachinePersistFailureKeepsState(t *testing.T) {
	m := New("a.com", Hidden, &recorder{err: errors.New("quota")})
	if _, err := m.Show(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if m.State() != Hidden {
		t.Errorf("state = %s, want hidden", m.State())
	}
}

func TestRegistryApply(t *testing.T) {
	ctx := context.Background()
	mb := bus.New()
	events := map[string][]string{}
	for _, id := range []string{"t1", "t2", "t3"} {
		mb.Subscribe(id, bus.Filter{Kind: protocol.ContextTab}, func(_ int64, e bus.Event) {
			events[id] = append(events[id], e.Name)
		})
	}

	rec := &recorder{}
	reg := NewRegistry(rec, mb)
	reg.Register("t1", "a.com", Visible)
	reg.Register("t2", "a.com", Visible)
	reg.Register("t3", "b.com", Visible)

	res, err := reg.Apply(ctx, "a.com", "", OpHide)
	if err != nil {
		t.Fatal(err)
	}
	if res.Delivered != 2 || res.State != Hidden {
		t.Errorf("result = %+v", res)
	}
	if len(rec.calls) != 1 || rec.calls[0] {
		t.Errorf("persist calls = %v, want one false", rec.calls)
	}
	if len(events["t3"]) != 0 || len(events["t1"]) != 1 || events["t1"][0] != protocol.EventHideMemo {
		t.Errorf("events = %v", events)
	}

	res, err = reg.Apply(ctx, "", "t3", OpMinimize)
	if err != nil {
		t.Fatal(err)
	}
	if res.Delivered != 1 || events["t3"][0] != protocol.EventMinimizeMemo {
		t.Errorf("result = %+v events = %v", res, events)
	}
	if m, _ := reg.Get("t3"); m.State() != Minimized {
		t.Errorf("t3 state = %s", m.State())
	}

	reg.Unregister("t3")
	if _, ok := reg.Get("t3"); ok {
		t.Error("t3 still registered")
	}
}

func TestRegistryApplyWithoutTabs(t *testing.T) {
	rec := &recorder{}
	reg := NewRegistry(rec, nil)

	res, err := reg.Apply(context.Background(), "a.com", "", OpShow)
	if err != nil {
		t.Fatal(err)
	}
	if res.Delivered != 0 || res.State != Visible || len(rec.calls) != 1 || !rec.calls[0] {
		t.Errorf("result = %+v calls = %v", res, rec.calls)
	}

	res, _ = reg.Apply(context.Background(), "a.com", "", OpMinimize)
	if res.Delivered != 0 || res.State != "" || len(rec.calls) != 1 {
		t.Errorf("minimize without tabs: %+v calls = %v", res, rec.calls)
	}
}

func TestParseOp(t *testing.T) {
	if _, err := ParseOp("toggle"); err != nil {
		t.Error(err)
	}
	if _, err := ParseOp("explode"); err == nil {
		t.Error("expected error")
	}
}
