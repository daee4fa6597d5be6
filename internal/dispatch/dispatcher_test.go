package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/sitememo/internal/backup"
	"github.com/nextlevelbuilder/sitememo/internal/bus"
	"github.com/nextlevelbuilder/sitememo/internal/memo"
	"github.com/nextlevelbuilder/sitememo/internal/settings"
	"github.com/nextlevelbuilder/sitememo/internal/store"
	"github.com/nextlevelbuilder/sitememo/internal/store/storetest"
	"github.com/nextlevelbuilder/sitememo/internal/templates"
	"github.com/nextlevelbuilder/sitememo/internal/widget"
	"github.com/nextlevelbuilder/sitememo/pkg/protocol"
)

type harness struct {
	d      *Dispatcher
	local  *storetest.Flaky
	bus    *bus.MessageBus
	mu     sync.Mutex
	events map[string][]string // subscriber → event names
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend := store.NewMemoryStore()
	t.Cleanup(func() { backend.Close() })
	local := storetest.NewFlaky(store.WithArea(backend, store.AreaLocal))
	synced := store.WithArea(backend, store.AreaSync)

	memos := memo.NewRepository(local)
	tmpl := templates.NewRepository(synced)
	mb := bus.New()
	h := &harness{local: local, bus: mb, events: map[string][]string{}}
	h.d = New(Deps{
		Memos:     memos,
		Templates: tmpl,
		Settings:  settings.New(local),
		Backup:    backup.NewService(local, memos, tmpl),
		Widgets:   widget.NewRegistry(Persister(memos), mb),
		Bus:       mb,
	})
	return h
}

func (h *harness) subscribe(id string, f bus.Filter) {
	h.bus.Subscribe(id, f, func(_ int64, e bus.Event) {
		h.mu.Lock()
		h.events[id] = append(h.events[id], e.Name)
		h.mu.Unlock()
	})
}

func (h *harness) call(t *testing.T, ctx context.Context, frame string) map[string]any {
	t.Helper()
	f, req, err := DecodeBytes([]byte(frame))
	var reply protocol.Reply
	if err != nil {
		id := ""
		if f != nil {
			id = f.ID
		}
		reply = h.d.Fail(id, err)
	} else {
		reply = h.d.Dispatch(ctx, f.ID, req)
	}
	data, err := json.Marshal(reply)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestDecode(t *testing.T) {
	tests := []struct {
		frame   string
		want    Request
		wantErr error
	}{
		{`{"type":"req","id":"1","action":"getMemo","origin":" A.com "}`, &GetMemo{Origin: "a.com"}, nil},
		{`{"type":"req","id":"2","action":"toggleMemo"}`, &WidgetCommand{Op: widget.OpToggle}, nil},
		{`{"type":"req","id":"3","action":"reorderTemplates","names":["b","a"]}`, &ReorderTemplates{Names: []string{"b", "a"}}, nil},
		{`{"type":"req","id":"4","action":"launchRockets"}`, nil, ErrUnknownAction},
		{`{"type":"req","id":"5","action":"getMemo","origin":5}`, nil, ErrMalformed},
	}
	for _, tt := range tests {
		_, got, err := DecodeBytes([]byte(tt.frame))
		if tt.wantErr != nil {
			assert.ErrorIs(t, err, tt.wantErr, tt.frame)
			continue
		}
		require.NoError(t, err, tt.frame)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.want.Action(), got.Action())
	}
}

func TestWidgetCommandActionRoundTrip(t *testing.T) {
	for action := range widgetActions {
		req, ok := newRequest(action)
		require.True(t, ok)
		assert.Equal(t, action, req.Action())
	}
}

func TestEmptySaveDeletesAndNotifies(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.subscribe("tab-a", bus.Filter{Kind: protocol.ContextTab, Origin: "a.com"})
	h.subscribe("tab-b", bus.Filter{Kind: protocol.ContextTab, Origin: "b.com"})

	res := h.call(t, ctx, `{"type":"req","id":"1","action":"saveMemo","origin":"a.com","data":{"content":"hello"}}`)
	require.Equal(t, true, res["success"])

	res = h.call(t, ctx, `{"type":"req","id":"2","action":"saveMemo","origin":"a.com","data":{"content":"<p> <br></p>"}}`)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, true, res["deleted"])
	assert.Nil(t, res["data"])
	assert.Equal(t, "2", res["id"])

	assert.Equal(t, []string{protocol.EventMemoDeleted}, h.events["tab-a"])
	assert.Empty(t, h.events["tab-b"])

	res = h.call(t, ctx, `{"type":"req","id":"3","action":"getMemo","origin":"a.com"}`)
	assert.Nil(t, res["memo"])
}

func TestDeleteMemoReportsExistence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.call(t, ctx, `{"type":"req","id":"1","action":"deleteMemo","origin":"nothing.com"}`)
	assert.Equal(t, false, res["success"])
	assert.NotContains(t, res, "code")

	h.call(t, ctx, `{"type":"req","id":"2","action":"saveMemo","origin":"a.com","data":{"content":"x"}}`)
	res = h.call(t, ctx, `{"type":"req","id":"3","action":"deleteMemo","origin":"a.com"}`)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, true, res["deleted"])
}

func TestErrorCodes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.call(t, ctx, `{"type":"req","id":"1","action":"launchRockets"}`)
	assert.Equal(t, protocol.ErrInvalidRequest, res["code"])
	assert.Equal(t, "1", res["id"])

	res = h.call(t, ctx, `{"type":"req","id":"2","action":"getMemo","origin":""}`)
	assert.Equal(t, protocol.ErrInvalidArgument, res["code"])

	res = h.call(t, ctx, `{"type":"req","id":"3","action":"saveTemplate","name":"t","content":""}`)
	assert.Equal(t, protocol.ErrInvalidArgument, res["code"])

	res = h.call(t, ctx, `{"type":"req","id":"4","action":"setSelectionEnabled"}`)
	assert.Equal(t, protocol.ErrInvalidArgument, res["code"])

	h.local.Fail("get")
	res = h.call(t, ctx, `{"type":"req","id":"5","action":"getMemo","origin":"a.com"}`)
	assert.Equal(t, false, res["success"])
	assert.Equal(t, protocol.ErrStorage, res["code"])
	assert.Equal(t, protocol.StorageFailureMessage, res["error"])
	h.local.Heal()

	res = h.call(t, ctx, `{"type":"req","id":"6","action":"connect","context":"tab"}`)
	assert.Equal(t, protocol.ErrInvalidRequest, res["code"])
}

func TestPanicBecomesInternal(t *testing.T) {
	d := New(Deps{Memos: &memo.Repository{}})
	reply := d.Dispatch(context.Background(), "p", &GetMemo{Origin: "a.com"})
	h := reply.Header()
	assert.False(t, h.Success)
	assert.Equal(t, protocol.ErrInternal, h.Code)
	assert.Equal(t, "p", h.ID)
	assert.Equal(t, protocol.FrameTypeResponse, h.Type)
}

func TestSelectionGate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.call(t, ctx, `{"type":"req","id":"1","action":"getSelectionStatus"}`)
	assert.Equal(t, true, res["enabled"])

	res = h.call(t, ctx, `{"type":"req","id":"2","action":"addSelectionToMemo","origin":"a.com","text":"quote","url":"https://a.com/x"}`)
	require.Equal(t, true, res["success"])
	data := res["data"].(map[string]any)
	assert.Contains(t, data["content"], "<blockquote")
	assert.Equal(t, "https://a.com/x", data["url"])

	h.call(t, ctx, `{"type":"req","id":"3","action":"setSelectionEnabled","enabled":false}`)
	res = h.call(t, ctx, `{"type":"req","id":"4","action":"addSelectionToMemo","origin":"a.com","text":"again"}`)
	assert.Equal(t, protocol.ErrDisabled, res["code"])
}

func TestTemplatesFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, name := range []string{"A", "B", "C"} {
		res := h.call(t, ctx, `{"type":"req","id":"s","action":"saveTemplate","name":"`+name+`","content":"body `+name+`"}`)
		require.Equal(t, true, res["success"], res)
	}
	res := h.call(t, ctx, `{"type":"req","id":"r","action":"reorderTemplates","names":["C","A"]}`)
	list := res["templates"].([]any)
	require.Len(t, list, 3)
	var names []string
	for _, item := range list {
		names = append(names, item.(map[string]any)["name"].(string))
	}
	assert.Equal(t, []string{"C", "A", "B"}, names)

	res = h.call(t, ctx, `{"type":"req","id":"g","action":"getTemplate","name":"missing"}`)
	assert.Equal(t, true, res["success"])
	assert.Nil(t, res["template"])

	res = h.call(t, ctx, `{"type":"req","id":"d","action":"deleteTemplate","name":"B"}`)
	assert.Equal(t, true, res["success"])
	res = h.call(t, ctx, `{"type":"req","id":"d2","action":"deleteTemplate","name":"B"}`)
	assert.Equal(t, false, res["success"])
}

func TestExportImportBroadcast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.subscribe("tab", bus.Filter{Kind: protocol.ContextTab, Origin: "a.com"})
	h.subscribe("popup", bus.Filter{Kind: protocol.ContextPopup})

	h.call(t, ctx, `{"type":"req","id":"1","action":"saveMemo","origin":"a.com","data":{"content":"keep"}}`)
	h.call(t, ctx, `{"type":"req","id":"2","action":"saveTemplate","name":"T","content":"tpl"}`)
	exported := h.call(t, ctx, `{"type":"req","id":"3","action":"exportData"}`)
	require.Equal(t, true, exported["success"])
	doc, err := json.Marshal(exported["data"])
	require.NoError(t, err)

	frame := `{"type":"req","id":"4","action":"validateImport","data":` + string(doc) + `}`
	res := h.call(t, ctx, frame)
	assert.EqualValues(t, 1, res["memos"])
	assert.EqualValues(t, 1, res["templates"])

	res = h.call(t, ctx, `{"type":"req","id":"5","action":"importData","data":`+string(doc)+`}`)
	require.Equal(t, true, res["success"], res)
	imported := res["imported"].(map[string]any)
	assert.EqualValues(t, 1, imported["memos"])
	assert.Equal(t, []string{protocol.EventDataImported}, h.events["tab"])
	assert.Empty(t, h.events["popup"])

	res = h.call(t, ctx, `{"type":"req","id":"6","action":"importData","data":{"version":"1"}}`)
	assert.Equal(t, protocol.ErrInvalidArgument, res["code"])
}

func TestWidgetTargetsCallerTab(t *testing.T) {
	h := newHarness(t)
	h.subscribe("tab-1", bus.Filter{Kind: protocol.ContextTab, Origin: "a.com"})
	h.d.Widgets.Register("tab-1", "a.com", widget.Visible)

	ctx := store.WithClientID(context.Background(), "tab-1")
	ctx = store.WithCallerKind(ctx, protocol.ContextTab)
	ctx = store.WithCallerOrigin(ctx, "a.com")

	res := h.call(t, ctx, `{"type":"req","id":"1","action":"toggleMemo"}`)
	require.Equal(t, true, res["success"], res)
	assert.EqualValues(t, 1, res["delivered"])
	assert.Equal(t, string(widget.Hidden), res["state"])
	assert.Equal(t, []string{protocol.EventHideMemo}, h.events["tab-1"])

	rec, err := h.d.Memos.Get(context.Background(), "a.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.IsVisible)

	res = h.call(t, context.Background(), `{"type":"req","id":"2","action":"showMemo"}`)
	assert.Equal(t, protocol.ErrInvalidArgument, res["code"])
}

func TestListAndPing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.call(t, ctx, `{"type":"req","id":"1","action":"saveMemo","origin":"a.com","data":{"content":"a"}}`)
	h.call(t, ctx, `{"type":"req","id":"2","action":"saveMemo","origin":"b.com","data":{"content":"b"}}`)

	res := h.call(t, ctx, `{"type":"req","id":"3","action":"listMemos"}`)
	assert.Len(t, res["memos"], 2)

	res = h.call(t, ctx, `{"type":"req","id":"4","action":"ping"}`)
	assert.Equal(t, "ok", res["status"])
}

func TestWidgetCommandWithoutMemoWritesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, op := range []widget.Op{widget.OpHide, widget.OpShow} {
		reply := h.d.Dispatch(ctx, "w", &WidgetCommand{Op: op, Origin: "nomemo.com"})
		require.True(t, reply.Header().Success, op)
	}

	rec, err := h.d.Memos.Get(ctx, "nomemo.com")
	require.NoError(t, err)
	assert.Nil(t, rec)

	res := h.call(t, ctx, `{"type":"req","id":"1","action":"listMemos"}`)
	assert.Empty(t, res["memos"])
}

func TestSaveOfUnsafeOnlyContentDeletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.subscribe("tab-a", bus.Filter{Kind: protocol.ContextTab, Origin: "a.com"})

	h.call(t, ctx, `{"type":"req","id":"1","action":"saveMemo","origin":"a.com","data":{"content":"hello"}}`)
	res := h.call(t, ctx, `{"type":"req","id":"2","action":"saveMemo","origin":"a.com","data":{"content":"<script>alert(1)</script>"}}`)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, true, res["deleted"])
	assert.Equal(t, []string{protocol.EventMemoDeleted}, h.events["tab-a"])

	rec, err := h.d.Memos.Get(ctx, "a.com")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
