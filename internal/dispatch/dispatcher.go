package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/sitememo/internal/backup"
	"github.com/nextlevelbuilder/sitememo/internal/bus"
	"github.com/nextlevelbuilder/sitememo/internal/memo"
	"github.com/nextlevelbuilder/sitememo/internal/richtext"
	"github.com/nextlevelbuilder/sitememo/internal/settings"
	"github.com/nextlevelbuilder/sitememo/internal/store"
	"github.com/nextlevelbuilder/sitememo/internal/templates"
	"github.com/nextlevelbuilder/sitememo/internal/widget"
	"github.com/nextlevelbuilder/sitememo/pkg/protocol"
)

const tracerName = "github.com/nextlevelbuilder/sitememo/internal/dispatch"

// Deps are the services a Dispatcher routes to. Bus and Widgets may be nil
// for callers without live clients (the CLI).
type Deps struct {
	Memos     *memo.Repository
	Templates *templates.Repository
	Settings  *settings.Service
	Backup    *backup.Service
	Widgets   *widget.Registry
	Bus       *bus.MessageBus
}

// Dispatcher executes decoded requests.
type Dispatcher struct {
	Deps
	tracer trace.Tracer
	logger *slog.Logger
}

func New(d Deps) *Dispatcher {
	return &Dispatcher{
		Deps:   d,
		tracer: otel.Tracer(tracerName),
		logger: slog.Default(),
	}
}

// Dispatch runs req to completion and returns its response with id set.
// It never panics: handler panics become INTERNAL responses.
func (d *Dispatcher) Dispatch(ctx context.Context, id string, req Request) (reply protocol.Reply) {
	ctx, span := d.tracer.Start(ctx, "dispatch "+req.Action(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("sitememo.action", req.Action()),
			attribute.String("sitememo.origin", originOf(ctx, req)),
		))
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch panic", "action", req.Action(), "panic", r, "stack", string(debug.Stack()))
			reply = protocol.NewError(id, protocol.ErrInternal, "internal error")
		}
		h := reply.Header()
		h.Type = protocol.FrameTypeResponse
		h.ID = id
		span.SetAttributes(attribute.Bool("sitememo.success", h.Success))
		if h.Code != "" {
			span.SetStatus(codes.Error, h.Code)
		}
		span.End()
	}()

	out, err := d.handle(ctx, req)
	if err != nil {
		span.RecordError(err)
		return d.errorReply(id, req, err)
	}
	return out
}

// Fail encodes a decode or transport error the same way Dispatch encodes
// handler errors.
func (d *Dispatcher) Fail(id string, err error) *protocol.Status {
	return d.errorReply(id, nil, err)
}

func (d *Dispatcher) errorReply(id string, req Request, err error) *protocol.Status {
	action := ""
	if req != nil {
		action = req.Action()
	}
	switch {
	case errors.Is(err, ErrUnknownAction), errors.Is(err, ErrMalformed):
		return protocol.NewError(id, protocol.ErrInvalidRequest, err.Error())
	case errors.Is(err, store.ErrInvalidArgument):
		return protocol.NewError(id, protocol.ErrInvalidArgument, err.Error())
	case errors.Is(err, ErrDisabled):
		return protocol.NewError(id, protocol.ErrDisabled, err.Error())
	case store.IsStorageError(err):
		d.logger.Error("storage operation failed", "action", action, "error", err)
		return protocol.NewError(id, protocol.ErrStorage, protocol.StorageFailureMessage)
	default:
		d.logger.Error("dispatch failed", "action", action, "error", err)
		return protocol.NewError(id, protocol.ErrInternal, "internal error")
	}
}

func (d *Dispatcher) handle(ctx context.Context, req Request) (protocol.Reply, error) {
	switch r := req.(type) {
	case *Connect:
		return nil, fmt.Errorf("%w: connect is only valid as the first frame of a session", ErrMalformed)
	case *Ping:
		return &PingReply{Status: ok(), Health: "ok"}, nil

	case *GetMemo:
		rec, err := d.Memos.Get(ctx, r.Origin)
		if err != nil {
			return nil, err
		}
		return &MemoReply{Status: ok(), Memo: rec}, nil
	case *SaveMemo:
		return d.saveMemo(ctx, r)
	case *DeleteMemo:
		existed, err := d.deleteMemo(ctx, r.Origin)
		if err != nil {
			return nil, err
		}
		return &DeleteReply{Status: protocol.Status{Success: existed}, Deleted: existed}, nil
	case *ListMemos:
		memos, err := d.Memos.List(ctx)
		if err != nil {
			return nil, err
		}
		return &MemoListReply{Status: ok(), Memos: memos}, nil
	case *AddSelectionToMemo:
		return d.addSelection(ctx, r)

	case *GetAllTemplates:
		list, err := d.Templates.List(ctx)
		if err != nil {
			return nil, err
		}
		return &TemplatesReply{Status: ok(), Templates: list}, nil
	case *GetTemplate:
		t, err := d.Templates.Get(ctx, r.Name)
		if err != nil {
			return nil, err
		}
		return &TemplateReply{Status: ok(), Template: t}, nil
	case *SaveTemplate:
		t, err := d.Templates.Save(ctx, r.Name, r.Content)
		if err != nil {
			return nil, err
		}
		return &TemplateReply{Status: ok(), Template: t}, nil
	case *DeleteTemplate:
		existed, err := d.Templates.Delete(ctx, r.Name)
		if err != nil {
			return nil, err
		}
		return &protocol.Status{Success: existed}, nil
	case *ReorderTemplates:
		list, err := d.Templates.Reorder(ctx, r.Names)
		if err != nil {
			return nil, err
		}
		return &TemplatesReply{Status: ok(), Templates: list}, nil

	case *ExportData:
		doc, err := d.Backup.Export(ctx)
		if err != nil {
			return nil, err
		}
		return &ExportReply{Status: ok(), Data: doc}, nil
	case *ImportData:
		return d.importData(ctx, r)
	case *ValidateImport:
		if len(r.Data) == 0 {
			return nil, store.InvalidArgument("data is required")
		}
		doc, err := backup.Validate(r.Data)
		if err != nil {
			return nil, err
		}
		return &ValidateReply{Status: ok(), Summary: backup.Summarize(doc)}, nil

	case *GetSelectionStatus:
		enabled, err := d.Settings.SelectionEnabled(ctx)
		if err != nil {
			return nil, err
		}
		return &SelectionReply{Status: ok(), Enabled: enabled}, nil
	case *SetSelectionEnabled:
		if r.Enabled == nil {
			return nil, store.InvalidArgument("enabled is required")
		}
		if err := d.Settings.SetSelectionEnabled(ctx, *r.Enabled); err != nil {
			return nil, err
		}
		return &SelectionReply{Status: ok(), Enabled: *r.Enabled}, nil

	case *WidgetCommand:
		return d.widget(ctx, r)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, req.Action())
}

// saveMemo treats content that is blank after tag stripping as a delete.
func (d *Dispatcher) saveMemo(ctx context.Context, r *SaveMemo) (protocol.Reply, error) {
	if r.Data.Content != nil && richtext.IsEmpty(richtext.Sanitize(*r.Data.Content)) {
		if _, err := d.deleteMemo(ctx, r.Origin); err != nil {
			return nil, err
		}
		return &SaveMemoReply{Status: ok(), Deleted: true}, nil
	}
	rec, err := d.Memos.Save(ctx, r.Origin, r.Data)
	if err != nil {
		return nil, err
	}
	return &SaveMemoReply{Status: ok(), Data: rec}, nil
}

// deleteMemo removes the memo and tells every tab showing origin.
func (d *Dispatcher) deleteMemo(ctx context.Context, origin string) (bool, error) {
	existed, err := d.Memos.Delete(ctx, origin)
	if err != nil {
		return false, err
	}
	n := d.broadcast(bus.Event{
		Name:     protocol.EventMemoDeleted,
		Origin:   origin,
		Audience: bus.AudienceOriginTabs,
	})
	d.logger.Debug("memo deleted", "origin", origin, "existed", existed, "notified", n)
	return existed, nil
}

func (d *Dispatcher) addSelection(ctx context.Context, r *AddSelectionToMemo) (protocol.Reply, error) {
	enabled, err := d.Settings.SelectionEnabled(ctx)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, fmt.Errorf("%w: selection capture is turned off", ErrDisabled)
	}
	rec, err := d.Memos.AddSelection(ctx, r.Origin, r.Text, memo.PageInfo{URL: r.URL, Title: r.Title})
	if err != nil {
		return nil, err
	}
	return &SaveMemoReply{Status: ok(), Data: rec}, nil
}

func (d *Dispatcher) importData(ctx context.Context, r *ImportData) (protocol.Reply, error) {
	if len(r.Data) == 0 {
		return nil, store.InvalidArgument("data is required")
	}
	doc, err := backup.Validate(r.Data)
	if err != nil {
		return nil, err
	}
	sum, err := d.Backup.Import(ctx, doc)
	if err != nil {
		return nil, err
	}
	d.broadcast(bus.Event{
		Name:     protocol.EventDataImported,
		Audience: bus.AudienceTabs,
		Payload:  sum,
	})
	return &ImportReply{Status: ok(), Imported: sum}, nil
}

// widget targets the caller's own tab when neither origin nor clientId is
// given.
func (d *Dispatcher) widget(ctx context.Context, r *WidgetCommand) (protocol.Reply, error) {
	origin, clientID := r.Origin, r.ClientID
	if origin == "" && clientID == "" && store.CallerKindFromContext(ctx) == protocol.ContextTab {
		origin = store.CallerOriginFromContext(ctx)
		clientID = store.ClientIDFromContext(ctx)
	}
	if origin == "" && clientID == "" {
		return nil, store.InvalidArgument("origin is required")
	}
	if d.Widgets == nil {
		return nil, fmt.Errorf("%w: no widget registry", ErrDisabled)
	}
	res, err := d.Widgets.Apply(ctx, origin, clientID, r.Op)
	if err != nil {
		return nil, err
	}
	return &WidgetReply{Status: ok(), Result: res}, nil
}

func (d *Dispatcher) broadcast(e bus.Event) int {
	if d.Bus == nil {
		return 0
	}
	return d.Bus.Broadcast(e)
}

func originOf(ctx context.Context, req Request) string {
	switch r := req.(type) {
	case *GetMemo:
		return r.Origin
	case *SaveMemo:
		return r.Origin
	case *DeleteMemo:
		return r.Origin
	case *AddSelectionToMemo:
		return r.Origin
	case *WidgetCommand:
		if r.Origin != "" {
			return r.Origin
		}
	}
	return store.CallerOriginFromContext(ctx)
}

// Persister adapts the memo repository to the widget registry.
func Persister(memos *memo.Repository) widget.Persister {
	return widget.PersisterFunc(func(ctx context.Context, origin string, visible bool) error {
		_, err := memos.SetVisibility(ctx, origin, visible)
		return err
	})
}
