// Package dispatch turns protocol requests into repository calls.
//
// Requests form a closed set: every action has its own struct implementing
// Request, Decode maps the action tag to that struct, and
// Dispatcher.Dispatch switches over all of them.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/sitememo/internal/memo"
	"github.com/nextlevelbuilder/sitememo/internal/widget"
	"github.com/nextlevelbuilder/sitememo/pkg/protocol"
)

var (
	// ErrUnknownAction is returned by Decode for an unrecognized action tag.
	ErrUnknownAction = errors.New("unknown action")
	// ErrMalformed is returned by Decode when the fields do not parse.
	ErrMalformed = errors.New("malformed request")
	// ErrDisabled is returned when a feature toggle is off.
	ErrDisabled = errors.New("feature disabled")
)

// Request is one decoded protocol request.
type Request interface {
	Action() string
	isRequest()
}

type (
	Connect struct {
		Context string `json:"context"`
		Origin  string `json:"origin"`
		Token   string `json:"token"`
	}
	Ping struct{}

	GetMemo struct {
		Origin string `json:"origin"`
	}
	SaveMemo struct {
		Origin string     `json:"origin"`
		Data   memo.Patch `json:"data"`
	}
	DeleteMemo struct {
		Origin string `json:"origin"`
	}
	ListMemos          struct{}
	AddSelectionToMemo struct {
		Origin string `json:"origin"`
		Text   string `json:"text"`
		URL    string `json:"url"`
		Title  string `json:"title"`
	}

	GetAllTemplates struct{}
	GetTemplate     struct {
		Name string `json:"name"`
	}
	SaveTemplate struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}
	DeleteTemplate struct {
		Name string `json:"name"`
	}
	ReorderTemplates struct {
		Names []string `json:"names"`
	}

	ExportData struct{}
	ImportData struct {
		Data json.RawMessage `json:"data"`
	}
	ValidateImport struct {
		Data json.RawMessage `json:"data"`
	}

	GetSelectionStatus  struct{}
	SetSelectionEnabled struct {
		Enabled *bool `json:"enabled"`
	}

	// WidgetCommand covers showMemo, hideMemo, minimizeMemo, restoreMemo
	// and toggleMemo. Without Origin and ClientID it targets the caller's tab.
	WidgetCommand struct {
		Op       widget.Op `json:"-"`
		Origin   string    `json:"origin"`
		ClientID string    `json:"clientId"`
	}
)

func (*Connect) Action() string            { return protocol.ActionConnect }
func (*Ping) Action() string               { return protocol.ActionPing }
func (*GetMemo) Action() string            { return protocol.ActionGetMemo }
func (*SaveMemo) Action() string           { return protocol.ActionSaveMemo }
func (*DeleteMemo) Action() string         { return protocol.ActionDeleteMemo }
func (*ListMemos) Action() string          { return protocol.ActionListMemos }
func (*AddSelectionToMemo) Action() string { return protocol.ActionAddSelectionToMemo }
func (*GetAllTemplates) Action() string    { return protocol.ActionGetAllTemplates }
func (*GetTemplate) Action() string        { return protocol.ActionGetTemplate }
func (*SaveTemplate) Action() string       { return protocol.ActionSaveTemplate }
func (*DeleteTemplate) Action() string     { return protocol.ActionDeleteTemplate }
func (*ReorderTemplates) Action() string   { return protocol.ActionReorderTemplates }
func (*ExportData) Action() string         { return protocol.ActionExportData }
func (*ImportData) Action() string         { return protocol.ActionImportData }
func (*ValidateImport) Action() string     { return protocol.ActionValidateImport }
func (*GetSelectionStatus) Action() string { return protocol.ActionGetSelectionStatus }
func (*SetSelectionEnabled) Action() string {
	return protocol.ActionSetSelectionEnabled
}

func (w *WidgetCommand) Action() string {
	for action, op := range widgetActions {
		if op == w.Op {
			return action
		}
	}
	return string(w.Op)
}

func (*Connect) isRequest()             {}
func (*Ping) isRequest()                {}
func (*GetMemo) isRequest()             {}
func (*SaveMemo) isRequest()            {}
func (*DeleteMemo) isRequest()          {}
func (*ListMemos) isRequest()           {}
func (*AddSelectionToMemo) isRequest()  {}
func (*GetAllTemplates) isRequest()     {}
func (*GetTemplate) isRequest()         {}
func (*SaveTemplate) isRequest()        {}
func (*DeleteTemplate) isRequest()      {}
func (*ReorderTemplates) isRequest()    {}
func (*ExportData) isRequest()          {}
func (*ImportData) isRequest()          {}
func (*ValidateImport) isRequest()      {}
func (*GetSelectionStatus) isRequest()  {}
func (*SetSelectionEnabled) isRequest() {}
func (*WidgetCommand) isRequest()       {}

var widgetActions = map[string]widget.Op{
	protocol.ActionShowMemo:     widget.OpShow,
	protocol.ActionHideMemo:     widget.OpHide,
	protocol.ActionMinimizeMemo: widget.OpMinimize,
	protocol.ActionRestoreMemo:  widget.OpRestore,
	protocol.ActionToggleMemo:   widget.OpToggle,
}

func newRequest(action string) (Request, bool) {
	switch action {
	case protocol.ActionConnect:
		return &Connect{}, true
	case protocol.ActionPing:
		return &Ping{}, true
	case protocol.ActionGetMemo:
		return &GetMemo{}, true
	case protocol.ActionSaveMemo:
		return &SaveMemo{}, true
	case protocol.ActionDeleteMemo:
		return &DeleteMemo{}, true
	case protocol.ActionListMemos:
		return &ListMemos{}, true
	case protocol.ActionAddSelectionToMemo:
		return &AddSelectionToMemo{}, true
	case protocol.ActionGetAllTemplates:
		return &GetAllTemplates{}, true
	case protocol.ActionGetTemplate:
		return &GetTemplate{}, true
	case protocol.ActionSaveTemplate:
		return &SaveTemplate{}, true
	case protocol.ActionDeleteTemplate:
		return &DeleteTemplate{}, true
	case protocol.ActionReorderTemplates:
		return &ReorderTemplates{}, true
	case protocol.ActionExportData:
		return &ExportData{}, true
	case protocol.ActionImportData:
		return &ImportData{}, true
	case protocol.ActionValidateImport:
		return &ValidateImport{}, true
	case protocol.ActionGetSelectionStatus:
		return &GetSelectionStatus{}, true
	case protocol.ActionSetSelectionEnabled:
		return &SetSelectionEnabled{}, true
	}
	if op, ok := widgetActions[action]; ok {
		return &WidgetCommand{Op: op}, true
	}
	return nil, false
}

// Decode maps a request frame to its typed request.
func Decode(frame *protocol.RequestFrame) (Request, error) {
	req, ok := newRequest(frame.Action)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, frame.Action)
	}
	if len(frame.Raw) > 0 {
		if err := json.Unmarshal(frame.Raw, req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	normalizeOrigins(req)
	return req, nil
}

// DecodeBytes parses a raw request frame and decodes it.
func DecodeBytes(data []byte) (*protocol.RequestFrame, Request, error) {
	frame, err := protocol.ParseRequest(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	req, err := Decode(frame)
	return frame, req, err
}

// NormalizeOrigin lowercases and trims a hostname.
func NormalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimSpace(origin))
}

func normalizeOrigins(req Request) {
	switch r := req.(type) {
	case *Connect:
		r.Origin = NormalizeOrigin(r.Origin)
		r.Context = strings.ToLower(strings.TrimSpace(r.Context))
	case *GetMemo:
		r.Origin = NormalizeOrigin(r.Origin)
	case *SaveMemo:
		r.Origin = NormalizeOrigin(r.Origin)
	case *DeleteMemo:
		r.Origin = NormalizeOrigin(r.Origin)
	case *AddSelectionToMemo:
		r.Origin = NormalizeOrigin(r.Origin)
	case *WidgetCommand:
		r.Origin = NormalizeOrigin(r.Origin)
	}
}
