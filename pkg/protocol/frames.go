// Package protocol defines the wire format spoken between browser contexts
// (tabs, popup, templates page, CLI) and the sitememo gateway.
// This package is importable by clients.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Protocol version. Returned from the connect handshake.
const ProtocolVersion = 1

// Frame types
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// RequestFrame carries the envelope of a request. The action-specific
// fields live at the top level next to it and are decoded from Raw.
type RequestFrame struct {
	Type   string          `json:"type"`   // always "req"
	ID     string          `json:"id"`     // client-generated correlation ID
	Action string          `json:"action"` // request tag
	Raw    json.RawMessage `json:"-"`      // original bytes for re-parsing
}

// Status is the envelope every response carries. Response payloads embed it
// so their fields sit next to "success" on the wire.
type Status struct {
	Type    string `json:"type"` // always "res"
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Header lets any response that embeds Status expose its envelope.
func (s *Status) Header() *Status { return s }

// Reply is implemented by every response payload.
type Reply interface {
	Header() *Status
}

// EventFrame is pushed from the gateway to clients without a preceding request.
type EventFrame struct {
	Type    string      `json:"type"`              // always "event"
	Action  string      `json:"action"`            // event name
	Origin  string      `json:"origin,omitempty"`  // target origin for tab-scoped events
	Payload interface{} `json:"payload,omitempty"` // event data
	Seq     int64       `json:"seq,omitempty"`     // ordering sequence number
}

// NewOK returns a bare success envelope.
func NewOK(id string) *Status {
	return &Status{Type: FrameTypeResponse, ID: id, Success: true}
}

// NewError returns a failure envelope.
func NewError(id, code, message string) *Status {
	return &Status{
		Type:    FrameTypeResponse,
		ID:      id,
		Success: false,
		Error:   message,
		Code:    code,
	}
}

// NewEvent creates an event frame.
func NewEvent(action, origin string, payload interface{}) *EventFrame {
	return &EventFrame{
		Type:    FrameTypeEvent,
		Action:  action,
		Origin:  origin,
		Payload: payload,
	}
}

// ParseFrameType extracts the frame type from raw JSON bytes.
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}

// ParseRequest decodes the request envelope and keeps the raw bytes so the
// action-specific payload can be decoded afterwards.
func ParseRequest(data []byte) (*RequestFrame, error) {
	var req RequestFrame
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("malformed request: %w", err)
	}
	if req.Type == "" {
		req.Type = FrameTypeRequest
	}
	if req.Type != FrameTypeRequest {
		return nil, fmt.Errorf("unexpected frame type: %s", req.Type)
	}
	if req.Action == "" {
		return nil, fmt.Errorf("missing action")
	}
	req.Raw = append(json.RawMessage(nil), data...)
	return &req, nil
}
