package dispatch

import (
	"github.com/nextlevelbuilder/sitememo/internal/backup"
	"github.com/nextlevelbuilder/sitememo/internal/memo"
	"github.com/nextlevelbuilder/sitememo/internal/templates"
	"github.com/nextlevelbuilder/sitememo/internal/widget"
	"github.com/nextlevelbuilder/sitememo/pkg/protocol"
)

// Response payloads. Each embeds protocol.Status so its fields sit next to
// "success" on the wire.
type (
	MemoReply struct {
		protocol.Status
		Memo *memo.Record `json:"memo"`
	}

	SaveMemoReply struct {
		protocol.Status
		Data    *memo.Record `json:"data"`
		Deleted bool         `json:"deleted,omitempty"`
	}

	// DeleteReply reports success=false, without an error, when nothing
	// was stored for the origin.
	DeleteReply struct {
		protocol.Status
		Deleted bool `json:"deleted"`
	}

	MemoListReply struct {
		protocol.Status
		Memos map[string]memo.Record `json:"memos"`
	}

	TemplatesReply struct {
		protocol.Status
		Templates []templates.Record `json:"templates"`
	}

	TemplateReply struct {
		protocol.Status
		Template *templates.Record `json:"template"`
	}

	ExportReply struct {
		protocol.Status
		Data *backup.Document `json:"data"`
	}

	ImportReply struct {
		protocol.Status
		Imported backup.Summary `json:"imported"`
	}

	ValidateReply struct {
		protocol.Status
		backup.Summary
	}

	SelectionReply struct {
		protocol.Status
		Enabled bool `json:"enabled"`
	}

	WidgetReply struct {
		protocol.Status
		widget.Result
	}

	ConnectReply struct {
		protocol.Status
		ClientID string     `json:"clientId"`
		Protocol int        `json:"protocol"`
		Server   ServerInfo `json:"server"`
	}

	PingReply struct {
		protocol.Status
		Health string `json:"status"`
	}
)

// ServerInfo identifies the gateway in the connect handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func ok() protocol.Status { return protocol.Status{Type: protocol.FrameTypeResponse, Success: true} }
