package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/sitememo/internal/bus"
	"github.com/nextlevelbuilder/sitememo/pkg/protocol"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// Session is the identity a caller declared on connect.
type Session struct {
	ID            string
	Kind          string // protocol.Context*
	Origin        string // tabs only
	Authenticated bool
}

// Client represents a single WebSocket connection.
type Client struct {
	Session
	conn   *websocket.Conn
	server *Server
	send   chan []byte

	mu     sync.Mutex
	closed bool
}

func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		Session: Session{ID: uuid.NewString()},
		conn:    conn,
		server:  server,
		send:    make(chan []byte, sendBuffer),
	}
}

// Run starts the write pump and blocks in the read pump. Requests of one
// client are handled in the order they arrive.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.server.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.server.cfg.MaxMessageBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read error", "client", c.ID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(ctx, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	frameType, err := protocol.ParseFrameType(data)
	if err != nil {
		c.SendResponse(protocol.NewError("", protocol.ErrInvalidRequest, "invalid frame: "+err.Error()))
		return
	}
	if frameType != protocol.FrameTypeRequest && frameType != "" {
		c.SendResponse(protocol.NewError("", protocol.ErrInvalidRequest, "unexpected frame type: "+frameType))
		return
	}
	c.SendResponse(c.server.router.HandleClient(ctx, c, data))
}

// SendResponse queues a response frame.
func (c *Client) SendResponse(reply protocol.Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		slog.Error("marshal response failed", "client", c.ID, "error", err)
		return
	}
	c.enqueue(data, "response")
}

// deliver is the bus handler of this client.
func (c *Client) deliver(seq int64, e bus.Event) {
	data, err := json.Marshal(e.Frame(seq))
	if err != nil {
		slog.Error("marshal event failed", "event", e.Name, "error", err)
		return
	}
	c.enqueue(data, "event")
}

func (c *Client) enqueue(data []byte, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("client send buffer full, dropping "+kind, "client", c.ID)
	}
}

// Close stops the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
