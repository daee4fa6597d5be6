package gateway

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/sitememo/internal/dispatch"
	"github.com/nextlevelbuilder/sitememo/internal/store"
	"github.com/nextlevelbuilder/sitememo/pkg/protocol"
)

// Router authenticates callers, applies rate limits and the replay cache,
// and hands everything else to the dispatcher.
type Router struct {
	server     *Server
	dispatcher *dispatch.Dispatcher
	limiter    *RateLimiter
	replay     *ReplayCache
}

func NewRouter(server *Server, d *dispatch.Dispatcher, limiter *RateLimiter, replay *ReplayCache) *Router {
	return &Router{server: server, dispatcher: d, limiter: limiter, replay: replay}
}

// HandleClient processes one raw frame from a WebSocket client.
func (r *Router) HandleClient(ctx context.Context, c *Client, data []byte) protocol.Reply {
	frame, req, err := dispatch.DecodeBytes(data)
	if err != nil {
		return r.dispatcher.Fail(frameID(frame), err)
	}

	if conn, ok := req.(*dispatch.Connect); ok {
		return r.handleConnect(ctx, c, frame.ID, conn)
	}
	if !c.Authenticated {
		return protocol.NewError(frame.ID, protocol.ErrUnauthorized, "first request must be 'connect'")
	}
	return r.dispatch(withSession(ctx, c.Session), c.ID, frame, req)
}

func (r *Router) dispatch(ctx context.Context, limitKey string, frame *protocol.RequestFrame, req dispatch.Request) protocol.Reply {
	if cached, ok := r.replay.Get(limitKey, frame); ok {
		slog.Debug("replaying cached response", "action", frame.Action, "req_id", frame.ID)
		return cached
	}
	if !r.limiter.Allow(limitKey) {
		return protocol.NewError(frame.ID, protocol.ErrResourceExhausted, "rate limit exceeded, slow down")
	}

	slog.Debug("handling action", "action", frame.Action, "caller", limitKey, "req_id", frame.ID)
	reply := r.dispatcher.Dispatch(ctx, frame.ID, req)
	r.replay.Put(limitKey, frame, reply)
	return reply
}

func (r *Router) handleConnect(ctx context.Context, c *Client, id string, req *dispatch.Connect) protocol.Reply {
	if !tokenMatch(req.Token, r.server.token()) {
		slog.Warn("security.connect_rejected", "client", c.ID, "context", req.Context)
		return protocol.NewError(id, protocol.ErrUnauthorized, "invalid token")
	}

	switch req.Context {
	case protocol.ContextTab:
		if err := store.ValidateOrigin(req.Origin); err != nil {
			return protocol.NewError(id, protocol.ErrInvalidArgument, "tab contexts must declare an origin: "+err.Error())
		}
	case protocol.ContextPopup, protocol.ContextTemplates, protocol.ContextBackground, protocol.ContextCLI:
	default:
		return protocol.NewError(id, protocol.ErrInvalidArgument, "unknown context: "+req.Context)
	}

	c.Kind = req.Context
	c.Origin = req.Origin
	c.Authenticated = true
	r.server.register(ctx, c)

	return &dispatch.ConnectReply{
		Status:   *protocol.NewOK(id),
		ClientID: c.ID,
		Protocol: protocol.ProtocolVersion,
		Server:   r.server.info,
	}
}

func withSession(ctx context.Context, s Session) context.Context {
	ctx = store.WithClientID(ctx, s.ID)
	ctx = store.WithCallerKind(ctx, s.Kind)
	return store.WithCallerOrigin(ctx, s.Origin)
}

func frameID(f *protocol.RequestFrame) string {
	if f == nil {
		return ""
	}
	return f.ID
}
