// Package gateway serves the sitememo protocol over WebSocket and HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/sitememo/internal/bus"
	"github.com/nextlevelbuilder/sitememo/internal/config"
	"github.com/nextlevelbuilder/sitememo/internal/dispatch"
	"github.com/nextlevelbuilder/sitememo/internal/store"
	"github.com/nextlevelbuilder/sitememo/internal/widget"
	"github.com/nextlevelbuilder/sitememo/pkg/protocol"
)

// Server owns the connected clients and the HTTP listener.
type Server struct {
	cfgMu sync.RWMutex
	cfg   config.GatewayConfig

	dispatcher *dispatch.Dispatcher
	bus        *bus.MessageBus
	widgets    *widget.Registry
	router     *Router
	limiter    *RateLimiter
	info       dispatch.ServerInfo
	upgrader   websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[string]*Client

	httpServer *http.Server
}

// NewServer builds a gateway over d. The dispatcher's Bus and Widgets are
// created when missing.
func NewServer(cfg config.GatewayConfig, d *dispatch.Dispatcher, info dispatch.ServerInfo) *Server {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 512 * 1024
	}
	if d.Bus == nil {
		d.Bus = bus.New()
	}
	if d.Widgets == nil {
		d.Widgets = widget.NewRegistry(dispatch.Persister(d.Memos), d.Bus)
	}

	s := &Server{
		cfg:        cfg,
		dispatcher: d,
		bus:        d.Bus,
		widgets:    d.Widgets,
		limiter:    NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst),
		info:       info,
		clients:    make(map[string]*Client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(s.config().AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	s.router = NewRouter(s, d, s.limiter, NewReplayCache(cfg.ReplayCacheSize, cfg.ReplayTTL()))
	return s
}

func (s *Server) config() config.GatewayConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

func (s *Server) token() string { return s.config().Token }

// UpdateConfig applies hot-reloadable settings: token, allowed origins and
// rate limits. The listen address and cache sizes need a restart.
func (s *Server) UpdateConfig(cfg config.GatewayConfig) {
	s.cfgMu.Lock()
	s.cfg.Token = cfg.Token
	s.cfg.AllowedOrigins = cfg.AllowedOrigins
	s.cfg.RateLimitRPM = cfg.RateLimitRPM
	s.cfg.RateLimitBurst = cfg.RateLimitBurst
	s.cfgMu.Unlock()
	s.limiter.SetLimit(cfg.RateLimitRPM, cfg.RateLimitBurst)
	slog.Info("gateway config updated", "rate_limit_rpm", cfg.RateLimitRPM, "auth", cfg.Token != "")
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/dispatch", s.handleDispatch)
	return mux
}

// Run listens on the configured address until ctx is done, then tells
// every client and shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config().Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()
	slog.Info("gateway listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("gateway stopped")
	return nil
}

// Shutdown notifies and disconnects every client.
func (s *Server) Shutdown() {
	s.bus.Broadcast(bus.Event{Name: protocol.EventShutdown, Audience: bus.AudienceAll})

	s.clientsMu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()
	for _, c := range clients {
		c.Close()
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) register(ctx context.Context, c *Client) {
	s.clientsMu.Lock()
	s.clients[c.ID] = c
	s.clientsMu.Unlock()

	s.bus.Subscribe(c.ID, bus.Filter{Kind: c.Kind, Origin: c.Origin}, c.deliver)

	if c.Kind == protocol.ContextTab {
		s.widgets.Register(c.ID, c.Origin, s.initialWidget(ctx, c.Origin))
	} else {
		s.widgets.Unregister(c.ID)
	}
	slog.Info("client connected", "client", c.ID, "context", c.Kind, "origin", c.Origin)
}

// initialWidget seeds a tab's widget from the stored memo: visible only when
// a memo exists and is marked visible.
func (s *Server) initialWidget(ctx context.Context, origin string) widget.State {
	rec, err := s.dispatcher.Memos.Get(ctx, origin)
	if err != nil {
		slog.Warn("seed widget state", "origin", origin, "error", err)
		return widget.Hidden
	}
	return widget.Initial(rec != nil && rec.IsVisible)
}

func (s *Server) unregister(c *Client) {
	s.clientsMu.Lock()
	_, known := s.clients[c.ID]
	delete(s.clients, c.ID)
	s.clientsMu.Unlock()

	s.bus.Unsubscribe(c.ID)
	s.widgets.Unregister(c.ID)
	s.limiter.Forget(c.ID)
	c.Close()
	if known {
		slog.Info("client disconnected", "client", c.ID, "context", c.Kind)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", clientIP(r), "error", err)
		return
	}
	NewClient(conn, s).Run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"protocol": protocol.ProtocolVersion,
		"clients":  s.ClientCount(),
	})
}

// handleDispatch serves one request per HTTP call for callers without a
// WebSocket session. The bearer token replaces connect.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()
	if !tokenMatch(extractBearerToken(r), cfg.Token) {
		slog.Warn("security.http_unauthorized", "remote", clientIP(r))
		writeJSON(w, http.StatusUnauthorized, protocol.NewError("", protocol.ErrUnauthorized, "invalid token"))
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, cfg.MaxMessageBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, protocol.NewError("", protocol.ErrInvalidRequest, "request body too large"))
		return
	}

	frame, req, err := dispatch.DecodeBytes(data)
	var reply protocol.Reply
	switch {
	case err != nil:
		reply = s.dispatcher.Fail(frameID(frame), err)
	case req.Action() == protocol.ActionConnect:
		reply = protocol.NewError(frame.ID, protocol.ErrInvalidRequest, "connect is only used on websocket sessions")
	default:
		ip := clientIP(r)
		ctx := store.WithCallerKind(r.Context(), protocol.ContextCLI)
		ctx = store.WithClientID(ctx, "http:"+ip)
		reply = s.router.dispatch(ctx, "ip:"+ip, frame, req)
	}
	writeJSON(w, httpStatus(reply), reply)
}

func httpStatus(reply protocol.Reply) int {
	switch reply.Header().Code {
	case protocol.ErrInvalidRequest:
		return http.StatusBadRequest
	case protocol.ErrUnauthorized:
		return http.StatusUnauthorized
	case protocol.ErrResourceExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusOK
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}

// WatchStore forwards external writes to st as storageChanged events until
// ctx is done. Backends that cannot watch return immediately.
func (s *Server) WatchStore(ctx context.Context, area string, st store.Store) error {
	w, ok := st.(store.Watchable)
	if !ok {
		return nil
	}
	changes, err := w.Watch(ctx)
	if err != nil {
		return err
	}
	if changes == nil {
		slog.Info("store backend has no change feed", "area", area)
		return nil
	}
	for ch := range changes {
		if len(ch.Keys) == 0 {
			continue
		}
		s.bus.Broadcast(bus.Event{
			Name:     protocol.EventStorageChanged,
			Audience: bus.AudienceAll,
			Payload:  map[string]any{"area": area, "keys": ch.Keys},
		})
	}
	return nil
}

// RunLimiter drops idle rate-limit buckets until ctx is done.
func (s *Server) RunLimiter(ctx context.Context) error {
	return s.limiter.Run(ctx)
}
