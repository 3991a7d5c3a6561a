// Package stream is the WebSocket edge of the presenter server.
//
// Two kinds of peers connect:
//
//   - the agent bridge on /ws/agent (alias /ws/openclaw), which streams
//     lifecycle events into the router and receives admitted viewer chat;
//   - presentation clients on /ws/stream, which receive every broadcast and
//     may send chat_message frames.
//
// Every connection has a bounded outbound [broadcast.Queue] drained by its
// own writer goroutine, so a slow peer never blocks anyone else.
package stream

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/noxcast/internal/broadcast"
	"github.com/MrWong99/noxcast/internal/chat"
	"github.com/MrWong99/noxcast/internal/observe"
	"github.com/MrWong99/noxcast/pkg/event"
)

// StatusUnauthorized closes agent connections that fail authentication.
const StatusUnauthorized websocket.StatusCode = 4001

// Router accepts events from the agent bridge.
type Router interface {
	Route(ctx context.Context, e event.Event)
}

// Registry tracks presentation clients for broadcasting.
type Registry interface {
	Register(c broadcast.Client)
	Unregister(c broadcast.Client)
}

// ChatHandler admits viewer chat.
type ChatHandler interface {
	HandleMessage(ctx context.Context, o chat.Origin, payload map[string]any) error
}

// Config tunes a [Server]. Zero values select the defaults.
type Config struct {
	// AgentToken, when set, must be presented by the agent bridge as a
	// bearer token or ?token= query parameter.
	AgentToken string

	// OriginPatterns restricts the Origin header of browser clients. Empty
	// accepts any origin.
	OriginPatterns []string

	// QueueSize is the outbound buffer per connection. Default: 64.
	QueueSize int

	// WriteTimeout bounds one frame write. Default: 5s.
	WriteTimeout time.Duration

	// ReadLimit caps inbound frame size in bytes. Default: 64 KiB.
	ReadLimit int64
}

// Server serves the WebSocket endpoints.
type Server struct {
	cfg      Config
	router   Router
	registry Registry
	chat     ChatHandler
	metrics  *observe.Metrics

	mu     sync.Mutex
	agents map[string]*broadcast.Queue
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a Server. chat may be nil, in which case inbound chat frames
// are ignored.
func New(cfg Config, router Router, registry Registry, chat ChatHandler, opts ...Option) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 64 << 10
	}
	s := &Server{
		cfg:      cfg,
		router:   router,
		registry: registry,
		chat:     chat,
		agents:   make(map[string]*broadcast.Queue),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Register mounts the WebSocket endpoints on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/agent", s.handleAgent)
	mux.HandleFunc("GET /ws/openclaw", s.handleAgent)
	mux.HandleFunc("GET /ws/stream", s.handleStream)
}

// Forward relays e to every connected agent bridge. It implements
// [chat.Forwarder].
func (s *Server) Forward(ctx context.Context, e event.Event) {
	frame, err := event.Encode(e)
	if err != nil {
		observe.Logger(ctx).Error("encode forwarded event", "kind", e.Kind, "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, q := range s.agents {
		if !q.Send(frame) {
			slog.Warn("agent queue full, forwarded event dropped", "agent", id, "kind", e.Kind)
		}
	}
}

// AgentCount returns the number of connected agent bridges.
func (s *Server) AgentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.agents)
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	opts := &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns}
	if len(s.cfg.OriginPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(s.cfg.ReadLimit)
	return conn, nil
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AgentToken == "" {
		return true
	}
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			token = strings.TrimSpace(t)
		}
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AgentToken)) == 1
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	conn, err := s.accept(w, r)
	if err != nil {
		slog.Warn("agent websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	if !s.authorized(r) {
		slog.Warn("agent connection rejected: bad token", "remote", r.RemoteAddr)
		conn.Close(StatusUnauthorized, "Unauthorized")
		return
	}

	ctx := r.Context()
	id := uuid.NewString()
	q := broadcast.NewQueue(id, s.cfg.QueueSize)
	s.mu.Lock()
	s.agents[id] = q
	s.mu.Unlock()
	s.metrics.Connections.Add(ctx, 1, observeKind("agent"))
	slog.Info("agent connected", "agent", id, "remote", r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Go(func() { s.writeLoop(ctx, conn, q) })
	defer func() {
		s.mu.Lock()
		delete(s.agents, id)
		s.mu.Unlock()
		q.Close()
		wg.Wait()
		s.metrics.Connections.Add(context.WithoutCancel(ctx), -1, observeKind("agent"))
		slog.Info("agent disconnected", "agent", id)
	}()

	if frame, err := event.Encode(event.New(event.Connected, map[string]any{"status": "ok"})); err == nil {
		q.Send(frame)
	}

	var last time.Time
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			logClose("agent", id, err)
			return
		}
		e, err := event.Decode(data)
		if err != nil {
			s.metrics.RecordEventDropped(ctx, dropReason(err))
			slog.Warn("bad agent event dropped", "agent", id, "err", err)
			continue
		}
		if !e.Kind.FromAgent() {
			s.metrics.RecordEventDropped(ctx, "not_from_agent")
			slog.Warn("agent sent a pipeline-only kind", "agent", id, "kind", e.Kind)
			continue
		}
		if e.Timestamp.Before(last) {
			slog.Warn("agent event timestamp went backwards", "agent", id, "kind", e.Kind,
				"ts", e.Timestamp.UnixMilli(), "previous", last.UnixMilli())
		} else {
			last = e.Timestamp
		}
		s.router.Route(ctx, e)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.accept(w, r)
	if err != nil {
		slog.Warn("stream websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	ctx := r.Context()
	q := broadcast.NewQueue(uuid.NewString(), s.cfg.QueueSize)
	origin := &clientOrigin{identity: ClientIdentity(r), queue: q}

	if frame, err := event.Encode(event.New(event.Connected, nil)); err == nil {
		q.Send(frame)
	}
	s.registry.Register(q)
	s.metrics.Connections.Add(ctx, 1, observeKind("stream"))
	slog.Info("stream client connected", "client", q.ID(), "identity", origin.identity)

	var wg sync.WaitGroup
	wg.Go(func() { s.writeLoop(ctx, conn, q) })
	defer func() {
		s.registry.Unregister(q)
		q.Close()
		wg.Wait()
		s.metrics.Connections.Add(context.WithoutCancel(ctx), -1, observeKind("stream"))
		slog.Info("stream client disconnected", "client", q.ID())
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			logClose("stream", q.ID(), err)
			return
		}
		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			slog.Debug("bad client frame ignored", "client", q.ID(), "err", err)
			continue
		}
		if in.Type != event.ChatMessage || s.chat == nil {
			continue
		}
		if err := s.chat.HandleMessage(ctx, origin, in.Payload); err != nil {
			slog.Debug("chat message rejected", "client", q.ID(), "err", err)
		}
	}
}

// inbound is a presentation client frame. Clients may omit ts.
type inbound struct {
	Type    event.Kind     `json:"type"`
	Payload map[string]any `json:"payload"`
}

// writeLoop drains q into conn until q is closed, the context ends or a
// write fails.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, q *broadcast.Queue) {
	defer conn.CloseNow()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case frame := <-q.C():
			wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "client", q.ID(), "err", err)
				return
			}
		}
	}
}

type clientOrigin struct {
	identity string
	queue    *broadcast.Queue
}

func (o *clientOrigin) Identity() string       { return o.identity }
func (o *clientOrigin) Send(frame []byte) bool { return o.queue.Send(frame) }

// ClientIdentity returns the rate-limit identity of r: the first
// X-Forwarded-For hop when present, otherwise the remote host.
func ClientIdentity(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, event.ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, event.ErrBadTimestamp):
		return "bad_timestamp"
	default:
		return "malformed"
	}
}

func logClose(kind, id string, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	slog.Debug("websocket read ended", "kind", kind, "id", id, "err", err)
}

func observeKind(kind string) metric.AddOption {
	return metric.WithAttributes(observe.Attr("kind", kind))
}
