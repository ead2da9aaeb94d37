package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/macroforge-core/internal/auth"
	"github.com/nerrad567/macroforge-core/internal/events"
	"github.com/nerrad567/macroforge-core/internal/infrastructure/config"
	"github.com/nerrad567/macroforge-core/internal/infrastructure/logging"
)

// Status stream message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	wsSendBufferSize = 256
)

// WSMessage is one frame on the status stream, in either direction.
// Event frames carry an events.Event payload.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsInbound is a client frame with its payload left undecoded.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSSubscribePayload selects event kinds and, optionally, the subjects
// (run id, action name or queue id) to follow within them. An empty
// Subjects list follows every subject.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Subjects []string `json:"subjects,omitempty"`
}

// streamFilter is the set of kinds and subjects a session follows.
type streamFilter struct {
	kinds    map[events.Kind]struct{}
	subjects map[string]struct{}
}

func (f *streamFilter) matches(ev events.Event) bool {
	if _, ok := f.kinds[ev.Kind]; !ok {
		return false
	}
	if len(f.subjects) == 0 {
		return true
	}
	_, ok := f.subjects[ev.Subject]
	return ok
}

// Hub fans bus events out to connected status stream sessions.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[*wsSession]struct{}
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[*wsSession]struct{}),
	}
}

// Run blocks until ctx ends, then disconnects every session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[*wsSession]struct{})
	h.mu.Unlock()

	for s := range sessions {
		s.close()
	}
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) add(s *wsSession) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Debug("status stream connected", "subject", s.subject, "clients", n)
}

func (h *Hub) remove(s *wsSession) {
	h.mu.Lock()
	delete(h.sessions, s)
	n := len(h.sessions)
	h.mu.Unlock()
	s.close()
	h.logger.Debug("status stream disconnected", "subject", s.subject, "clients", n)
}

// Publish encodes ev once and queues it on every session whose filter
// matches. Slow sessions drop the frame rather than block the relay.
func (h *Hub) Publish(ev events.Event) {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: string(ev.Kind),
		Timestamp: ts.UTC().Format(time.RFC3339),
		Payload:   ev,
	})
	if err != nil {
		h.logger.Error("encoding status event", "kind", ev.Kind, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if s.wants(ev) && !s.enqueue(data) {
			h.logger.Debug("status stream frame dropped", "subject", s.subject, "kind", ev.Kind)
		}
	}
}

// wsSession is one authenticated status stream connection.
type wsSession struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string
	role    auth.Role

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.RWMutex
	filter streamFilter
}

func newSession(hub *Hub, conn *websocket.Conn, entry ticketEntry) *wsSession {
	return &wsSession{
		hub:     hub,
		conn:    conn,
		subject: entry.subject,
		role:    entry.role,
		send:    make(chan []byte, wsSendBufferSize),
		done:    make(chan struct{}),
		filter: streamFilter{
			kinds:    make(map[events.Kind]struct{}),
			subjects: make(map[string]struct{}),
		},
	}
}

func (s *wsSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *wsSession) wants(ev events.Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter.matches(ev)
}

// enqueue reports false when the frame was dropped.
func (s *wsSession) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *wsSession) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	s.enqueue(data)
}

func (s *wsSession) replyError(id, message string) {
	s.reply(id, WSTypeError, map[string]string{"message": message})
}

// relayEvents feeds bus events into the hub until ctx ends or ch closes.
func (s *Server) relayEvents(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.hub.Publish(ev)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades GET /ws to a status stream. A ticket from
// POST /auth/ws-ticket is required unless auth is disabled.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	entry := ticketEntry{subject: anonymousClaims.Subject, role: anonymousClaims.Role}
	if s.authEnabled() {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		var ok bool
		if entry, ok = s.tickets.consume(ticket); !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	sess := newSession(s.hub, conn, entry)
	s.hub.add(sess)
	go sess.writeLoop(s.wsCfg)
	go sess.readLoop(s.wsCfg)
}

func (s *wsSession) readLoop(cfg config.WebSocketConfig) {
	defer s.hub.remove(s)

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return s.conn.SetReadDeadline(time.Now().Add(idle)) }

	s.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	if err := extend(); err != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("status stream read error", "subject", s.subject, "error", err)
			}
			return
		}
		// Application frames count as liveness too.
		if err := extend(); err != nil {
			return
		}
		s.dispatch(data)
	}
}

func (s *wsSession) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer ping.Stop()
	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	write := func(msgType int, data []byte) error {
		if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return s.conn.WriteMessage(msgType, data)
	}

	for {
		select {
		case <-s.done:
			_ = write(websocket.CloseMessage, nil) //nolint:errcheck // connection is going away
			return
		case data := <-s.send:
			if err := write(websocket.TextMessage, data); err != nil {
				s.close()
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *wsSession) dispatch(data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		s.replyError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypePing:
		s.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &sub); err != nil {
				s.replyError(msg.ID, "invalid "+msg.Type+" payload")
				return
			}
		}
		if msg.Type == WSTypeSubscribe {
			s.subscribe(msg.ID, sub)
		} else {
			s.unsubscribe(msg.ID, sub)
		}
	default:
		s.replyError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (s *wsSession) subscribe(id string, sub WSSubscribePayload) {
	for _, ch := range sub.Channels {
		if !isKnownChannel(ch) {
			s.replyError(id, "unknown channel: "+ch)
			return
		}
	}

	s.mu.Lock()
	for _, ch := range sub.Channels {
		s.filter.kinds[events.Kind(ch)] = struct{}{}
	}
	for _, subj := range sub.Subjects {
		s.filter.subjects[subj] = struct{}{}
	}
	s.mu.Unlock()

	s.hub.logger.Info("status stream subscribed", "subject", s.subject, "channels", sub.Channels, "subjects", sub.Subjects)
	s.reply(id, WSTypeResponse, map[string]any{"subscribed": sub.Channels, "subjects": sub.Subjects})
}

func (s *wsSession) unsubscribe(id string, sub WSSubscribePayload) {
	s.mu.Lock()
	for _, ch := range sub.Channels {
		delete(s.filter.kinds, events.Kind(ch))
	}
	for _, subj := range sub.Subjects {
		delete(s.filter.subjects, subj)
	}
	s.mu.Unlock()

	s.reply(id, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels, "subjects": sub.Subjects})
}

func isKnownChannel(ch string) bool {
	switch events.Kind(ch) {
	case events.KindRun, events.KindBackground, events.KindQueue:
		return true
	}
	return false
}
