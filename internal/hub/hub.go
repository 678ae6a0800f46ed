// Package hub fans out payloads to connected websocket observers (overlays,
// dashboards) and routes their inbound messages to a handler.
package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/fitzbot/fitzbot/internal/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"
)

// DefaultWriteTimeout bounds a single send to one observer.
const DefaultWriteTimeout = 2 * time.Second

// maxMessageBytes caps inbound observer messages.
const maxMessageBytes = 64 << 10

// MessageHandler answers an inbound observer message. A reply with ok set is
// sent back to that observer only.
type MessageHandler func(data []byte) (reply []byte, ok bool)

type peer struct {
	id   string
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peer) send(payload []byte, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if timeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return websocket.Message.Send(p.conn, string(payload))
}

// Hub tracks connected observers.
type Hub struct {
	mu           sync.RWMutex
	peers        map[*peer]struct{}
	handler      MessageHandler
	writeTimeout time.Duration
	logger       zerolog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithHandler routes inbound messages.
func WithHandler(fn MessageHandler) Option { return func(h *Hub) { h.handler = fn } }

// WithWriteTimeout overrides DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) Option { return func(h *Hub) { h.writeTimeout = d } }

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option { return func(h *Hub) { h.logger = logger } }

// New creates an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		peers:        make(map[*peer]struct{}),
		writeTimeout: DefaultWriteTimeout,
		logger:       logging.Component("hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetHandler replaces the inbound message handler.
func (h *Hub) SetHandler(fn MessageHandler) {
	h.mu.Lock()
	h.handler = fn
	h.mu.Unlock()
}

// Handler returns the websocket endpoint. Any origin is accepted; observers
// are local browser sources.
func (h *Hub) Handler() http.Handler {
	return websocket.Server{
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   h.serve,
	}
}

// Broadcast sends payload to every observer. Observers that fail to receive
// are disconnected.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	peers := make([]*peer, 0, len(h.peers))
	for p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	for _, p := range peers {
		if err := p.send(payload, h.writeTimeout); err != nil {
			h.logger.Warn().Err(err).Str("peer", p.id).Msg("dropping observer after failed send")
			h.remove(p)
			_ = p.conn.Close()
		}
	}
}

// Count returns the number of connected observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Close disconnects every observer.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[*peer]struct{})
	h.mu.Unlock()

	for p := range peers {
		_ = p.conn.Close()
	}
}

func (h *Hub) serve(conn *websocket.Conn) {
	conn.MaxPayloadBytes = maxMessageBytes
	p := &peer{id: uuid.NewString(), conn: conn}
	h.add(p)
	defer func() {
		h.remove(p)
		_ = conn.Close()
	}()

	log := h.logger.With().Str("peer", p.id).Logger()
	if req := conn.Request(); req != nil {
		log = log.With().Str("remote", req.RemoteAddr).Logger()
	}
	log.Debug().Msg("observer connected")

	for {
		var msg string
		if err := websocket.Message.Receive(conn, &msg); err != nil {
			log.Debug().Err(err).Msg("observer disconnected")
			return
		}

		h.mu.RLock()
		handler := h.handler
		h.mu.RUnlock()
		if handler == nil {
			continue
		}
		reply, ok := handler([]byte(msg))
		if !ok {
			log.Debug().Str("message", msg).Msg("ignoring observer message")
			continue
		}
		if err := p.send(reply, h.writeTimeout); err != nil {
			log.Warn().Err(err).Msg("failed to reply to observer")
			return
		}
	}
}

func (h *Hub) add(p *peer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	n := len(h.peers)
	h.mu.Unlock()
	h.logger.Info().Int("observers", n).Msg("observer joined")
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	_, ok := h.peers[p]
	delete(h.peers, p)
	n := len(h.peers)
	h.mu.Unlock()
	if ok {
		h.logger.Info().Int("observers", n).Msg("observer left")
	}
}
