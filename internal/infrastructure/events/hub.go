package events

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/davidleathers/guardian-recovery/internal/domain/events"
)

// HubConfig configures websocket delivery
type HubConfig struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Message is the websocket frame sent to clients
type Message struct {
	Type      string        `json:"type"`
	Event     *events.Event `json:"event,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Hub streams bus events to websocket clients. Clients narrow the feed with
// the "types" (comma separated) and "subject" query parameters.
type Hub struct {
	bus      *Bus
	config   HubConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func NewHub(bus *Bus, config HubConfig, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		bus:    bus,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("ws_hub"),
		conns:  make(map[string]*websocket.Conn),
	}
}

// ParseFilter builds a subscription filter from query parameters
func ParseFilter(r *http.Request) Filter {
	var filters []Filter
	if raw := r.URL.Query().Get("types"); raw != "" {
		var types []events.Type
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, events.Type(t))
			}
		}
		filters = append(filters, ByTypes(types...))
	}
	if subject := r.URL.Query().Get("subject"); subject != "" {
		filters = append(filters, BySubject(subject))
	}
	return All(filters...)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()

	sub := h.bus.Subscribe(ParseFilter(r))
	h.logger.Info("websocket client connected", zap.String("connection_id", id))

	done := make(chan struct{})
	go h.readPump(id, conn, done)
	h.writePump(id, conn, sub, done)
}

// Connections is the number of connected clients
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		_ = c.Close()
		delete(h.conns, id)
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	_, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	if ok {
		h.logger.Info("websocket client disconnected", zap.String("connection_id", id))
	}
}

// writePump owns all writes to conn
func (h *Hub) writePump(id string, conn *websocket.Conn, sub *Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		sub.Close()
		_ = conn.Close()
		h.remove(id)
	}()

	for {
		select {
		case e, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			data, err := json.Marshal(Message{Type: "event", Event: &e, Timestamp: time.Now().UTC()})
			if err != nil {
				h.logger.Error("failed to encode event", zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("websocket write failed", zap.String("connection_id", id), zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

// readPump drains client frames so control messages are processed
func (h *Hub) readPump(id string, conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(h.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", zap.String("connection_id", id), zap.Error(err))
			}
			return
		}
	}
}
