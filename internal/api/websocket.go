package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/conductor/internal/conductor"
	"github.com/nerrad567/conductor/internal/events"
	"github.com/nerrad567/conductor/internal/infrastructure/config"
	"github.com/nerrad567/conductor/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll subscribes to every event name.
	WSChannelAll = "*"

	wsSendBufferSize = 256
)

// WSMessage is one frame to or from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
// Channels are event names, or "*" for all of them. Devices, when given,
// narrow device events to those devices; conductor-wide events such as
// resolveDone are always delivered.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
	Devices  []string `json:"devices,omitempty"`
}

// Hub fans conductor events out to WebSocket clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	dropped atomic.Uint64

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origins are checked by the CORS middleware.
		return true
	},
}

var validChannels = func() map[string]bool {
	m := map[string]bool{WSChannelAll: true}
	for _, t := range events.AllTypes {
		m[string(t)] = true
	}
	return m
}()

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Only the call that removes it closes its
// send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast delivers a conductor event to every client whose
// subscription matches its name and device.
func (h *Hub) Broadcast(event events.Event) {
	channel := string(event.Type)
	deviceID := conductor.EventDeviceID(event.Data)

	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		DeviceID:  deviceID,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload:   event.Data,
	})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "event", channel, "error", err)
		return
	}

	// Client locks are taken only after the hub lock is released.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.wants(channel, deviceID) && !client.trySend(data) {
			h.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many event frames were skipped for slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// relayEvents forwards every conductor event to the hub. Returns the
// unsubscribe function.
func (s *Server) relayEvents() func() {
	return s.conductor.Events().Subscribe(s.hub.Broadcast)
}

// handleWebSocket upgrades the request and starts the client's pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(s.hub, conn)
	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}
