package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/conductor/internal/infrastructure/config"
)

// WSClient is one connected WebSocket client and its subscriptions.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}
	devices  map[string]struct{} // empty means every device
}

func newWSClient(hub *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
		devices:  make(map[string]struct{}),
	}
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind    = websocket.TextMessage
			message []byte
		)
		select {
		case msg, ok := <-c.send:
			if !ok {
				//nolint:errcheck // the connection is going away regardless
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			message = msg
		case <-ticker.C:
			kind = websocket.PingMessage
		}

		//nolint:errcheck // write errors are caught below
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, message); err != nil {
			return
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		sub, ok := c.parseSubscription(msg)
		if !ok {
			return
		}
		c.mu.Lock()
		for _, ch := range sub.Channels {
			c.channels[ch] = struct{}{}
		}
		for _, id := range sub.Devices {
			c.devices[id] = struct{}{}
		}
		c.mu.Unlock()
		c.hub.logger.Debug("websocket client subscribed", "channels", sub.Channels, "devices", sub.Devices)
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"subscribed": sub.Channels, "devices": sub.Devices})

	case WSTypeUnsubscribe:
		sub, ok := c.parseSubscription(msg)
		if !ok {
			return
		}
		c.mu.Lock()
		for _, ch := range sub.Channels {
			delete(c.channels, ch)
		}
		for _, id := range sub.Devices {
			delete(c.devices, id)
		}
		c.mu.Unlock()
		c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels, "devices": sub.Devices})

	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)

	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// parseSubscription decodes a subscribe or unsubscribe payload and
// rejects unknown event names.
func (c *WSClient) parseSubscription(msg WSMessage) (WSSubscribePayload, bool) {
	var sub WSSubscribePayload
	raw, err := json.Marshal(msg.Payload)
	if err == nil {
		err = json.Unmarshal(raw, &sub)
	}
	if err != nil {
		c.sendError(msg.ID, "invalid "+msg.Type+" payload")
		return sub, false
	}
	for _, ch := range sub.Channels {
		if !validChannels[ch] {
			c.sendError(msg.ID, "unknown channel: "+ch)
			return sub, false
		}
	}
	return sub, true
}

// wants reports whether an event named channel about deviceID should be
// delivered.
func (c *WSClient) wants(channel, deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, all := c.channels[WSChannelAll]
	if _, named := c.channels[channel]; !all && !named {
		return false
	}
	if deviceID == "" || len(c.devices) == 0 {
		return true
	}
	_, ok := c.devices[deviceID]
	return ok
}

// trySend queues data without blocking. It returns false when the client
// is slow or already gone.
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
