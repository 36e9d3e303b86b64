package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/conductor/internal/infrastructure/config"
)

// Logger receives connection and handler diagnostics.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler handles one received message. Handlers run on paho's
// goroutines; a returned error is logged and the message is still
// acknowledged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is a broker connection shared by the conductor and its bridge
// devices. It is safe for concurrent use. Subscriptions survive
// reconnects.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected  atomic.Bool
	lost       atomic.Bool
	reconnects atomic.Int64

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	mu           sync.RWMutex
	logger       Logger
	onConnect    func()
	onDisconnect func(err error)
}

// Connect dials the broker and waits for the first connection. Later
// connection losses are retried in the background.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)
	c.client = pahomqtt.NewClient(c.clientOptions(cfg))

	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The connect handler runs asynchronously; mark the link up now so
	// callers can publish straight away.
	c.connected.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	return &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
		logger:        noopLogger{},
	}
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	if c.lost.Swap(false) {
		c.reconnects.Add(1)
	}
	c.restoreSubscriptions()
	c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
		presencePayload(PresenceOnline, c.cfg.Broker.ClientID, "", time.Now()))

	c.mu.RLock()
	callback := c.onConnect
	c.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)
	c.lost.Store(true)

	c.mu.RLock()
	callback := c.onDisconnect
	c.mu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes after a reconnect. The session is
// clean, so the broker has forgotten them.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, sub := range c.subscriptions {
		token := c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
		go func() {
			if err := waitToken(token, ErrSubscribeFailed); err != nil {
				c.getLogger().Warn("restoring MQTT subscription failed", "topic", topic, "error", err)
			}
		}()
	}
}

// Close announces a graceful shutdown and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true,
			presencePayload(PresenceOffline, c.cfg.Broker.ClientID, ReasonGracefulShutdown, time.Now()))
		token.WaitTimeout(operationTimeout)
	}

	c.client.Disconnect(disconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports whether the broker link is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// Reconnects returns how many times the link came back after a loss.
func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

// SetOnConnect sets a callback run after every (re)connection.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect sets a callback run when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger. A nil logger silences the client.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// wrapHandler adapts handler to paho, recovering panics and logging
// handler errors.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.getLogger().Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.getLogger().Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
		}
	}
}
