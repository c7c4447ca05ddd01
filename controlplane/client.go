// Package controlplane streams session transcripts and liveness to a
// monitoring dashboard over an outbound WebSocket.
package controlplane

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"debatekit/core"
	"debatekit/protocol"

	"github.com/gorilla/websocket"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultSendBufferSize    = 256
	writeTimeout             = 10 * time.Second
)

// ClientConfig configures the dashboard client.
type ClientConfig struct {
	ConnectURL        string
	ServerID          string
	Version           string
	Metadata          map[string]string
	HeartbeatInterval time.Duration
	// SendBufferSize bounds queued messages before the oldest is dropped.
	SendBufferSize int
	// ActiveSessions reports the live session count for heartbeats.
	ActiveSessions func() int
	Logger         *core.Logger
}

// outbound is a queued message, tagged with its session for drop accounting.
type outbound struct {
	msgType   protocol.MessageType
	sessionID string
	data      []byte
}

// Client is the server-side WebSocket client that connects outward to the
// dashboard. It sends heartbeats and transcripts and receives shutdown commands.
type Client struct {
	config ClientConfig
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	logger *core.Logger

	OnShutdown func(reason string)

	sendCh    chan outbound
	dropped   atomic.Int64
	done      chan struct{}
	once      sync.Once
	closeOnce sync.Once
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = core.GetLogger()
	}
	return &Client{
		config: cfg,
		logger: cfg.Logger.With(map[string]interface{}{"component": "controlplane"}),
		sendCh: make(chan outbound, cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

// Configure sets the live session counter. Call before Connect.
func (c *Client) Configure(activeSessions func() int) {
	c.config.ActiveSessions = activeSessions
}

// Connect dials the dashboard, registers, and starts the read, write and
// heartbeat loops. Cancelling ctx closes the connection.
func (c *Client) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.logger.With(map[string]interface{}{"url": c.config.ConnectURL}).Info("connecting to control plane")

	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.config.ConnectURL, nil)
	if err != nil {
		c.cancel()
		return fmt.Errorf("controlplane: dial %q: %w", c.config.ConnectURL, err)
	}
	c.conn = conn

	reg := protocol.RegisterPayload{
		ServerID:  c.config.ServerID,
		Version:   c.config.Version,
		Metadata:  c.config.Metadata,
		Timestamp: time.Now().UTC(),
	}
	if err := c.send(protocol.MsgRegister, reg); err != nil {
		conn.Close()
		c.cancel()
		return fmt.Errorf("controlplane: send register: %w", err)
	}

	c.logger.With(map[string]interface{}{"server_id": c.config.ServerID}).Info("registered with control plane")

	go c.readLoop()
	go c.writeLoop()
	go c.heartbeatLoop()

	return nil
}

func (c *Client) SendLog(sessionID string, entry core.LogEntry) {
	c.enqueue(protocol.MsgLog, sessionID, protocol.LogPayload{
		ServerID:  c.config.ServerID,
		SessionID: sessionID,
		Entry:     entry,
	})
}

func (c *Client) SendEvent(sessionID string, event core.ConversationEvent) {
	c.enqueue(protocol.MsgEvent, sessionID, protocol.EventPayload{
		ServerID:  c.config.ServerID,
		SessionID: sessionID,
		Event:     event,
	})
}

// SendLogEnd signals that a session's stream has ended.
func (c *Client) SendLogEnd(sessionID string) {
	c.enqueue(protocol.MsgLogEnd, sessionID, protocol.LogEndPayload{
		ServerID:  c.config.ServerID,
		SessionID: sessionID,
	})
}

// Done is closed when the connection drops or the context is cancelled.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Dropped counts messages discarded because the dashboard fell behind.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) send(msgType protocol.MessageType, payload interface{}) error {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// enqueue never blocks. When the buffer is full the oldest message is
// discarded and logged with its session.
func (c *Client) enqueue(msgType protocol.MessageType, sessionID string, payload interface{}) {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		c.logger.Warn("dropping unencodable message", "type", string(msgType), "session_id", sessionID, "error", err)
		return
	}
	msg := outbound{msgType: msgType, sessionID: sessionID, data: data}
	for {
		select {
		case c.sendCh <- msg:
			return
		default:
		}
		select {
		case old := <-c.sendCh:
			n := c.dropped.Add(1)
			c.logger.Warn("control plane buffer full, dropped message",
				"type", string(old.msgType), "session_id", old.sessionID, "dropped_total", n)
		default:
		}
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.once.Do(func() { close(c.done) })
		c.cancel()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("control plane connection lost", "error", err, "dropped_total", c.dropped.Load())
			}
			return
		}
		if stop := c.handle(data); stop {
			return
		}
	}
}

// handle processes one dashboard command and reports whether the client should stop.
func (c *Client) handle(data []byte) bool {
	msgType, payload, err := protocol.Unmarshal(data)
	if err != nil {
		c.logger.Warn("ignoring malformed control plane message", "error", err)
		return false
	}
	if msgType != protocol.MsgShutdown {
		c.logger.Debug("ignoring control plane command", "type", string(msgType))
		return false
	}

	p, err := protocol.UnmarshalPayload[protocol.ShutdownPayload](payload)
	if err != nil {
		c.logger.Warn("malformed shutdown payload, shutting down anyway", "error", err)
	}
	reason := p.Reason
	if reason == "" {
		reason = "dashboard requested shutdown"
	}
	c.logger.Info("shutdown requested", "reason", reason, "active_sessions", c.activeSessions())
	if c.OnShutdown != nil {
		c.OnShutdown(reason)
	}
	return true
}

func (c *Client) writeLoop() {
	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				c.logger.Warn("write to control plane failed", "type", string(msg.msgType), "session_id", msg.sessionID, "error", err)
				c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) activeSessions() int {
	if c.config.ActiveSessions == nil {
		return 0
	}
	return c.config.ActiveSessions()
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			active := c.activeSessions()
			status := "idle"
			if active > 0 {
				status = "running"
			}
			c.enqueue(protocol.MsgHeartbeat, "", protocol.HeartbeatPayload{
				ServerID:       c.config.ServerID,
				Timestamp:      time.Now().UTC(),
				ActiveSessions: active,
				Status:         status,
				Dropped:        c.dropped.Load(),
			})
		case <-c.ctx.Done():
			return
		}
	}
}
